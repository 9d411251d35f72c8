package dobot

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"

	"plant_scan/pose"
)

// FrameSize is the length of one real-time feedback packet.
const FrameSize = 1440

// FrameMagic is the test value every valid frame carries.
const FrameMagic uint64 = 0x0123456789abcdef

// byte offsets inside a feedback frame
const (
	offRobotMode    = 24
	offTestValue    = 48
	offQTarget      = 192
	offQActual      = 432
	offToolActual   = 624
	offRunQueuedCmd = 1014
	offEnableStatus = 1026
	offErrorStatus  = 1029
)

var ErrBadFrame = errors.New("invalid feedback frame")

// Telemetry is one decoded feedback frame.
type Telemetry struct {
	Mode         int64       `json:"mode"`
	QueuedCmd    bool        `json:"queued_cmd"`
	Enabled      bool        `json:"enabled"`
	ErrorState   bool        `json:"error_state"`
	ToolVector   pose.Coord6 `json:"tool_vector"`
	Joints       pose.Joints `json:"joints"`
	TargetJoints pose.Joints `json:"target_joints"`
	ReceivedAt   time.Time   `json:"received_at"`
}

// DecodeFeedback parses a little-endian feedback frame, rejecting frames whose
// test value is not FrameMagic.
func DecodeFeedback(buf []byte) (Telemetry, error) {
	if len(buf) < FrameSize {
		return Telemetry{}, errors.Wrapf(ErrBadFrame, "short frame: %d bytes", len(buf))
	}
	le := binary.LittleEndian
	if magic := le.Uint64(buf[offTestValue:]); magic != FrameMagic {
		return Telemetry{}, errors.Wrapf(ErrBadFrame, "test value %#x", magic)
	}
	return Telemetry{
		Mode:         int64(le.Uint64(buf[offRobotMode:])),
		QueuedCmd:    buf[offRunQueuedCmd] != 0,
		Enabled:      buf[offEnableStatus] != 0,
		ErrorState:   buf[offErrorStatus] != 0,
		ToolVector:   readSix(buf[offToolActual:]),
		Joints:       pose.Joints(readSix(buf[offQActual:])),
		TargetJoints: pose.Joints(readSix(buf[offQTarget:])),
	}, nil
}

// EncodeFeedback is the inverse of DecodeFeedback, used by simulators and tests.
func EncodeFeedback(t Telemetry) []byte {
	buf := make([]byte, FrameSize)
	le := binary.LittleEndian
	le.PutUint16(buf[0:], FrameSize)
	le.PutUint64(buf[offRobotMode:], uint64(t.Mode))
	le.PutUint64(buf[offTestValue:], FrameMagic)
	writeSix(buf[offQTarget:], [6]float64(t.TargetJoints))
	writeSix(buf[offQActual:], [6]float64(t.Joints))
	writeSix(buf[offToolActual:], [6]float64(t.ToolVector))
	buf[offRunQueuedCmd] = boolByte(t.QueuedCmd)
	buf[offEnableStatus] = boolByte(t.Enabled)
	buf[offErrorStatus] = boolByte(t.ErrorState)
	return buf
}

func readSix(b []byte) pose.Coord6 {
	var c pose.Coord6
	for i := range c {
		c[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return c
}

func writeSix(b []byte, v [6]float64) {
	for i, f := range v {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(f))
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// String renders the status block shown in the feedback pane.
func (t Telemetry) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", t.ReceivedAt.Format("15:04:05"))
	fmt.Fprintf(&sb, "Robot Mode: %d\n", t.Mode)
	fmt.Fprintf(&sb, "Robot Error State: %t\n", t.ErrorState)
	fmt.Fprintf(&sb, "Enable Status: %t\n", t.Enabled)
	fmt.Fprintf(&sb, "Algorithm Queue: %t\n", t.QueuedCmd)
	fmt.Fprintf(&sb, "Tool vector: %s\n", degreeList(t.ToolVector[:]))
	fmt.Fprintf(&sb, "Joints: %s\n", degreeList(t.Joints[:]))
	return sb.String()
}

func degreeList(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%.3f°", v)
	}
	return "[ " + strings.Join(parts, " ") + " ]"
}
