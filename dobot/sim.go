package dobot

import (
	"bufio"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"plant_scan/pose"
)

// robot modes reported in feedback frames
const (
	modeDisabled = 4
	modeEnabled  = 5
	modeError    = 9
)

// Simulator is an in-process controller answering on the dashboard, motion and
// feedback ports. Joint moves complete instantly and IK is a closed-form stand-in,
// not the arm's real kinematics.
type Simulator struct {
	mu       sync.Mutex
	joints   pose.Joints
	tool     pose.Coord6
	enabled  bool
	speed    int
	errorIDs []int
	solved   map[string]pose.Coord6 // IK answers keyed by their formatted joints
	rejectIK bool

	interval  time.Duration
	listeners []net.Listener
	conns     map[net.Conn]struct{}
	accepted  int
	done      chan struct{}
	wg        sync.WaitGroup
	logger    logging.Logger
}

func NewSimulator(logger logging.Logger) *Simulator {
	return &Simulator{
		joints:   pose.Joints{-90, -75, 138, 27, -90, 180},
		tool:     pose.Coord6{0, -250, 450, 180, 0, 90},
		speed:    100,
		solved:   map[string]pose.Coord6{},
		interval: 200 * time.Millisecond,
		conns:    map[net.Conn]struct{}{},
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Start listens on three ephemeral ports of host and returns a Config pointing at them.
func (s *Simulator) Start(host string) (Config, error) {
	var ports [3]int
	for i := range ports {
		l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
		if err != nil {
			return Config{}, multierr.Append(errors.Wrap(err, "simulator listen"), s.Close())
		}
		s.listeners = append(s.listeners, l)
		ports[i] = l.Addr().(*net.TCPAddr).Port
	}
	s.serve(s.listeners[0], s.serveCommands)
	s.serve(s.listeners[1], s.serveCommands)
	s.serve(s.listeners[2], s.serveFeedback)
	s.logger.Infof("simulated arm listening on %s (dashboard %d, motion %d, feedback %d)", host, ports[0], ports[1], ports[2])
	return Config{Host: host, DashboardPort: ports[0], MotionPort: ports[1], FeedbackPort: ports[2]}, nil
}

func (s *Simulator) serve(l net.Listener, handle func(net.Conn)) {
	s.wg.Add(1)
	utils.PanicCapturingGo(func() {
		defer s.wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns[conn] = struct{}{}
			s.accepted++
			s.mu.Unlock()
			s.wg.Add(1)
			utils.PanicCapturingGo(func() {
				defer s.wg.Done()
				defer s.forget(conn)
				handle(conn)
			})
		}
	})
}

func (s *Simulator) forget(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	utils.UncheckedError(conn.Close())
}

// commands end with their closing parenthesis; replies end with ';'
func (s *Simulator) serveCommands(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		cmd, err := r.ReadString(')')
		if err != nil {
			return
		}
		if _, err := fmt.Fprint(conn, s.Handle(strings.TrimSpace(cmd))); err != nil {
			return
		}
	}
}

func (s *Simulator) serveFeedback(conn net.Conn) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		if _, err := conn.Write(EncodeFeedback(s.Telemetry())); err != nil {
			return
		}
	}
}

// Handle answers one command the way the controller's dashboard and motion ports do.
func (s *Simulator) Handle(cmd string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, args := cmd, ""
	if i := strings.IndexByte(cmd, '('); i >= 0 {
		name = cmd[:i]
		args = strings.TrimSuffix(cmd[i+1:], ")")
	}
	ok := func(values string) string { return fmt.Sprintf("0,{%s},%s;", values, cmd) }
	fail := func(id int) string { return fmt.Sprintf("%d,{},%s;", id, cmd) }

	switch name {
	case "EnableRobot":
		s.enabled = true
		return ok("")
	case "DisableRobot":
		s.enabled = false
		return ok("")
	case "SpeedFactor":
		v, err := strconv.Atoi(args)
		if err != nil || v < 1 || v > 100 {
			return fail(-1)
		}
		s.speed = v
		return ok("")
	case "GetAngle":
		return fmt.Sprintf("0,%s,%s;", pose.Coord6(s.joints), cmd)
	case "GetPose":
		return fmt.Sprintf("0,%s,%s;", s.tool, cmd)
	case "GetErrorID":
		ids := make([]string, len(s.errorIDs))
		for i, id := range s.errorIDs {
			ids[i] = strconv.Itoa(id)
		}
		return ok(strings.Join(ids, ","))
	case "ClearError":
		s.errorIDs = nil
		return ok("")
	case "Continue":
		return ok("")
	case "InverseSolution":
		vals, err := parseFloats(args)
		if err != nil || len(vals) < 6 || s.rejectIK {
			return fail(-1)
		}
		target := pose.Coord6(vals[:6])
		q := simulatedIK(target)
		s.solved[formatArgs(q[:]...)] = target
		return fmt.Sprintf("0,%s,%s;", pose.Coord6(q), cmd)
	case "JointMovJ":
		if !s.enabled {
			return fail(-1)
		}
		vals, err := parseFloats(args)
		if err != nil || len(vals) < 6 {
			return fail(-1)
		}
		copy(s.joints[:], vals[:6])
		if tool, found := s.solved[formatArgs(vals[:6]...)]; found {
			s.tool = tool
		}
		return ok("")
	}
	return fail(-10000)
}

// Telemetry is the frame the feedback port would send now.
func (s *Simulator) Telemetry() Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	mode := int64(modeDisabled)
	if s.enabled {
		mode = modeEnabled
	}
	if len(s.errorIDs) > 0 {
		mode = modeError
	}
	return Telemetry{
		Mode:         mode,
		Enabled:      s.enabled,
		ErrorState:   len(s.errorIDs) > 0,
		ToolVector:   s.tool,
		Joints:       s.joints,
		TargetJoints: s.joints,
	}
}

// SetErrors raises the given alarm ids until the next ClearError.
func (s *Simulator) SetErrors(ids ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorIDs = append([]int(nil), ids...)
}

// RejectIK makes every InverseSolution fail.
func (s *Simulator) RejectIK(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectIK = reject
}

func (s *Simulator) Joints() pose.Joints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joints
}

func (s *Simulator) Speed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

func (s *Simulator) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *Simulator) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	var err error
	for _, l := range s.listeners {
		if cerr := l.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	s.mu.Lock()
	for conn := range s.conns {
		utils.UncheckedError(conn.Close())
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Split(s, ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, errors.Wrapf(pose.ErrBadArgument, "%q", f)
		}
		out = append(out, v)
	}
	return out, nil
}

// simulatedIK maps a tool pose to a repeatable joint vector, rounded like the
// three-decimal replies so JointMovJ arguments match the stored answers.
func simulatedIK(t pose.Coord6) pose.Joints {
	base := math.Atan2(t[1], t[0]) * 180 / math.Pi
	reach := math.Hypot(t[0], t[1])
	round := func(v float64) float64 { return math.Round(v*1e3) / 1e3 }
	return pose.Joints{
		round(base),
		round(-reach / 10),
		round(t[2] / 5),
		round(t[3] / 2),
		round(t[4]),
		round(t[5] - base),
	}
}
