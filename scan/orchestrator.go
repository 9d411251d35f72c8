// Package scan walks the arm around a plant while a point-cloud recording runs.
package scan

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"plant_scan/bbox"
	"plant_scan/dobot"
	"plant_scan/orbit"
	"plant_scan/pose"
)

var (
	ErrBusy           = errors.New("a scan or recording is already in progress")
	ErrOrbitAborted   = errors.New("orbit aborted")
	ErrAbortRequested = errors.New("abort requested by operator")
	DefaultDwell      = 100 * time.Millisecond
	DefaultFrameCount = 300
)

// Mover is the arm as seen by the orchestrator.
type Mover interface {
	MoveJoint(ctx context.Context, q pose.Joints) (dobot.MoveResult, error)
	GotoPose(ctx context.Context, target pose.Coord6) (dobot.MoveResult, error)
}

// Recorder captures a named point-cloud recording and returns the artefact path.
type Recorder interface {
	Record(ctx context.Context, name string, frames int) (string, error)
}

// OrbitAbortedError names the waypoint at which the orbit stopped.
type OrbitAbortedError struct {
	Label orbit.Label
	Err   error
}

func (e *OrbitAbortedError) Error() string {
	return fmt.Sprintf("orbit aborted at %s: %v", e.Label, e.Err)
}

func (e *OrbitAbortedError) Unwrap() error { return e.Err }

func (e *OrbitAbortedError) Is(target error) bool { return target == ErrOrbitAborted }

type State int32

const (
	Idle State = iota
	Planning
	Arming
	RecordingOrbiting
	Returning
	Aborting
	// Locating holds the arm for plant detection between scans.
	Locating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Planning:
		return "planning"
	case Arming:
		return "arming"
	case RecordingOrbiting:
		return "recording+orbiting"
	case Returning:
		return "returning"
	case Aborting:
		return "aborting"
	case Locating:
		return "locating"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Step is one dispatched waypoint.
type Step struct {
	Label  orbit.Label      `json:"label"`
	Target pose.Coord6      `json:"target"`
	Result dobot.MoveResult `json:"result"`
}

// Outcome summarises one ScanPlant call.
type Outcome struct {
	ScanID        uuid.UUID   `json:"scan_id"`
	Plan          *orbit.Plan `json:"-"`
	RecordingName string      `json:"recording_name,omitempty"`
	Steps         []Step      `json:"steps"`
	Code          string      `json:"code"`
}

// RecordingStatus describes the current or last background recording.
type RecordingStatus struct {
	Name     string    `json:"name"`
	Path     string    `json:"path,omitempty"`
	Active   bool      `json:"active"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitempty"`
	Err      error     `json:"-"`
}

// Orchestrator runs at most one scan and at most one recording at a time.
type Orchestrator struct {
	mover    Mover
	recorder Recorder
	logger   logging.Logger
	dwell    time.Duration

	state atomicState
	abort atomic.Bool

	recMu     sync.Mutex
	recording bool
	recDone   chan struct{}
	lastRec   RecordingStatus
}

type atomicState struct{ v atomic.Int32 }

func (s *atomicState) Load() State    { return State(s.v.Load()) }
func (s *atomicState) Store(st State) { s.v.Store(int32(st)) }
func (s *atomicState) CompareAndSwap(old, new State) bool {
	return s.v.CompareAndSwap(int32(old), int32(new))
}

func NewOrchestrator(mover Mover, recorder Recorder, dwell time.Duration, logger logging.Logger) *Orchestrator {
	if dwell < 0 {
		dwell = 0
	}
	return &Orchestrator{mover: mover, recorder: recorder, dwell: dwell, logger: logger}
}

func (o *Orchestrator) State() State {
	return o.state.Load()
}

// TryAcquire claims the arm for work outside a scan, such as plant detection.
// It fails with ErrBusy while a scan or a recording runs; ScanPlant fails the
// same way until Release is called.
func (o *Orchestrator) TryAcquire() error {
	if !o.state.CompareAndSwap(Idle, Locating) {
		return errors.Wrapf(ErrBusy, "orchestrator is %s", o.state.Load())
	}
	if o.RecordingActive() {
		o.state.Store(Idle)
		return errors.Wrapf(ErrBusy, "recording %q still running", o.LastRecording().Name)
	}
	return nil
}

// Release hands back a claim taken with TryAcquire.
func (o *Orchestrator) Release() {
	o.state.CompareAndSwap(Locating, Idle)
}

// WaitIdle blocks until no scan or claim holds the arm, or ctx is done.
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	for o.state.Load() != Idle {
		if !utils.SelectContextOrWait(ctx, 10*time.Millisecond) {
			return ctx.Err()
		}
	}
	return nil
}

// Abort asks a running orbit to stop before its next waypoint. It reports whether
// a scan was running.
func (o *Orchestrator) Abort() bool {
	if st := o.state.Load(); st == Idle || st == Locating {
		return false
	}
	o.abort.Store(true)
	o.logger.Warn("abort requested")
	return true
}

// RecordingActive reports whether a background recording is in flight.
func (o *Orchestrator) RecordingActive() bool {
	o.recMu.Lock()
	defer o.recMu.Unlock()
	return o.recording
}

func (o *Orchestrator) LastRecording() RecordingStatus {
	o.recMu.Lock()
	defer o.recMu.Unlock()
	return o.lastRec
}

// WaitRecording blocks until the in-flight recording finishes or ctx is done and
// returns the recording's error.
func (o *Orchestrator) WaitRecording(ctx context.Context) error {
	o.recMu.Lock()
	done := o.recDone
	o.recMu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return o.LastRecording().Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScanPlant plans an orbit around box, moves to the quadrant home, starts the
// recorder and walks the route, then returns home. It returns once the arm walk is
// done; the recording may still be running.
func (o *Orchestrator) ScanPlant(ctx context.Context, box *bbox.CenterExtent, plantName string, frames int) (*Outcome, error) {
	if !o.state.CompareAndSwap(Idle, Planning) {
		return &Outcome{Code: CodeOf(ErrBusy)}, errors.Wrapf(ErrBusy, "orchestrator is %s", o.state.Load())
	}
	defer o.state.Store(Idle)
	o.abort.Store(false)

	out := &Outcome{ScanID: uuid.New()}
	logger := o.logger
	logger.Infof("scan %s: plant %q", out.ScanID, plantName)

	if o.RecordingActive() {
		out.Code = CodeOf(ErrBusy)
		return out, errors.Wrapf(ErrBusy, "recording %q still running", o.LastRecording().Name)
	}
	if frames <= 0 {
		frames = DefaultFrameCount
	}

	plan, err := orbit.NewPlan(box)
	if err != nil {
		logger.Errorf("plan rejected: %v", err)
		out.Code = CodeOf(err)
		return out, err
	}
	out.Plan = plan
	out.RecordingName = plan.RecordingName(plantName)
	logger.Infof("plan %s: home %s, top-of-box %v", plan.Quadrant, plan.Home, plan.TopOfBox)

	o.state.Store(Arming)
	res, err := o.mover.MoveJoint(ctx, plan.Home)
	if err != nil {
		err = errors.Wrap(err, "moving to quadrant home")
		out.Code = CodeOf(err)
		return out, err
	}
	if res == dobot.Timeout {
		logger.Warnf("home %s not reached before timeout, continuing", plan.Home)
	}

	if err := o.startRecording(ctx, out.RecordingName, frames, logger); err != nil {
		out.Code = CodeOf(err)
		return out, err
	}

	o.state.Store(RecordingOrbiting)
	route := plan.Route()
	for i, wp := range route {
		if o.abort.Load() {
			return o.abortOrbit(ctx, out, route[0], wp.Label, ErrAbortRequested, logger)
		}
		logger.Infof("-> %s", wp)
		res, err := o.mover.GotoPose(ctx, wp.Target)
		if err != nil {
			return o.abortOrbit(ctx, out, route[0], wp.Label, err, logger)
		}
		out.Steps = append(out.Steps, Step{Label: wp.Label, Target: wp.Target, Result: res})
		if res == dobot.Timeout {
			logger.Warnf("%s not reached before timeout", wp.Label)
		}
		if !utils.SelectContextOrWait(ctx, o.dwell) {
			// wp was reached; the walk stopped before the next leg
			next := orbit.Home
			if i+1 < len(route) {
				next = route[i+1].Label
			}
			return o.abortOrbit(ctx, out, route[0], next, ctx.Err(), logger)
		}
	}

	o.state.Store(Returning)
	if _, err := o.mover.MoveJoint(ctx, plan.Home); err != nil {
		err = errors.Wrap(err, "returning to quadrant home")
		out.Code = CodeOf(err)
		return out, err
	}
	out.Code = CodeOf(nil)
	logger.Infof("orbit complete, %d waypoints", len(out.Steps))
	return out, nil
}

// abortOrbit sends the arm back to top on a best-effort basis and reports the failed label.
func (o *Orchestrator) abortOrbit(
	ctx context.Context, out *Outcome, top orbit.Waypoint, label orbit.Label, cause error, logger logging.Logger,
) (*Outcome, error) {
	o.state.Store(Aborting)
	logger.Errorf("orbit aborted at %s: %v", label, cause)

	// the caller's context may be what failed
	retreatCtx := context.WithoutCancel(ctx)
	if _, err := o.mover.GotoPose(retreatCtx, top.Target); err != nil {
		logger.Warnf("retreat to top failed: %v", err)
		cause = multierr.Append(cause, errors.Wrap(err, "retreat to top"))
	}
	err := &OrbitAbortedError{Label: label, Err: cause}
	out.Code = CodeOf(err)
	return out, err
}

func (o *Orchestrator) startRecording(ctx context.Context, name string, frames int, logger logging.Logger) error {
	o.recMu.Lock()
	if o.recording {
		o.recMu.Unlock()
		return errors.Wrapf(ErrBusy, "recording %q still running", o.lastRec.Name)
	}
	done := make(chan struct{})
	o.recording = true
	o.recDone = done
	o.lastRec = RecordingStatus{Name: name, Active: true, Started: time.Now()}
	o.recMu.Unlock()

	// recording outlives the scan call and cannot be cancelled
	recCtx := context.WithoutCancel(ctx)
	utils.PanicCapturingGo(func() {
		var (
			path string
			err  error
		)
		defer func() {
			o.recMu.Lock()
			o.recording = false
			o.lastRec.Active = false
			o.lastRec.Path = path
			o.lastRec.Err = err
			o.lastRec.Finished = time.Now()
			o.recMu.Unlock()
			close(done)
		}()
		path, err = o.recorder.Record(recCtx, name, frames)
		if err != nil {
			logger.Errorf("recording %s failed: %v", name, err)
			return
		}
		logger.Infof("recording %s saved to %s", name, path)
	})
	return nil
}
