package plant_scan

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"plant_scan/bbox"
	"plant_scan/dobot"
	"plant_scan/perception"
	"plant_scan/pose"
	"plant_scan/scan"
)

var ErrNotStarted = errors.New("scanner not started")

// Scanner drives one scanning cell: start program, find plants, scan a plant.
type Scanner struct {
	cfg      Config
	registry *dobot.Registry
	percept  *perception.Perception

	logger   logging.Logger
	robot    logging.Logger
	calc     logging.Logger
	commands logging.Logger
	errs     logging.Logger

	mu      sync.Mutex
	session *dobot.Session
	orch    *scan.Orchestrator
	plants  []perception.Plant
}

// Status is a point-in-time view of the cell.
type Status struct {
	Started   bool                 `json:"started"`
	State     string               `json:"state"`
	Plants    []perception.Plant   `json:"plants"`
	Recording scan.RecordingStatus `json:"recording"`
	Telemetry *dobot.Telemetry     `json:"telemetry,omitempty"`
	Alarms    []dobot.Alarm        `json:"alarms,omitempty"`
}

// NewScanner builds a scanner over dev. The arm connection is made by Start through registry.
func NewScanner(cfg Config, dev perception.Device, registry *dobot.Registry, logger logging.Logger) (*Scanner, error) {
	if _, _, err := cfg.Validate("scanner"); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = dobot.DefaultRegistry
	}
	camLogger := logger.Sublogger("camera")
	percept, err := perception.New(perception.NewCamera(dev, camLogger), cfg.Perception, camLogger)
	if err != nil {
		return nil, err
	}
	return &Scanner{
		cfg:      cfg,
		registry: registry,
		percept:  percept,
		logger:   logger,
		robot:    logger.Sublogger("robot"),
		calc:     logger.Sublogger("calc"),
		commands: logger.Sublogger("commands"),
		errs:     logger.Sublogger("errors"),
	}, nil
}

func (s *Scanner) Config() Config {
	return s.cfg
}

// Start connects and enables the arm, sets the speed factor and parks at rest.
// Starting a started scanner is a no-op.
func (s *Scanner) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return nil
	}
	s.commands.Info("start program")

	sess, err := s.registry.Acquire(ctx, s.cfg.Arm, s.robot)
	if err != nil {
		s.errs.Errorf("connect: %v", err)
		return err
	}
	defer func() {
		if err != nil {
			s.errs.Errorf("start: %v", err)
			err = multierr.Append(err, s.registry.Release(s.cfg.Arm.Host))
		}
	}()

	if err := sess.Arm.Enable(ctx); err != nil {
		return err
	}
	if err := sess.Arm.SpeedFactor(ctx, s.cfg.SpeedFactor); err != nil {
		return err
	}
	res, err := sess.Arm.MoveJoint(ctx, s.cfg.restJoints())
	if err != nil {
		return errors.Wrap(err, "move to rest")
	}
	if res == dobot.Timeout {
		s.robot.Warnf("rest pose %s not reached before timeout", s.cfg.restJoints())
	}

	s.session = sess
	s.percept.SetPoseSource(sess.Arm)
	s.orch = scan.NewOrchestrator(sess.Arm, s.percept, s.cfg.Dwell, s.logger.Sublogger("scan"))
	return nil
}

func (s *Scanner) started() (*dobot.Session, *scan.Orchestrator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, nil, ErrNotStarted
	}
	return s.session, s.orch, nil
}

// FindPlants moves to the high-vision pose, runs detection and keeps the result
// as the current plant list.
func (s *Scanner) FindPlants(ctx context.Context) ([]perception.Plant, error) {
	sess, orch, err := s.started()
	if err != nil {
		return nil, err
	}
	if err := orch.TryAcquire(); err != nil {
		return nil, errors.Wrap(err, "find plants")
	}
	defer orch.Release()
	s.commands.Info("find plants")

	res, err := sess.Arm.MoveJoint(ctx, s.cfg.highVisionJoints())
	if err != nil {
		s.errs.Errorf("move to high vision: %v", err)
		return nil, errors.Wrap(err, "move to high vision")
	}
	if res == dobot.Timeout {
		s.robot.Warnf("high-vision pose not reached before timeout")
	}

	plants, err := s.percept.FindPlants(ctx, s.cfg.highVisionPose(), s.cfg.Plants, s.cfg.format())
	if err != nil {
		s.errs.Errorf("find plants: %v", err)
		return nil, err
	}
	for _, p := range plants {
		s.calc.Infof("plant_%d %s: %v", p.Index+1, p.Format, p.Packed)
	}
	if len(plants) == 0 {
		s.calc.Warn("no plants found")
	}

	s.mu.Lock()
	s.plants = plants
	s.mu.Unlock()
	return append([]perception.Plant(nil), plants...), nil
}

func (s *Scanner) Plants() []perception.Plant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]perception.Plant(nil), s.plants...)
}

// ScanPlant scans plant index of the last FindPlants result. An empty name
// becomes plant_<index+1>; frames <= 0 uses the configured frame count.
func (s *Scanner) ScanPlant(ctx context.Context, index int, name string, frames int) (*scan.Outcome, error) {
	_, orch, err := s.started()
	if err != nil {
		return &scan.Outcome{Code: scan.CodeOf(err)}, err
	}
	s.mu.Lock()
	plants := s.plants
	s.mu.Unlock()

	var box *bbox.CenterExtent
	if len(plants) > 0 {
		if index < 0 || index >= len(plants) {
			err := errors.Wrapf(pose.ErrBadArgument, "plant index %d out of range [0, %d)", index, len(plants))
			return &scan.Outcome{Code: scan.CodeOf(err)}, err
		}
		ce, err := bbox.CornerToCenterExtent(plants[index].Box)
		if err != nil {
			return &scan.Outcome{Code: scan.CodeOf(err)}, err
		}
		box = &ce
	}
	// no plant list leaves box nil, which the planner reports as NoPlant

	if name == "" {
		name = fmt.Sprintf("plant_%d", index+1)
	}
	if frames <= 0 {
		frames = s.cfg.Frames
	}
	s.commands.Infof("scan plant %d as %q, %d frames", index, name, frames)

	out, err := orch.ScanPlant(ctx, box, name, frames)
	if err != nil {
		s.errs.Errorf("scan %s: %s: %v", name, out.Code, err)
	}
	return out, err
}

// Abort stops a running orbit before its next waypoint.
func (s *Scanner) Abort() bool {
	_, orch, err := s.started()
	if err != nil {
		return false
	}
	s.commands.Warn("abort")
	return orch.Abort()
}

// Disable powers the arm off without waiting for a running orbit. The scanner stays
// started; Close still releases the connection.
func (s *Scanner) Disable(ctx context.Context) error {
	sess, _, err := s.started()
	if err != nil {
		return nil
	}
	s.commands.Warn("disable arm")
	if err := sess.Arm.Disable(ctx); err != nil {
		s.errs.Errorf("disable: %v", err)
		return err
	}
	return nil
}

// WaitRecording blocks until the background recording, if any, has finished.
func (s *Scanner) WaitRecording(ctx context.Context) error {
	_, orch, err := s.started()
	if err != nil {
		return nil
	}
	return orch.WaitRecording(ctx)
}

func (s *Scanner) Status() Status {
	st := Status{State: scan.Idle.String(), Plants: s.Plants()}
	sess, orch, err := s.started()
	if err != nil {
		return st
	}
	st.Started = true
	st.State = orch.State().String()
	st.Recording = orch.LastRecording()
	if tel, ok := sess.Monitor.Snapshot(); ok {
		st.Telemetry = &tel
	}
	st.Alarms = sess.Monitor.ActiveAlarms()
	return st
}

// Close aborts a running orbit and waits for it and for an in-flight recording,
// then disables the arm and releases the connection.
func (s *Scanner) Close(ctx context.Context) error {
	s.mu.Lock()
	sess, orch := s.session, s.orch
	s.session, s.orch = nil, nil
	s.mu.Unlock()
	if sess == nil {
		return nil
	}
	s.commands.Info("stop program")

	var err error
	if orch.Abort() {
		s.commands.Warn("aborting orbit before stop")
	}
	if werr := orch.WaitIdle(ctx); werr != nil {
		err = multierr.Append(err, werr)
	}
	if werr := orch.WaitRecording(ctx); werr != nil && ctx.Err() != nil {
		err = multierr.Append(err, werr)
	}
	s.percept.SetPoseSource(nil)
	if derr := sess.Arm.Disable(ctx); derr != nil {
		s.errs.Warnf("disable on close: %v", derr)
		err = multierr.Append(err, derr)
	}
	return multierr.Append(err, s.registry.Release(s.cfg.Arm.Host))
}
