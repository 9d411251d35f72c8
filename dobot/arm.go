// Package dobot drives a Dobot-style six-axis arm over its dashboard, motion and
// feedback TCP channels.
package dobot

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"sync/atomic"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"plant_scan/pose"
)

var (
	ErrConnect    = errors.New("cannot connect to arm")
	ErrIKFallback = errors.New("inverse kinematics failed, holding current joints")
)

// MoveResult reports how a supervised move ended.
type MoveResult int

const (
	Reached MoveResult = iota
	Timeout
	Skipped
)

func (m MoveResult) String() string {
	switch m {
	case Reached:
		return "reached"
	case Timeout:
		return "timeout"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("MoveResult(%d)", int(m))
}

func (m MoveResult) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

type IKKind int

const (
	IKOk IKKind = iota
	IKFallback
)

// IKResult is the tagged outcome of an inverse kinematics query. Joints of a
// Fallback result are the arm's current joints and must not be used as a target.
type IKResult struct {
	Kind   IKKind
	Joints pose.Joints
	Reason error
}

func (r IKResult) Ok() bool { return r.Kind == IKOk }

// Arm is the command façade over one controller.
type Arm struct {
	cfg    Config
	logger logging.Logger

	dashboard Commander
	motion    Commander
	feed      io.ReadCloser

	// moveMu keeps compound motions (IK + move + poll) from interleaving.
	moveMu   sync.Mutex
	enabled  atomic.Bool
	isMoving atomic.Bool
	closed   atomic.Bool
}

// Connect dials the three channels of the controller at cfg.Host.
func Connect(ctx context.Context, cfg Config, logger logging.Logger) (*Arm, error) {
	if _, _, err := cfg.Validate("arm"); err != nil {
		return nil, err
	}
	dashConn, err := dial(ctx, cfg.address(cfg.DashboardPort), cfg.DialTimeout)
	if err != nil {
		return nil, err
	}
	motionConn, err := dial(ctx, cfg.address(cfg.MotionPort), cfg.DialTimeout)
	if err != nil {
		utils.UncheckedError(dashConn.Close())
		return nil, err
	}
	feedConn, err := dial(ctx, cfg.address(cfg.FeedbackPort), cfg.DialTimeout)
	if err != nil {
		utils.UncheckedError(dashConn.Close())
		utils.UncheckedError(motionConn.Close())
		return nil, err
	}
	logger.Infof("connected to arm at %s (dashboard %d, motion %d, feedback %d)",
		cfg.Host, cfg.DashboardPort, cfg.MotionPort, cfg.FeedbackPort)

	return NewArm(
		newTextConn(dashConn, cfg.CommandTimeout, logger.Sublogger("dashboard")),
		newTextConn(motionConn, cfg.CommandTimeout, logger.Sublogger("motion")),
		feedConn,
		cfg,
		logger,
	), nil
}

// NewArm assembles an Arm from already open channels. cfg must have been validated.
func NewArm(dashboard, motion Commander, feed io.ReadCloser, cfg Config, logger logging.Logger) *Arm {
	return &Arm{
		cfg:       cfg,
		logger:    logger,
		dashboard: dashboard,
		motion:    motion,
		feed:      feed,
	}
}

// Feed is the raw telemetry stream, consumed by a Monitor.
func (a *Arm) Feed() io.Reader {
	return a.feed
}

func (a *Arm) Config() Config {
	return a.cfg
}

func (a *Arm) exec(ctx context.Context, c Commander, cmd string) (Reply, error) {
	if a.closed.Load() {
		return Reply{}, errors.Errorf("arm closed, cannot send %s", cmd)
	}
	reply, err := c.Exec(ctx, cmd)
	if err != nil {
		return Reply{}, err
	}
	return reply, reply.Err()
}

func (a *Arm) Enable(ctx context.Context) error {
	if _, err := a.exec(ctx, a.dashboard, "EnableRobot()"); err != nil {
		return errors.Wrap(err, "enable")
	}
	a.enabled.Store(true)
	a.logger.Info("arm enabled")
	return nil
}

func (a *Arm) Disable(ctx context.Context) error {
	if _, err := a.exec(ctx, a.dashboard, "DisableRobot()"); err != nil {
		return errors.Wrap(err, "disable")
	}
	a.enabled.Store(false)
	a.logger.Info("arm disabled")
	return nil
}

func (a *Arm) Enabled() bool {
	return a.enabled.Load()
}

// SpeedFactor sets the global speed ratio in percent.
func (a *Arm) SpeedFactor(ctx context.Context, pct int) error {
	if pct < 1 || pct > 100 {
		return errors.Wrapf(pose.ErrBadArgument, "speed factor must be between 1 and 100, got %d", pct)
	}
	if _, err := a.exec(ctx, a.dashboard, fmt.Sprintf("SpeedFactor(%d)", pct)); err != nil {
		return errors.Wrap(err, "speed factor")
	}
	a.logger.Infof("speed factor set to %d%%", pct)
	return nil
}

func (a *Arm) CurrentJoints(ctx context.Context) (pose.Joints, error) {
	reply, err := a.exec(ctx, a.dashboard, "GetAngle()")
	if err != nil {
		return pose.Joints{}, errors.Wrap(err, "get angle")
	}
	c, err := reply.Coord6()
	if err != nil {
		return pose.Joints{}, err
	}
	return pose.Joints(c), nil
}

// CurrentPose returns the tool vector (x, y, z, rx, ry, rz).
func (a *Arm) CurrentPose(ctx context.Context) (pose.Coord6, error) {
	reply, err := a.exec(ctx, a.dashboard, "GetPose()")
	if err != nil {
		return pose.Coord6{}, errors.Wrap(err, "get pose")
	}
	return reply.Coord6()
}

// InverseKinematics asks the controller for joints reaching target. A solver
// failure is reported as an IKFallback result carrying the current joints, not as
// an error; errors mean the arm could not be queried at all.
func (a *Arm) InverseKinematics(ctx context.Context, target pose.Coord6) (IKResult, error) {
	cmd := fmt.Sprintf("InverseSolution(%s,0,0)", formatArgs(target[:]...))
	reply, err := a.exec(ctx, a.dashboard, cmd)
	var solved pose.Coord6
	if err == nil {
		solved, err = reply.Coord6()
	}
	if err != nil {
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) && !errors.Is(err, pose.ErrBadArgument) {
			return IKResult{}, errors.Wrap(err, "inverse solution")
		}
		current, cerr := a.CurrentJoints(ctx)
		if cerr != nil {
			return IKResult{}, multierr.Combine(err, cerr)
		}
		a.logger.Warnf("no IK solution for %s: %v; holding %s", target, err, current)
		return IKResult{Kind: IKFallback, Joints: current, Reason: err}, nil
	}
	return IKResult{Kind: IKOk, Joints: pose.Joints(solved)}, nil
}

// MoveJoint commands a joint move and polls until every joint is within
// ToleranceDeg of q or MaxPolls polls have elapsed.
func (a *Arm) MoveJoint(ctx context.Context, q pose.Joints) (MoveResult, error) {
	a.moveMu.Lock()
	defer a.moveMu.Unlock()
	return a.moveJoint(ctx, q)
}

func (a *Arm) moveJoint(ctx context.Context, q pose.Joints) (MoveResult, error) {
	a.isMoving.Store(true)
	defer a.isMoving.Store(false)

	cmd := fmt.Sprintf("JointMovJ(%s)", formatArgs(q[:]...))
	if _, err := a.exec(ctx, a.motion, cmd); err != nil {
		return Timeout, errors.Wrap(err, "joint move")
	}
	if !utils.SelectContextOrWait(ctx, a.cfg.SettleDelay) {
		return Timeout, ctx.Err()
	}

	for poll := 1; poll <= a.cfg.MaxPolls; poll++ {
		current, err := a.CurrentJoints(ctx)
		if err != nil {
			return Timeout, err
		}
		if withinTolerance(current, q, a.cfg.ToleranceDeg) {
			a.logger.Debugf("reached %s after %d polls", q, poll)
			return Reached, nil
		}
		if poll == a.cfg.MaxPolls {
			break
		}
		if !utils.SelectContextOrWait(ctx, a.cfg.PollInterval) {
			return Timeout, ctx.Err()
		}
	}
	a.logger.Warnf("move to %s did not converge within %d polls", q, a.cfg.MaxPolls)
	return Timeout, nil
}

// GotoPose moves the tool to target through the controller's IK. Targets closer
// than SkipDistance on every axis are skipped; IK fallbacks never move the arm.
func (a *Arm) GotoPose(ctx context.Context, target pose.Coord6) (MoveResult, error) {
	ok, err := pose.Reachable(target.Position())
	if err != nil {
		return Skipped, err
	}
	if !ok {
		return Skipped, errors.Wrapf(pose.ErrUnreachable, "target %s", target)
	}

	a.moveMu.Lock()
	defer a.moveMu.Unlock()

	current, err := a.CurrentPose(ctx)
	if err != nil {
		return Skipped, err
	}
	if maxAbsDelta(current.Position().Sub(target.Position())) < a.cfg.SkipDistance {
		a.logger.Infof("already within %.0f mm of %s, skipping", a.cfg.SkipDistance, target)
		return Skipped, nil
	}

	ik, err := a.InverseKinematics(ctx, target)
	if err != nil {
		return Skipped, err
	}
	if !ik.Ok() {
		return Skipped, errors.Wrapf(ErrIKFallback, "target %s: %v", target, ik.Reason)
	}
	return a.moveJoint(ctx, ik.Joints)
}

func (a *Arm) IsMoving() bool {
	return a.isMoving.Load()
}

func (a *Arm) ClearError(ctx context.Context) error {
	_, err := a.exec(ctx, a.dashboard, "ClearError()")
	return errors.Wrap(err, "clear error")
}

func (a *Arm) Continue(ctx context.Context) error {
	_, err := a.exec(ctx, a.dashboard, "Continue()")
	return errors.Wrap(err, "continue")
}

// ErrorIDs returns the active alarm ids; an empty slice means no alarm.
func (a *Arm) ErrorIDs(ctx context.Context) ([]int, error) {
	reply, err := a.exec(ctx, a.dashboard, "GetErrorID()")
	if err != nil {
		return nil, errors.Wrap(err, "get error id")
	}
	return reply.Ints(), nil
}

func (a *Arm) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	var err error
	if a.dashboard != nil {
		err = multierr.Append(err, a.dashboard.Close())
	}
	if a.motion != nil {
		err = multierr.Append(err, a.motion.Close())
	}
	if a.feed != nil {
		// the monitor may already have closed the feed
		if ferr := a.feed.Close(); !errors.Is(ferr, net.ErrClosed) {
			err = multierr.Append(err, ferr)
		}
	}
	return err
}

func withinTolerance(current, target pose.Joints, tol float64) bool {
	for i := range current {
		if math.Abs(current[i]-target[i]) > tol {
			return false
		}
	}
	return true
}

func maxAbsDelta(v r3.Vector) float64 {
	return math.Max(math.Abs(v.X), math.Max(math.Abs(v.Y), math.Abs(v.Z)))
}
