package dobot

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"

	"plant_scan/pose"
)

// fakeController answers dashboard and motion commands from in-memory state.
type fakeController struct {
	mu       sync.Mutex
	joints   pose.Joints
	tool     pose.Coord6
	offset   float64 // added to every joint after a JointMovJ
	ikFail   bool
	ikJoints pose.Joints
	errorIDs string
	sent     []string
	polls    int
}

func (f *fakeController) handle(cmd string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)

	name := cmd
	if i := strings.IndexByte(cmd, '('); i >= 0 {
		name = cmd[:i]
	}
	switch name {
	case "GetAngle":
		f.polls++
		return fmt.Sprintf("0,%s,GetAngle();", pose.Coord6(f.joints))
	case "GetPose":
		return fmt.Sprintf("0,%s,GetPose();", f.tool)
	case "InverseSolution":
		if f.ikFail {
			return fmt.Sprintf("-1,{},%s;", cmd)
		}
		return fmt.Sprintf("0,%s,%s;", pose.Coord6(f.ikJoints), cmd)
	case "JointMovJ":
		args := strings.Split(strings.TrimSuffix(strings.TrimPrefix(cmd, "JointMovJ("), ")"), ",")
		for i := range f.joints {
			v, _ := strconv.ParseFloat(args[i], 64)
			f.joints[i] = v + f.offset
		}
		return fmt.Sprintf("0,{},%s;", cmd)
	case "GetErrorID":
		return fmt.Sprintf("0,{%s},GetErrorID();", f.errorIDs)
	}
	return fmt.Sprintf("0,{},%s;", cmd)
}

func (f *fakeController) sentWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if strings.HasPrefix(s, prefix) {
			out = append(out, s)
		}
	}
	return out
}

type stubCommander struct {
	f      *fakeController
	closed bool
}

func (s *stubCommander) Exec(ctx context.Context, cmd string) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	return ParseReply(s.f.handle(cmd))
}

func (s *stubCommander) Close() error {
	s.closed = true
	return nil
}

func testArmConfig(t *testing.T) Config {
	cfg := Config{
		Host:         "127.0.0.1",
		SettleDelay:  time.Millisecond,
		PollInterval: time.Millisecond,
	}
	_, _, err := cfg.Validate("test")
	require.NoError(t, err)
	return cfg
}

func newTestArm(t *testing.T, f *fakeController) *Arm {
	return NewArm(&stubCommander{f: f}, &stubCommander{f: f}, nil, testArmConfig(t), logging.NewTestLogger(t))
}

func TestMoveJointConvergence(t *testing.T) {
	target := pose.Joints{-105, -46, 86, 29, -90, 168}

	t.Run("reached on first poll within tolerance", func(t *testing.T) {
		f := &fakeController{offset: 0.5}
		arm := newTestArm(t, f)
		res, err := arm.MoveJoint(context.Background(), target)
		require.NoError(t, err)
		assert.Equal(t, Reached, res)
		assert.Equal(t, 1, f.polls)
		assert.Equal(t, []string{"JointMovJ(-105.0000,-46.0000,86.0000,29.0000,-90.0000,168.0000)"}, f.sentWithPrefix("JointMovJ"))
	})

	t.Run("timeout after max polls", func(t *testing.T) {
		f := &fakeController{offset: 5}
		arm := newTestArm(t, f)
		res, err := arm.MoveJoint(context.Background(), target)
		require.NoError(t, err)
		assert.Equal(t, Timeout, res)
		assert.Equal(t, 20, f.polls)
	})

	t.Run("context cancelled", func(t *testing.T) {
		f := &fakeController{offset: 5}
		arm := newTestArm(t, f)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := arm.MoveJoint(ctx, target)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestInverseKinematics(t *testing.T) {
	target := pose.Coord6{300, 300, 450, -180, 0, 180}

	t.Run("ok", func(t *testing.T) {
		f := &fakeController{ikJoints: pose.Joints{1, 2, 3, 4, 5, 6}}
		arm := newTestArm(t, f)
		res, err := arm.InverseKinematics(context.Background(), target)
		require.NoError(t, err)
		assert.True(t, res.Ok())
		assert.Equal(t, pose.Joints{1, 2, 3, 4, 5, 6}, res.Joints)
		assert.Equal(t,
			[]string{"InverseSolution(300.0000,300.0000,450.0000,-180.0000,0.0000,180.0000,0,0)"},
			f.sentWithPrefix("InverseSolution"))
	})

	t.Run("fallback carries current joints", func(t *testing.T) {
		f := &fakeController{ikFail: true, joints: pose.Joints{9, 8, 7, 6, 5, 4}}
		arm := newTestArm(t, f)
		res, err := arm.InverseKinematics(context.Background(), target)
		require.NoError(t, err)
		assert.Equal(t, IKFallback, res.Kind)
		assert.False(t, res.Ok())
		assert.Equal(t, pose.Joints{9, 8, 7, 6, 5, 4}, res.Joints)
		var cmdErr *CommandError
		assert.ErrorAs(t, res.Reason, &cmdErr)
	})
}

func TestGotoPose(t *testing.T) {
	target := pose.Coord6{300, 300, 450, -180, 0, 180}

	t.Run("unreachable sends nothing", func(t *testing.T) {
		f := &fakeController{}
		arm := newTestArm(t, f)
		_, err := arm.GotoPose(context.Background(), pose.Coord6{800, 800, 400, 0, 0, 0})
		assert.ErrorIs(t, err, pose.ErrUnreachable)
		assert.Empty(t, f.sent)
	})

	t.Run("skips when already close", func(t *testing.T) {
		f := &fakeController{tool: pose.Coord6{310, 290, 470, -180, 0, 180}}
		arm := newTestArm(t, f)
		res, err := arm.GotoPose(context.Background(), target)
		require.NoError(t, err)
		assert.Equal(t, Skipped, res)
		assert.Empty(t, f.sentWithPrefix("JointMovJ"))
	})

	t.Run("ik fallback never moves", func(t *testing.T) {
		f := &fakeController{ikFail: true}
		arm := newTestArm(t, f)
		_, err := arm.GotoPose(context.Background(), target)
		assert.ErrorIs(t, err, ErrIKFallback)
		assert.Empty(t, f.sentWithPrefix("JointMovJ"))
	})

	t.Run("moves to ik solution", func(t *testing.T) {
		f := &fakeController{ikJoints: pose.Joints{-100, -40, 80, 30, -90, 170}}
		arm := newTestArm(t, f)
		res, err := arm.GotoPose(context.Background(), target)
		require.NoError(t, err)
		assert.Equal(t, Reached, res)
		assert.Len(t, f.sentWithPrefix("JointMovJ"), 1)
		assert.False(t, arm.IsMoving())
	})
}

func TestDashboardCommands(t *testing.T) {
	f := &fakeController{errorIDs: "[[17,4112],[],[],[],[],[],[]]"}
	arm := newTestArm(t, f)
	ctx := context.Background()

	require.NoError(t, arm.Enable(ctx))
	assert.True(t, arm.Enabled())
	require.NoError(t, arm.SpeedFactor(ctx, 40))
	assert.ErrorIs(t, arm.SpeedFactor(ctx, 0), pose.ErrBadArgument)
	assert.ErrorIs(t, arm.SpeedFactor(ctx, 101), pose.ErrBadArgument)

	ids, err := arm.ErrorIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{17, 4112}, ids)

	require.NoError(t, arm.ClearError(ctx))
	require.NoError(t, arm.Continue(ctx))
	require.NoError(t, arm.Disable(ctx))
	assert.False(t, arm.Enabled())

	assert.Equal(t,
		[]string{"EnableRobot()", "SpeedFactor(40)", "GetErrorID()", "ClearError()", "Continue()", "DisableRobot()"},
		f.sent)

	require.NoError(t, arm.Close())
	require.NoError(t, arm.Close())
	assert.Error(t, arm.Enable(ctx))
}

func TestTextConnOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		buf := make([]byte, 256)
		n, err := server.Read(buf)
		if err != nil {
			return
		}
		cmd := string(buf[:n])
		fmt.Fprintf(server, "0,{1.0,2.0,3.0,4.0,5.0,6.0},%s;", cmd)
	}()

	c := newTextConn(client, time.Second, logging.NewTestLogger(t))
	defer c.Close()
	reply, err := c.Exec(context.Background(), "GetPose()")
	require.NoError(t, err)
	assert.Equal(t, "GetPose()", reply.Command)
	coords, err := reply.Coord6()
	require.NoError(t, err)
	assert.Equal(t, pose.Coord6{1, 2, 3, 4, 5, 6}, coords)
}

func TestConnectFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := Config{Host: "127.0.0.1", DashboardPort: port, DialTimeout: 200 * time.Millisecond}
	_, err = Connect(context.Background(), cfg, logging.NewTestLogger(t))
	assert.ErrorIs(t, err, ErrConnect)
}

func TestConnectSuccess(t *testing.T) {
	var ports [3]int
	for i := range ports {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		t.Cleanup(func() { l.Close() })
		ports[i] = l.Addr().(*net.TCPAddr).Port
		go func() {
			var conns []net.Conn
			for {
				conn, err := l.Accept()
				if err != nil {
					for _, c := range conns {
						c.Close()
					}
					return
				}
				conns = append(conns, conn)
			}
		}()
	}

	cfg := Config{Host: "127.0.0.1", DashboardPort: ports[0], MotionPort: ports[1], FeedbackPort: ports[2]}
	arm, err := Connect(context.Background(), cfg, logging.NewTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, arm.Config().PollInterval)
	assert.NoError(t, arm.Close())
}
