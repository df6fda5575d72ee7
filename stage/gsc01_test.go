package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/msquared/generichttp/motion"
	"github.com/nasa-jpl/msquared/util"
)

var (
	_ motion.Mover             = (*GSC01)(nil)
	_ motion.Stopper           = (*GSC01)(nil)
	_ motion.Speeder           = (*GSC01)(nil)
	_ motion.Enabler           = (*GSC01)(nil)
	_ motion.InPositionQueryer = (*GSC01)(nil)
)

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("-     1000,K,K,R")
	require.NoError(t, err)
	require.Equal(t, Status{Pulses: -1000}, st)

	st, err = ParseStatus("+        5,X,L,B")
	require.NoError(t, err)
	require.Equal(t, Status{Pulses: 5, CommandError: true, LimitStop: true, Busy: true}, st)

	_, err = ParseStatus("OK")
	require.Error(t, err)
}

func TestPulseConversion(t *testing.T) {
	g := NewGSC01("mock", false, Config{UmPerPulse: 2})
	require.Equal(t, int64(5000), g.MMToPulses(10))
	require.Equal(t, int64(1), g.MMToPulses(0.0015))
	require.Equal(t, 10., g.PulsesToMM(5000))
	require.Equal(t, "+P5000", pulseArg(5000))
	require.Equal(t, "-P12", pulseArg(-12))
}

func TestMoveAbsProtocol(t *testing.T) {
	g, sim := newMock(DefaultConfig())
	require.NoError(t, g.MoveAbs(Axis, 12.5))
	pos, err := g.GetPos(Axis)
	require.NoError(t, err)
	require.InDelta(t, 12.5, pos, 1e-9)

	cmds := sim.commands()
	require.Equal(t, []string{"A:1+P12500", "G:"}, cmds[:2])
	// busy twice, then ready
	require.Equal(t, []string{"!:", "!:", "!:"}, cmds[2:5])
}

func TestMoveRel(t *testing.T) {
	g, sim := newMock(DefaultConfig())
	require.NoError(t, g.MoveAbs(Axis, 10))
	require.NoError(t, g.MoveRel(Axis, -2.5))
	pos, err := g.GetPos(Axis)
	require.NoError(t, err)
	require.InDelta(t, 7.5, pos, 1e-9)
	require.Contains(t, sim.commands(), "M:1-P2500")
}

func TestSoftwareLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits = util.Limiter{Min: 0, Max: 50}
	g, sim := newMock(cfg)
	err := g.MoveAbs(Axis, 51)
	require.ErrorIs(t, err, ErrPositionOutOfBounds)
	err = g.MoveRel(Axis, -1)
	require.ErrorIs(t, err, ErrPositionOutOfBounds)
	// nothing was staged
	for _, c := range sim.commands() {
		require.NotEqual(t, "G:", c)
	}
}

func TestPositionDirty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequireHome = true
	g := NewMock(cfg)
	require.ErrorIs(t, g.MoveAbs(Axis, 1), ErrPositionDirty)
	require.NoError(t, g.Home(Axis))
	require.NoError(t, g.MoveAbs(Axis, 1))

	require.NoError(t, g.EmergencyStop())
	require.ErrorIs(t, g.MoveAbs(Axis, 2), ErrPositionDirty)
	require.NoError(t, g.Home(Axis))
	require.NoError(t, g.MoveAbs(Axis, 2))
}

func TestBadAxis(t *testing.T) {
	g := NewMock(DefaultConfig())
	_, err := g.GetPos("X")
	require.ErrorIs(t, err, ErrBadAxis)
	require.ErrorIs(t, g.MoveAbs("2", 1), ErrBadAxis)
}

func TestVelocity(t *testing.T) {
	g, sim := newMock(DefaultConfig())
	require.NoError(t, g.SetVelocity(Axis, 2))
	require.Contains(t, sim.commands(), "D:1S500F2000R200")
	v, err := g.GetVelocity(Axis)
	require.NoError(t, err)
	require.Equal(t, 2., v)

	require.NoError(t, g.SetVelocity(Axis, 0.1))
	require.Contains(t, sim.commands(), "D:1S100F100R200")

	require.ErrorIs(t, g.SetVelocity(Axis, 100), ErrSpeedOutOfRange)
}

func TestControllerError(t *testing.T) {
	g := NewMock(DefaultConfig())
	// G: with nothing staged is rejected
	err := g.command("G:")
	var ce ControllerError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, "NG", ce.Resp)
	st, err := g.Status()
	require.NoError(t, err)
	require.True(t, st.CommandError)
}

func TestEnableAndInPosition(t *testing.T) {
	g, sim := newMock(DefaultConfig())
	require.NoError(t, g.Disable(Axis))
	en, err := g.GetEnabled(Axis)
	require.NoError(t, err)
	require.False(t, en)
	require.NoError(t, g.Enable(Axis))
	require.Equal(t, []string{"C:10", "C:11"}, sim.commands())

	in, err := g.GetInPosition(Axis)
	require.NoError(t, err)
	require.True(t, in)
}

func TestJogThenStop(t *testing.T) {
	g, sim := newMock(DefaultConfig())
	require.NoError(t, g.Jog(true))
	require.NoError(t, g.Stop(Axis))
	require.Equal(t, []string{"J:1+", "G:", "L:1"}, sim.commands())
}

func TestWaitClearHonorsContext(t *testing.T) {
	g, sim := newMock(DefaultConfig())
	sim.mu.Lock()
	sim.busyLeft = 1 << 30
	sim.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, g.WaitClear(ctx))
}
