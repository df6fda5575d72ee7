package util_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/msquared/util"
)

func TestArangeExcludesStop(t *testing.T) {
	out := util.Arange(0, 20, 1)
	require.Len(t, out, 20)
	require.Equal(t, 19., out[19])
}

func TestArangeEmpty(t *testing.T) {
	require.Empty(t, util.Arange(0, 10, 0))
	require.Empty(t, util.Arange(10, 0, 1))
}

func TestArangeDescending(t *testing.T) {
	require.Equal(t, []float64{3, 2, 1}, util.Arange(3, 0, -1))
}

func TestClampHigh(t *testing.T) {
	require.Equal(t, 10., util.Clamp(20, 0, 10))
}

func TestClampLow(t *testing.T) {
	require.Equal(t, 0., util.Clamp(-1, 0, 10))
}

func TestLimiterCheck(t *testing.T) {
	l := util.Limiter{Min: -1, Max: 1}
	require.True(t, l.Check(1))
	require.False(t, l.Check(1.0001))
	require.False(t, l.Check(-2))
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	require.Equal(t, dur, util.SecsToDuration(dur.Seconds()))
}
