package mathx_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/msquared/mathx"
)

func ExampleRound() {
	fmt.Println(mathx.Round(1.26, 0.5))
	// Output: 1.5
}

func TestRoundNegative(t *testing.T) {
	require.Equal(t, -2., mathx.Round(-1.6, 1))
	require.Equal(t, -1., mathx.Round(-1.4, 1))
}

func TestRoundInt(t *testing.T) {
	require.Equal(t, int64(12346), mathx.RoundInt(12.3456, 0.001))
	require.Equal(t, int64(-500), mathx.RoundInt(-0.5, 0.001))
}
