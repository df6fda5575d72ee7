package beamprofiler_test

import (
	"context"
	"errors"
	"math"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/msquared/beamprofiler"
	"github.com/nasa-jpl/msquared/fitting"
	"github.com/nasa-jpl/msquared/generichttp/beam"
)

func init() {
	beamprofiler.PollInterval = time.Millisecond
}

// script is a Device which replays fixed widths and records calls
type script struct {
	heads   int
	params  beamprofiler.Parameter
	daq     bool
	widths  [][2]float64
	rev     int
	calls   []string
	failRev bool
}

func (s *script) NumDevices() (int, error) { return s.heads, nil }
func (s *script) AutoFind() error {
	s.calls = append(s.calls, "autofind")
	return nil
}
func (s *script) SetDataAcquisition(on bool) error {
	if on {
		s.calls = append(s.calls, "daq on")
	} else {
		s.calls = append(s.calls, "daq off")
	}
	s.daq = on
	return nil
}
func (s *script) AcquireSync1Rev() error {
	if s.failRev {
		return errors.New("head disconnected")
	}
	s.rev++
	return nil
}
func (s *script) RunComputation() error { return nil }
func (s *script) BeamWidth4Sigma(axis beamprofiler.Axis, roi int) (float64, error) {
	if s.params&beamprofiler.ParamBeamWidthD4Sigma == 0 {
		return 0, errors.New("D4σ not selected")
	}
	return s.widths[(s.rev-1)%len(s.widths)][axis], nil
}
func (s *script) CentroidPosition(axis beamprofiler.Axis, roi int) (float64, error) {
	return 100, nil
}
func (s *script) SelectedParameters() (beamprofiler.Parameter, error) { return s.params, nil }
func (s *script) SelectParameters(p beamprofiler.Parameter) error {
	s.params = p
	return nil
}

func TestNewNoDevice(t *testing.T) {
	_, err := beamprofiler.New(&script{})
	require.ErrorIs(t, err, beamprofiler.ErrNoDevice)
}

func TestAvgD4SigmaStatistics(t *testing.T) {
	dev := &script{
		heads:  1,
		params: beamprofiler.ParamPeakPosition,
		widths: [][2]float64{{100, 10}, {102, 20}, {104, 30}},
	}
	ns, err := beamprofiler.New(dev)
	require.NoError(t, err)
	w, err := ns.AvgD4Sigma(context.Background(), beamprofiler.AxisBoth, 3)
	require.NoError(t, err)
	require.Equal(t, 3, w.Samples)
	require.InDelta(t, 102, w.X.Mean, 1e-12)
	require.InDelta(t, math.Sqrt(8./3), w.X.Std, 1e-12)
	require.InDelta(t, 20, w.Y.Mean, 1e-12)
	require.InDelta(t, math.Sqrt(200./3), w.Y.Std, 1e-12)

	// the sequence is stabilize, then find, and the selection is restored
	require.Equal(t, []string{"daq on", "daq off", "autofind"}, dev.calls)
	require.Equal(t, beamprofiler.ParamPeakPosition, dev.params)
	daq, _ := ns.GetDAQ()
	require.False(t, daq)
}

func TestAvgD4SigmaSingleAxis(t *testing.T) {
	dev := &script{heads: 1, widths: [][2]float64{{100, 10}}}
	ns, err := beamprofiler.New(dev)
	require.NoError(t, err)
	w, err := ns.AvgD4Sigma(context.Background(), beamprofiler.AxisY, 2)
	require.NoError(t, err)
	require.Equal(t, beamprofiler.Stat{}, w.X)
	require.Equal(t, 10., w.Of(beamprofiler.AxisY).Mean)
	require.Zero(t, w.Y.Std)
}

func TestAvgD4SigmaErrors(t *testing.T) {
	dev := &script{heads: 1, widths: [][2]float64{{1, 1}}}
	ns, err := beamprofiler.New(dev)
	require.NoError(t, err)

	_, err = ns.AvgD4Sigma(context.Background(), beamprofiler.AxisX, 0)
	require.ErrorIs(t, err, beamprofiler.ErrBadSamples)

	dev.failRev = true
	dev.params = beamprofiler.ParamGaussianFit
	_, err = ns.AvgD4Sigma(context.Background(), beamprofiler.AxisX, 2)
	require.Error(t, err)
	require.Equal(t, beamprofiler.ParamGaussianFit, dev.params, "selection restored after failure")
}

func TestWaitForDataRequiresDAQ(t *testing.T) {
	ns, err := beamprofiler.New(&script{heads: 1})
	require.NoError(t, err)
	require.ErrorIs(t, ns.WaitForData(context.Background()), beamprofiler.ErrDAQOff)
}

func TestWaitForDataPolls(t *testing.T) {
	sim := &beamprofiler.Simulated{Wavelength: 1064, Warmup: 5}
	ns, err := beamprofiler.New(sim)
	require.NoError(t, err)
	require.NoError(t, ns.SetDAQ(true))
	require.NoError(t, ns.WaitForData(context.Background()))
	p, _ := sim.SelectedParameters()
	require.Zero(t, p)
}

func TestWaitForDataCancel(t *testing.T) {
	sim := &beamprofiler.Simulated{Wavelength: 1064, Warmup: math.MaxInt32}
	ns, err := beamprofiler.New(sim)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = ns.WaitStable(ctx)
	require.Error(t, err)
	daq, _ := ns.GetDAQ()
	require.False(t, daq, "acquisition is turned back off")
}

type fixedStage float64

func (f fixedStage) GetPos(string) (float64, error) { return float64(f), nil }

func TestSimulatedFollowsCaustic(t *testing.T) {
	c := beamprofiler.Caustic{W0: 50, Z0: 10, MSquare: 1.3}
	sim := beamprofiler.NewSimulated(fixedStage(17), "1", 1064, c, 1)
	ns, err := beamprofiler.New(sim)
	require.NoError(t, err)
	w, err := ns.AvgD4Sigma(context.Background(), beamprofiler.AxisBoth, 4)
	require.NoError(t, err)
	want := 2 * fitting.OmegaZLambda(1064)([]float64{50, 10, 1.3}, 17)
	require.InDelta(t, want, w.X.Mean, 1e-9)
	require.InDelta(t, want, w.Y.Mean, 1e-9)
	require.Zero(t, w.X.Std)

	sim.Noise = 0.01
	w, err = ns.AvgD4Sigma(context.Background(), beamprofiler.AxisX, 50)
	require.NoError(t, err)
	require.InDelta(t, want, w.X.Mean, want*0.01)
	require.Greater(t, w.X.Std, 0.)
}

func TestRemoteRoundTrip(t *testing.T) {
	c := beamprofiler.Caustic{W0: 40, Z0: 0, MSquare: 1}
	sim := beamprofiler.NewSimulated(nil, "", 633, c, 1)
	ns, err := beamprofiler.New(sim)
	require.NoError(t, err)

	r := chi.NewRouter()
	beam.NewHTTPProfiler(ns).RT().Bind(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	rem := beamprofiler.NewRemote(srv.URL)
	n, err := rem.NumDevices()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	w, err := rem.AvgD4Sigma(context.Background(), beamprofiler.AxisBoth, 3)
	require.NoError(t, err)
	require.InDelta(t, 80, w.X.Mean, 1e-9)
	require.Equal(t, beamprofiler.AxisBoth, w.Axis)

	require.NoError(t, rem.SetDAQ(true))
	on, err := rem.GetDAQ()
	require.NoError(t, err)
	require.True(t, on)
	require.NoError(t, rem.SetDAQ(false))

	require.NoError(t, rem.AutoFind())
	x, err := rem.Centroid(beamprofiler.AxisX)
	require.NoError(t, err)
	require.Equal(t, 2000., x)

	_, err = rem.AvgD4Sigma(context.Background(), beamprofiler.AxisX, -1)
	require.Error(t, err)
}

func TestParseAxis(t *testing.T) {
	a, err := beamprofiler.ParseAxis("Y")
	require.NoError(t, err)
	require.Equal(t, beamprofiler.AxisY, a)
	_, err = beamprofiler.ParseAxis("z")
	require.Error(t, err)
}
