/*Package caustic measures the caustic of a laser beam by stepping a beam
profiler through the focus on a linear stage, and analyzes the result for
M².

A measurement is a Plan executed by Run, which yields a Scan.  Analyze fits
both axes of the Scan independently; an axis that cannot be fit carries its
error in its AxisResult and does not prevent the other from being reported.
*/
package caustic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nasa-jpl/msquared/beamprofiler"
	"github.com/nasa-jpl/msquared/fitting"
	"github.com/nasa-jpl/msquared/generichttp/motion"
	"github.com/nasa-jpl/msquared/util"
)

var (
	// ErrEmptyPlan is generated when a plan has no positions
	ErrEmptyPlan = errors.New("plan has no positions")

	// ErrTooFewPoints is generated when a scan has fewer points than fit parameters
	ErrTooFewPoints = errors.New("too few points to fit")
)

// DefaultSamples is the number of profiler revolutions averaged per point
const DefaultSamples = 10

// Plan describes a caustic measurement
type Plan struct {
	// Axis is the stage axis carrying the profiler
	Axis string `json:"axis" yaml:"Axis"`

	// Positions are the stage positions to measure at, mm
	Positions []float64 `json:"positions" yaml:"Positions"`

	// Samples is the number of revolutions averaged at each position
	Samples int `json:"samples" yaml:"Samples"`

	// Settle is the dwell after each move before measuring
	Settle time.Duration `json:"settle" yaml:"Settle"`

	// PositionErr is the 1σ uncertainty of a stage position, mm.  Zero
	// means positions are taken as exact
	PositionErr float64 `json:"positionErr" yaml:"PositionErr"`

	// Progress, if not nil, is called after each point
	Progress func(done, total int) `json:"-" yaml:"-"`
}

// LinearPlan returns positions from start to stop inclusive, separated by
// step.  The last interval is shortened to land on stop
func LinearPlan(start, stop, step float64) ([]float64, error) {
	if step <= 0 || math.IsNaN(step) {
		return nil, fmt.Errorf("step must be > 0, got %g", step)
	}
	if stop < start {
		start, stop = stop, start
	}
	pts := util.Arange(start, stop, step)
	pts = append(pts, stop)
	return pts, nil
}

// Point is one measurement of a scan
type Point struct {
	// Z is the position reported by the stage after the move, mm
	Z float64 `json:"z"`

	// Width is the averaged D4σ diameter, µm
	Width beamprofiler.Width `json:"width"`
}

// Scan is the result of a measurement
type Scan struct {
	Axis        string    `json:"axis"`
	Samples     int       `json:"samples"`
	PositionErr float64   `json:"positionErr"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Points      []Point   `json:"points"`
}

// Dataset returns the positions (mm), beam radii (µm, half the D4σ
// diameter) and radius uncertainties of one profiler axis
func (s *Scan) Dataset(axis beamprofiler.Axis) (z, r, rerr []float64) {
	n := len(s.Points)
	z = make([]float64, n)
	r = make([]float64, n)
	rerr = make([]float64, n)
	for i, p := range s.Points {
		st := p.Width.Of(axis)
		z[i] = p.Z
		r[i] = st.Mean / 2
		rerr[i] = st.Std / 2
	}
	return z, r, rerr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes plan, moving mover and measuring with meter.  The scan
// collected so far is returned alongside any error, including cancellation
// of ctx, which is checked between points
func Run(ctx context.Context, mover motion.Mover, meter beamprofiler.WidthMeter, plan Plan) (*Scan, error) {
	if len(plan.Positions) == 0 {
		return nil, ErrEmptyPlan
	}
	if plan.Samples <= 0 {
		plan.Samples = DefaultSamples
	}
	scan := &Scan{
		Axis:        plan.Axis,
		Samples:     plan.Samples,
		PositionErr: plan.PositionErr,
		Start:       time.Now(),
		Points:      make([]Point, 0, len(plan.Positions)),
	}
	defer func() { scan.End = time.Now() }()
	total := len(plan.Positions)
	for i, pos := range plan.Positions {
		if err := ctx.Err(); err != nil {
			return scan, err
		}
		if err := mover.MoveAbs(plan.Axis, pos); err != nil {
			return scan, fmt.Errorf("point %d, moving to %g: %w", i, pos, err)
		}
		if err := sleepCtx(ctx, plan.Settle); err != nil {
			return scan, err
		}
		z, err := mover.GetPos(plan.Axis)
		if err != nil {
			return scan, fmt.Errorf("point %d, reading position: %w", i, err)
		}
		w, err := meter.AvgD4Sigma(ctx, beamprofiler.AxisBoth, plan.Samples)
		if err != nil {
			return scan, fmt.Errorf("point %d, measuring at %g: %w", i, z, err)
		}
		scan.Points = append(scan.Points, Point{Z: z, Width: w})
		if plan.Progress != nil {
			plan.Progress(i+1, total)
		}
	}
	return scan, nil
}

// AxisResult is the analysis of one profiler axis
type AxisResult struct {
	Axis     beamprofiler.Axis `json:"axis"`
	Beta     []float64         `json:"beta,omitempty"`
	SDBeta   []float64         `json:"sdBeta,omitempty"`
	ResVar   float64           `json:"resVar"`
	Stop     []string          `json:"stop,omitempty"`
	MSquared fitting.MSquared  `json:"msquared"`
	Beam     fitting.Beam      `json:"beam"`
	Warning  string            `json:"warning,omitempty"`

	// Err is set when the axis could not be fit
	Err    error  `json:"-"`
	ErrMsg string `json:"error,omitempty"`

	// Fitter holds the fitted data for plotting and reporting
	Fitter *fitting.MsqFitter `json:"-"`
}

// OK returns true if the axis was fit
func (a AxisResult) OK() bool {
	return a.Err == nil && a.Fitter != nil
}

// Analysis is the M² analysis of both axes of a scan
type Analysis struct {
	Config fitting.Config `json:"config"`
	X      AxisResult     `json:"x"`
	Y      AxisResult     `json:"y"`
}

// Axis returns the result of one axis
func (a Analysis) Axis(ax beamprofiler.Axis) AxisResult {
	if ax == beamprofiler.AxisY {
		return a.Y
	}
	return a.X
}

// MinRelErr floors the radius uncertainty of a point at this fraction of the
// radius, so that a noiseless measurement still has usable weights
var MinRelErr = 0.01

// Analyze fits both axes of scan.  When estimate is true the initial guesses
// are estimated from the data, otherwise the mode's defaults are used.  An
// error is returned only if cfg is invalid or no axis could be fit
func Analyze(scan *Scan, cfg fitting.Config, estimate bool) (Analysis, error) {
	out := Analysis{Config: cfg}
	if _, err := fitting.NewMsqFitter(cfg); err != nil {
		return out, err
	}
	out.X = analyzeAxis(scan, cfg, beamprofiler.AxisX, estimate)
	out.Y = analyzeAxis(scan, cfg, beamprofiler.AxisY, estimate)
	if out.X.Err != nil && out.Y.Err != nil {
		return out, errors.Join(
			fmt.Errorf("x: %w", out.X.Err),
			fmt.Errorf("y: %w", out.Y.Err))
	}
	return out, nil
}

func analyzeAxis(scan *Scan, cfg fitting.Config, axis beamprofiler.Axis, estimate bool) AxisResult {
	res := AxisResult{Axis: axis}
	fail := func(err error) AxisResult {
		res.Err = err
		res.ErrMsg = err.Error()
		return res
	}
	if len(scan.Points) < fitting.NParams {
		return fail(fmt.Errorf("%w: %d points", ErrTooFewPoints, len(scan.Points)))
	}
	z, r, rerr := scan.Dataset(axis)
	for i := range rerr {
		if floor := MinRelErr * r[i]; rerr[i] < floor {
			rerr[i] = floor
		}
	}
	f, err := fitting.NewMsqFitter(cfg)
	if err != nil {
		return fail(err)
	}
	var xerr fitting.Sigma
	if scan.PositionErr > 0 {
		xerr = fitting.Scalar(scan.PositionErr)
	}
	if err = f.LoadData(z, r, xerr, fitting.PerSample(rerr)); err != nil {
		return fail(err)
	}
	if estimate {
		_, err = f.EstimateAndFit()
	} else {
		_, err = f.Fit()
	}
	if err != nil {
		return fail(err)
	}
	return Summarize(f, axis)
}

// Summarize reports the last fit of f.  Uncertainties that are not finite,
// as when the covariance could not be estimated, are reported as -1 since
// JSON cannot carry them
func Summarize(f *fitting.MsqFitter, axis beamprofiler.Axis) AxisResult {
	res := AxisResult{Axis: axis}
	fail := func(err error) AxisResult {
		res.Err = err
		res.ErrMsg = err.Error()
		return res
	}
	result, err := f.Result()
	if err != nil {
		return fail(err)
	}
	res.Fitter = f
	res.Beta = finite(result.Beta...)
	res.SDBeta = finite(result.SDBeta...)
	res.ResVar = finite(result.ResVar)[0]
	res.Stop = result.StopReason
	if w := result.Warning(); w != nil {
		res.Warning = w.Error()
	}
	if res.MSquared, err = f.MSquared(); err != nil {
		return fail(err)
	}
	v := finite(res.MSquared.Value, res.MSquared.Err)
	res.MSquared.Value, res.MSquared.Err = v[0], v[1]
	if res.Beam, err = f.Beam(); err != nil {
		return fail(err)
	}
	b := &res.Beam
	v = finite(b.W0, b.W0Err, b.Z0, b.Z0Err, b.ZR, b.ZRErr, b.Theta, b.ThetaErr)
	b.W0, b.W0Err, b.Z0, b.Z0Err, b.ZR, b.ZRErr, b.Theta, b.ThetaErr = v[0], v[1], v[2], v[3], v[4], v[5], v[6], v[7]
	return res
}

func finite(xs ...float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			x = -1
		}
		out[i] = x
	}
	return out
}
