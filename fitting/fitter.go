/*Package fitting fits beam width vs position measurements and derives the
beam quality factor M² from them.

Two interchangeable regression strategies satisfy the Fitter interface:

	ODRFitter    orthogonal distance regression, uncertainty in x and y
	CurveFitter  weighted least squares, uncertainty in y only

Both use a Levenberg-Marquardt engine built on gonum/mat.  An MsqFitter
composes either of them with a Policy, which owns the mode, the wavelength
and the memoized M² derived from the latest fit.

A typical session looks like

	f, err := fitting.NewMsqODRFitter(z, w, fitting.Scalar(0.01), fitting.Scalar(1),
		1064, 2, fitting.ModeMSq)
	if err != nil {
		return err
	}
	if _, err = f.EstimateAndFit(); err != nil {
		return err
	}
	m2, err := f.MSquared()

Fitters are not safe for concurrent use.
*/
package fitting

import (
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Result is the output of a single Fit call
type Result struct {
	// Beta holds the estimated parameters
	Beta []float64

	// SDBeta holds one standard deviation errors on Beta
	SDBeta []float64

	// Cov is the covariance of Beta, scaled by ResVar.  It is nil if the
	// problem was not full rank at the solution
	Cov *mat.SymDense

	// ResVar is the residual variance, the reduced chi square
	ResVar float64

	// Info is the reason for returning, see StopReason
	Info int

	// StopReason is the human readable form of Info
	StopReason []string

	// Iterations is the number of iterations performed
	Iterations int
}

// Dubious is true when the stopping reason signals low confidence
func (r *Result) Dubious() bool {
	return r.Info >= StopIterationLimit
}

// Warning returns a *DubiousFitError if the fit is dubious, else nil
func (r *Result) Warning() error {
	if !r.Dubious() {
		return nil
	}
	return &DubiousFitError{Info: r.Info, StopReason: r.StopReason}
}

// Fitter is a regression strategy over a loaded dataset
type Fitter interface {
	// LoadData replaces the dataset and discards any previous result
	LoadData(x, y []float64, xerr, yerr Sigma) error

	// Fit runs the regression from the initial parameters beta0
	Fit(beta0 []float64) (*Result, error)

	// Predict evaluates the model at the last fitted parameters
	Predict(x ...float64) ([]float64, error)

	// Report writes a human readable dump of the last fit
	Report(w io.Writer) error

	// Result returns the last fit result
	Result() (*Result, error)

	// Data returns the loaded dataset
	Data() (*Data, error)
}

// base holds the state shared by both strategies
type base struct {
	fn      ODRFunc
	nparams int
	data    *Data
	result  *Result
}

func (b *base) LoadData(x, y []float64, xerr, yerr Sigma) error {
	d, err := NewData(x, y, xerr, yerr)
	if err != nil {
		return err
	}
	b.data = d
	b.result = nil
	return nil
}

// checkFit verifies the preconditions of Fit
func (b *base) checkFit(beta0 []float64) error {
	if b.data == nil {
		return ErrNoData
	}
	if len(beta0) != b.nparams {
		return fmt.Errorf("%w: %d initial parameters for a model of %d", ErrShapeMismatch, len(beta0), b.nparams)
	}
	if b.data.Len() < b.nparams {
		return fmt.Errorf("%w: %d samples for %d parameters", ErrShapeMismatch, b.data.Len(), b.nparams)
	}
	return nil
}

// finish scales the raw solver output into a Result.  cov is the unscaled
// covariance of beta, possibly nil.
func (b *base) finish(out *lmOutput, cov *mat.SymDense) *Result {
	res := &Result{
		Beta:       append([]float64(nil), out.p[:b.nparams]...),
		SDBeta:     make([]float64, b.nparams),
		Info:       out.info,
		Iterations: out.iter,
	}
	// with no degrees of freedom the covariance is left unscaled
	dof := b.data.Len() - b.nparams
	scale := 1.
	res.ResVar = out.chi2
	if dof > 0 {
		res.ResVar = out.chi2 / float64(dof)
		scale = res.ResVar
	}
	if cov == nil {
		for i := range res.SDBeta {
			res.SDBeta[i] = math.Inf(1)
		}
	} else {
		res.Cov = mat.NewSymDense(b.nparams, nil)
		for i := 0; i < b.nparams; i++ {
			for j := i; j < b.nparams; j++ {
				res.Cov.SetSym(i, j, scale*cov.At(i, j))
			}
			res.SDBeta[i] = math.Sqrt(res.Cov.At(i, i))
		}
	}
	res.StopReason = StopReason(res.Info)
	return res
}

func (b *base) Predict(x ...float64) ([]float64, error) {
	if b.result == nil {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = b.fn(b.result.Beta, v)
	}
	return out, nil
}

func (b *base) Result() (*Result, error) {
	if b.result == nil {
		return nil, ErrNotFitted
	}
	return b.result, nil
}

func (b *base) Data() (*Data, error) {
	if b.data == nil {
		return nil, ErrNoData
	}
	return b.data, nil
}

func (b *base) Report(w io.Writer) error {
	if b.result == nil {
		return ErrNotFitted
	}
	r := b.result
	lines := []string{
		fmt.Sprintf("Beta:              %v", r.Beta),
		fmt.Sprintf("Beta Std Error:    %v", r.SDBeta),
		fmt.Sprintf("Residual Variance: %g", r.ResVar),
		fmt.Sprintf("Iterations:        %d", r.Iterations),
		fmt.Sprintf("Reason(s) for Halting (info=%d):", r.Info),
	}
	for _, s := range r.StopReason {
		lines = append(lines, "  "+s)
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
