package fitting

import (
	"fmt"
	"log"
)

// CurveFitter fits with weighted least squares (Levenberg-Marquardt),
// accounting for the uncertainty in y only.  x is treated as exact; an x
// uncertainty passed to LoadData is kept on the Data but not used.
//
// The covariance is scaled by the residual variance, i.e. the y
// uncertainties are taken as relative weights.
type CurveFitter struct {
	base

	// Settings controls convergence.  A zero MaxIter becomes 200*(p+1)
	Settings Settings

	fn CurveFunc
}

// NewCurveFitter returns a fitter for the model fn of nparams parameters.
// fn is given in the f(beta, x) convention and converted internally.
func NewCurveFitter(fn ODRFunc, nparams int) *CurveFitter {
	return &CurveFitter{
		base: base{fn: fn, nparams: nparams},
		fn:   ConvertODRtoOCF(fn),
	}
}

// Fit satisfies Fitter.  It returns ErrDidNotConverge if the solver ran
// out of iterations or the objective stopped being finite.
func (c *CurveFitter) Fit(beta0 []float64) (*Result, error) {
	if err := c.checkFit(beta0); err != nil {
		return nil, err
	}
	d := c.data
	prob := lmProblem{
		m: d.Len(),
		n: c.nparams,
		f: func(dst, p []float64) {
			for i, x := range d.X {
				dst[i] = (d.Y[i] - c.fn(x, p...)) / d.YErr[i]
			}
		},
	}
	set := c.Settings.withDefaults(200 * (c.nparams + 1))
	out, err := levmar(prob, beta0, set)
	if err != nil {
		return nil, fmt.Errorf("curve fit: %w", err)
	}
	if out.info == StopIterationLimit {
		return nil, fmt.Errorf("curve fit: %w: number of iterations has reached %d", ErrDidNotConverge, set.MaxIter)
	}
	if !finite(out.chi2) {
		return nil, fmt.Errorf("curve fit: %w: objective is not finite", ErrDidNotConverge)
	}
	if out.cov == nil {
		log.Println("curve fit: covariance of the parameters could not be estimated")
	}
	c.result = c.finish(out, out.cov)
	return c.result, nil
}
