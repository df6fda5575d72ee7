package fitting

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ODRMaxIter is ODRPACK's default iteration limit
const ODRMaxIter = 50

// ODRFitter fits with orthogonal distance regression, accounting for the
// uncertainty in both x and y.  It minimizes
//
//	Σ [(y_i - f(x_i+δ_i; β)) / σy_i]² + Σ [δ_i / σx_i]²
//
// over β and the per-sample x corrections δ.  Samples with σx = 0, or all
// samples when no x uncertainty was loaded, keep δ = 0.
type ODRFitter struct {
	base

	// Settings controls convergence.  Zero values take ODRPACK's defaults
	Settings Settings

	// Delta holds the x corrections of the last fit
	Delta []float64
}

// NewODRFitter returns a fitter for the model fn of nparams parameters
func NewODRFitter(fn ODRFunc, nparams int) *ODRFitter {
	return &ODRFitter{base: base{fn: fn, nparams: nparams}}
}

// LoadData satisfies Fitter
func (o *ODRFitter) LoadData(x, y []float64, xerr, yerr Sigma) error {
	o.Delta = nil
	return o.base.LoadData(x, y, xerr, yerr)
}

// Fit satisfies Fitter.  A dubious stopping reason is not an error; it is
// reported by the returned Result's Warning method.
func (o *ODRFitter) Fit(beta0 []float64) (*Result, error) {
	if err := o.checkFit(beta0); err != nil {
		return nil, err
	}
	d := o.data
	np, ns := o.nparams, d.Len()

	// free maps the index of each free δ to its sample
	free := []int{}
	for i := range d.X {
		if d.XErr != nil && d.XErr[i] > 0 {
			free = append(free, i)
		}
	}
	slot := make([]int, ns)
	for i := range slot {
		slot[i] = -1
	}
	for k, i := range free {
		slot[i] = np + k
	}

	prob := lmProblem{
		m: ns + len(free),
		n: np + len(free),
		f: func(dst, p []float64) {
			beta := p[:np]
			for i := 0; i < ns; i++ {
				x := d.X[i]
				if slot[i] >= 0 {
					x += p[slot[i]]
				}
				dst[i] = (d.Y[i] - o.fn(beta, x)) / d.YErr[i]
			}
			for k, i := range free {
				dst[ns+k] = p[np+k] / d.XErr[i]
			}
		},
	}

	p0 := make([]float64, prob.n)
	copy(p0, beta0)
	out, err := levmar(prob, p0, o.Settings.withDefaults(ODRMaxIter))
	if err != nil {
		return nil, fmt.Errorf("odr: %w", err)
	}

	var cov *mat.SymDense
	if out.cov != nil {
		cov = mat.NewSymDense(np, nil)
		for i := 0; i < np; i++ {
			for j := i; j < np; j++ {
				cov.SetSym(i, j, out.cov.At(i, j))
			}
		}
	} else {
		out.info += StopNotFullRank
	}

	o.Delta = make([]float64, ns)
	for k, i := range free {
		o.Delta[i] = out.p[np+k]
	}
	o.result = o.finish(out, cov)
	return o.result, nil
}
