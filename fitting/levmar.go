package fitting

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Stopping reasons reported in Result.Info.  They follow the ODRPACK
// convention: 1-3 are clean convergence, 4 is the iteration limit and
// anything >= 10000 flags a questionable result.
const (
	StopSumOfSquares   = 1
	StopParameters     = 2
	StopBoth           = 3
	StopIterationLimit = 4
	StopNotFullRank    = 10000
)

var (
	// default tolerances are ODRPACK's: sqrt(eps) and eps^(2/3)
	defaultSSTol  = math.Sqrt(epsilon)
	defaultParTol = math.Pow(epsilon, 2./3)

	// step used for the central difference jacobian, relative to |p|
	jacStep = math.Cbrt(epsilon)
)

const (
	epsilon   = 2.220446049250313e-16
	lambda0   = 1e-3
	lambdaMin = 1e-12
	lambdaMax = 1e32
	// reciprocal condition number below which the normal matrix is
	// treated as singular
	rcondMin = 1e-14
)

// StopReason converts an Info code into its human readable reasons
func StopReason(info int) []string {
	var out []string
	if info >= StopNotFullRank {
		out = append(out, "Problem is not full rank at solution")
		info %= StopNotFullRank
	}
	switch info {
	case StopSumOfSquares:
		out = append(out, "Sum of squares convergence")
	case StopParameters:
		out = append(out, "Parameter convergence")
	case StopBoth:
		out = append(out, "Sum of squares convergence", "Parameter convergence")
	case StopIterationLimit:
		out = append(out, "Iteration limit reached")
	}
	return out
}

// residualFunc fills dst with the weighted residuals at p
type residualFunc func(dst, p []float64)

// lmProblem is a nonlinear least squares problem of m residuals in n parameters
type lmProblem struct {
	m, n int
	f    residualFunc
}

// Settings holds the convergence controls of the Levenberg-Marquardt engine
type Settings struct {
	// MaxIter is the maximum number of jacobian evaluations
	MaxIter int

	// SSTol is the relative reduction of the sum of squares below which
	// the fit is considered converged
	SSTol float64

	// ParTol is the relative parameter step below which the fit is
	// considered converged
	ParTol float64
}

func (s Settings) withDefaults(maxIter int) Settings {
	if s.MaxIter <= 0 {
		s.MaxIter = maxIter
	}
	if s.SSTol <= 0 {
		s.SSTol = defaultSSTol
	}
	if s.ParTol <= 0 {
		s.ParTol = defaultParTol
	}
	return s
}

// lmOutput is the raw solution of a problem
type lmOutput struct {
	p    []float64
	chi2 float64
	// cov is the unscaled (JᵀJ)⁻¹ at the solution, nil when singular
	cov  *mat.SymDense
	iter int
	info int
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// jacobian computes dr/dp by central differences into jac (m x n)
func (prob lmProblem) jacobian(p []float64, jac *mat.Dense) {
	pp := append([]float64(nil), p...)
	rp := make([]float64, prob.m)
	rm := make([]float64, prob.m)
	for j := 0; j < prob.n; j++ {
		h := jacStep * math.Max(math.Abs(p[j]), 1)
		pp[j] = p[j] + h
		prob.f(rp, pp)
		pp[j] = p[j] - h
		prob.f(rm, pp)
		pp[j] = p[j]
		for i := 0; i < prob.m; i++ {
			jac.Set(i, j, (rp[i]-rm[i])/(2*h))
		}
	}
}

// relStep is |step| / (|p| + tol)
func relStep(step *mat.VecDense, p []float64, tol float64) float64 {
	return mat.Norm(step, 2) / (mat.Norm(mat.NewVecDense(len(p), p), 2) + tol)
}

// levmar minimizes |r(p)|² from p0.  It only errors when the objective is
// not finite at p0; every other outcome is described by the returned info.
func levmar(prob lmProblem, p0 []float64, s Settings) (*lmOutput, error) {
	m, n := prob.m, prob.n
	p := append([]float64(nil), p0...)
	r := make([]float64, m)
	prob.f(r, p)
	chi2 := dot(r, r)
	if !finite(chi2) {
		return nil, ErrDidNotConverge
	}

	var (
		jac    = mat.NewDense(m, n, nil)
		jtj    = mat.NewSymDense(n, nil)
		damped = mat.NewSymDense(n, nil)
		grad   = mat.NewVecDense(n, nil)
		step   = mat.NewVecDense(n, nil)
		trial  = make([]float64, n)
		rTrial = make([]float64, m)
		chol   mat.Cholesky
		lambda = lambda0
		info   int
		iter   int
	)

iterate:
	for ; iter < s.MaxIter; iter++ {
		if chi2 == 0 {
			info = StopSumOfSquares
			break
		}
		prob.jacobian(p, jac)
		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(m, r))

		improved := false
		chi2Trial := chi2
		for lambda <= lambdaMax {
			damped.CopySym(jtj)
			for i := 0; i < n; i++ {
				d := jtj.At(i, i)
				if d <= 0 {
					d = lambdaMin
				}
				damped.SetSym(i, i, d*(1+lambda))
			}
			if ok := chol.Factorize(damped); !ok {
				lambda *= 10
				continue
			}
			if err := chol.SolveVecTo(step, grad); err != nil {
				lambda *= 10
				continue
			}
			for j := range trial {
				trial[j] = p[j] - step.AtVec(j)
			}
			prob.f(rTrial, trial)
			chi2Trial = dot(rTrial, rTrial)
			if finite(chi2Trial) && chi2Trial < chi2 {
				improved = true
				break
			}
			if relStep(step, p, s.ParTol) <= s.ParTol {
				break
			}
			lambda *= 10
		}
		if !improved {
			// no downhill step exists at any damping: stationary point
			info = StopParameters
			break
		}

		ssConv := chi2-chi2Trial <= s.SSTol*chi2
		parConv := relStep(step, p, s.ParTol) <= s.ParTol
		copy(p, trial)
		copy(r, rTrial)
		chi2 = chi2Trial
		lambda = math.Max(lambda/10, lambdaMin)
		if ssConv || parConv {
			iter++
			switch {
			case ssConv && parConv:
				info = StopBoth
			case ssConv:
				info = StopSumOfSquares
			default:
				info = StopParameters
			}
			break iterate
		}
	}
	if info == 0 {
		info = StopIterationLimit
	}

	out := &lmOutput{p: p, chi2: chi2, iter: iter, info: info}
	prob.jacobian(p, jac)
	jtj.SymOuterK(1, jac.T())
	if ok := chol.Factorize(jtj); ok && 1/chol.Cond() > rcondMin {
		cov := mat.NewSymDense(n, nil)
		if err := chol.InverseTo(cov); err == nil {
			out.cov = cov
		}
	}
	return out, nil
}
