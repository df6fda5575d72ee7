package fitting

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Wavelength is the laser wavelength and its one sigma uncertainty, in nm
// when the rest of the data is in um and mm
type Wavelength struct {
	Value float64 `json:"value" yaml:"Value"`
	Err   float64 `json:"err" yaml:"Err"`
}

// MSquared is the beam quality factor and its one sigma uncertainty
type MSquared struct {
	Value float64 `json:"value"`
	Err   float64 `json:"err"`

	// Warning is a *DubiousFitError when the fit it came from is dubious
	Warning error `json:"-"`
}

// Beam holds the physical beam parameters derived from a fit.  Lengths
// are in the units of the data; Theta is the far field half angle in
// units of w per unit of z.
type Beam struct {
	W0       float64 `json:"w0"`
	W0Err    float64 `json:"w0Err"`
	Z0       float64 `json:"z0"`
	Z0Err    float64 `json:"z0Err"`
	ZR       float64 `json:"zR"`
	ZRErr    float64 `json:"zRErr"`
	Theta    float64 `json:"theta"`
	ThetaErr float64 `json:"thetaErr"`
}

// Policy derives M² from fit output.  It owns the mode, the wavelength,
// the initial guesses and the memoized M² of the current fit.
type Policy struct {
	mode       Mode
	wavelength Wavelength
	guesses    []float64

	// waist guess, kept for the ISO mode which fits (a, b, c)
	w0, z0 float64

	msq *MSquared
}

// NewPolicy returns a Policy for mode at the given wavelength
func NewPolicy(mode Mode, wl Wavelength) (*Policy, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	if !(wl.Value > 0) {
		return nil, fmt.Errorf("wavelength must be > 0, got %g", wl.Value)
	}
	if wl.Err < 0 {
		return nil, fmt.Errorf("wavelength uncertainty must be >= 0, got %g", wl.Err)
	}
	return &Policy{
		mode:       mode,
		wavelength: wl,
		guesses:    mode.DefaultGuesses(wl.Value),
		w0:         1,
		z0:         1,
	}, nil
}

// Mode returns the mode
func (p *Policy) Mode() Mode {
	return p.mode
}

// Wavelength returns the wavelength
func (p *Policy) Wavelength() Wavelength {
	return p.wavelength
}

// Func returns the model for the policy's mode
func (p *Policy) Func() ODRFunc {
	return p.mode.Func(p.wavelength.Value)
}

// Guesses returns a copy of the current initial guesses
func (p *Policy) Guesses() []float64 {
	return append([]float64(nil), p.guesses...)
}

// SetGuesses replaces the full initial guess vector
func (p *Policy) SetGuesses(g []float64) error {
	if len(g) != NParams {
		return fmt.Errorf("%w: %d guesses for %d parameters", ErrShapeMismatch, len(g), NParams)
	}
	copy(p.guesses, g)
	return nil
}

// SetInitialGuesses sets the guesses for the waist radius w0 and the waist
// position z0.  The third slot is left alone.  In the ISO mode the waist
// is mapped onto a and b using the current c.
func (p *Policy) SetInitialGuesses(w0, z0 float64) {
	p.w0, p.z0 = w0, z0
	if p.mode == ModeISO {
		c := p.guesses[2]
		p.guesses[0] = w0*w0 + c*z0*z0
		p.guesses[1] = -2 * c * z0
		return
	}
	p.guesses[0] = w0
	p.guesses[1] = z0
}

// EstimateInitialGuesses takes the sample of minimum y as the beam waist
func (p *Policy) EstimateInitialGuesses(d *Data) {
	i := d.ArgMinY()
	p.SetInitialGuesses(d.Y[i], d.X[i])
}

// Invalidate discards the memoized M²
func (p *Policy) Invalidate() {
	p.msq = nil
}

// Compute returns M² for the fit result r, memoized until Invalidate
func (p *Policy) Compute(r *Result) (MSquared, error) {
	if r == nil {
		return MSquared{}, ErrNotFitted
	}
	if p.msq != nil {
		return *p.msq, nil
	}
	var (
		m   MSquared
		err error
	)
	switch p.mode {
	case ModeMSq:
		// the fitted quantity is directly M²
		m = MSquared{Value: r.Beta[2], Err: r.SDBeta[2]}
	case ModeMSqLambda:
		// delta M / M = sqrt((delta b/b)^2 + (delta l/l)^2)
		v := r.Beta[2] / p.wavelength.Value
		rel := math.Hypot(r.SDBeta[2]/r.Beta[2], p.wavelength.Err/p.wavelength.Value)
		m = MSquared{Value: v, Err: math.Abs(v) * rel}
	case ModeISO:
		m, err = p.iso(r)
		if err != nil {
			return MSquared{}, err
		}
	}
	m.Warning = r.Warning()
	p.msq = &m
	return m, nil
}

// iso evaluates M² = π/(2λ) sqrt(4ac - b²) for w² = a + bz + cz²
// with the fit covariance propagated through the gradient
func (p *Policy) iso(r *Result) (MSquared, error) {
	a, b, c := r.Beta[0], r.Beta[1], r.Beta[2]
	disc := 4*a*c - b*b
	if !(disc > 0) || !(c > 0) {
		return MSquared{}, fmt.Errorf("%w: 4ac-b² = %g, c = %g", ErrNonPhysical, disc, c)
	}
	k := math.Pi / (2 * p.wavelength.Value)
	v := k * math.Sqrt(disc)

	g := k / (2 * math.Sqrt(disc))
	grad := mat.NewVecDense(3, []float64{4 * c * g, -2 * b * g, 4 * a * g})
	fitVar := varianceOf(grad, r)
	rel := math.Hypot(math.Sqrt(fitVar)/v, p.wavelength.Err/p.wavelength.Value)
	return MSquared{Value: v, Err: v * rel}, nil
}

// varianceOf returns gᵀ Σ g, falling back to the diagonal when the fit
// has no covariance
func varianceOf(grad *mat.VecDense, r *Result) float64 {
	if r.Cov == nil {
		var s float64
		for i := 0; i < grad.Len(); i++ {
			s += grad.AtVec(i) * grad.AtVec(i) * r.SDBeta[i] * r.SDBeta[i]
		}
		return s
	}
	return mat.Inner(grad, r.Cov, grad)
}

// Beam derives the waist, waist position, Rayleigh range and divergence
// from the fit result r
func (p *Policy) Beam(r *Result) (Beam, error) {
	if r == nil {
		return Beam{}, ErrNotFitted
	}
	var (
		bm     Beam
		lambda = p.wavelength.Value
	)
	switch p.mode {
	case ModeMSq, ModeMSqLambda:
		w0, z0, t := r.Beta[0], r.Beta[1], r.Beta[2]
		if p.mode == ModeMSq {
			t *= lambda
		}
		w0 = math.Abs(w0)
		// theta = M²λ/(π w0), zr = w0/theta
		bm.W0, bm.W0Err = w0, r.SDBeta[0]
		bm.Z0, bm.Z0Err = z0, r.SDBeta[1]
		bm.Theta = t / (math.Pi * w0)
		bm.ZR = w0 / bm.Theta
		tRel := r.SDBeta[2] / r.Beta[2]
		wRel := bm.W0Err / w0
		bm.ThetaErr = math.Abs(bm.Theta) * math.Hypot(tRel, wRel)
		bm.ZRErr = math.Abs(bm.ZR) * math.Hypot(tRel, 2*wRel)
	case ModeISO:
		a, b, c := r.Beta[0], r.Beta[1], r.Beta[2]
		disc := 4*a*c - b*b
		if !(disc > 0) || !(c > 0) {
			return Beam{}, fmt.Errorf("%w: 4ac-b² = %g, c = %g", ErrNonPhysical, disc, c)
		}
		bm.Z0 = -b / (2 * c)
		bm.W0 = math.Sqrt(disc / (4 * c))
		bm.Theta = math.Sqrt(c)
		bm.ZR = bm.W0 / bm.Theta
		bm.Z0Err = math.Sqrt(varianceOf(mat.NewVecDense(3, []float64{0, -1 / (2 * c), b / (2 * c * c)}), r))
		// w0 = sqrt(a - b²/4c)
		gw := 1 / (2 * bm.W0)
		bm.W0Err = math.Sqrt(varianceOf(mat.NewVecDense(3, []float64{gw, -b / (2 * c) * gw, b * b / (4 * c * c) * gw}), r))
		bm.ThetaErr = math.Sqrt(varianceOf(mat.NewVecDense(3, []float64{0, 0, 1 / (2 * bm.Theta)}), r))
		bm.ZRErr = math.Abs(bm.ZR) * math.Hypot(bm.W0Err/bm.W0, bm.ThetaErr/bm.Theta)
	}
	return bm, nil
}
