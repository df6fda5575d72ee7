package fitting

import (
	"fmt"
	"math"
)

// Sigma describes the uncertainty of a data array.  It is resolved against
// the array it describes when data is loaded.
type Sigma interface {
	// Resolve returns one uncertainty per element of ref
	Resolve(ref []float64) ([]float64, error)
}

// Scalar is a constant uncertainty broadcast to every sample
type Scalar float64

// Resolve satisfies Sigma
func (s Scalar) Resolve(ref []float64) ([]float64, error) {
	out := make([]float64, len(ref))
	for i := range out {
		out[i] = float64(s)
	}
	return out, nil
}

// PerSample holds one uncertainty per sample
type PerSample []float64

// Resolve satisfies Sigma
func (p PerSample) Resolve(ref []float64) ([]float64, error) {
	if len(p) != len(ref) {
		return nil, fmt.Errorf("%w: %d uncertainties for %d samples", ErrShapeMismatch, len(p), len(ref))
	}
	out := make([]float64, len(p))
	copy(out, p)
	return out, nil
}

// SigmaFunc computes the uncertainty from the data, e.g. a relative error
type SigmaFunc func(data []float64) []float64

// Resolve satisfies Sigma
func (f SigmaFunc) Resolve(ref []float64) ([]float64, error) {
	return PerSample(f(ref)).Resolve(ref)
}

// Relative returns a SigmaFunc for a fixed fractional uncertainty
func Relative(frac float64) SigmaFunc {
	return func(data []float64) []float64 {
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = math.Abs(v) * frac
		}
		return out
	}
}

// Data is an immutable dataset loaded into a fitter.  XErr is nil when
// the independent variable is exact.
type Data struct {
	X    []float64
	Y    []float64
	XErr []float64
	YErr []float64
}

// NewData validates and copies x, y and their uncertainties.
// xerr may be nil; yerr may not.
func NewData(x, y []float64, xerr, yerr Sigma) (*Data, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: len(x)=%d, len(y)=%d", ErrShapeMismatch, len(x), len(y))
	}
	if len(x) == 0 {
		return nil, fmt.Errorf("%w: empty dataset", ErrShapeMismatch)
	}
	if yerr == nil {
		return nil, fmt.Errorf("%w: y uncertainty is required", ErrInvalidSigma)
	}
	d := &Data{
		X: append([]float64(nil), x...),
		Y: append([]float64(nil), y...),
	}
	var err error
	d.YErr, err = yerr.Resolve(d.Y)
	if err != nil {
		return nil, fmt.Errorf("y uncertainty: %w", err)
	}
	for i, s := range d.YErr {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: y uncertainty %g at index %d must be finite and > 0", ErrInvalidSigma, s, i)
		}
	}
	if xerr != nil {
		d.XErr, err = xerr.Resolve(d.X)
		if err != nil {
			return nil, fmt.Errorf("x uncertainty: %w", err)
		}
		for i, s := range d.XErr {
			if s < 0 || math.IsNaN(s) || math.IsInf(s, 0) {
				return nil, fmt.Errorf("%w: x uncertainty %g at index %d must be finite and >= 0", ErrInvalidSigma, s, i)
			}
		}
	}
	return d, nil
}

// Len returns the number of samples
func (d *Data) Len() int {
	return len(d.X)
}

// ArgMinY returns the index of the smallest y value
func (d *Data) ArgMinY() int {
	idx := 0
	for i, v := range d.Y {
		if v < d.Y[idx] {
			idx = i
		}
	}
	return idx
}

// XRange returns min(x), max(x)
func (d *Data) XRange() (float64, float64) {
	lo, hi := d.X[0], d.X[0]
	for _, v := range d.X[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}
