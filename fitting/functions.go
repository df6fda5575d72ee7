package fitting

import (
	"fmt"
	"math"
)

/*
The beam width functions are normalized when either
	- everything is in SI units, or
	- w, w0 are in um, z, z0 in mm and the wavelength in nm.
The second set is more numerically stable and is what the rest of the
repository uses.
*/

// ODRFunc is a model in the form f(beta, x) -> y
type ODRFunc func(beta []float64, x float64) float64

// CurveFunc is a model in the form f(x, params...) -> y
type CurveFunc func(x float64, params ...float64) float64

// ConvertODRtoOCF converts a model written for the orthogonal distance
// regression into the form used by the least-squares curve fitter
func ConvertODRtoOCF(f ODRFunc) CurveFunc {
	return func(x float64, params ...float64) float64 {
		return f(params, x)
	}
}

// OmegaZ is the gaussian beam radius along the propagation axis with M²λ
// as a single term.  beta = [w0, z0, M²λ]
func OmegaZ(beta []float64, z float64) float64 {
	w0, z0, msqLambda := beta[0], beta[1], beta[2]
	zr := (z - z0) * msqLambda / (math.Pi * w0 * w0)
	return w0 * math.Sqrt(1+zr*zr)
}

// OmegaZLambda returns the gaussian beam radius with the wavelength held as
// an exact constant.  beta = [w0, z0, M²]
func OmegaZLambda(wavelength float64) ODRFunc {
	return func(beta []float64, z float64) float64 {
		return OmegaZ([]float64{beta[0], beta[1], beta[2] * wavelength}, z)
	}
}

// ISOOmegaZ is the hyperbolic fit of ISO 11146, w(z)² = a + b z + c z².
// beta = [a, b, c].  The radicand is clamped at zero.
func ISOOmegaZ(beta []float64, z float64) float64 {
	a, b, c := beta[0], beta[1], beta[2]
	return math.Sqrt(math.Max(a+b*z+c*z*z, 0))
}

// Mode selects the beam width model and how M² is derived from it
type Mode int

const (
	// ModeMSqLambda fits M²λ as one term, so the wavelength error
	// propagates after the fit
	ModeMSqLambda Mode = iota

	// ModeMSq fits M² directly with the wavelength taken as exact
	ModeMSq

	// ModeISO fits w² = a + b z + c z² per ISO 11146
	ModeISO
)

// NParams is the number of free parameters of every mode's model
const NParams = 3

// String satisfies fmt.Stringer
func (m Mode) String() string {
	switch m {
	case ModeMSqLambda:
		return "msq-lambda"
	case ModeMSq:
		return "msq"
	case ModeISO:
		return "iso"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Validate returns ErrInvalidMode if m is not a known mode
func (m Mode) Validate() error {
	if m < ModeMSqLambda || m > ModeISO {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(m))
	}
	return nil
}

// Func returns the model for the mode
func (m Mode) Func(wavelength float64) ODRFunc {
	switch m {
	case ModeMSqLambda:
		return OmegaZ
	case ModeMSq:
		return OmegaZLambda(wavelength)
	default:
		return ISOOmegaZ
	}
}

// DefaultGuesses returns a fresh copy of the default initial guesses
// for the mode
func (m Mode) DefaultGuesses(wavelength float64) []float64 {
	switch m {
	case ModeMSqLambda:
		// w0, z0, M²λ
		return []float64{1, 1, wavelength}
	case ModeMSq:
		// w0, z0, M²
		return []float64{1, 1, 1}
	default:
		// a, b, c
		return []float64{1, 1, 1}
	}
}

// ParseMode converts the textual forms accepted in configuration files
// ("0", "msq-lambda", "iso", ...) to a Mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case "0", "msq-lambda", "msqlambda":
		return ModeMSqLambda, nil
	case "1", "msq":
		return ModeMSq, nil
	case "2", "iso":
		return ModeISO, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}
