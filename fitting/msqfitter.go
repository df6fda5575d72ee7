package fitting

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// Backend selects the regression strategy of an MsqFitter
type Backend int

const (
	// BackendODR uses orthogonal distance regression
	BackendODR Backend = iota

	// BackendCurveFit uses weighted least squares in y
	BackendCurveFit
)

// String satisfies fmt.Stringer
func (b Backend) String() string {
	switch b {
	case BackendODR:
		return "odr"
	case BackendCurveFit:
		return "curvefit"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// ParseBackend converts "odr" or "curvefit" (also "ocf", "lsq") to a Backend
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(s) {
	case "odr", "":
		return BackendODR, nil
	case "curvefit", "ocf", "lsq":
		return BackendCurveFit, nil
	}
	return 0, fmt.Errorf("unknown backend %q", s)
}

// Config fully describes an MsqFitter
type Config struct {
	Backend       Backend `json:"backend" yaml:"Backend"`
	Mode          Mode    `json:"mode" yaml:"Mode"`
	Wavelength    float64 `json:"wavelength" yaml:"Wavelength"`
	WavelengthErr float64 `json:"wavelengthErr" yaml:"WavelengthErr"`
}

// MsqFitter fits a beam caustic and computes M² from it.  It composes a
// Fitter chosen by the backend with a Policy.
type MsqFitter struct {
	cfg    Config
	fitter Fitter
	policy *Policy
}

// NewMsqFitter returns a fitter without data.  Use LoadData before fitting.
func NewMsqFitter(cfg Config) (*MsqFitter, error) {
	pol, err := NewPolicy(cfg.Mode, Wavelength{Value: cfg.Wavelength, Err: cfg.WavelengthErr})
	if err != nil {
		return nil, err
	}
	m := &MsqFitter{cfg: cfg, policy: pol}
	switch cfg.Backend {
	case BackendODR:
		m.fitter = NewODRFitter(pol.Func(), NParams)
	case BackendCurveFit:
		m.fitter = NewCurveFitter(pol.Func(), NParams)
	default:
		return nil, fmt.Errorf("unknown backend %d", int(cfg.Backend))
	}
	return m, nil
}

// NewMsqODRFitter returns an ODR backed fitter with the data loaded
func NewMsqODRFitter(x, y []float64, xerr, yerr Sigma, wavelength, wavelengthErr float64, mode Mode) (*MsqFitter, error) {
	m, err := NewMsqFitter(Config{Backend: BackendODR, Mode: mode, Wavelength: wavelength, WavelengthErr: wavelengthErr})
	if err != nil {
		return nil, err
	}
	return m, m.LoadData(x, y, xerr, yerr)
}

// NewMsqOCFFitter returns a least squares backed fitter with the data loaded
func NewMsqOCFFitter(x, y []float64, yerr Sigma, wavelength, wavelengthErr float64, mode Mode) (*MsqFitter, error) {
	m, err := NewMsqFitter(Config{Backend: BackendCurveFit, Mode: mode, Wavelength: wavelength, WavelengthErr: wavelengthErr})
	if err != nil {
		return nil, err
	}
	return m, m.LoadData(x, y, nil, yerr)
}

// Config returns the configuration the fitter was built with
func (m *MsqFitter) Config() Config {
	return m.cfg
}

// LoadData replaces the dataset and discards the memoized M²
func (m *MsqFitter) LoadData(x, y []float64, xerr, yerr Sigma) error {
	m.policy.Invalidate()
	if err := m.fitter.LoadData(x, y, xerr, yerr); err != nil {
		return err
	}
	return nil
}

// Guesses returns a copy of the initial guesses
func (m *MsqFitter) Guesses() []float64 {
	return m.policy.Guesses()
}

// SetInitialGuesses sets the w0 and z0 guesses
func (m *MsqFitter) SetInitialGuesses(w0, z0 float64) {
	m.policy.SetInitialGuesses(w0, z0)
}

// EstimateInitialGuesses guesses the waist from the loaded data
func (m *MsqFitter) EstimateInitialGuesses() error {
	d, err := m.fitter.Data()
	if err != nil {
		return err
	}
	m.policy.EstimateInitialGuesses(d)
	return nil
}

// Fit fits the data from the stored guesses
func (m *MsqFitter) Fit() (*Result, error) {
	m.policy.Invalidate()
	return m.fitter.Fit(m.policy.Guesses())
}

// EstimateAndFit estimates the initial guesses, then fits
func (m *MsqFitter) EstimateAndFit() (*Result, error) {
	if err := m.EstimateInitialGuesses(); err != nil {
		return nil, err
	}
	return m.Fit()
}

// MSquared returns M² of the last fit
func (m *MsqFitter) MSquared() (MSquared, error) {
	r, err := m.fitter.Result()
	if err != nil {
		return MSquared{}, err
	}
	if m.cfg.Backend == BackendODR {
		if warn := r.Warning(); warn != nil {
			log.Println(warn)
		}
	}
	return m.policy.Compute(r)
}

// Beam returns the physical beam parameters of the last fit
func (m *MsqFitter) Beam() (Beam, error) {
	r, err := m.fitter.Result()
	if err != nil {
		return Beam{}, err
	}
	return m.policy.Beam(r)
}

// Predict evaluates the fitted model at x
func (m *MsqFitter) Predict(x ...float64) ([]float64, error) {
	return m.fitter.Predict(x...)
}

// Result returns the last fit result
func (m *MsqFitter) Result() (*Result, error) {
	return m.fitter.Result()
}

// Data returns the loaded dataset
func (m *MsqFitter) Data() (*Data, error) {
	return m.fitter.Data()
}

// Report writes the fit report followed by M² to w
func (m *MsqFitter) Report(w io.Writer) error {
	if err := m.fitter.Report(w); err != nil {
		return err
	}
	msq, err := m.policy.Compute(mustResult(m.fitter))
	if err != nil {
		_, err = fmt.Fprintf(w, "M²:                %v\n", err)
		return err
	}
	_, err = fmt.Fprintf(w, "M² (%s):          %.4f ± %.4f\n", m.cfg.Mode, msq.Value, msq.Err)
	return err
}

// Fitter returns the underlying regression strategy
func (m *MsqFitter) Fitter() Fitter {
	return m.fitter
}

func mustResult(f Fitter) *Result {
	r, _ := f.Result()
	return r
}
