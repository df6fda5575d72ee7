package beamprofiler

import (
	"math/rand"
	"sync"

	"github.com/nasa-jpl/msquared/fitting"
)

// Positioner reports the position of a stage axis in mm
type Positioner interface {
	GetPos(string) (float64, error)
}

// Caustic describes a gaussian beam along one axis, in the units of the
// fitting package (µm, mm)
type Caustic struct {
	W0      float64 `yaml:"W0"`
	Z0      float64 `yaml:"Z0"`
	MSquare float64 `yaml:"MSquare"`
}

// Simulated is a Device which reports the D4σ diameter of a gaussian beam at
// the position of a stage, for tests and dry runs
type Simulated struct {
	// Stage and Axis locate the profiler along the beam; when Stage is nil
	// the profiler sits at Z
	Stage Positioner
	Axis  string
	Z     float64

	// Wavelength in nm
	Wavelength float64

	X, Y Caustic

	// Noise is the relative standard deviation of each reading
	Noise float64

	// Warmup is the number of centroid reads after acquisition starts that
	// report no beam
	Warmup int

	// Heads is the number of connected devices reported, default 1
	Heads int

	mu       sync.Mutex
	rng      *rand.Rand
	daq      bool
	params   Parameter
	polls    int
	acquired bool
	width    [2]float64
	centroid [2]float64
}

// NewSimulated returns a simulated profiler for a beam with the same caustic
// on both axes
func NewSimulated(stage Positioner, axis string, wavelength float64, c Caustic, seed int64) *Simulated {
	return &Simulated{
		Stage:      stage,
		Axis:       axis,
		Wavelength: wavelength,
		X:          c,
		Y:          c,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// NumDevices implements Device
func (s *Simulated) NumDevices() (int, error) {
	if s.Heads == 0 {
		return 1, nil
	}
	return s.Heads, nil
}

// AutoFind implements Device
func (s *Simulated) AutoFind() error {
	return nil
}

// SetDataAcquisition implements Device
func (s *Simulated) SetDataAcquisition(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on && !s.daq {
		s.polls = 0
	}
	s.daq = on
	return nil
}

func (s *Simulated) z() (float64, error) {
	if s.Stage == nil {
		return s.Z, nil
	}
	return s.Stage.GetPos(s.Axis)
}

func (s *Simulated) noisy(v float64) float64 {
	if s.Noise == 0 {
		return v
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(1))
	}
	return v * (1 + s.Noise*s.rng.NormFloat64())
}

// AcquireSync1Rev implements Device
func (s *Simulated) AcquireSync1Rev() error {
	z, err := s.z()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f := fitting.OmegaZLambda(s.Wavelength)
	for i, c := range []Caustic{s.X, s.Y} {
		w := f([]float64{c.W0, c.Z0, c.MSquare}, z)
		s.width[i] = s.noisy(2 * w)
		s.centroid[i] = 2000
	}
	s.acquired = true
	return nil
}

// RunComputation implements Device
func (s *Simulated) RunComputation() error {
	return nil
}

// BeamWidth4Sigma implements Device.  It reports zero until a revolution has
// been acquired or when D4σ is not selected.
func (s *Simulated) BeamWidth4Sigma(axis Axis, roi int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquired || s.params&ParamBeamWidthD4Sigma == 0 {
		return 0, nil
	}
	return s.width[axis&1], nil
}

// CentroidPosition implements Device.  With acquisition running it reports
// zero for the first Warmup reads.
func (s *Simulated) CentroidPosition(axis Axis, roi int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.params&ParamCentroidPosition == 0 {
		return 0, nil
	}
	if s.daq {
		s.polls++
		if s.polls <= s.Warmup {
			return 0, nil
		}
		return 2000, nil
	}
	return s.centroid[axis&1], nil
}

// SelectedParameters implements Device
func (s *Simulated) SelectedParameters() (Parameter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params, nil
}

// SelectParameters implements Device
func (s *Simulated) SelectParameters(p Parameter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
	return nil
}
