/*Package beamprofiler contains the control logic of scanning-slit beam
profilers such as the Ophir NanoScan.

The vendor automation interface is reached through the Device interface; a
bridge to the vendor DLL, the Simulated device, or a Remote profiler all fit
behind it.  NanoScan layers the acquisition sequence used for caustic
measurements on top: stabilize, auto-find the beam, then average a number of
revolutions of the slit head.
*/
package beamprofiler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNoDevice is generated when the bridge reports no connected profilers
	ErrNoDevice = errors.New("no beam profiler is connected")

	// ErrDAQOff is generated when waiting for data with acquisition disabled
	ErrDAQOff = errors.New("data acquisition is off")

	// ErrBadSamples is generated when a non-positive number of revolutions is requested
	ErrBadSamples = errors.New("number of samples must be > 0")
)

// PollInterval is the pace at which WaitForData checks the centroid
var PollInterval = 50 * time.Millisecond

// Axis is a measurement axis of the profiler head
type Axis int

const (
	// AxisX is the horizontal axis
	AxisX Axis = iota

	// AxisY is the vertical axis
	AxisY

	// AxisBoth measures both axes
	AxisBoth
)

// String satisfies fmt.Stringer
func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisBoth:
		return "both"
	default:
		return fmt.Sprintf("Axis(%d)", int(a))
	}
}

// ParseAxis converts "x", "y" or "both" (also "xy" and "") to an Axis
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(s) {
	case "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	case "both", "xy", "":
		return AxisBoth, nil
	}
	return 0, fmt.Errorf("unknown axis %q", s)
}

func (a Axis) axes() []Axis {
	switch a {
	case AxisX, AxisY:
		return []Axis{a}
	default:
		return []Axis{AxisX, AxisY}
	}
}

// Parameter is a bit set of the results computed by the profiler software
type Parameter uint32

const (
	// ParamBeamWidth is the clip-level beam width
	ParamBeamWidth Parameter = 1 << iota

	// ParamBeamWidthD4Sigma is the second-moment (D4σ) beam diameter
	ParamBeamWidthD4Sigma

	// ParamCentroidPosition is the centroid of the profile
	ParamCentroidPosition

	// ParamPeakPosition is the location of the peak of the profile
	ParamPeakPosition

	// ParamGaussianFit is the gaussian fit of the profile
	ParamGaussianFit
)

// Device is the control surface of a profiler exposed by its vendor software.
// Widths and positions are in microns.
type Device interface {
	// NumDevices returns the number of connected heads
	NumDevices() (int, error)

	// AutoFind centers the acquisition window and gain on the beam
	AutoFind() error

	// SetDataAcquisition turns continuous acquisition on or off
	SetDataAcquisition(bool) error

	// AcquireSync1Rev acquires one revolution of the slit head
	AcquireSync1Rev() error

	// RunComputation computes the selected parameters on the last acquisition
	RunComputation() error

	// BeamWidth4Sigma returns the D4σ diameter on an axis for a region of interest
	BeamWidth4Sigma(axis Axis, roi int) (float64, error)

	// CentroidPosition returns the centroid on an axis for a region of interest
	CentroidPosition(axis Axis, roi int) (float64, error)

	// SelectedParameters returns the parameters currently computed
	SelectedParameters() (Parameter, error)

	// SelectParameters sets the parameters to compute
	SelectParameters(Parameter) error
}

// Stat is the mean and population standard deviation of repeated samples
type Stat struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Width is an averaged D4σ measurement.  Only the axes requested are populated.
type Width struct {
	Axis    Axis `json:"axis"`
	Samples int  `json:"samples"`
	X       Stat `json:"x"`
	Y       Stat `json:"y"`
}

// Of returns the statistic of one axis
func (w Width) Of(a Axis) Stat {
	if a == AxisY {
		return w.Y
	}
	return w.X
}

// WidthMeter is something that measures averaged beam diameters
type WidthMeter interface {
	AvgD4Sigma(ctx context.Context, axis Axis, n int) (Width, error)
}

// NanoScan drives a scanning-slit profiler through a Device
type NanoScan struct {
	dev Device

	// ROI is the region of interest read out, 0 for the full aperture
	ROI int

	mu  sync.Mutex
	daq bool
}

// New wraps dev, failing if no head is connected
func New(dev Device) (*NanoScan, error) {
	n, err := dev.NumDevices()
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, ErrNoDevice
	}
	return &NanoScan{dev: dev}, nil
}

// Device returns the underlying device
func (n *NanoScan) Device() Device {
	return n.dev
}

// NumDevices returns the number of connected heads
func (n *NanoScan) NumDevices() (int, error) {
	return n.dev.NumDevices()
}

// AutoFind centers the acquisition on the beam
func (n *NanoScan) AutoFind() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dev.AutoFind()
}

// SetDAQ turns data acquisition on or off
func (n *NanoScan) SetDAQ(on bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.setDAQ(on)
}

func (n *NanoScan) setDAQ(on bool) error {
	if err := n.dev.SetDataAcquisition(on); err != nil {
		return err
	}
	n.daq = on
	return nil
}

// GetDAQ returns true if data acquisition is on
func (n *NanoScan) GetDAQ() (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.daq, nil
}

// withParams runs fn with extra added to the selected parameters,
// restoring the original selection afterwards
func (n *NanoScan) withParams(extra Parameter, fn func() error) error {
	orig, err := n.dev.SelectedParameters()
	if err != nil {
		return err
	}
	if err = n.dev.SelectParameters(orig | extra); err != nil {
		return err
	}
	err = fn()
	if rerr := n.dev.SelectParameters(orig); err == nil {
		err = rerr
	}
	return err
}

// WaitForData blocks until the profiler reports a centroid on both axes.
// Acquisition must be on.
func (n *NanoScan) WaitForData(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.waitForData(ctx)
}

func (n *NanoScan) waitForData(ctx context.Context) error {
	if !n.daq {
		return ErrDAQOff
	}
	lim := rate.NewLimiter(rate.Every(PollInterval), 1)
	return n.withParams(ParamCentroidPosition, func() error {
		for {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
			x, err := n.dev.CentroidPosition(AxisX, n.ROI)
			if err != nil {
				return err
			}
			y, err := n.dev.CentroidPosition(AxisY, n.ROI)
			if err != nil {
				return err
			}
			if x > 0 && y > 0 {
				return nil
			}
		}
	})
}

// WaitStable turns acquisition on, waits for data, and turns it back off
func (n *NanoScan) WaitStable(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.waitStable(ctx)
}

func (n *NanoScan) waitStable(ctx context.Context) error {
	if err := n.setDAQ(true); err != nil {
		return err
	}
	err := n.waitForData(ctx)
	if derr := n.setDAQ(false); err == nil {
		err = derr
	}
	return err
}

// OneRev acquires one revolution and returns the D4σ diameter on x and y.
// D4σ must be among the selected parameters.
func (n *NanoScan) OneRev() (x, y float64, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.oneRev()
}

func (n *NanoScan) oneRev() (x, y float64, err error) {
	if err = n.dev.AcquireSync1Rev(); err != nil {
		return
	}
	if err = n.dev.RunComputation(); err != nil {
		return
	}
	x, err = n.dev.BeamWidth4Sigma(AxisX, n.ROI)
	if err != nil {
		return
	}
	y, err = n.dev.BeamWidth4Sigma(AxisY, n.ROI)
	return
}

// Centroid returns the centroid of an axis from a fresh revolution
func (n *NanoScan) Centroid(axis Axis) (float64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var c float64
	err := n.withParams(ParamCentroidPosition, func() error {
		if err := n.dev.AcquireSync1Rev(); err != nil {
			return err
		}
		if err := n.dev.RunComputation(); err != nil {
			return err
		}
		var err error
		c, err = n.dev.CentroidPosition(axis, n.ROI)
		return err
	})
	return c, err
}

// AvgD4Sigma stabilizes the profiler, auto-finds the beam and averages the
// D4σ diameter over n revolutions
func (n *NanoScan) AvgD4Sigma(ctx context.Context, axis Axis, samples int) (Width, error) {
	out := Width{Axis: axis, Samples: samples}
	if samples < 1 {
		return out, ErrBadSamples
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.waitStable(ctx); err != nil {
		return out, fmt.Errorf("waiting for stable data: %w", err)
	}
	if err := n.dev.AutoFind(); err != nil {
		return out, fmt.Errorf("auto find: %w", err)
	}
	xs := make([]float64, 0, samples)
	ys := make([]float64, 0, samples)
	err := n.withParams(ParamBeamWidthD4Sigma, func() error {
		for i := 0; i < samples; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			x, y, err := n.oneRev()
			if err != nil {
				return err
			}
			xs = append(xs, x)
			ys = append(ys, y)
		}
		return nil
	})
	if err != nil {
		return out, err
	}
	for _, a := range axis.axes() {
		var s Stat
		if a == AxisX {
			s.Mean, s.Std = stat.PopMeanStdDev(xs, nil)
			out.X = s
		} else {
			s.Mean, s.Std = stat.PopMeanStdDev(ys, nil)
			out.Y = s
		}
	}
	return out, nil
}
