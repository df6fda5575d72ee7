package beamprofiler

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/nasa-jpl/msquared/generichttp"
)

// Remote is a profiler served over HTTP
type Remote struct {
	*generichttp.Client
}

// NewRemote returns a client for the profiler at base, e.g.
// http://lab:8000/nanoscan
func NewRemote(base string) *Remote {
	return &Remote{Client: generichttp.NewClient(base)}
}

// AvgD4Sigma implements WidthMeter
func (r *Remote) AvgD4Sigma(ctx context.Context, axis Axis, n int) (Width, error) {
	q := url.Values{}
	q.Set("axis", axis.String())
	q.Set("samples", strconv.Itoa(n))
	var w Width
	err := r.GetContext(ctx, "/d4sigma?"+q.Encode(), &w)
	return w, err
}

// Centroid returns the centroid of an axis
func (r *Remote) Centroid(axis Axis) (float64, error) {
	var f generichttp.FloatT
	err := r.Get("/centroid?axis="+axis.String(), &f)
	return f.F64, err
}

// SetDAQ turns acquisition on or off
func (r *Remote) SetDAQ(on bool) error {
	return r.SetBool("/daq", on)
}

// GetDAQ returns true if acquisition is on
func (r *Remote) GetDAQ() (bool, error) {
	return r.GetBool("/daq")
}

// AutoFind centers the acquisition on the beam
func (r *Remote) AutoFind() error {
	return r.Post("/autofind", nil, nil)
}

// NumDevices returns the number of heads connected to the server
func (r *Remote) NumDevices() (int, error) {
	var i generichttp.IntT
	if err := r.Get("/devices", &i); err != nil {
		return 0, fmt.Errorf("beam profiler devices: %w", err)
	}
	return i.Int, nil
}
