// Package beam exposes a scanning-slit beam profiler over HTTP
package beam

import (
	"net/http"
	"strconv"

	"github.com/nasa-jpl/msquared/beamprofiler"
	"github.com/nasa-jpl/msquared/generichttp"
)

// DefaultSamples is the number of revolutions averaged when the request does
// not say
const DefaultSamples = 10

// HTTPProfiler wraps a NanoScan with HTTP
type HTTPProfiler struct {
	Profiler *beamprofiler.NanoScan

	RouteTable generichttp.RouteTable
}

// NewHTTPProfiler returns a new HTTP wrapper with the route table pre-configured
func NewHTTPProfiler(ns *beamprofiler.NanoScan) HTTPProfiler {
	h := HTTPProfiler{Profiler: ns}
	h.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/d4sigma"}:   h.D4Sigma,
		{Method: http.MethodGet, Path: "/centroid"}:  h.Centroid,
		{Method: http.MethodGet, Path: "/daq"}:       generichttp.GetBool(ns.GetDAQ),
		{Method: http.MethodPost, Path: "/daq"}:      generichttp.SetBool(ns.SetDAQ),
		{Method: http.MethodPost, Path: "/autofind"}: generichttp.Trigger(ns.AutoFind),
		{Method: http.MethodGet, Path: "/devices"}:   generichttp.GetInt(ns.NumDevices),
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPProfiler) RT() generichttp.RouteTable {
	return h.RouteTable
}

// D4Sigma averages the D4σ diameter, query parameters axis (x, y, both) and
// samples
func (h HTTPProfiler) D4Sigma(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	axis, err := beamprofiler.ParseAxis(q.Get("axis"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n := DefaultSamples
	if s := q.Get("samples"); s != "" {
		n, err = strconv.Atoi(s)
		if err != nil || n < 1 {
			http.Error(w, "samples must be a positive integer", http.StatusBadRequest)
			return
		}
	}
	width, err := h.Profiler.AvgD4Sigma(r.Context(), axis, n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, width)
}

// Centroid returns the centroid of the axis given by the axis query parameter
func (h HTTPProfiler) Centroid(w http.ResponseWriter, r *http.Request) {
	axis, err := beamprofiler.ParseAxis(r.URL.Query().Get("axis"))
	if err != nil || axis == beamprofiler.AxisBoth {
		http.Error(w, "axis must be x or y", http.StatusBadRequest)
		return
	}
	generichttp.GetFloat(func() (float64, error) {
		return h.Profiler.Centroid(axis)
	})(w, r)
}
