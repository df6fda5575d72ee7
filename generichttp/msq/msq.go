/*Package msq serves M² fits and caustic scans over HTTP.

POST /fit takes a dataset and returns the fit and M².  Identical requests
within the cache lifetime are answered without refitting.  POST /plot takes
the same body and returns a PNG of the fit.  When a stage and a profiler are
wired, POST /scan runs a caustic measurement with both locked for its
duration, and GET /scan/last returns the most recent one.
*/
package msq

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nasa-jpl/msquared/beamprofiler"
	"github.com/nasa-jpl/msquared/caustic"
	"github.com/nasa-jpl/msquared/fitting"
	"github.com/nasa-jpl/msquared/generichttp"
	"github.com/nasa-jpl/msquared/generichttp/motion"
	"github.com/nasa-jpl/msquared/server/middleware/locker"
	"github.com/nasa-jpl/msquared/stage"
)

// DefaultCacheTTL is the lifetime of a cached fit
const DefaultCacheTTL = 5 * time.Minute

// PlotPoints is the number of points the model is drawn with by /plot
var PlotPoints = 200

var (
	// ErrNoUncertainty is generated when a fit request has neither per-point
	// nor relative width uncertainties
	ErrNoUncertainty = errors.New("one of wErr or relErr is required")

	// ErrBadConfig is generated when the backend or mode of a request cannot be parsed
	ErrBadConfig = errors.New("bad fit configuration")

	// ErrNoHardware is generated when a scan is requested without a stage and profiler
	ErrNoHardware = errors.New("no stage and profiler are configured")
)

// FitRequest is the body of /fit and /plot.  Units are those of the fitting
// package: z in mm, w in µm, wavelength in nm
type FitRequest struct {
	Backend       string  `json:"backend"`
	Mode          string  `json:"mode"`
	Wavelength    float64 `json:"wavelength"`
	WavelengthErr float64 `json:"wavelengthErr"`

	Z    []float64 `json:"z"`
	W    []float64 `json:"w"`
	WErr []float64 `json:"wErr,omitempty"`
	ZErr []float64 `json:"zErr,omitempty"`

	// RelErr is the width uncertainty as a fraction of the width, used when
	// WErr is empty
	RelErr float64 `json:"relErr,omitempty"`

	// W0Guess and Z0Guess seed the waist; if both are zero the guesses are
	// estimated from the data when Estimate is set, else the defaults are used
	W0Guess  float64 `json:"w0Guess,omitempty"`
	Z0Guess  float64 `json:"z0Guess,omitempty"`
	Estimate bool    `json:"estimate"`
}

// Config parses the backend and mode of the request
func (r FitRequest) Config() (fitting.Config, error) {
	cfg := fitting.Config{Wavelength: r.Wavelength, WavelengthErr: r.WavelengthErr}
	var err error
	if cfg.Backend, err = fitting.ParseBackend(r.Backend); err != nil {
		return cfg, err
	}
	if r.Mode == "" {
		r.Mode = fitting.ModeMSq.String()
	}
	if cfg.Mode, err = fitting.ParseMode(r.Mode); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// key hashes the request with its config in canonical form, so "ocf" and
// "curvefit" share an entry
func (r FitRequest) key(cfg fitting.Config) string {
	r.Backend, r.Mode = cfg.Backend.String(), cfg.Mode.String()
	b, _ := json.Marshal(r)
	return strconv.FormatUint(xxhash.Sum64(b), 16)
}

// Fitter builds a fitter for the request and fits it
func (r FitRequest) Fitter() (*fitting.MsqFitter, error) {
	cfg, err := r.Config()
	if err != nil {
		return nil, err
	}
	return r.fit(cfg)
}

func (r FitRequest) fit(cfg fitting.Config) (*fitting.MsqFitter, error) {
	f, err := fitting.NewMsqFitter(cfg)
	if err != nil {
		return nil, err
	}
	var yerr fitting.Sigma
	switch {
	case len(r.WErr) > 0:
		yerr = fitting.PerSample(r.WErr)
	case r.RelErr > 0:
		yerr = fitting.Relative(r.RelErr)
	default:
		return nil, ErrNoUncertainty
	}
	var xerr fitting.Sigma
	if len(r.ZErr) > 0 {
		xerr = fitting.PerSample(r.ZErr)
	}
	if err = f.LoadData(r.Z, r.W, xerr, yerr); err != nil {
		return nil, err
	}
	switch {
	case r.W0Guess != 0 || r.Z0Guess != 0:
		f.SetInitialGuesses(r.W0Guess, r.Z0Guess)
		_, err = f.Fit()
	case r.Estimate:
		_, err = f.EstimateAndFit()
	default:
		_, err = f.Fit()
	}
	return f, err
}

// FitResponse is the reply to /fit
type FitResponse struct {
	caustic.AxisResult
	Report string `json:"report"`
	Cached bool   `json:"cached"`
}

// ScanRequest is the body of /scan.  Positions may be given explicitly or
// as a start, stop and step
type ScanRequest struct {
	caustic.Plan

	Start float64 `json:"start"`
	Stop  float64 `json:"stop"`
	Step  float64 `json:"step"`

	Backend       string  `json:"backend"`
	Mode          string  `json:"mode"`
	Wavelength    float64 `json:"wavelength"`
	WavelengthErr float64 `json:"wavelengthErr"`
}

// ScanResult is the reply to /scan and /scan/last
type ScanResult struct {
	Scan     *caustic.Scan    `json:"scan"`
	Analysis caustic.Analysis `json:"analysis"`
}

type entry struct {
	mu     sync.Mutex
	resp   FitResponse
	fitter *fitting.MsqFitter
}

// Options configure an HTTPMsq.  Stage and Profiler may be nil, in which
// case /scan is refused
type Options struct {
	Stage        motion.Mover
	StageLock    *locker.Locker

	// StageAxis is the axis scanned when a request does not name one
	StageAxis string

	Profiler     beamprofiler.WidthMeter
	ProfilerLock *locker.Locker

	// CacheTTL is the lifetime of cached fits, default DefaultCacheTTL
	CacheTTL time.Duration

	// Registerer receives the metrics; nil leaves them unregistered
	Registerer prometheus.Registerer
}

// HTTPMsq serves fits and scans
type HTTPMsq struct {
	opts    Options
	cache   *cache.Cache
	metrics *Metrics

	scanning sync.Mutex
	mu       sync.Mutex
	last     *ScanResult

	RouteTable generichttp.RouteTable
}

// NewHTTPMsq returns a new HTTP wrapper with the route table pre-configured
func NewHTTPMsq(o Options) (*HTTPMsq, error) {
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	m, err := NewMetrics(o.Registerer)
	if err != nil {
		return nil, err
	}
	h := &HTTPMsq{
		opts:    o,
		cache:   cache.New(o.CacheTTL, 2*o.CacheTTL),
		metrics: m,
	}
	h.RouteTable = generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/fit"}:           h.Fit,
		{Method: http.MethodPost, Path: "/plot"}:          h.Plot,
		{Method: http.MethodPost, Path: "/scan"}:          h.Scan,
		{Method: http.MethodGet, Path: "/scan/last"}:      h.LastScan,
		{Method: http.MethodGet, Path: "/scan/last/fits"}: h.LastScanFITS,
		{Method: http.MethodGet, Path: "/scan/last/plot"}: h.LastScanPlot,
	}
	return h, nil
}

// RT satisfies generichttp.HTTPer
func (h *HTTPMsq) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Metrics returns the collectors of h
func (h *HTTPMsq) Metrics() *Metrics {
	return h.metrics
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, fitting.ErrShapeMismatch),
		errors.Is(err, fitting.ErrInvalidSigma),
		errors.Is(err, fitting.ErrInvalidMode),
		errors.Is(err, ErrNoUncertainty),
		errors.Is(err, ErrBadConfig),
		errors.Is(err, caustic.ErrEmptyPlan),
		errors.Is(err, stage.ErrBadAxis),
		errors.Is(err, stage.ErrPositionOutOfBounds):
		return http.StatusBadRequest
	case errors.Is(err, fitting.ErrDidNotConverge),
		errors.Is(err, fitting.ErrNonPhysical),
		errors.Is(err, caustic.ErrTooFewPoints):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNoHardware):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// lookup returns the cached fit of the request, fitting it on a miss
func (h *HTTPMsq) lookup(req FitRequest) (*entry, bool, error) {
	cfg, err := req.Config()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}
	key := req.key(cfg)
	if v, ok := h.cache.Get(key); ok {
		h.metrics.CacheHits.Inc()
		return v.(*entry), true, nil
	}
	start := time.Now()
	f, err := req.fit(cfg)
	h.metrics.FitDuration.WithLabelValues(cfg.Backend.String()).Observe(time.Since(start).Seconds())
	h.metrics.Fits.WithLabelValues(cfg.Backend.String(), cfg.Mode.String(), outcome(err)).Inc()
	if err != nil {
		return nil, false, err
	}
	res := caustic.Summarize(f, beamprofiler.AxisX)
	if res.Err != nil {
		return nil, false, res.Err
	}
	e := &entry{fitter: f, resp: FitResponse{AxisResult: res}}
	buf := &strings.Builder{}
	if err = f.Report(buf); err == nil {
		e.resp.Report = buf.String()
	}
	h.cache.SetDefault(key, e)
	return e, false, nil
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// Fit fits the posted dataset and responds with a FitResponse
func (h *HTTPMsq) Fit(w http.ResponseWriter, r *http.Request) {
	var req FitRequest
	if !decode(w, r, &req) {
		return
	}
	e, hit, err := h.lookup(req)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	resp := e.resp
	resp.Cached = hit
	generichttp.RespondJSON(w, resp)
}

// Plot fits the posted dataset and responds with a PNG of the fit
func (h *HTTPMsq) Plot(w http.ResponseWriter, r *http.Request) {
	var req FitRequest
	if !decode(w, r, &req) {
		return
	}
	e, _, err := h.lookup(req)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	writePNG(w, e.fitter)
}

func writePNG(w http.ResponseWriter, f *fitting.MsqFitter) {
	p, err := fitting.PlotFit(f.Fitter(), PlotPoints)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err = fitting.WritePlot(p, w, "png"); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Scan runs a caustic scan with the wired stage and profiler, then analyzes it
func (h *HTTPMsq) Scan(w http.ResponseWriter, r *http.Request) {
	if h.opts.Stage == nil || h.opts.Profiler == nil {
		http.Error(w, ErrNoHardware.Error(), statusOf(ErrNoHardware))
		return
	}
	var req ScanRequest
	if !decode(w, r, &req) {
		return
	}
	fr := FitRequest{Backend: req.Backend, Mode: req.Mode, Wavelength: req.Wavelength, WavelengthErr: req.WavelengthErr}
	cfg, err := fr.Config()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	plan := req.Plan
	if plan.Axis == "" {
		plan.Axis = h.opts.StageAxis
	}
	if len(plan.Positions) == 0 && req.Step > 0 {
		plan.Positions, err = caustic.LinearPlan(req.Start, req.Stop, req.Step)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if !h.scanning.TryLock() {
		http.Error(w, "a scan is already running", http.StatusConflict)
		return
	}
	defer h.scanning.Unlock()
	for _, l := range []*locker.Locker{h.opts.StageLock, h.opts.ProfilerLock} {
		if l == nil {
			continue
		}
		if !l.TryLock() {
			http.Error(w, "stage or profiler is locked", http.StatusLocked)
			return
		}
		defer l.Unlock()
	}

	start := time.Now()
	scan, err := caustic.Run(r.Context(), h.opts.Stage, h.opts.Profiler, plan)
	h.metrics.ScanSeconds.Observe(time.Since(start).Seconds())
	h.metrics.Scans.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	an, err := caustic.Analyze(scan, cfg, true)
	res := &ScanResult{Scan: scan, Analysis: an}
	h.mu.Lock()
	h.last = res
	h.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	generichttp.RespondJSON(w, res)
}

func (h *HTTPMsq) lastScan(w http.ResponseWriter) *ScanResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		http.Error(w, "no scan has been run", http.StatusNotFound)
	}
	return h.last
}

// LastScan responds with the most recent scan and its analysis
func (h *HTTPMsq) LastScan(w http.ResponseWriter, r *http.Request) {
	if res := h.lastScan(w); res != nil {
		generichttp.RespondJSON(w, res)
	}
}

// LastScanFITS responds with the most recent scan as a FITS file
func (h *HTTPMsq) LastScanFITS(w http.ResponseWriter, r *http.Request) {
	res := h.lastScan(w)
	if res == nil {
		return
	}
	w.Header().Set("Content-Type", "application/fits")
	w.Header().Set("Content-Disposition", "attachment; filename=caustic.fits")
	if err := caustic.WriteFITS(w, res.Scan, &res.Analysis); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// LastScanPlot responds with a PNG of the fit of one axis of the most recent
// scan, query parameter axis
func (h *HTTPMsq) LastScanPlot(w http.ResponseWriter, r *http.Request) {
	axis, err := beamprofiler.ParseAxis(r.URL.Query().Get("axis"))
	if err != nil || axis == beamprofiler.AxisBoth {
		http.Error(w, "axis must be x or y", http.StatusBadRequest)
		return
	}
	res := h.lastScan(w)
	if res == nil {
		return
	}
	ar := res.Analysis.Axis(axis)
	if !ar.OK() {
		http.Error(w, "axis "+axis.String()+" was not fit: "+ar.ErrMsg, http.StatusUnprocessableEntity)
		return
	}
	writePNG(w, ar.Fitter)
}
