package msq_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/msquared/beamprofiler"
	"github.com/nasa-jpl/msquared/fitting"
	"github.com/nasa-jpl/msquared/generichttp/msq"
	"github.com/nasa-jpl/msquared/server/middleware/locker"
	"github.com/nasa-jpl/msquared/stage"
)

func init() {
	beamprofiler.PollInterval = time.Millisecond
}

func caustic() msq.FitRequest {
	f := fitting.OmegaZLambda(1064)
	req := msq.FitRequest{Backend: "odr", Mode: "msq", Wavelength: 1064, RelErr: 0.01, Estimate: true}
	for z := 0.; z <= 20; z++ {
		req.Z = append(req.Z, z)
		req.W = append(req.W, f([]float64{50, 10, 1.3}, z))
	}
	return req
}

func newServer(t *testing.T, o msq.Options) (*msq.HTTPMsq, *httptest.Server) {
	t.Helper()
	if o.Registerer == nil {
		o.Registerer = prometheus.NewRegistry()
	}
	h, err := msq.NewHTTPMsq(o)
	require.NoError(t, err)
	r := chi.NewRouter()
	h.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return h, srv
}

func post(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestFitMatchesLibraryAndCaches(t *testing.T) {
	h, srv := newServer(t, msq.Options{})
	req := caustic()

	f, err := req.Fitter()
	require.NoError(t, err)
	want, err := f.MSquared()
	require.NoError(t, err)

	resp := post(t, srv.URL+"/fit", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got msq.FitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.False(t, got.Cached)
	require.InDelta(t, want.Value, got.MSquared.Value, 1e-12)
	require.InDelta(t, 1.3, got.MSquared.Value, 1e-3)
	require.Contains(t, got.Report, "M² (msq)")
	require.Len(t, got.Beta, fitting.NParams)

	// the same fit under another spelling of the backend is a cache hit
	req.Backend = ""
	resp = post(t, srv.URL+"/fit", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.True(t, got.Cached)
	require.InDelta(t, want.Value, got.MSquared.Value, 1e-12)

	m := h.Metrics()
	require.Equal(t, 1., testutil.ToFloat64(m.CacheHits))
	require.Equal(t, 1., testutil.ToFloat64(m.Fits.WithLabelValues("odr", "msq", "ok")))
}

func TestFitBadRequests(t *testing.T) {
	_, srv := newServer(t, msq.Options{})

	resp, err := http.Post(srv.URL+"/fit", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req := caustic()
	req.Mode = "quadratic"
	require.Equal(t, http.StatusBadRequest, post(t, srv.URL+"/fit", req).StatusCode)

	req = caustic()
	req.RelErr = 0
	require.Equal(t, http.StatusBadRequest, post(t, srv.URL+"/fit", req).StatusCode)

	req = caustic()
	req.W = req.W[1:]
	require.Equal(t, http.StatusBadRequest, post(t, srv.URL+"/fit", req).StatusCode)
}

func TestPlot(t *testing.T) {
	_, srv := newServer(t, msq.Options{})
	resp := post(t, srv.URL+"/plot", caustic())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(b, []byte("\x89PNG")))
}

func TestScanWithoutHardware(t *testing.T) {
	_, srv := newServer(t, msq.Options{})
	resp := post(t, srv.URL+"/scan", msq.ScanRequest{})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err := http.Get(srv.URL + "/scan/last")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScan(t *testing.T) {
	stg := stage.NewMock(stage.DefaultConfig())
	sim := beamprofiler.NewSimulated(stg, stage.Axis, 1064, beamprofiler.Caustic{W0: 50, Z0: 100, MSquare: 1.3}, 1)
	ns, err := beamprofiler.New(sim)
	require.NoError(t, err)
	stgLock, nsLock := locker.New(), locker.New()
	h, srv := newServer(t, msq.Options{Stage: stg, StageLock: stgLock, Profiler: ns, ProfilerLock: nsLock})

	req := msq.ScanRequest{Start: 90, Stop: 110, Step: 2, Mode: "msq", Wavelength: 1064}
	req.Axis = stage.Axis
	req.Samples = 2

	nsLock.Lock()
	resp := post(t, srv.URL+"/scan", req)
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	require.False(t, stgLock.Locked(), "a refused scan releases what it took")
	nsLock.Unlock()

	resp = post(t, srv.URL+"/scan", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res msq.ScanResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.Len(t, res.Scan.Points, 11)
	require.InDelta(t, 1.3, res.Analysis.X.MSquared.Value, 1e-3)
	require.InDelta(t, 1.3, res.Analysis.Y.MSquared.Value, 1e-3)
	require.False(t, stgLock.Locked())
	require.False(t, nsLock.Locked())
	require.Equal(t, 1., testutil.ToFloat64(h.Metrics().Scans.WithLabelValues("ok")))

	last, err := http.Get(srv.URL + "/scan/last")
	require.NoError(t, err)
	defer last.Body.Close()
	require.Equal(t, http.StatusOK, last.StatusCode)

	fits, err := http.Get(srv.URL + "/scan/last/fits")
	require.NoError(t, err)
	defer fits.Body.Close()
	require.Equal(t, http.StatusOK, fits.StatusCode)
	b, err := io.ReadAll(fits.Body)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(b, []byte("SIMPLE  =")))

	png, err := http.Get(srv.URL + "/scan/last/plot?axis=y")
	require.NoError(t, err)
	defer png.Body.Close()
	require.Equal(t, "image/png", png.Header.Get("Content-Type"))

	bad, err := http.Get(srv.URL + "/scan/last/plot?axis=both")
	require.NoError(t, err)
	bad.Body.Close()
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestScanAxisDefaultAndStageErrors(t *testing.T) {
	stg := stage.NewMock(stage.DefaultConfig())
	sim := beamprofiler.NewSimulated(stg, stage.Axis, 1064, beamprofiler.Caustic{W0: 50, Z0: 100, MSquare: 1.3}, 1)
	ns, err := beamprofiler.New(sim)
	require.NoError(t, err)
	_, srv := newServer(t, msq.Options{Stage: stg, StageAxis: stage.Axis, Profiler: ns})

	req := msq.ScanRequest{Start: 95, Stop: 105, Step: 2, Mode: "msq", Wavelength: 1064}
	req.Samples = 1
	resp := post(t, srv.URL+"/scan", req)
	require.Equal(t, http.StatusOK, resp.StatusCode, "the stage axis is used when the body has none")
	var res msq.ScanResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.Equal(t, stage.Axis, res.Scan.Axis)
	require.Len(t, res.Scan.Points, 6)

	bad := req
	bad.Axis = "2"
	require.Equal(t, http.StatusBadRequest, post(t, srv.URL+"/scan", bad).StatusCode)

	bad = req
	bad.Start, bad.Stop = 195, 205
	require.Equal(t, http.StatusBadRequest, post(t, srv.URL+"/scan", bad).StatusCode)
}

func TestFitBeamIsCamelCase(t *testing.T) {
	_, srv := newServer(t, msq.Options{})
	resp := post(t, srv.URL+"/fit", caustic())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var raw struct {
		Beam map[string]float64 `json:"beam"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	require.InDelta(t, 50, raw.Beam["w0"], 1e-3)
	require.InDelta(t, 10, raw.Beam["z0"], 1e-3)
	for _, k := range []string{"w0Err", "z0Err", "zR", "zRErr", "theta", "thetaErr"} {
		require.Contains(t, raw.Beam, k)
	}
	require.NotContains(t, raw.Beam, "W0")
}
