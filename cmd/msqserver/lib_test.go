package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/msquared/beamprofiler"
	"github.com/nasa-jpl/msquared/generichttp/msq"
	"github.com/nasa-jpl/msquared/util"
)

func init() {
	beamprofiler.PollInterval = time.Millisecond
}

func mockConfig() Config {
	return Config{
		Addr: ":0",
		Mock: true,
		Nodes: []ObjSetup{
			{Type: "GSC01", Endpoint: "bench/stage/*", Args: map[string]interface{}{
				"Limits": map[interface{}]interface{}{
					"1": map[interface{}]interface{}{"Min": 0, "Max": 150.5},
				},
			}},
			{Type: "nanoscan", Endpoint: "/bench/nanoscan", Args: map[string]interface{}{
				"Stage": "bench/stage", "W0": 40, "Z0": 75, "MSquare": "1.5", "Wavelength": 633,
			}},
			{Type: "msq", Endpoint: "bench/msq", Args: map[string]interface{}{
				"Stage": "bench/stage", "Profiler": "bench/nanoscan", "CacheTTL": "1m",
			}},
		},
	}
}

func TestParseLimits(t *testing.T) {
	lim := parseLimits(mockConfig().Nodes[0].Args)
	require.Equal(t, map[string]util.Limiter{"1": {Min: 0, Max: 150.5}}, lim)
	require.Empty(t, parseLimits(nil))
	require.Equal(t, util.Limiter{Min: 0, Max: 150.5}, stageConfig("gsc01", mockConfig().Nodes[0].Args).Limits)
	require.True(t, stageConfig("sgsp26-200", nil).RequireHome)
}

func TestBuildMuxServesNodes(t *testing.T) {
	reg := prometheus.NewRegistry()
	mux, err := BuildMux(mockConfig(), reg)
	require.NoError(t, err)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/endpoints")
	require.NoError(t, err)
	graph := map[string][]string{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&graph))
	resp.Body.Close()
	require.Contains(t, graph, "/bench/stage")
	require.Contains(t, graph["/bench/msq"], "/fit")
	require.Contains(t, graph["/bench/nanoscan"], "/lock")

	// the software limit of the stage node applies before the controller's
	resp, err = http.Post(srv.URL+"/bench/stage/axis/1/pos", "application/json", bytes.NewBufferString(`{"f64": 160}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/bench/stage/raw", "application/json", bytes.NewBufferString(`{"str": "Q:"}`))
	require.NoError(t, err)
	raw := struct{ Str string }{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	resp.Body.Close()
	require.Contains(t, raw.Str, "0")

	body, _ := json.Marshal(msq.ScanRequest{Start: 65, Stop: 85, Step: 2, Mode: "msq", Wavelength: 633})
	resp, err = http.Post(srv.URL+"/bench/msq/scan", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var res msq.ScanResult
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	resp.Body.Close()
	require.InDelta(t, 1.5, res.Analysis.X.MSquared.Value, 1e-3)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	b, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(b), "msq_scans_total")
}

func TestBuildMuxRejectsBadConfigs(t *testing.T) {
	c := mockConfig()
	c.Nodes = append(c.Nodes, ObjSetup{Type: "laser", Endpoint: "x"})
	_, err := BuildMux(c, nil)
	require.Error(t, err)

	c = mockConfig()
	c.Nodes = c.Nodes[1:]
	_, err = BuildMux(c, nil)
	require.Error(t, err, "the profiler refers to a stage that does not exist")

	c = mockConfig()
	c.Mock = false
	c.Nodes = c.Nodes[1:2]
	c.Nodes[0].Args = nil
	_, err = BuildMux(c, nil)
	require.Error(t, err, "only the simulated profiler exists")

	c = mockConfig()
	c.Nodes[1].Endpoint = "bench/stage"
	_, err = BuildMux(c, nil)
	require.Error(t, err)
}
