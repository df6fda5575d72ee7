package locker_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/msquared/generichttp"
	"github.com/nasa-jpl/msquared/server/middleware/locker"
)

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func newServer(l *locker.Locker) *httptest.Server {
	rt := table{
		{Method: http.MethodGet, Path: "/pos"}: generichttp.GetFloat(func() (float64, error) { return 1, nil }),
	}
	locker.Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	generichttp.RouteTable(rt).Bind(r)
	return httptest.NewServer(r)
}

func TestLockedRoutesAnswer423(t *testing.T) {
	l := locker.New()
	srv := newServer(l)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/pos")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/lock", "application/json", strings.NewReader(`{"bool": true}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.True(t, l.Locked())

	resp, err = http.Get(srv.URL + "/pos")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusLocked, resp.StatusCode)

	// the lock route itself stays reachable
	resp, err = http.Post(srv.URL+"/lock", "application/json", strings.NewReader(`{"bool": false}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, l.Locked())
}

func TestTryLock(t *testing.T) {
	l := locker.New()
	require.True(t, l.TryLock())
	require.False(t, l.TryLock())
	l.Unlock()
	require.True(t, l.TryLock())
}
