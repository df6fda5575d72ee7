package generichttp_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/msquared/generichttp"
)

func TestSubMuxSanitize(t *testing.T) {
	for _, in := range []string{"omc/stage", "/omc/stage", "/omc/stage/*", "omc/stage/"} {
		require.Equal(t, "/omc/stage", generichttp.SubMuxSanitize(in))
	}
}

func TestEndpointsAreUniqueAndSorted(t *testing.T) {
	ok := func(w http.ResponseWriter, r *http.Request) {}
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/b"}:  ok,
		{Method: http.MethodPost, Path: "/b"}: ok,
		{Method: http.MethodGet, Path: "/a"}:  ok,
	}
	require.Equal(t, []string{"/a", "/b"}, rt.Endpoints())
}

func TestClientRoundTrip(t *testing.T) {
	var (
		value   = 1.5
		enabled bool
	)
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/value"}: generichttp.GetFloat(func() (float64, error) { return value, nil }),
		{Method: http.MethodPost, Path: "/value"}: generichttp.SetFloat(func(f float64) error {
			value = f
			return nil
		}),
		{Method: http.MethodGet, Path: "/enabled"}: generichttp.GetBool(func() (bool, error) { return enabled, nil }),
		{Method: http.MethodPost, Path: "/enabled"}: generichttp.SetBool(func(b bool) error {
			enabled = b
			return nil
		}),
		{Method: http.MethodGet, Path: "/broken"}: generichttp.GetFloat(func() (float64, error) { return 0, errors.New("sensor unplugged") }),
	}
	r := chi.NewRouter()
	rt.Bind(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := generichttp.NewClient(srv.URL + "/")
	f, err := c.GetFloat("/value")
	require.NoError(t, err)
	require.Equal(t, 1.5, f)

	require.NoError(t, c.SetFloat("/value", 3))
	f, err = c.GetFloat("/value")
	require.NoError(t, err)
	require.Equal(t, 3., f)

	require.NoError(t, c.SetBool("/enabled", true))
	b, err := c.GetBool("/enabled")
	require.NoError(t, err)
	require.True(t, b)

	_, err = c.GetFloat("/broken")
	var se generichttp.StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusInternalServerError, se.Code)
	require.Equal(t, "sensor unplugged", se.Msg)
}
