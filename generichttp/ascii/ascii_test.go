package ascii_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/msquared/generichttp"
	"github.com/nasa-jpl/msquared/generichttp/ascii"
)

type echo struct{ sent []string }

func (e *echo) Raw(s string) (string, error) {
	if s == "boom" {
		return "", errors.New("timeout")
	}
	e.sent = append(e.sent, s)
	return "re:" + s, nil
}

type table struct{ rt generichttp.RouteTable }

func (t table) RT() generichttp.RouteTable { return t.rt }

func TestInjectRawComm(t *testing.T) {
	dev := &echo{}
	h := table{rt: generichttp.RouteTable{}}
	ascii.InjectRawComm(h, dev)
	require.Equal(t, []string{"/raw"}, h.RT().Endpoints())

	r := chi.NewRouter()
	h.RT().Bind(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	post := func(body string) *http.Response {
		resp, err := http.Post(srv.URL+"/raw", "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}
	resp := post(`{"str": "Q:"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out generichttp.StrT
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "re:Q:", out.Str)
	require.Equal(t, []string{"Q:"}, dev.sent)

	require.Equal(t, http.StatusBadRequest, post(`{}`).StatusCode)
	require.Equal(t, http.StatusInternalServerError, post(`{"str": "boom"}`).StatusCode)
}
