package motion_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/msquared/generichttp"
	"github.com/nasa-jpl/msquared/generichttp/motion"
	"github.com/nasa-jpl/msquared/stage"
	"github.com/nasa-jpl/msquared/util"
)

func serve(t *testing.T, limits map[string]util.Limiter) (*stage.GSC01, *motion.Client) {
	t.Helper()
	stg := stage.NewMock(stage.DefaultConfig())
	h := motion.NewHTTPMotionController(stg)
	r := chi.NewRouter()
	if limits != nil {
		lm := motion.LimitMiddleware{Limits: limits, Mov: stg}
		lm.Inject(h)
		r.Use(lm.Check)
	}
	h.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return stg, motion.NewClient(srv.URL)
}

func TestClientRoundTrip(t *testing.T) {
	_, c := serve(t, nil)
	require.NoError(t, c.MoveAbs(stage.Axis, 12.5))
	pos, err := c.GetPos(stage.Axis)
	require.NoError(t, err)
	require.InDelta(t, 12.5, pos, 1e-9)

	require.NoError(t, c.MoveRel(stage.Axis, -2.5))
	pos, err = c.GetPos(stage.Axis)
	require.NoError(t, err)
	require.InDelta(t, 10, pos, 1e-9)

	require.NoError(t, c.SetVelocity(stage.Axis, 1))
	v, err := c.GetVelocity(stage.Axis)
	require.NoError(t, err)
	require.InDelta(t, 1, v, 1e-9)

	require.NoError(t, c.Enable(stage.Axis))
	en, err := c.GetEnabled(stage.Axis)
	require.NoError(t, err)
	require.True(t, en)
	require.NoError(t, c.Disable(stage.Axis))
	en, err = c.GetEnabled(stage.Axis)
	require.NoError(t, err)
	require.False(t, en)

	inpos, err := c.GetInPosition(stage.Axis)
	require.NoError(t, err)
	require.True(t, inpos)

	require.NoError(t, c.Stop(stage.Axis))
	require.NoError(t, c.Home(stage.Axis))
}

func TestDriverErrorsAre500(t *testing.T) {
	_, c := serve(t, nil)
	err := c.MoveAbs(stage.Axis, 500)
	var se generichttp.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusInternalServerError, se.Code)

	_, err = c.GetPos("2")
	require.ErrorAs(t, err, &se)
}

func TestLimitMiddleware(t *testing.T) {
	stg, c := serve(t, map[string]util.Limiter{stage.Axis: {Min: 5, Max: 50}})

	err := c.MoveAbs(stage.Axis, 60)
	var se generichttp.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadRequest, se.Code)
	require.Contains(t, se.Msg, motion.ErrClamped.Error())

	require.NoError(t, c.MoveAbs(stage.Axis, 45))
	err = c.MoveRel(stage.Axis, 10)
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadRequest, se.Code)

	pos, err := stg.GetPos(stage.Axis)
	require.NoError(t, err)
	require.InDelta(t, 45, pos, 1e-9, "a rejected move never reaches the controller")

	var lim util.Limiter
	require.NoError(t, c.Get("/axis/1/limits", &lim))
	require.Equal(t, util.Limiter{Min: 5, Max: 50}, lim)
}

func TestSetPosBadBody(t *testing.T) {
	stg := stage.NewMock(stage.DefaultConfig())
	r := chi.NewRouter()
	motion.NewHTTPMotionController(stg).RT().Bind(r)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/axis/1/pos", bytes.NewBufferString("nope"))
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	body, _ := json.Marshal(generichttp.FloatT{F64: 1})
	req = httptest.NewRequest(http.MethodPost, "/axis/1/pos?relative=maybe", bytes.NewReader(body))
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
