package motion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/msquared/generichttp"
	"github.com/nasa-jpl/msquared/util"
)

var (
	// ErrClamped is generated when a move would leave the software limits
	ErrClamped = errors.New("requested position violates software limits, aborted")
)

// LimitMiddleware imposes axis-specific limits on motion.  A POST to an
// axis' pos route that would end outside the limits is answered with 400
// and never reaches the controller
type LimitMiddleware struct {
	// Limits contains the server imposed limits on the controller
	Limits map[string]util.Limiter

	// Mov is a reference to the mover, used to query axis positions
	Mov Mover
}

// Check verifies if a motion would violate the axis limit, if it exists,
// and if it does, responds with StatusBadRequest
// otherwise, flows control to the next handler
func (l *LimitMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/pos") {
			next.ServeHTTP(w, r)
			return
		}
		// chi has not routed yet, so pull the axis out of the path ourselves
		parts := strings.Split(strings.TrimSuffix(r.URL.Path, "/pos"), "/")
		axis := parts[len(parts)-1]
		limiter, ok := l.Limits[axis]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		// downstream handlers want the body, read it here then put it back
		body, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		f := generichttp.FloatT{}
		if err = json.Unmarshal(body, &f); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cmd := f.F64
		if rel := r.URL.Query().Get("relative"); rel == "true" || rel == "1" {
			curr, err := l.Mov.GetPos(axis)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			cmd += curr
		}
		if !limiter.Check(cmd) {
			msg := fmt.Sprintf("%s: %g not in [%g, %g]", ErrClamped, cmd, limiter.Min, limiter.Max)
			http.Error(w, msg, http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Inject places a /axis/{axis}/limits route on the table of the HTTPer
func (l *LimitMiddleware) Inject(h generichttp.HTTPer) {
	h.RT()[route(http.MethodGet, "limits")] = l.HTTPLimits
}

// HTTPLimits responds with the limits of the axis, or null if it has none
func (l *LimitMiddleware) HTTPLimits(w http.ResponseWriter, r *http.Request) {
	axis := chi.URLParam(r, "axis")
	lim, ok := l.Limits[axis]
	if !ok {
		generichttp.RespondJSON(w, nil)
		return
	}
	generichttp.RespondJSON(w, lim)
}
