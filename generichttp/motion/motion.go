// Package motion provides an HTTP interface to motion controllers
package motion

import (
	"go/types"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/msquared/generichttp"
)

// Mover describes an interface with position-related methods for axes
type Mover interface {
	// GetPos gets the current position of an axis
	GetPos(string) (float64, error)

	// MoveAbs moves an axis to an absolute position
	MoveAbs(string, float64) error

	// MoveRel moves an axis a relative amount
	MoveRel(string, float64) error

	// Home homes an axis
	Home(string) error
}

// Stopper describes an interface with stop-related methods for axes
type Stopper interface {
	// Stop aborts motion of the axis
	Stop(string) error
}

// Speeder describes an interface with velocity-related methods for axes
type Speeder interface {
	// SetVelocity sets the velocity setpoint on the axis
	SetVelocity(string, float64) error

	// GetVelocity gets the velocity setpoint on the axis
	GetVelocity(string) (float64, error)
}

// Enabler describes an interface with enable/disable methods for axes
type Enabler interface {
	// Enable enables an axis
	Enable(string) error

	// Disable disables an axis
	Disable(string) error

	// GetEnabled gets if an axis is enabled
	GetEnabled(string) (bool, error)
}

// InPositionQueryer is a type which can query whether an axis is in position
type InPositionQueryer interface {
	// GetInPosition returns True if the axis is in position
	GetInPosition(string) (bool, error)
}

// Controller is used for the HTTP interface, which will check if the concrete
// type satisfies the other interfaces in this package and inject their routes
// automatically
type Controller interface {
	// Mover - all Controllers must be Movers
	Mover
}

// HTTPMotionController wraps a motion controller with HTTP
type HTTPMotionController struct {
	Controller

	RouteTable generichttp.RouteTable
}

// NewHTTPMotionController returns a new HTTP wrapper with the route table pre-configured
func NewHTTPMotionController(c Controller) HTTPMotionController {
	rt := generichttp.RouteTable{}
	HTTPMove(c, rt)
	if stopper, ok := c.(Stopper); ok {
		HTTPStop(stopper, rt)
	}
	if speeder, ok := c.(Speeder); ok {
		HTTPSpeed(speeder, rt)
	}
	if enabler, ok := c.(Enabler); ok {
		HTTPEnable(enabler, rt)
	}
	if inpos, ok := c.(InPositionQueryer); ok {
		HTTPInPosition(inpos, rt)
	}
	return HTTPMotionController{Controller: c, RouteTable: rt}
}

// RT satisfies the HTTPer interface
func (h HTTPMotionController) RT() generichttp.RouteTable {
	return h.RouteTable
}

func route(method, path string) generichttp.MethodPath {
	return generichttp.MethodPath{Method: method, Path: "/axis/{axis}/" + path}
}

// the handlers below bind the {axis} URL parameter of a per-axis method

func axisGetFloat(fcn func(string) (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		generichttp.GetFloat(func() (float64, error) { return fcn(axis) })(w, r)
	}
}

func axisSetFloat(fcn func(string, float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		generichttp.SetFloat(func(f float64) error { return fcn(axis, f) })(w, r)
	}
}

func axisGetBool(fcn func(string) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		b, err := fcn(axis)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Bool, Bool: b}
		hp.EncodeAndRespond(w, r)
	}
}

func axisTrigger(fcn func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		generichttp.Trigger(func() error { return fcn(axis) })(w, r)
	}
}

// HTTPStop adds the stop route to the table
func HTTPStop(iface Stopper, table generichttp.RouteTable) {
	table[route(http.MethodPost, "stop")] = axisTrigger(iface.Stop)
}

// HTTPSpeed adds routes for the speeder to the route table
func HTTPSpeed(iface Speeder, table generichttp.RouteTable) {
	table[route(http.MethodGet, "velocity")] = axisGetFloat(iface.GetVelocity)
	table[route(http.MethodPost, "velocity")] = axisSetFloat(iface.SetVelocity)
}

// HTTPEnable adds routes for the enabler to the route table.  POSTing
// {"bool": false} disables the axis
func HTTPEnable(iface Enabler, table generichttp.RouteTable) {
	table[route(http.MethodGet, "enabled")] = axisGetBool(iface.GetEnabled)
	table[route(http.MethodPost, "enabled")] = func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		generichttp.SetBool(func(b bool) error {
			if b {
				return iface.Enable(axis)
			}
			return iface.Disable(axis)
		})(w, r)
	}
}

// HTTPInPosition adds routes for InPosition to the route table
func HTTPInPosition(iface InPositionQueryer, table generichttp.RouteTable) {
	table[route(http.MethodGet, "inposition")] = axisGetBool(iface.GetInPosition)
}
