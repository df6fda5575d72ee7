// Package ascii adds a passthrough route to devices that speak a line based
// ASCII protocol
package ascii

import (
	"encoding/json"
	"net/http"

	"github.com/nasa-jpl/msquared/generichttp"
)

// RawCommunicator has a single Raw method
type RawCommunicator interface {
	Raw(string) (string, error)
}

// HTTPRaw sends the body's str field to the device and returns its reply
func HTTPRaw(comm RawCommunicator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		str := generichttp.StrT{}
		err := json.NewDecoder(r.Body).Decode(&str)
		defer r.Body.Close()
		if err != nil || str.Str == "" {
			http.Error(w, "body must be {\"str\": <command>}", http.StatusBadRequest)
			return
		}
		resp, err := comm.Raw(str.Str)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		generichttp.RespondJSON(w, generichttp.StrT{Str: resp})
	}
}

// InjectRawComm injects a /raw POST route into the route table of an HTTPer
func InjectRawComm(other generichttp.HTTPer, raw RawCommunicator) {
	other.RT()[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}] = HTTPRaw(raw)
}
