// Package generichttp wraps device methods in HTTP handlers and collects
// them in route tables that can be mounted on a chi router.
//
// Scalars travel as small JSON objects keyed by type, {"f64": 1.5},
// {"int": 3}, {"str": "C1"} or {"bool": true}, for both requests and
// replies.
package generichttp

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"
)

// FloatT is the wire form of a float
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is the wire form of an int
type IntT struct {
	Int int `json:"int"`
}

// StrT is the wire form of a string
type StrT struct {
	Str string `json:"str"`
}

// BoolT is the wire form of a bool
type BoolT struct {
	Bool bool `json:"bool"`
}

// MethodPath is a route, a method and a URL pattern
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps routes to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints returns "METHOD /path" for each route, sorted by path
func (rt RouteTable) Endpoints() []string {
	routes := make([]MethodPath, 0, len(rt))
	for k := range rt {
		routes = append(routes, k)
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	out := make([]string, len(routes))
	for i, r := range routes {
		out[i] = r.Method + " " + r.Path
	}
	return out
}

// Bind adds every route to r
func (rt RouteTable) Bind(r chi.Router) {
	for mp, h := range rt {
		r.MethodFunc(mp.Method, mp.Path, h)
	}
}

// HTTPer has a route table
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize turns "omc/nkt" or "/omc/nkt/*" into "/omc/nkt", the form
// chi expects for Mount
func SubMuxSanitize(s string) string {
	s = strings.TrimSuffix(strings.TrimSuffix(s, "*"), "/")
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return s
}

// Reply encodes v as JSON with a 200 status
func Reply(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// NullNaN returns nil for NaN and infinities, which JSON cannot carry
func NullNaN(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// decode reads a JSON body into v, replying 400 on failure
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// GetFloat calls a float-getting function and returns the response
// as json {'f64': value}.  NaN is sent as null
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		Reply(w, struct {
			F64 *float64 `json:"f64"`
		}{NullNaN(f)})
	}
}

// SetFloat parses a JSON input of {'f64': value} and
// calls fcn with it
func SetFloat(fcn func(float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := FloatT{}
		if !decode(w, r, &f) {
			return
		}
		if err := fcn(f.F64); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetInt calls an int-getting function and returns the response
// as json {'int': value}
func GetInt(fcn func() (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		Reply(w, IntT{Int: i})
	}
}

// SetInt parses a JSON input of {'int': value} and
// calls fcn with it
func SetInt(fcn func(int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := IntT{}
		if !decode(w, r, &i) {
			return
		}
		if err := fcn(i.Int); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		Reply(w, StrT{Str: s})
	}
}

// SetString parses a JSON input of {'str': value} and
// calls fcn with it
func SetString(fcn func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := StrT{}
		if !decode(w, r, &s) {
			return
		}
		if err := fcn(s.Str); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		Reply(w, BoolT{Bool: b})
	}
}

// SetBool parses a JSON input of {'bool': value} and
// calls fcn with it
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := BoolT{}
		if !decode(w, r, &b) {
			return
		}
		if err := fcn(b.Bool); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// RawCommunicator sends a command and returns the reply
type RawCommunicator interface {
	Raw(string) (string, error)
}

// InjectRaw adds a POST /raw route to the table of h that passes
// {'str': command} to raw and replies with {'str': response}
func InjectRaw(h HTTPer, raw RawCommunicator) {
	h.RT()[MethodPath{Method: http.MethodPost, Path: "/raw"}] = func(w http.ResponseWriter, r *http.Request) {
		s := StrT{}
		if !decode(w, r, &s) {
			return
		}
		resp, err := raw.Raw(s.Str)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		Reply(w, StrT{Str: resp})
	}
}
