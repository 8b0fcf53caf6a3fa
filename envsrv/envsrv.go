/*
Package envsrv contains the machinery for an environmental recording server.

A History keeps the last N temperature readings in memory and serves them,
and the most recent one, over HTTP.  It is fed by sweep.TemperatureLog.
*/
package envsrv

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"

	"github.com/qnngroup/qnnlab/generichttp"
	"github.com/qnngroup/qnnlab/server"
	"github.com/qnngroup/qnnlab/sweep"
)

// History is a bounded, concurrent safe record of readings
type History struct {
	mu       sync.RWMutex
	readings []sweep.Reading
	next     int
	full     bool
}

// NewHistory returns a History holding up to capacity readings
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{readings: make([]sweep.Reading, capacity)}
}

// Set appends r, dropping the oldest reading when full
func (h *History) Set(r sweep.Reading) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readings[h.next] = r
	h.next++
	if h.next == len(h.readings) {
		h.next = 0
		h.full = true
	}
}

// Readings returns the held readings from least to most recent
func (h *History) Readings() []sweep.Reading {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.full {
		return append([]sweep.Reading(nil), h.readings[:h.next]...)
	}
	out := make([]sweep.Reading, 0, len(h.readings))
	out = append(out, h.readings[h.next:]...)
	return append(out, h.readings[:h.next]...)
}

// Latest returns the most recent reading and false if there is none
func (h *History) Latest() (sweep.Reading, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.full && h.next == 0 {
		return sweep.Reading{}, false
	}
	i := h.next - 1
	if i < 0 {
		i = len(h.readings) - 1
	}
	return h.readings[i], true
}

type reading struct {
	Time   time.Time           `json:"time"`
	Kelvin map[string]*float64 `json:"kelvin"`
}

type envdata struct {
	Time   []time.Time           `json:"timestamp"`
	Kelvin map[string][]*float64 `json:"kelvin"`
}

// HTTPLatest replies with the most recent reading.  Failed channels are null
func (h *History) HTTPLatest(w http.ResponseWriter, r *http.Request) {
	rd, ok := h.Latest()
	if !ok {
		http.Error(w, "no readings yet", http.StatusServiceUnavailable)
		return
	}
	out := reading{Time: rd.Time, Kelvin: map[string]*float64{}}
	for ch, k := range rd.Kelvin {
		out.Kelvin[ch] = generichttp.NullNaN(k)
	}
	generichttp.Reply(w, out)
}

// HTTPYield returns an object over HTTP which contains an array of
// timestamps and one array of temperatures per channel
func (h *History) HTTPYield(w http.ResponseWriter, r *http.Request) {
	rds := h.Readings()
	out := envdata{Time: make([]time.Time, len(rds)), Kelvin: map[string][]*float64{}}
	for i, rd := range rds {
		out.Time[i] = rd.Time
		for ch, k := range rd.Kelvin {
			col, ok := out.Kelvin[ch]
			if !ok {
				col = make([]*float64, len(rds))
				out.Kelvin[ch] = col
			}
			col[i] = generichttp.NullNaN(k)
		}
	}
	generichttp.Reply(w, out)
}

// RT satisfies the generichttp.HTTPer interface
func (h *History) RT() generichttp.RouteTable {
	return generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/latest"}:  h.HTTPLatest,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/history"}: h.HTTPYield,
	}
}

// BuildMux returns a router serving h under /temperature
func BuildMux(h *History) chi.Router {
	root := chi.NewRouter()
	root.Use(server.RequestLogger)
	r := chi.NewRouter()
	h.RT().Bind(r)
	root.Mount("/temperature", r)
	return root
}
