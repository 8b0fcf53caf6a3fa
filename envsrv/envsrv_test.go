package envsrv_test

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/qnngroup/qnnlab/envsrv"
	"github.com/qnngroup/qnnlab/sweep"
)

func reading(sec int, a float64) sweep.Reading {
	return sweep.Reading{
		Time:   time.Unix(int64(sec), 0).UTC(),
		Kelvin: map[string]float64{"A": a},
	}
}

func TestHistoryWraps(t *testing.T) {
	h := envsrv.NewHistory(3)
	if _, ok := h.Latest(); ok {
		t.Fatal("empty history has a latest reading")
	}
	for i := 0; i < 5; i++ {
		h.Set(reading(i, float64(i)))
	}
	got := h.Readings()
	if len(got) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(got))
	}
	for i, exp := range []float64{2, 3, 4} {
		if got[i].Kelvin["A"] != exp {
			t.Errorf("reading %d: expected %g, got %g", i, exp, got[i].Kelvin["A"])
		}
	}
	last, _ := h.Latest()
	if last.Kelvin["A"] != 4 {
		t.Errorf("expected latest 4, got %g", last.Kelvin["A"])
	}
}

func TestHTTPLatestNaN(t *testing.T) {
	h := envsrv.NewHistory(10)
	mux := envsrv.BuildMux(h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/temperature/latest", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before the first reading, got %d", rec.Code)
	}

	h.Set(reading(0, math.NaN()))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/temperature/latest", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Kelvin map[string]*float64 `json:"kelvin"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if v, ok := out.Kelvin["A"]; !ok || v != nil {
		t.Errorf("expected failed channel as null, got %v", v)
	}
}

func TestHTTPYield(t *testing.T) {
	h := envsrv.NewHistory(10)
	h.Set(reading(0, 4.2))
	h.Set(reading(10, 4.3))
	rec := httptest.NewRecorder()
	envsrv.BuildMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/temperature/history", nil))
	var out struct {
		Time   []time.Time           `json:"timestamp"`
		Kelvin map[string][]*float64 `json:"kelvin"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Time) != 2 || len(out.Kelvin["A"]) != 2 {
		t.Fatalf("expected two readings, got %+v", out)
	}
	if *out.Kelvin["A"][1] != 4.3 {
		t.Errorf("expected 4.3, got %g", *out.Kelvin["A"][1])
	}
}
