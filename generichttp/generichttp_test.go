package generichttp_test

import (
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/qnngroup/qnnlab/generichttp"
)

func TestSubMuxSanitize(t *testing.T) {
	cases := map[string]string{
		"omc/nkt":    "/omc/nkt",
		"/omc/nkt/*": "/omc/nkt",
		"/source/":   "/source",
		"meter":      "/meter",
	}
	for in, exp := range cases {
		if got := generichttp.SubMuxSanitize(in); got != exp {
			t.Errorf("%q: expected %q, got %q", in, exp, got)
		}
	}
}

func TestNullNaN(t *testing.T) {
	if generichttp.NullNaN(math.NaN()) != nil || generichttp.NullNaN(math.Inf(-1)) != nil {
		t.Error("expected nil for NaN and Inf")
	}
	if p := generichttp.NullNaN(1.5); p == nil || *p != 1.5 {
		t.Errorf("expected pointer to 1.5, got %v", p)
	}
}

func TestEndpointsSorted(t *testing.T) {
	rt := generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/voltage"}: nil,
		{Method: http.MethodGet, Path: "/voltage"}:  nil,
		{Method: http.MethodGet, Path: "/output"}:   nil,
	}
	got := strings.Join(rt.Endpoints(), ",")
	exp := "GET /output,GET /voltage,POST /voltage"
	if got != exp {
		t.Errorf("expected %s, got %s", exp, got)
	}
}

func TestFloatRoundTrip(t *testing.T) {
	v := 0.0
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/v"}:  generichttp.GetFloat(func() (float64, error) { return v, nil }),
		{Method: http.MethodPost, Path: "/v"}: generichttp.SetFloat(func(f float64) error { v = f; return nil }),
	}
	r := chi.NewRouter()
	rt.Bind(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v", strings.NewReader(`{"f64": 2.5}`)))
	if w.Code != http.StatusOK || v != 2.5 {
		t.Fatalf("set failed, status %d value %g", w.Code, v)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v", nil))
	if body := strings.TrimSpace(w.Body.String()); body != `{"f64":2.5}` {
		t.Errorf("unexpected body %s", body)
	}

	v = math.NaN()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v", nil))
	if body := strings.TrimSpace(w.Body.String()); body != `{"f64":null}` {
		t.Errorf("expected null for NaN, got %s", body)
	}
}

func TestSetBadJSON(t *testing.T) {
	called := false
	h := generichttp.SetInt(func(int) error { called = true; return nil })
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")))
	if w.Code != http.StatusBadRequest || called {
		t.Errorf("expected 400 without a call, got %d called=%v", w.Code, called)
	}
}

func TestGetError(t *testing.T) {
	h := generichttp.GetString(func() (string, error) { return "", errors.New("no reply") })
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

type echo struct{ rt generichttp.RouteTable }

func (e echo) RT() generichttp.RouteTable { return e.rt }

func (e echo) Raw(s string) (string, error) { return strings.ToUpper(s), nil }

func TestInjectRaw(t *testing.T) {
	e := echo{rt: generichttp.RouteTable{}}
	generichttp.InjectRaw(e, e)
	h := e.rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}]
	if h == nil {
		t.Fatal("raw route not injected")
	}
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/raw", strings.NewReader(`{"str":"*idn?"}`)))
	if body := strings.TrimSpace(w.Body.String()); body != `{"str":"*IDN?"}` {
		t.Errorf("unexpected body %s", body)
	}
}
