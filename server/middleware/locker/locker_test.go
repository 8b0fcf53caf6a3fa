package locker_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/qnngroup/qnnlab/server/middleware/locker"
)

func TestCheckBlocksWhenLocked(t *testing.T) {
	l := locker.New()
	h := l.Check(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/voltage", nil))
	if w.Code != http.StatusTeapot {
		t.Fatalf("unlocked request should pass, got %d", w.Code)
	}

	l.Lock()
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/voltage", nil))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423, got %d", w.Code)
	}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/source/lock", nil))
	if w.Code != http.StatusTeapot {
		t.Errorf("lock route must stay reachable, got %d", w.Code)
	}
}

func TestHTTPSet(t *testing.T) {
	l := locker.New()
	w := httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool":true}`)))
	if !l.Locked() {
		t.Fatal("expected locked")
	}
	w = httptest.NewRecorder()
	l.HTTPGet(w, httptest.NewRequest(http.MethodGet, "/lock", nil))
	if body := strings.TrimSpace(w.Body.String()); body != `{"bool":true}` {
		t.Errorf("unexpected body %s", body)
	}
	w = httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader("true")))
	if w.Code != http.StatusBadRequest || !l.Locked() {
		t.Errorf("bad body should be rejected, got %d", w.Code)
	}
}

func TestExemptRoutes(t *testing.T) {
	l := locker.New("identify")
	l.Lock()
	h := l.Check(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	cases := map[string]int{
		"/scope/identify":   http.StatusOK,
		"/scope/lock":       http.StatusOK,
		"/scope/lockout":    http.StatusLocked,
		"/scope/screenshot": http.StatusLocked,
	}
	for p, want := range cases {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
		if w.Code != want {
			t.Errorf("%s: expected %d, got %d", p, want, w.Code)
		}
	}
	l.Unlock()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scope/screenshot", nil))
	if w.Code != http.StatusOK {
		t.Errorf("unlocked request should pass, got %d", w.Code)
	}
}
