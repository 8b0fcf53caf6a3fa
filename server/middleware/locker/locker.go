/*
Package locker guards an instrument's routes with a soft lock.

While the lock is held every request to the instrument is refused with
423 Locked, except requests to the lock route itself and any other route
named exempt when the Locker was made.  Nothing blocks; the lock only tells
a second client that someone is mid-measurement on the bench.
*/
package locker

import (
	"encoding/json"
	"net/http"
	"path"
	"sync"

	"github.com/qnngroup/qnnlab/generichttp"
)

// Route is the final path segment the lock is reached at
const Route = "lock"

// Inject adds GET and POST /lock to an HTTPer's route table
func Inject(h generichttp.HTTPer, l *Locker) {
	rt := h.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/" + Route}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/" + Route}] = l.HTTPSet
}

// Locker is a lock flag plus the routes it never refuses
type Locker struct {
	mu     sync.RWMutex
	held   bool
	exempt map[string]bool
}

// New makes an unlocked Locker.  Routes whose last path segment is Route or
// one of exempt stay reachable while locked
func New(exempt ...string) *Locker {
	l := &Locker{exempt: map[string]bool{Route: true}}
	for _, e := range exempt {
		l.exempt[e] = true
	}
	return l
}

// Lock takes the lock
func (l *Locker) Lock() { l.set(true) }

// Unlock releases the lock
func (l *Locker) Unlock() { l.set(false) }

func (l *Locker) set(held bool) {
	l.mu.Lock()
	l.held = held
	l.mu.Unlock()
}

// Locked reports whether the lock is held
func (l *Locker) Locked() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.held
}

// refuses reports whether a request for urlPath is turned away right now
func (l *Locker) refuses(urlPath string) bool {
	if !l.Locked() {
		return false
	}
	return !l.exempt[path.Base(urlPath)]
}

// Check is middleware answering 423 to guarded routes while locked
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.refuses(r.URL.Path) {
			http.Error(w, "instrument is locked", http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet takes or releases the lock from a {"bool": b} body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var b generichttp.BoolT
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	l.set(b.Bool)
	w.WriteHeader(http.StatusOK)
}

// HTTPGet replies {"bool": Locked()}
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	generichttp.Reply(w, generichttp.BoolT{Bool: l.Locked()})
}
