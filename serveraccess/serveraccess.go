// Package serveraccess records which user is working at a shared bench
package serveraccess

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qnngroup/qnnlab/generichttp"
)

// ServerStatus holds the current user, if the server is busy, and when the user
// took control
type ServerStatus struct {
	mu sync.RWMutex

	User       string
	Busy       bool
	WhenAuthed time.Time
}

// AuthRequest is a passthrough struct allowing a User variable to be extracted
// from JSON
type AuthRequest struct {
	User string `json:"user"`
}

// NotifyActive takes POST requests with json like {"user": "foo"} and
// marks the bench busy.  An empty user is a bad request
func (stat *ServerStatus) NotifyActive(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var dat AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&dat); err != nil || dat.User == "" {
		http.Error(w, `need JSON body {"user": name}`, http.StatusBadRequest)
		return
	}
	stat.mu.Lock()
	stat.User = dat.User
	stat.Busy = true
	stat.WhenAuthed = time.Now()
	stat.mu.Unlock()
	log.Info().Str("user", dat.User).Str("from", r.RemoteAddr).Msg("bench claimed")
	w.WriteHeader(http.StatusOK)
}

// ReleaseActive clears the status
func (stat *ServerStatus) ReleaseActive(w http.ResponseWriter, r *http.Request) {
	stat.mu.Lock()
	log.Info().Str("user", stat.User).Time("since", stat.WhenAuthed).Str("from", r.RemoteAddr).Msg("bench released")
	stat.User = ""
	stat.Busy = false
	stat.WhenAuthed = time.Time{}
	stat.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// Snapshot returns a copy of the status
func (stat *ServerStatus) Snapshot() (user string, busy bool, when time.Time) {
	stat.mu.RLock()
	defer stat.mu.RUnlock()
	return stat.User, stat.Busy, stat.WhenAuthed
}

// CheckActive returns the JSON representation of stat
func (stat *ServerStatus) CheckActive(w http.ResponseWriter, r *http.Request) {
	user, busy, when := stat.Snapshot()
	generichttp.Reply(w, AuthStatus{User: user, Busy: busy, WhenAuthed: when})
}

// AuthStatus is the wire form of a ServerStatus
type AuthStatus struct {
	User       string    `json:"user"`
	Busy       bool      `json:"busy"`
	WhenAuthed time.Time `json:"when_authed"`
}

// RT satisfies the generichttp.HTTPer interface
func (stat *ServerStatus) RT() generichttp.RouteTable {
	return generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/"}:         stat.CheckActive,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/notify"}:  stat.NotifyActive,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/release"}: stat.ReleaseActive,
	}
}
