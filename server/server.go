// Package server builds the HTTP interface to a set of instruments.
//
// Every role in the Set is served under its lowercased name, /source,
// /meter, /scope and so on, with the routes its capabilities support and a
// lock.  GET /endpoints lists them all, and /session records who is using
// the bench.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog/log"

	"github.com/qnngroup/qnnlab/generichttp"
	"github.com/qnngroup/qnnlab/generichttp/tmc"
	"github.com/qnngroup/qnnlab/instruments"
	"github.com/qnngroup/qnnlab/server/middleware/locker"
	"github.com/qnngroup/qnnlab/serveraccess"
)

// RequestLogger logs each request to zerolog at debug, or at warn when
// the reply is an error
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ev := log.Debug()
		if status >= http.StatusBadRequest {
			ev = log.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

// Endpoint returns the URL stem a role is served on
func Endpoint(role string) string {
	return generichttp.SubMuxSanitize(strings.ToLower(role))
}

// BuildMux mounts a locked submux for every instrument in set and returns
// the root router.  The mux serves a special route, /endpoints, which
// returns the routes of every stem as JSON
func BuildMux(set *instruments.Set) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Recoverer)
	root.Use(RequestLogger)
	supergraph := map[string][]string{}

	for _, role := range set.Roles() {
		dev, err := set.Get(role)
		if err != nil {
			log.Error().Err(err).Str("role", role).Msg("not serving")
			continue
		}
		httper := tmc.NewHTTPInstrument(dev)
		lock := locker.New()
		locker.Inject(httper, lock)

		stem := Endpoint(role)
		supergraph[stem] = httper.RT().Endpoints()
		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(stem, r)
		log.Info().Str("role", role).Str("endpoint", stem).Int("routes", len(supergraph[stem])).Msg("serving")
	}
	session := &serveraccess.ServerStatus{}
	sr := chi.NewRouter()
	session.RT().Bind(sr)
	root.Mount("/session", sr)
	supergraph["/session"] = session.RT().Endpoints()

	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		generichttp.Reply(w, supergraph)
	})
	return root
}
