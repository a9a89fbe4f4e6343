// SPDX-License-Identifier: MIT

package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/watchthefall/portal/internal/log"
)

// authHeader carries the pre-shared portal key on /api requests.
const authHeader = "WTF_PORTAL_KEY"

// authMiddleware enforces the pre-shared key on /api routes. An empty
// configured key disables authentication entirely.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get(authHeader)
		logger := log.WithComponent("api")
		if got == "" {
			logger.Warn().
				Str("event", "auth.missing_key").
				Str("path", r.URL.Path).
				Msg("portal key header missing")
			writeUnauthorized(w)
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AuthKey)) != 1 {
			logger.Warn().
				Str("event", "auth.invalid_key").
				Str("path", r.URL.Path).
				Msg("portal key mismatch")
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.code = code
	sr.ResponseWriter.WriteHeader(code)
}

// requestLogger emits one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger := log.WithComponent("api")
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.code).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}
