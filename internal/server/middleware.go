package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/michaelbrown/rex/internal/runtime"
)

// authenticate rejects requests without the configured token.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			got := r.Header.Get(runtime.AuthHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.authToken)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// recoverer turns a panic in a handler into a transferred error carrying the
// stack, so clients see it like any other server-side failure.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			stack := string(debug.Stack())
			s.logger.Error("handler panic", "panic", rec, "path", r.URL.Path,
				"request_id", middleware.GetReqID(r.Context()))
			writeTransferred(w, fmt.Errorf("panic: %v", rec), stack)
		}()
		next.ServeHTTP(w, r)
	})
}
