package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kalambet/strokeinsight/internal/session"
)

// SessionAuth resolves the bearer token to a session and stores it in the
// request context.
func SessionAuth(sessions SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "missing bearer token")
				return
			}
			sess, err := sessions.Resolve(auth[len(prefix):])
			switch {
			case errors.Is(err, session.ErrExpired):
				httpError(w, http.StatusUnauthorized, "authentication_error", "session expired, log in again")
				return
			case errors.Is(err, session.ErrUnauthorized):
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid bearer token")
				return
			case err != nil:
				httpError(w, http.StatusInternalServerError, "api_error", "resolving session: %v", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(session.WithContext(r.Context(), sess)))
		})
	}
}
