package session

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pixelgrove/pixelgrove/internal/model"
)

// Middleware returns a middleware that resolves the request's session.
// It accepts the session cookie or an equivalent Authorization Bearer
// token, injects the Session into the request context, and reissues
// cookie-borne sessions past their half-life (sliding expiration).
//
// Requests without a valid session pass through unauthenticated;
// RequireUser enforces the 401.
func Middleware(m *Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, fromCookie := extractToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			sess, err := m.Parse(token)
			if err != nil {
				logger.Debug("rejected session token",
					slog.String("path", r.URL.Path),
				)
				if fromCookie {
					m.Clear(w)
				}
				next.ServeHTTP(w, r)
				return
			}

			// Sliding expiration: only cookie sessions slide. Bearer
			// clients manage their own token lifetime.
			if fromCookie && time.Until(sess.ExpiresAt) < m.ttl/2 {
				_ = m.Issue(w, &model.LocalIdentity{
					UserID: sess.UserID,
					Name:   sess.Name,
					Email:  sess.Email,
				})
			}

			ctx := ContextWithSession(r.Context(), sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser returns a middleware that rejects unauthenticated requests
// with 401. Must be applied after Middleware.
func RequireUser() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if FromContext(r.Context()) == nil {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken pulls the session token from the request. The session
// cookie wins; an Authorization Bearer header is the fallback for
// non-browser clients.
func extractToken(r *http.Request) (token string, fromCookie bool) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, true
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer "), false
	}

	return "", false
}

// writeUnauthorized writes a 401 problem response.
// Uses the same message for all failures to prevent probing.
func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"type":"about:blank","title":"Unauthorized","status":401,"detail":"Authentication required."}`))
}
