// Package csrf implements double-submit-cookie protection for
// state-changing requests that ride on the session cookie.
//
// The server sets two cookies: an HttpOnly secret half, and a
// script-readable request token derived from it with a keyed HMAC.
// Cross-site pages can make the browser send both cookies but cannot
// read either, so they cannot supply the matching request header.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/pixelgrove/pixelgrove/internal/metrics"
	"github.com/pixelgrove/pixelgrove/internal/session"
)

const (
	// CookieName is the script-readable request-token cookie.
	CookieName = "XSRF-TOKEN"
	// HeaderName is the request header that must echo the token.
	HeaderName = "X-XSRF-TOKEN"
	// secretCookieName holds the HttpOnly secret half of the pair.
	secretCookieName = "csrf"

	secretLen = 32
)

// Config holds configuration for the CSRF middleware pair.
type Config struct {
	// Key is the HMAC key binding the request token to the secret half.
	Key    []byte
	Logger *slog.Logger
	// Recorder counts rejections; may be nil.
	Recorder metrics.Recorder
	// Secure controls the cookie Secure attribute.
	Secure bool
}

// TokenCookie returns a middleware that ensures every client holds a
// valid token pair. Runs on essentially every response; generates a new
// pair only when the existing one is absent or invalid.
func TokenCookie(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasValidPair(cfg.Key, r) {
				if err := issuePair(cfg, w); err != nil {
					cfg.Logger.Error("failed to issue csrf token pair",
						slog.String("error", err.Error()),
					)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Verify returns a middleware that enforces the double-submit check.
//
// Verification applies only to requests that are not safe (method
// outside GET/HEAD/OPTIONS/TRACE) and that carry the session cookie.
// Clients authenticating purely by Authorization header are immune to
// cookie-riding and bypass the check. On failure the handler is never
// invoked and the response is 403.
func Verify(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if _, err := r.Cookie(session.CookieName); err != nil {
				// No session cookie to ride on.
				next.ServeHTTP(w, r)
				return
			}

			reason := verifyRequest(cfg.Key, r)
			if reason == "" {
				next.ServeHTTP(w, r)
				return
			}

			// Token values are secrets; log only the reason and path.
			cfg.Logger.Warn("invalid antiforgery token",
				slog.String("reason", reason),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			if cfg.Recorder != nil {
				cfg.Recorder.IncCSRFRejected()
			}

			writeForbidden(w)
		})
	}
}

// verifyRequest checks the header against the secret cookie.
// Returns an empty string on success, or the rejection reason.
func verifyRequest(key []byte, r *http.Request) string {
	secret, err := r.Cookie(secretCookieName)
	if err != nil || secret.Value == "" {
		return "missing_secret_cookie"
	}

	header := r.Header.Get(HeaderName)
	if header == "" {
		return "missing_header"
	}

	if !hmac.Equal([]byte(header), []byte(requestToken(key, secret.Value))) {
		return "token_mismatch"
	}

	return ""
}

// hasValidPair reports whether the request already carries a matching
// secret/token cookie pair.
func hasValidPair(key []byte, r *http.Request) bool {
	secret, err := r.Cookie(secretCookieName)
	if err != nil || secret.Value == "" {
		return false
	}

	token, err := r.Cookie(CookieName)
	if err != nil || token.Value == "" {
		return false
	}

	return hmac.Equal([]byte(token.Value), []byte(requestToken(key, secret.Value)))
}

// issuePair generates a fresh secret and sets both cookies.
func issuePair(cfg Config, w http.ResponseWriter) error {
	raw := make([]byte, secretLen)
	if _, err := rand.Read(raw); err != nil {
		return err
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)

	http.SetCookie(w, &http.Cookie{
		Name:     secretCookieName,
		Value:    secret,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	// Readable by client-side script, which echoes it as the header.
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    requestToken(cfg.Key, secret),
		Path:     "/",
		HttpOnly: false,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// requestToken derives the script-visible token from the secret half.
func requestToken(key []byte, secret string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// isSafeMethod reports whether the method cannot change state.
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// writeForbidden writes a 403 problem response. Distinct from 401: the
// caller is authenticated but the mutating intent is unverified.
func writeForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"type":"about:blank","title":"Forbidden","status":403,"detail":"Invalid antiforgery token."}`))
}
