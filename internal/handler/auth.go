package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pixelgrove/pixelgrove/internal/identity"
	"github.com/pixelgrove/pixelgrove/internal/metrics"
	"github.com/pixelgrove/pixelgrove/internal/model"
	"github.com/pixelgrove/pixelgrove/internal/oauth"
	"github.com/pixelgrove/pixelgrove/internal/session"
)

const (
	// loginStateTTL bounds how long a login redirect may stay pending.
	loginStateTTL = 10 * time.Minute

	// loginErrorPath is where the browser lands after any failed login.
	// Deliberately generic; the reason is only ever logged server-side.
	loginErrorPath = "/login?error=auth"
)

// StateStore persists pending login states across the OAuth redirect.
type StateStore interface {
	SaveLoginState(ctx context.Context, state, returnURL string, ttl time.Duration) error
	TakeLoginState(ctx context.Context, state string) (string, error)
}

// IdentityReconciler resolves an external identity to a local one.
type IdentityReconciler interface {
	Reconcile(ctx context.Context, ext identity.ExternalIdentity) (*model.LocalIdentity, error)
}

// AuthHandler manages the login, OAuth callback, and logout endpoints.
type AuthHandler struct {
	logger     *slog.Logger
	provider   oauth.Provider
	states     StateStore
	reconciler IdentityReconciler
	sessions   *session.Manager
	recorder   metrics.Recorder
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(
	logger *slog.Logger,
	provider oauth.Provider,
	states StateStore,
	reconciler IdentityReconciler,
	sessions *session.Manager,
	recorder metrics.Recorder,
) *AuthHandler {
	return &AuthHandler{
		logger:     logger,
		provider:   provider,
		states:     states,
		reconciler: reconciler,
		sessions:   sessions,
		recorder:   recorder,
	}
}

// Login starts an external login and redirects to the provider.
// Google is the sole provider; any provider tag maps to it.
//
// GET /auth/login?provider=<name>&returnUrl=<path>
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	returnURL := sanitizeReturnURL(r.URL.Query().Get("returnUrl"))

	state, err := newLoginState()
	if err != nil {
		h.logger.Error("failed to generate login state",
			slog.String("error", err.Error()),
		)
		writeProblem(w, http.StatusInternalServerError, "Unable to start login.")
		return
	}

	if err := h.states.SaveLoginState(r.Context(), state, returnURL, loginStateTTL); err != nil {
		h.logger.Error("failed to save login state",
			slog.String("error", err.Error()),
		)
		writeProblem(w, http.StatusInternalServerError, "Unable to start login.")
		return
	}

	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

// Callback completes an external login: it validates state, exchanges
// the code, reconciles the identity, and establishes the session. Every
// failure path logs the reason and redirects to the login error page
// without establishing a session.
//
// GET /auth/google/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		h.failLogin(w, r, "provider", "provider reported error: "+errParam)
		return
	}

	state := q.Get("state")
	code := q.Get("code")
	if state == "" || code == "" {
		h.failLogin(w, r, "provider", "callback missing code or state")
		return
	}

	returnURL, err := h.states.TakeLoginState(ctx, state)
	if err != nil {
		h.failLogin(w, r, "state", "unknown, expired, or reused login state")
		return
	}

	ext, err := h.provider.FetchIdentity(ctx, code)
	if err != nil {
		h.failLogin(w, r, "provider", "failed to fetch external identity: "+err.Error())
		return
	}

	start := time.Now()
	id, err := h.reconciler.Reconcile(ctx, ext)
	h.recorder.ObserveReconcileDuration(time.Since(start))
	if err != nil {
		h.failLogin(w, r, "reconcile", "failed to reconcile identity: "+err.Error())
		return
	}

	if err := h.sessions.Issue(w, id); err != nil {
		h.failLogin(w, r, "session", "failed to issue session: "+err.Error())
		return
	}

	h.recorder.IncLoginSuccess()
	h.logger.Info("user logged in",
		slog.String("user_id", id.UserID),
		slog.String("provider", h.provider.Name()),
	)

	http.Redirect(w, r, returnURL, http.StatusFound)
}

// Logout clears the session and redirects to the landing page.
// Requires an active session and a valid antiforgery token.
//
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())

	h.sessions.Clear(w)

	if sess != nil {
		h.logger.Info("user logged out",
			slog.String("user_id", sess.UserID),
		)
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// failLogin aborts the login attempt: the reason is logged with the
// originating path (never the raw token), and the browser is sent to the
// generic login error page.
func (h *AuthHandler) failLogin(w http.ResponseWriter, r *http.Request, reason, detail string) {
	h.logger.Error("login failed",
		slog.String("reason", detail),
		slog.String("path", r.URL.Path),
	)
	h.recorder.IncLoginFailure(reason)
	http.Redirect(w, r, loginErrorPath, http.StatusFound)
}

// sanitizeReturnURL constrains a post-login redirect target to a
// same-origin relative path. Anything else falls back to "/".
func sanitizeReturnURL(raw string) string {
	if raw == "" || strings.HasPrefix(raw, "//") {
		return "/"
	}

	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return "/"
	}

	if !strings.HasPrefix(raw, "/") {
		return "/" + raw
	}

	return raw
}

// newLoginState generates an unguessable state nonce.
func newLoginState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
