package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/pixelgrove/pixelgrove/internal/identity"
	"github.com/pixelgrove/pixelgrove/internal/metrics"
	"github.com/pixelgrove/pixelgrove/internal/model"
	"github.com/pixelgrove/pixelgrove/internal/session"
)

// stubProvider is an oauth.Provider that hands back canned identities.
type stubProvider struct {
	identity identity.ExternalIdentity
	fetchErr error
	gotCode  string
}

func (p *stubProvider) Name() string { return model.ProviderGoogle }

func (p *stubProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/authorize?state=" + url.QueryEscape(state)
}

func (p *stubProvider) FetchIdentity(ctx context.Context, code string) (identity.ExternalIdentity, error) {
	p.gotCode = code
	if p.fetchErr != nil {
		return identity.ExternalIdentity{}, p.fetchErr
	}
	return p.identity, nil
}

// stubStateStore keeps pending login states in a map.
type stubStateStore struct {
	states  map[string]string
	saveErr error
}

func newStubStateStore() *stubStateStore {
	return &stubStateStore{states: make(map[string]string)}
}

func (s *stubStateStore) SaveLoginState(ctx context.Context, state, returnURL string, ttl time.Duration) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.states[state] = returnURL
	return nil
}

func (s *stubStateStore) TakeLoginState(ctx context.Context, state string) (string, error) {
	returnURL, ok := s.states[state]
	if !ok {
		return "", errors.New("login state not found")
	}
	delete(s.states, state)
	return returnURL, nil
}

// stubReconciler returns a fixed identity or error.
type stubReconciler struct {
	id  *model.LocalIdentity
	err error
	got identity.ExternalIdentity
}

func (r *stubReconciler) Reconcile(ctx context.Context, ext identity.ExternalIdentity) (*model.LocalIdentity, error) {
	r.got = ext
	if r.err != nil {
		return nil, r.err
	}
	return r.id, nil
}

type authFixture struct {
	handler    *AuthHandler
	provider   *stubProvider
	states     *stubStateStore
	reconciler *stubReconciler
	sessions   *session.Manager
	recorder   *metrics.InMemoryRecorder
}

func newAuthFixture() *authFixture {
	provider := &stubProvider{
		identity: identity.ExternalIdentity{
			Provider: model.ProviderGoogle,
			Subject:  "sub-123",
			Name:     "Ada Lovelace",
			Email:    "ada@example.com",
		},
	}
	states := newStubStateStore()
	reconciler := &stubReconciler{
		id: &model.LocalIdentity{
			UserID: "7c9e6679-7425-40de-944b-e07fc1f90ae7",
			Name:   "Ada Lovelace",
			Email:  "ada@example.com",
		},
	}
	sessions := session.NewManager([]byte("0123456789abcdef0123456789abcdef"), time.Hour, false)
	recorder := metrics.NewInMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &authFixture{
		handler:    NewAuthHandler(logger, provider, states, reconciler, sessions, recorder),
		provider:   provider,
		states:     states,
		reconciler: reconciler,
		sessions:   sessions,
		recorder:   recorder,
	}
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	return nil
}

func TestLogin_RedirectsToProviderWithState(t *testing.T) {
	f := newAuthFixture()

	req := httptest.NewRequest(http.MethodGet, "/auth/login?returnUrl=/photos/42", nil)
	rec := httptest.NewRecorder()
	f.handler.Login(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}

	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad Location header: %v", err)
	}
	if location.Host != "accounts.example.com" {
		t.Errorf("redirected to %s, want the provider", location.Host)
	}

	state := location.Query().Get("state")
	if state == "" {
		t.Fatal("redirect carries no state")
	}

	if got := f.states.states[state]; got != "/photos/42" {
		t.Errorf("stored returnURL = %q, want /photos/42", got)
	}
}

func TestLogin_StateStoreFailure(t *testing.T) {
	f := newAuthFixture()
	f.states.saveErr = errors.New("redis down")

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	rec := httptest.NewRecorder()
	f.handler.Login(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestCallback_HappyPathEstablishesSession(t *testing.T) {
	f := newAuthFixture()
	f.states.states["state-1"] = "/photos/42"

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=state-1&code=code-1", nil)
	rec := httptest.NewRecorder()
	f.handler.Callback(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/photos/42" {
		t.Errorf("Location = %q, want stored returnURL", got)
	}

	if f.provider.gotCode != "code-1" {
		t.Errorf("exchanged code = %q, want code-1", f.provider.gotCode)
	}
	if f.reconciler.got.Subject != "sub-123" {
		t.Errorf("reconciled subject = %q, want sub-123", f.reconciler.got.Subject)
	}

	cookie := sessionCookie(rec)
	if cookie == nil {
		t.Fatal("no session cookie set")
	}
	sess, err := f.sessions.Parse(cookie.Value)
	if err != nil {
		t.Fatalf("session cookie does not parse: %v", err)
	}
	if sess.UserID != f.reconciler.id.UserID {
		t.Errorf("session UserID = %q, want %q", sess.UserID, f.reconciler.id.UserID)
	}

	if got := f.recorder.Snapshot().LoginSuccesses; got != 1 {
		t.Errorf("LoginSuccesses = %d, want 1", got)
	}
}

func TestCallback_FailurePaths(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		setup      func(f *authFixture)
		wantReason string
	}{
		{
			name:       "provider error param",
			target:     "/auth/google/callback?error=access_denied",
			setup:      func(f *authFixture) {},
			wantReason: "provider",
		},
		{
			name:       "missing code",
			target:     "/auth/google/callback?state=state-1",
			setup:      func(f *authFixture) { f.states.states["state-1"] = "/" },
			wantReason: "provider",
		},
		{
			name:       "missing state",
			target:     "/auth/google/callback?code=code-1",
			setup:      func(f *authFixture) {},
			wantReason: "provider",
		},
		{
			name:       "unknown state",
			target:     "/auth/google/callback?state=bogus&code=code-1",
			setup:      func(f *authFixture) {},
			wantReason: "state",
		},
		{
			name:   "identity fetch failure",
			target: "/auth/google/callback?state=state-1&code=code-1",
			setup: func(f *authFixture) {
				f.states.states["state-1"] = "/"
				f.provider.fetchErr = errors.New("exchange failed")
			},
			wantReason: "provider",
		},
		{
			name:   "reconcile failure",
			target: "/auth/google/callback?state=state-1&code=code-1",
			setup: func(f *authFixture) {
				f.states.states["state-1"] = "/"
				f.reconciler.err = identity.ErrIncompleteIdentity
			},
			wantReason: "reconcile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture()
			tt.setup(f)

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			rec := httptest.NewRecorder()
			f.handler.Callback(rec, req)

			if rec.Code != http.StatusFound {
				t.Fatalf("status = %d, want 302", rec.Code)
			}
			if got := rec.Header().Get("Location"); got != loginErrorPath {
				t.Errorf("Location = %q, want %q", got, loginErrorPath)
			}

			// A session is never established on any failure path.
			if sessionCookie(rec) != nil {
				t.Error("failure path set a session cookie")
			}

			failures := f.recorder.Snapshot().LoginFailures
			if failures[tt.wantReason] != 1 {
				t.Errorf("LoginFailures = %v, want one %q failure", failures, tt.wantReason)
			}
		})
	}
}

func TestCallback_StateIsSingleUse(t *testing.T) {
	f := newAuthFixture()
	f.states.states["state-1"] = "/"

	first := httptest.NewRecorder()
	f.handler.Callback(first, httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=state-1&code=code-1", nil))
	if sessionCookie(first) == nil {
		t.Fatal("first callback did not establish a session")
	}

	// Replaying the same state must fail.
	second := httptest.NewRecorder()
	f.handler.Callback(second, httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=state-1&code=code-1", nil))
	if got := second.Header().Get("Location"); got != loginErrorPath {
		t.Errorf("replayed state redirected to %q, want %q", got, loginErrorPath)
	}
}

func TestLogout_ClearsSessionAndRedirects(t *testing.T) {
	f := newAuthFixture()

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	ctx := session.ContextWithSession(req.Context(), &session.Session{UserID: "u-1"})
	rec := httptest.NewRecorder()
	f.handler.Logout(rec, req.WithContext(ctx))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/" {
		t.Errorf("Location = %q, want /", got)
	}

	cookie := sessionCookie(rec)
	if cookie == nil {
		t.Fatal("no session cookie written")
	}
	if cookie.MaxAge >= 0 || cookie.Value != "" {
		t.Errorf("cookie not cleared: MaxAge=%d Value=%q", cookie.MaxAge, cookie.Value)
	}
}

func TestSanitizeReturnURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", "/"},
		{"root", "/", "/"},
		{"relative path", "/photos/42", "/photos/42"},
		{"path with query", "/photos?album=7", "/photos?album=7"},
		{"protocol-relative", "//evil.example.com", "/"},
		{"absolute http", "http://evil.example.com/", "/"},
		{"absolute https", "https://evil.example.com/phish", "/"},
		{"missing leading slash", "photos/42", "/photos/42"},
		{"unparseable", "http://%zz", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeReturnURL(tt.raw); got != tt.want {
				t.Errorf("sanitizeReturnURL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
