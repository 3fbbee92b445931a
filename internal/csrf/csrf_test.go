package csrf

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pixelgrove/pixelgrove/internal/metrics"
	"github.com/pixelgrove/pixelgrove/internal/session"
)

func testConfig(recorder metrics.Recorder) Config {
	return Config{
		Key:      []byte("0123456789abcdef0123456789abcdef"),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Recorder: recorder,
	}
}

// issuedPair runs a request through TokenCookie and returns the cookies it set.
func issuedPair(t *testing.T, cfg Config) (secret, token *http.Cookie) {
	t.Helper()

	handler := TokenCookie(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		switch c.Name {
		case secretCookieName:
			secret = c
		case CookieName:
			token = c
		}
	}

	if secret == nil || token == nil {
		t.Fatalf("token pair not issued; cookies = %v", rec.Result().Cookies())
	}
	return secret, token
}

func TestTokenCookie_IssuesPair(t *testing.T) {
	t.Parallel()

	secret, token := issuedPair(t, testConfig(nil))

	if !secret.HttpOnly {
		t.Error("secret cookie must be HttpOnly")
	}
	if token.HttpOnly {
		t.Error("request-token cookie must be readable by script")
	}
	if secret.Value == "" || token.Value == "" {
		t.Error("issued cookies have empty values")
	}

	// The token must be the keyed derivation of the secret.
	if token.Value != requestToken(testConfig(nil).Key, secret.Value) {
		t.Error("request token does not match secret derivation")
	}
}

func TestTokenCookie_KeepsValidPair(t *testing.T) {
	t.Parallel()

	cfg := testConfig(nil)
	secret, token := issuedPair(t, cfg)

	handler := TokenCookie(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(secret)
	req.AddCookie(token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if len(rec.Result().Cookies()) != 0 {
		t.Errorf("valid pair was reissued: %v", rec.Result().Cookies())
	}
}

func TestTokenCookie_ReplacesTamperedPair(t *testing.T) {
	t.Parallel()

	cfg := testConfig(nil)
	secret, token := issuedPair(t, cfg)
	token.Value = "tampered"

	handler := TokenCookie(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(secret)
	req.AddCookie(token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if len(rec.Result().Cookies()) == 0 {
		t.Error("tampered pair was not replaced")
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	cfg := testConfig(nil)
	secret, token := issuedPair(t, cfg)
	sessionCookie := &http.Cookie{Name: session.CookieName, Value: "opaque-session"}

	tests := []struct {
		name        string
		method      string
		cookies     []*http.Cookie
		header      string
		wantStatus  int
		wantInvoked bool
	}{
		{
			name:        "safe method passes without token",
			method:      http.MethodGet,
			cookies:     []*http.Cookie{sessionCookie},
			wantStatus:  http.StatusOK,
			wantInvoked: true,
		},
		{
			name:        "no session cookie passes",
			method:      http.MethodPost,
			cookies:     nil,
			wantStatus:  http.StatusOK,
			wantInvoked: true,
		},
		{
			name:        "valid pair with header passes",
			method:      http.MethodPost,
			cookies:     []*http.Cookie{sessionCookie, secret, token},
			header:      token.Value,
			wantStatus:  http.StatusOK,
			wantInvoked: true,
		},
		{
			name:        "missing secret cookie rejected",
			method:      http.MethodPost,
			cookies:     []*http.Cookie{sessionCookie, token},
			header:      token.Value,
			wantStatus:  http.StatusForbidden,
			wantInvoked: false,
		},
		{
			name:        "missing header rejected",
			method:      http.MethodPost,
			cookies:     []*http.Cookie{sessionCookie, secret, token},
			wantStatus:  http.StatusForbidden,
			wantInvoked: false,
		},
		{
			name:        "mismatched header rejected",
			method:      http.MethodPost,
			cookies:     []*http.Cookie{sessionCookie, secret, token},
			header:      "not-the-token",
			wantStatus:  http.StatusForbidden,
			wantInvoked: false,
		},
		{
			name:        "delete is not a safe method",
			method:      http.MethodDelete,
			cookies:     []*http.Cookie{sessionCookie},
			wantStatus:  http.StatusForbidden,
			wantInvoked: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			invoked := false
			handler := Verify(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				invoked = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/users/me", nil)
			for _, c := range tt.cookies {
				req.AddCookie(c)
			}
			if tt.header != "" {
				req.Header.Set(HeaderName, tt.header)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if invoked != tt.wantInvoked {
				t.Errorf("handler invoked = %v, want %v", invoked, tt.wantInvoked)
			}

			if tt.wantStatus == http.StatusForbidden {
				if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
					t.Errorf("Content-Type = %q, want problem+json", ct)
				}
				if !strings.Contains(rec.Body.String(), `"status":403`) {
					t.Errorf("body = %s, want 403 problem", rec.Body.String())
				}
			}
		})
	}
}

func TestVerify_CountsRejections(t *testing.T) {
	t.Parallel()

	recorder := metrics.NewInMemory()
	cfg := testConfig(recorder)

	handler := Verify(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "opaque-session"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := recorder.Snapshot().CSRFRejections; got != 1 {
		t.Errorf("CSRFRejections = %d, want 1", got)
	}
}

func TestRequestToken_KeyDependent(t *testing.T) {
	t.Parallel()

	secret := "the-secret-half"
	a := requestToken([]byte("key-a-key-a-key-a-key-a-key-a-ka"), secret)
	b := requestToken([]byte("key-b-key-b-key-b-key-b-key-b-kb"), secret)

	if a == b {
		t.Error("tokens for different keys must differ")
	}
}
