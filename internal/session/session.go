// Package session issues and verifies the server's session cookie.
// Sessions are HS256-signed JWTs carried in an HttpOnly cookie with a
// sliding expiration; the same token is accepted from an Authorization
// Bearer header for non-browser clients.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/pixelgrove/pixelgrove/internal/model"
)

// CookieName is the session cookie name.
const CookieName = "auth"

// ErrInvalidToken indicates a session token that failed verification.
var ErrInvalidToken = errors.New("invalid session token")

// Session is the authenticated identity attached to a request.
type Session struct {
	ID        string
	UserID    string
	Name      string
	Email     string
	ExpiresAt time.Time
}

// claims is the JWT claim set stored in the session cookie.
type claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
	secure bool
}

// NewManager creates a session Manager. ttl is the full session lifetime;
// cookies are reissued once a session passes its half-life. secure
// controls the cookie Secure attribute (off for plain-HTTP development).
func NewManager(secret []byte, ttl time.Duration, secure bool) *Manager {
	return &Manager{
		secret: secret,
		ttl:    ttl,
		secure: secure,
	}
}

// TTL returns the full session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue mints a session token for id and sets it as the session cookie.
func (m *Manager) Issue(w http.ResponseWriter, id *model.LocalIdentity) error {
	token, err := m.Sign(id, time.Now())
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// Sign creates a signed session token for id, valid from now.
func (m *Manager) Sign(id *model.LocalIdentity, now time.Time) (string, error) {
	c := claims{
		Name:  id.Name,
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			ID:        ulid.Make().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return token, nil
}

// Parse verifies a session token and returns the session it carries.
func (m *Manager) Parse(tokenString string) (*Session, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c,
		func(t *jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if c.Subject == "" {
		return nil, ErrInvalidToken
	}

	sess := &Session{
		ID:     c.ID,
		UserID: c.Subject,
		Name:   c.Name,
		Email:  c.Email,
	}
	if c.ExpiresAt != nil {
		sess.ExpiresAt = c.ExpiresAt.Time
	}

	return sess, nil
}

// Clear removes the session cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
