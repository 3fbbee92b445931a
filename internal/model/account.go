// Package model defines domain entities for the application.
package model

import "time"

// Provider tags for external identity providers.
const (
	ProviderGoogle = "Google"
)

// Account binds one external identity to a User.
// The pair (Provider, ProviderID) is unique: at most one row may bind a
// given external identity. A user may hold accounts from several
// providers, though first login only ever creates one.
type Account struct {
	ID            string    `json:"id"`
	Provider      string    `json:"provider"`
	ProviderID    string    `json:"provider_id"`
	ProviderEmail string    `json:"provider_email,omitempty"`
	UserID        string    `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
