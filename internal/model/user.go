// Package model defines domain entities for the application.
package model

import "time"

// User represents a local account.
// Users are only ever created by the first successful external login
// with a new identity, never directly by client-facing endpoints.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LocalIdentity is the claim set minted for a session after a login.
// All fields are copied from the authoritative User row, never from the
// external assertion on repeat logins.
type LocalIdentity struct {
	UserID string
	Name   string
	Email  string
}

// IdentityForUser builds a LocalIdentity from a stored user.
func IdentityForUser(u *User) *LocalIdentity {
	return &LocalIdentity{
		UserID: u.ID,
		Name:   u.Name,
		Email:  u.Email,
	}
}
