// Package model defines the data structures used throughout the application.
package model

import "time"

// UserID is the opaque identifier of a user account.
//
// WHY A NAMED TYPE?
// Ownership checks compare a caller's identity against a scene's owner.
// Giving the identifier its own type means the compiler stops us from
// comparing it against some other string by accident (a scene ID, an email).
// Equality is the ONLY operation that matters on it.
type UserID string

// String returns the raw identifier.
func (id UserID) String() string { return string(id) }

// User represents a registered user account.
//
// Users sign up with username + email + password. An account may also be
// created by signing in with GitHub, in which case PasswordHash is empty and
// GitHubID is set: such accounts cannot use password login.
//
// WHY PasswordHash HAS json:"-"?
// The hash must never leave the server. The "-" tag tells encoding/json to
// skip the field entirely, so even a careless writeJSON(w, user) is safe.
type User struct {
	ID           UserID    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	GitHubID     *int64    `json:"githubId,omitempty"` // nil for password accounts
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
