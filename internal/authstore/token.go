// Package authstore persists the subscriber's OAuth token triple. A store
// holds at most one token; saving overwrites, clearing removes all fields
// together. Absence of a stored token means the subscriber is logged out.
package authstore

import "time"

// Token is the credential triple returned by the identity provider.
// RefreshToken and ExpiresAt are optional; a zero ExpiresAt means the access
// token never expires.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the token's expiry has passed at the given instant.
func (t Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return t.ExpiresAt.Before(now)
}

// Refreshable reports whether a silent refresh can be attempted.
func (t Token) Refreshable() bool {
	return t.RefreshToken != ""
}
