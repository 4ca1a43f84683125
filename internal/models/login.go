package models

import "time"

// LoginState is the server-side record of an authorize redirect in
// flight. It is keyed by the OAuth state nonce and consumed exactly once
// by the callback.
type LoginState struct {
	ReturnTo  string    `json:"return_to"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the state can no longer be redeemed at now.
func (s LoginState) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
