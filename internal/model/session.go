package model

import (
	"time"
)

// SessionPayload is the unit delivered to the native client at the end of a
// login, either as the JSON response or POSTed by the loopback page.
type SessionPayload struct {
	SessionToken string      `json:"session_token"`
	User         UserSummary `json:"user"`
}

// SessionStatus is the response of the session check endpoint.
type SessionStatus struct {
	OK    bool        `json:"ok"`
	Valid bool        `json:"valid"`
	User  UserSummary `json:"user"`
	// ExpiresIn is nil when the credential carries no decodable expiry.
	ExpiresIn *int64 `json:"expires_in"`
}

// ProviderTokens is the result of an authorization code exchange. The relay
// uses the access token once to resolve the user and then discards it.
type ProviderTokens struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// HasAccessToken reports whether the exchange produced a usable token.
func (t *ProviderTokens) HasAccessToken() bool {
	return t != nil && t.AccessToken != ""
}
