package model

import "strings"

// UnknownUserName is shown when the provider has neither a name nor a username.
const UnknownUserName = "Unknown"

// Identity is the provider-owned user record. It is fetched per login and
// never cached or persisted by the relay.
type Identity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// DisplayName returns the best available display name
func (i *Identity) DisplayName() string {
	if name := strings.TrimSpace(i.Name); name != "" {
		return name
	}
	if username := strings.TrimSpace(i.Username); username != "" {
		return username
	}
	return UnknownUserName
}

// Summary returns the client-facing {id, name} view.
func (i *Identity) Summary() UserSummary {
	return UserSummary{ID: i.ID, Name: i.DisplayName()}
}

// UserSummary is the user object embedded in relay responses.
type UserSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
