package model

// NoAccess is the access level reported when the provider omits one.
const NoAccess = "no_access"

// ExperienceIDPrefix is the shape every provider experience id carries.
const ExperienceIDPrefix = "exp_"

// AccessDecision is the provider's answer to one authorization check.
type AccessDecision struct {
	HasAccess   bool   `json:"hasAccess"`
	AccessLevel string `json:"accessLevel"`
}

// Normalize fills in the no_access sentinel for a missing access level.
func (d *AccessDecision) Normalize() {
	if d.AccessLevel == "" {
		d.AccessLevel = NoAccess
	}
}

// AccessCheckResult is the response of the access check endpoint.
type AccessCheckResult struct {
	HasAccess    bool   `json:"hasAccess"`
	AccessLevel  string `json:"accessLevel"`
	UserID       string `json:"userId"`
	ExperienceID string `json:"experienceId"`
}
