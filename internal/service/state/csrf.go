package state

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/dzerik/oauth-relay/internal/service/crypto"
)

// Separator joins the provider state and the CSRF token.
const Separator = ":"

var (
	// ErrMalformedState is returned when the combined state does not split
	// into exactly two parts
	ErrMalformedState = errors.New("invalid state format")
	// ErrMissingCookie is returned when the client presented no state cookie
	ErrMissingCookie = errors.New("missing state cookie")
	// ErrStateMismatch is returned when the CSRF halves differ
	ErrStateMismatch = errors.New("state mismatch")
)

// NewToken generates a fresh CSRF token.
func NewToken() (string, error) {
	return crypto.GenerateStateToken()
}

// Combine joins the provider-issued state with the CSRF token. The provider
// half must not contain the separator.
func Combine(providerState, csrfToken string) string {
	return providerState + Separator + csrfToken
}

// Validate checks a combined state against the token carried in the state
// cookie and returns the provider half on success.
func Validate(combined, cookieToken string) (string, error) {
	parts := strings.Split(combined, Separator)
	if len(parts) != 2 {
		return "", ErrMalformedState
	}
	if cookieToken == "" {
		return "", ErrMissingCookie
	}
	if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(cookieToken)) != 1 {
		return "", ErrStateMismatch
	}
	return parts[0], nil
}
