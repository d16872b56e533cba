// Package crypto holds the relay's randomness helpers for flow tokens.
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// StateTokenBytes is the entropy of a CSRF state token.
const StateTokenBytes = 16

// reader is swapped in tests to simulate entropy failure.
var reader io.Reader = rand.Reader

// GenerateRandomBytes generates n random bytes
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// GenerateRandomHex generates a random hex string of n bytes
func GenerateRandomHex(n int) (string, error) {
	b, err := GenerateRandomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateStateToken returns a fresh CSRF token: 16 random bytes, hex encoded.
// Hex never contains the ':' used to combine states.
func GenerateStateToken() (string, error) {
	return GenerateRandomHex(StateTokenBytes)
}
