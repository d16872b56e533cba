// Package credential mints and verifies the relay's session credential: a
// short-lived signed JWT carrying the provider user id and display name.
package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// Issuer is stamped on every credential and required on verification.
	Issuer = "whop-unity-oauth"
	// Lifetime is the fixed validity of an issued credential.
	Lifetime = 2 * time.Hour
)

var (
	ErrMissingKey        = errors.New("missing signing key")
	ErrInvalidAlgorithm  = errors.New("invalid algorithm")
	ErrInvalidCredential = errors.New("invalid or expired session token")
	ErrExpired           = errors.New("session token expired")
	ErrSigningDisabled   = errors.New("codec has no private key")
)

// Subject is the identity a credential speaks for.
type Subject struct {
	UserID string `json:"id"`
	Name   string `json:"name"`
}

// Claims is the credential's JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
	Name   string `json:"name"`
}

// Config selects the signing algorithm and key material.
type Config struct {
	Algorithm  string // HS256 or RS256
	SigningKey string // HS256 shared secret
	PrivateKey string // RS256 PEM, inline or a file path
	PublicKey  string // RS256 PEM, inline or a file path; derived from PrivateKey when empty
}

// Codec issues and verifies session credentials. The key is fixed at
// construction; a Codec is safe for concurrent use.
type Codec struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	now       func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec creates a codec. It fails when no usable key is configured so a
// misconfigured relay never starts.
func NewCodec(cfg Config, opts ...Option) (*Codec, error) {
	c := &Codec{now: time.Now}

	switch cfg.Algorithm {
	case "HS256", "":
		if cfg.SigningKey == "" {
			return nil, ErrMissingKey
		}
		c.method = jwt.SigningMethodHS256
		c.signKey = []byte(cfg.SigningKey)
		c.verifyKey = c.signKey

	case "RS256":
		c.method = jwt.SigningMethodRS256
		if cfg.PrivateKey != "" {
			data, err := readPEM(cfg.PrivateKey)
			if err != nil {
				return nil, fmt.Errorf("failed to read private key: %w", err)
			}
			key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
			if err != nil {
				return nil, fmt.Errorf("failed to parse private key: %w", err)
			}
			c.signKey = key
			c.verifyKey = &key.PublicKey
		}
		if cfg.PublicKey != "" && c.verifyKey == nil {
			data, err := readPEM(cfg.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("failed to read public key: %w", err)
			}
			key, err := jwt.ParseRSAPublicKeyFromPEM(data)
			if err != nil {
				return nil, fmt.Errorf("failed to parse public key: %w", err)
			}
			c.verifyKey = key
		}
		if c.verifyKey == nil {
			return nil, ErrMissingKey
		}

	default:
		return nil, ErrInvalidAlgorithm
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Algorithm returns the JWT alg the codec signs with.
func (c *Codec) Algorithm() string {
	return c.method.Alg()
}

// Issue signs a credential for subject, valid for Lifetime from now.
func (c *Codec) Issue(subject Subject) (string, error) {
	if c.signKey == nil {
		return "", ErrSigningDisabled
	}

	now := c.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(Lifetime)),
		},
		UserID: subject.UserID,
		Name:   subject.Name,
	}

	return jwt.NewWithClaims(c.method, claims).SignedString(c.signKey)
}

// Verify checks signature, algorithm, issuer and expiry and returns the
// subject. Every failure wraps ErrInvalidCredential; expiry also wraps ErrExpired.
func (c *Codec) Verify(token string) (*Subject, error) {
	claims := &Claims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)

	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return c.verifyKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, ErrExpired)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, ErrInvalidCredential
	}

	return &Subject{UserID: claims.UserID, Name: claims.Name}, nil
}

// RemainingValidity decodes token without verifying it and returns the
// seconds left until its exp claim (negative once expired). It returns nil
// when the token cannot be decoded or carries no exp; it never fails.
func (c *Codec) RemainingValidity(token string) *int64 {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}

	remaining := exp.Unix() - c.now().Unix()
	return &remaining
}

// readPEM accepts inline PEM or a path to a PEM file.
func readPEM(value string) ([]byte, error) {
	if strings.HasPrefix(strings.TrimSpace(value), "-----BEGIN") {
		return []byte(value), nil
	}
	return os.ReadFile(value)
}
