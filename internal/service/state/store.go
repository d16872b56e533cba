// Package state protects the OAuth handoff against CSRF and carries the
// client's delivery preferences across the provider redirect.
//
// The CSRF token always round-trips through an HTTP-only cookie. Delivery
// mode and port travel either in sibling cookies (the default) or in a
// short-TTL server-side Store keyed by the CSRF token.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/dzerik/oauth-relay/internal/model"
)

var (
	// ErrFlowNotFound is returned when no flow entry exists for a token
	ErrFlowNotFound = errors.New("flow not found")
)

// Store holds flow parameters server-side.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores params under the CSRF token for the store's TTL
	Save(ctx context.Context, csrfToken string, params model.FlowParams) error

	// Take retrieves and removes the entry (one-time use)
	Take(ctx context.Context, csrfToken string) (*model.FlowParams, error)

	// Ping reports whether the backing storage is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error

	// Name returns the store type name
	Name() string
}

// Config holds flow store configuration
type Config struct {
	// Type is "cookie", "memory" or "redis"
	Type string
	// TTL is the flow lifetime
	TTL time.Duration
	// Redis configuration (used when Type is "redis")
	Redis RedisConfig
}

// RedisConfig holds Redis-specific flow store configuration
type RedisConfig struct {
	Addresses    []string
	Password     string
	DB           int
	KeyPrefix    string
	MasterName   string
	PoolSize     int
	MinIdleConns int
	TLS          TLSConfig
}

// TLSConfig holds file paths for a TLS connection to Redis.
type TLSConfig struct {
	Enabled bool
	Cert    string
	Key     string
	CA      string
}

// DefaultTTL is the lifetime of a login flow.
const DefaultTTL = 10 * time.Minute

// NewStore creates the configured server-side store. The cookie type has
// no server-side store and yields nil.
func NewStore(cfg Config) (Store, error) {
	switch cfg.Type {
	case "redis":
		return NewRedisStore(cfg)
	case "memory":
		return NewMemoryStore(cfg.TTL), nil
	case "cookie", "":
		return nil, nil
	default:
		return nil, errors.New("unknown flow store type: " + cfg.Type)
	}
}
