package state

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dzerik/oauth-relay/internal/model"
)

// RedisStore keeps flow parameters in Redis so that initiation and callback
// may land on different relay instances.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore connects to Redis and creates a flow store
func NewRedisStore(cfg Config) (*RedisStore, error) {
	client, err := NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, err
	}
	return NewRedisStoreWithClient(client, cfg.Redis.KeyPrefix, cfg.TTL), nil
}

// NewRedisClient opens and pings a Redis connection. A single address
// yields a plain client, several a cluster client, and MasterName a
// Sentinel failover client.
func NewRedisClient(cfg RedisConfig) (redis.UniversalClient, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("redis addresses not configured")
	}

	tlsConfig, err := cfg.TLS.build()
	if err != nil {
		return nil, fmt.Errorf("invalid Redis TLS configuration: %w", err)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MasterName:   cfg.MasterName,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		TLSConfig:    tlsConfig,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// build returns nil when TLS is disabled.
func (t TLSConfig) build() (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if t.CA != "" {
		pem, err := os.ReadFile(t.CA)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("no certificates found in CA file")
		}
		cfg.RootCAs = pool
	}

	if t.Cert != "" || t.Key != "" {
		cert, err := tls.LoadX509KeyPair(t.Cert, t.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "oauthrelay:flow:"
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// Save stores params under the CSRF token with the store TTL
func (s *RedisStore) Save(ctx context.Context, csrfToken string, params model.FlowParams) error {
	if params.CreatedAt.IsZero() {
		params.CreatedAt = time.Now()
	}

	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}

	if err := s.client.Set(ctx, s.keyPrefix+csrfToken, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store flow: %w", err)
	}
	return nil
}

// Take retrieves and removes the entry atomically (GETDEL, Redis 6.2+)
func (s *RedisStore) Take(ctx context.Context, csrfToken string) (*model.FlowParams, error) {
	data, err := s.client.GetDel(ctx, s.keyPrefix+csrfToken).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrFlowNotFound
		}
		return nil, fmt.Errorf("failed to load flow: %w", err)
	}

	var params model.FlowParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
	}
	return &params, nil
}

// Ping checks the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Name returns the store type name
func (s *RedisStore) Name() string {
	return "redis"
}
