// Package ratelimit throttles relay endpoints per client IP using ulule/limiter.
package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/dzerik/oauth-relay/pkg/logger"
)

// Config holds rate limiting configuration.
type Config struct {
	Enabled bool
	// Rate is the default limit in 'requests-period' form, e.g. "100-S"
	Rate string
	// TrustForwardedFor keys clients by X-Forwarded-For / X-Real-IP
	TrustForwardedFor bool
	// ExcludePaths are path prefixes never limited
	ExcludePaths []string
	// ByEndpoint enables EndpointRates
	ByEndpoint bool
	// EndpointRates maps a path prefix to its own rate; the longest prefix wins
	EndpointRates map[string]string
	Headers       HeadersConfig
	// FailClose rejects requests when the backing store errors
	FailClose bool
	// KeyPrefix namespaces counters in a shared store
	KeyPrefix string
}

// HeadersConfig names the informational response headers.
type HeadersConfig struct {
	Enabled         bool
	LimitHeader     string
	RemainingHeader string
	ResetHeader     string
}

// DefaultConfig returns default rate limiting configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		Rate:              "100-S",
		TrustForwardedFor: true,
		ExcludePaths:      []string{"/health", "/ready", "/metrics"},
		EndpointRates:     make(map[string]string),
		Headers: HeadersConfig{
			Enabled:         true,
			LimitHeader:     "X-RateLimit-Limit",
			RemainingHeader: "X-RateLimit-Remaining",
			ResetHeader:     "X-RateLimit-Reset",
		},
		FailClose: true,
		KeyPrefix: "oauthrelay:ratelimit",
	}
}

type endpointLimiter struct {
	prefix   string
	instance *limiter.Limiter
}

// Limiter applies the configured limits.
type Limiter struct {
	cfg       Config
	store     limiter.Store
	instance  *limiter.Limiter
	endpoints []endpointLimiter
	now       func() time.Time
}

// NewLimiter creates a limiter backed by an in-process store.
func NewLimiter(cfg Config) (*Limiter, error) {
	return NewLimiterWithStore(cfg, memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          cfg.KeyPrefix,
		CleanUpInterval: limiter.DefaultCleanUpInterval,
	}))
}

// NewRedisLimiter creates a limiter whose counters are shared through Redis,
// so every relay replica enforces the same budget.
func NewRedisLimiter(cfg Config, client redis.UniversalClient) (*Limiter, error) {
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix: cfg.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}
	return NewLimiterWithStore(cfg, store)
}

// NewLimiterWithStore creates a limiter on an existing store.
func NewLimiterWithStore(cfg Config, store limiter.Store) (*Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(cfg.Rate)
	if err != nil {
		return nil, err
	}

	l := &Limiter{
		cfg:      cfg,
		store:    store,
		instance: limiter.New(store, rate),
		now:      time.Now,
	}

	if cfg.ByEndpoint {
		for prefix, formatted := range cfg.EndpointRates {
			endpointRate, err := limiter.NewRateFromFormatted(formatted)
			if err != nil {
				logger.Warn("invalid endpoint rate, using default",
					zap.String("endpoint", prefix),
					zap.String("rate", formatted),
					zap.Error(err),
				)
				continue
			}
			l.endpoints = append(l.endpoints, endpointLimiter{
				prefix:   prefix,
				instance: limiter.New(store, endpointRate),
			})
		}
		sort.Slice(l.endpoints, func(i, j int) bool {
			return len(l.endpoints[i].prefix) > len(l.endpoints[j].prefix)
		})
	}

	return l, nil
}

// Middleware returns the rate limiting middleware. Rejected requests get a
// 429 JSON error envelope.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.isExcluded(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			prefix, instance := l.limiterFor(r.URL.Path)
			clientKey := l.clientKey(r)

			lc, err := instance.Get(r.Context(), prefix+"|"+clientKey)
			if err != nil {
				logger.FromContext(r.Context()).Error("rate limiter error", zap.Error(err))
				if l.cfg.FailClose {
					writeEnvelope(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if l.cfg.Headers.Enabled {
				h := w.Header()
				h.Set(l.cfg.Headers.LimitHeader, strconv.FormatInt(lc.Limit, 10))
				h.Set(l.cfg.Headers.RemainingHeader, strconv.FormatInt(lc.Remaining, 10))
				h.Set(l.cfg.Headers.ResetHeader, strconv.FormatInt(lc.Reset, 10))
			}

			if lc.Reached {
				logger.FromContext(r.Context()).Warn("rate limit exceeded",
					zap.String("client_key", clientKey),
					zap.String("path", r.URL.Path),
					zap.Int64("limit", lc.Limit),
				)
				if wait := lc.Reset - l.now().Unix(); wait > 0 {
					w.Header().Set("Retry-After", strconv.FormatInt(wait, 10))
				}
				writeEnvelope(w, http.StatusTooManyRequests, "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeEnvelope(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// limiterFor returns the counter namespace and limiter for a path.
func (l *Limiter) limiterFor(path string) (string, *limiter.Limiter) {
	for _, e := range l.endpoints {
		if strings.HasPrefix(path, e.prefix) {
			return e.prefix, e.instance
		}
	}
	return "*", l.instance
}

func (l *Limiter) clientKey(r *http.Request) string {
	if l.cfg.TrustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (l *Limiter) isExcluded(path string) bool {
	for _, excluded := range l.cfg.ExcludePaths {
		if strings.HasPrefix(path, excluded) {
			return true
		}
	}
	return false
}
