package main

import (
	"os"
	"strings"

	"github.com/dzerik/oauth-relay/internal/config"
	"github.com/dzerik/oauth-relay/internal/service/state"
	"github.com/dzerik/oauth-relay/pkg/resilience/circuitbreaker"
	"github.com/dzerik/oauth-relay/pkg/resilience/ratelimit"
)

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvironment returns the environment name based on config.
func getEnvironment(cfg *config.Config) string {
	if cfg.DevMode.Enabled {
		return "development"
	}
	return "production"
}

// providerDisplayName is how the confirmation page names the provider.
func providerDisplayName(cfg *config.Config) string {
	if cfg.DevMode.Enabled {
		return "Dev Mode"
	}
	name := cfg.Provider.Name
	if name == "" {
		return "Whop"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func flowStoreConfig(cfg *config.Config) state.Config {
	r := cfg.Flow.Redis
	return state.Config{
		Type: cfg.Flow.Store,
		TTL:  cfg.Flow.TTL,
		Redis: state.RedisConfig{
			Addresses:    r.Addresses,
			Password:     r.Password,
			DB:           r.DB,
			KeyPrefix:    r.KeyPrefix,
			MasterName:   r.MasterName,
			PoolSize:     r.PoolSize,
			MinIdleConns: r.MinIdleConns,
			TLS: state.TLSConfig{
				Enabled: r.TLS.Enabled,
				Cert:    r.TLS.Cert,
				Key:     r.TLS.Key,
				CA:      r.TLS.CA,
			},
		},
	}
}

// rateLimitConfig maps configuration onto the limiter. Exclusions are
// relative to the base path, like every other route.
func rateLimitConfig(cfg *config.Config) ratelimit.Config {
	rl := cfg.Resilience.RateLimit
	base := strings.TrimSuffix(cfg.Server.BasePath, "/")

	exclude := make([]string, 0, len(rl.ExcludePaths))
	for _, p := range rl.ExcludePaths {
		exclude = append(exclude, base+p)
	}
	endpoints := make(map[string]string, len(rl.EndpointRates))
	for p, rate := range rl.EndpointRates {
		endpoints[base+p] = rate
	}

	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.Enabled = rl.Enabled
	limiterCfg.Rate = rl.Rate
	limiterCfg.TrustForwardedFor = rl.TrustForwardedFor
	limiterCfg.ExcludePaths = exclude
	limiterCfg.ByEndpoint = rl.ByEndpoint
	limiterCfg.EndpointRates = endpoints
	limiterCfg.Headers = ratelimit.HeadersConfig{
		Enabled:         rl.Headers.Enabled,
		LimitHeader:     rl.Headers.LimitHeader,
		RemainingHeader: rl.Headers.RemainingHeader,
		ResetHeader:     rl.Headers.ResetHeader,
	}
	limiterCfg.FailClose = rl.FailClose
	return limiterCfg
}

func breakerConfig(cfg *config.Config) circuitbreaker.Config {
	cb := cfg.Resilience.CircuitBreaker

	services := make(map[string]circuitbreaker.Settings, len(cb.Services))
	for name, s := range cb.Services {
		services[name] = breakerSettings(s)
	}
	return circuitbreaker.Config{
		Enabled:  cb.Enabled,
		Default:  breakerSettings(cb.Default),
		Services: services,
	}
}

func breakerSettings(s config.CircuitBreakerSettings) circuitbreaker.Settings {
	return circuitbreaker.Settings{
		MaxRequests:      s.MaxRequests,
		Interval:         s.Interval,
		Timeout:          s.Timeout,
		FailureThreshold: s.FailureThreshold,
		OnStateChange:    s.OnStateChange,
	}
}
