package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dzerik/oauth-relay/internal/config"
)

func TestProviderDisplayName(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.Config
		expected string
	}{
		{"dev mode", config.Config{DevMode: config.DevModeConfig{Enabled: true}}, "Dev Mode"},
		{"default", config.Config{}, "Whop"},
		{"configured", config.Config{Provider: config.ProviderConfig{Name: "whop"}}, "Whop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, providerDisplayName(&tt.cfg))
		})
	}
}

func TestRateLimitConfig_PrefixesBasePath(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.BasePath = "/api/"
	cfg.Resilience.RateLimit = config.HTTPRateLimitConfig{
		Enabled:       true,
		Rate:          "10-S",
		ExcludePaths:  []string{"/health", "/metrics"},
		ByEndpoint:    true,
		EndpointRates: map[string]string{"/oauth/init": "5-M"},
	}

	got := rateLimitConfig(cfg)

	assert.True(t, got.Enabled)
	assert.Equal(t, "10-S", got.Rate)
	assert.Equal(t, []string{"/api/health", "/api/metrics"}, got.ExcludePaths)
	assert.Equal(t, map[string]string{"/api/oauth/init": "5-M"}, got.EndpointRates)
	assert.NotEmpty(t, got.KeyPrefix)
}

func TestFlowStoreConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Flow.Store = "redis"
	cfg.Flow.Redis.Addresses = []string{"redis:6379"}
	cfg.Flow.Redis.TLS = config.RedisTLSConfig{Enabled: true, CA: "/ca.pem"}

	got := flowStoreConfig(cfg)

	assert.Equal(t, "redis", got.Type)
	assert.Equal(t, []string{"redis:6379"}, got.Redis.Addresses)
	assert.True(t, got.Redis.TLS.Enabled)
	assert.Equal(t, "/ca.pem", got.Redis.TLS.CA)
}

func TestNeedsRedis(t *testing.T) {
	cfg := &config.Config{}
	assert.False(t, needsRedis(cfg))

	cfg.Resilience.RateLimit.Store = "redis"
	assert.False(t, needsRedis(cfg), "disabled limiter does not need redis")

	cfg.Resilience.RateLimit.Enabled = true
	assert.True(t, needsRedis(cfg))

	cfg.Resilience.RateLimit.Enabled = false
	cfg.Flow.Store = "redis"
	assert.True(t, needsRedis(cfg))
}

func TestBreakerConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Resilience.CircuitBreaker = config.CircuitBreakerConfig{
		Enabled: true,
		Default: config.CircuitBreakerSettings{FailureThreshold: 5},
		Services: map[string]config.CircuitBreakerSettings{
			"exchange": {FailureThreshold: 2},
		},
	}

	got := breakerConfig(cfg)

	assert.True(t, got.Enabled)
	assert.Equal(t, uint32(5), got.Default.FailureThreshold)
	assert.Equal(t, uint32(2), got.Services["exchange"].FailureThreshold)
}
