package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every automatically bound environment variable.
const EnvPrefix = "OAUTH_RELAY"

// Load loads configuration using viper.
// It supports:
// - an optional YAML configuration file (empty path means environment only)
// - environment variables with the OAUTH_RELAY_ prefix
// - the plain variable names used by existing deployments (SESSION_JWT_SECRET, WHOP_API_KEY, ...)
func Load(path string) (*Config, error) {
	v := NewViper()

	bindEnvVars(v)
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// bindEnvVars binds specific environment variables to config keys.
func bindEnvVars(v *viper.Viper) {
	// Session credential
	_ = v.BindEnv("session.signing_key", "SESSION_JWT_SECRET")
	_ = v.BindEnv("session.private_key", "SESSION_JWT_PRIVATE_KEY")
	_ = v.BindEnv("session.public_key", "SESSION_JWT_PUBLIC_KEY")

	// Provider
	_ = v.BindEnv("provider.app_id", "WHOP_APP_ID", "NEXT_PUBLIC_WHOP_APP_ID")
	_ = v.BindEnv("provider.api_key", "WHOP_API_KEY")
	_ = v.BindEnv("provider.client_id", "WHOP_CLIENT_ID")
	_ = v.BindEnv("provider.client_secret", "WHOP_CLIENT_SECRET")
	_ = v.BindEnv("provider.redirect_url", "OAUTH_REDIRECT_URI")

	// CORS
	_ = v.BindEnv("cors.origins", "CORS_ORIGINS")

	// Redis
	_ = v.BindEnv("flow.redis.password", "REDIS_PASSWORD")

	// Server
	_ = v.BindEnv("server.http_port", "HTTP_PORT", "PORT")

	// Logging
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.development", "DEV_MODE")

	// Dev mode
	_ = v.BindEnv("dev_mode.enabled", "DEV_MODE")
}

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Provider defaults
	v.SetDefault("provider.name", "whop")
	v.SetDefault("provider.scopes", DefaultScopes)
	v.SetDefault("provider.auth_url", "https://whop.com/oauth")
	v.SetDefault("provider.token_url", "https://api.whop.com/api/v5/oauth/token")
	v.SetDefault("provider.jwks_url", "https://api.whop.com/.well-known/jwks.json")
	v.SetDefault("provider.api_base_url", "https://api.whop.com/api/v1")
	v.SetDefault("provider.user_path", "/users/{user_id}")
	v.SetDefault("provider.access_path", "/users/{user_id}/access/{experience_id}")
	v.SetDefault("provider.subject_claim", "sub")

	// Session defaults
	v.SetDefault("session.algorithm", "HS256")

	// Flow defaults
	v.SetDefault("flow.store", "cookie")
	v.SetDefault("flow.cookie_prefix", "w_")
	v.SetDefault("flow.ttl", "10m")
	v.SetDefault("flow.redis.key_prefix", "oauthrelay:flow:")
	v.SetDefault("flow.redis.pool_size", 10)
	v.SetDefault("flow.redis.min_idle_conns", 2)

	// CORS defaults
	v.SetDefault("cors.origins", DefaultCORSOrigins)
	v.SetDefault("cors.max_age", 86400)

	// Observability defaults
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.protocol", "grpc")
	v.SetDefault("observability.tracing.insecure", true)
	v.SetDefault("observability.tracing.sampling_ratio", 1.0)
	v.SetDefault("observability.health.path", "/health")
	v.SetDefault("observability.ready.path", "/ready")

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.development", false)
}

// DefaultScopes is the read-only scope requested from the provider.
var DefaultScopes = []string{"read_user"}

// DefaultCORSOrigins is the allow-list used when CORS_ORIGINS is unset.
var DefaultCORSOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

// applyDefaults applies default values to configuration after unmarshaling.
// This handles cases where viper defaults don't work well with nested structs.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	cfg.Server.BasePath = strings.TrimSuffix(cfg.Server.BasePath, "/")

	// Provider defaults
	p := &cfg.Provider
	if p.Name == "" {
		p.Name = "whop"
	}
	if len(p.Scopes) == 0 {
		p.Scopes = append([]string(nil), DefaultScopes...)
	}
	if p.ClientID == "" {
		p.ClientID = p.AppID
	}
	if p.ClientSecret == "" {
		p.ClientSecret = p.APIKey
	}
	if p.AuthURL == "" {
		p.AuthURL = "https://whop.com/oauth"
	}
	if p.TokenURL == "" {
		p.TokenURL = "https://api.whop.com/api/v5/oauth/token"
	}
	if p.APIBaseURL == "" {
		p.APIBaseURL = "https://api.whop.com/api/v1"
	}
	p.APIBaseURL = strings.TrimSuffix(p.APIBaseURL, "/")
	if p.UserPath == "" {
		p.UserPath = "/users/{user_id}"
	}
	if p.AccessPath == "" {
		p.AccessPath = "/users/{user_id}/access/{experience_id}"
	}
	if p.SubjectClaim == "" {
		p.SubjectClaim = "sub"
	}

	// Session defaults
	if cfg.Session.Algorithm == "" {
		cfg.Session.Algorithm = "HS256"
	}

	// Flow defaults
	if cfg.Flow.Store == "" {
		cfg.Flow.Store = "cookie"
	}
	if cfg.Flow.CookiePrefix == "" {
		cfg.Flow.CookiePrefix = "w_"
	}
	if cfg.Flow.TTL == 0 {
		cfg.Flow.TTL = 10 * time.Minute
	}
	if cfg.Flow.Redis.KeyPrefix == "" {
		cfg.Flow.Redis.KeyPrefix = "oauthrelay:flow:"
	}
	if cfg.Flow.Redis.PoolSize == 0 {
		cfg.Flow.Redis.PoolSize = 10
	}
	if cfg.Flow.Redis.MinIdleConns == 0 {
		cfg.Flow.Redis.MinIdleConns = 2
	}

	// CORS defaults
	cfg.CORS.Origins = normalizeOrigins(cfg.CORS.Origins)
	if len(cfg.CORS.Origins) == 0 {
		cfg.CORS.Origins = append([]string(nil), DefaultCORSOrigins...)
	}
	if cfg.CORS.MaxAge == 0 {
		cfg.CORS.MaxAge = 86400
	}

	// Observability defaults
	if cfg.Observability.Metrics.Path == "" {
		cfg.Observability.Metrics.Path = "/metrics"
	}
	if cfg.Observability.Tracing.Endpoint == "" {
		cfg.Observability.Tracing.Endpoint = "localhost:4317"
	}
	if cfg.Observability.Tracing.Protocol == "" {
		cfg.Observability.Tracing.Protocol = "grpc"
	}
	if cfg.Observability.Tracing.SamplingRatio == 0 {
		cfg.Observability.Tracing.SamplingRatio = 1.0
	}
	if cfg.Observability.Health.Path == "" {
		cfg.Observability.Health.Path = "/health"
	}
	if cfg.Observability.Ready.Path == "" {
		cfg.Observability.Ready.Path = "/ready"
	}

	// Resilience defaults
	applyResilienceDefaults(&cfg.Resilience)

	// Logging defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

func applyResilienceDefaults(r *ResilienceConfig) {
	if r.RateLimit.Store == "" {
		r.RateLimit.Store = "memory"
	}
	if r.RateLimit.Rate == "" {
		r.RateLimit.Rate = "100-S"
	}
	if len(r.RateLimit.ExcludePaths) == 0 {
		r.RateLimit.ExcludePaths = []string{"/health", "/ready", "/metrics"}
	}
	if r.RateLimit.Headers.LimitHeader == "" {
		r.RateLimit.Headers.LimitHeader = "X-RateLimit-Limit"
	}
	if r.RateLimit.Headers.RemainingHeader == "" {
		r.RateLimit.Headers.RemainingHeader = "X-RateLimit-Remaining"
	}
	if r.RateLimit.Headers.ResetHeader == "" {
		r.RateLimit.Headers.ResetHeader = "X-RateLimit-Reset"
	}

	d := &r.CircuitBreaker.Default
	if d.MaxRequests == 0 {
		d.MaxRequests = 3
	}
	if d.Interval == 0 {
		d.Interval = 60 * time.Second
	}
	if d.Timeout == 0 {
		d.Timeout = 30 * time.Second
	}
	if d.FailureThreshold == 0 {
		d.FailureThreshold = 5
	}
}

// normalizeOrigins splits comma-joined entries (CORS_ORIGINS="a, b") and
// drops blanks.
func normalizeOrigins(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, o := range strings.Split(entry, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}

// LoadFromString loads configuration from a YAML string (useful for testing).
func LoadFromString(yamlStr string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(strings.NewReader(yamlStr)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// NewViper creates a new viper instance with the relay's env conventions.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}
