package config

import "time"

// Config represents the main application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Provider      ProviderConfig      `yaml:"provider" mapstructure:"provider"`
	Session       SessionConfig       `yaml:"session" mapstructure:"session"`
	Flow          FlowConfig          `yaml:"flow" mapstructure:"flow"`
	CORS          CORSConfig          `yaml:"cors" mapstructure:"cors"`
	DevMode       DevModeConfig       `yaml:"dev_mode" mapstructure:"dev_mode"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Resilience    ResilienceConfig    `yaml:"resilience" mapstructure:"resilience"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level       string `yaml:"level" mapstructure:"level"`             // debug, info, warn, error
	Format      string `yaml:"format" mapstructure:"format"`           // json, console
	Development bool   `yaml:"development" mapstructure:"development"` // Enable development mode
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	HTTPPort int `yaml:"http_port" mapstructure:"http_port"`
	// BasePath prefixes every route, e.g. "/api" to serve /api/oauth/init.
	BasePath        string        `yaml:"base_path" mapstructure:"base_path"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls" mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Cert    string `yaml:"cert" mapstructure:"cert"`
	Key     string `yaml:"key" mapstructure:"key"`
}

// ProviderConfig represents the external identity/commerce provider (Whop).
type ProviderConfig struct {
	Name         string   `yaml:"name" mapstructure:"name"`
	AppID        string   `yaml:"app_id" mapstructure:"app_id"`
	APIKey       string   `yaml:"api_key" mapstructure:"api_key"`
	ClientID     string   `yaml:"client_id" mapstructure:"client_id"`         // defaults to app_id
	ClientSecret string   `yaml:"client_secret" mapstructure:"client_secret"` // defaults to api_key
	RedirectURL  string   `yaml:"redirect_url" mapstructure:"redirect_url"`
	Scopes       []string `yaml:"scopes" mapstructure:"scopes"`

	AuthURL    string `yaml:"auth_url" mapstructure:"auth_url"`
	TokenURL   string `yaml:"token_url" mapstructure:"token_url"`
	JWKSURL    string `yaml:"jwks_url" mapstructure:"jwks_url"`
	APIBaseURL string `yaml:"api_base_url" mapstructure:"api_base_url"`
	// UserPath and AccessPath are appended to APIBaseURL. {user_id} and
	// {experience_id} are substituted.
	UserPath   string `yaml:"user_path" mapstructure:"user_path"`
	AccessPath string `yaml:"access_path" mapstructure:"access_path"`

	// SubjectClaim names the claim of the provider access token holding the user id.
	SubjectClaim string `yaml:"subject_claim" mapstructure:"subject_claim"`
	// TokenIssuer, when set, must match the iss claim of provider access tokens.
	TokenIssuer string `yaml:"token_issuer" mapstructure:"token_issuer"`

	// Timeout bounds every provider HTTP call; zero means no relay-imposed timeout.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// SessionConfig represents the session credential the relay issues to clients.
type SessionConfig struct {
	Algorithm  string `yaml:"algorithm" mapstructure:"algorithm"` // HS256 | RS256
	SigningKey string `yaml:"signing_key" mapstructure:"signing_key"`
	PrivateKey string `yaml:"private_key" mapstructure:"private_key"`
	PublicKey  string `yaml:"public_key" mapstructure:"public_key"`
}

// FlowConfig represents per-login flow state handling.
type FlowConfig struct {
	Store        string        `yaml:"store" mapstructure:"store"` // cookie | memory | redis
	CookiePrefix string        `yaml:"cookie_prefix" mapstructure:"cookie_prefix"`
	CookieSecure bool          `yaml:"cookie_secure" mapstructure:"cookie_secure"`
	TTL          time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Redis        RedisConfig   `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig represents Redis connection configuration
type RedisConfig struct {
	Addresses    []string       `yaml:"addresses" mapstructure:"addresses"`
	Password     string         `yaml:"password" mapstructure:"password"`
	DB           int            `yaml:"db" mapstructure:"db"`
	MasterName   string         `yaml:"master_name" mapstructure:"master_name"` // For Sentinel
	TLS          RedisTLSConfig `yaml:"tls" mapstructure:"tls"`
	PoolSize     int            `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int            `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	KeyPrefix    string         `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// RedisTLSConfig represents Redis TLS configuration
type RedisTLSConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Cert    string `yaml:"cert" mapstructure:"cert"`
	Key     string `yaml:"key" mapstructure:"key"`
	CA      string `yaml:"ca" mapstructure:"ca"`
}

// CORSConfig represents CORS configuration for client-facing endpoints.
// Any http(s)://localhost or 127.0.0.1 origin is allowed in addition to Origins.
type CORSConfig struct {
	Origins []string `yaml:"origins" mapstructure:"origins"`
	MaxAge  int      `yaml:"max_age" mapstructure:"max_age"`
}

// DevModeConfig represents development mode configuration
type DevModeConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	ProfilesDir    string `yaml:"profiles_dir" mapstructure:"profiles_dir"`
	DefaultProfile string `yaml:"default_profile" mapstructure:"default_profile"`
	WatchProfiles  bool   `yaml:"watch_profiles" mapstructure:"watch_profiles"`
}

// ObservabilityConfig represents observability configuration
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Health  HealthConfig  `yaml:"health" mapstructure:"health"`
	Ready   ReadyConfig   `yaml:"ready" mapstructure:"ready"`
}

// TracingConfig represents distributed tracing configuration
type TracingConfig struct {
	Enabled       bool              `yaml:"enabled" mapstructure:"enabled"`
	Endpoint      string            `yaml:"endpoint" mapstructure:"endpoint"`
	Protocol      string            `yaml:"protocol" mapstructure:"protocol"`             // grpc or http
	Insecure      bool              `yaml:"insecure" mapstructure:"insecure"`             // disable TLS
	SamplingRatio float64           `yaml:"sampling_ratio" mapstructure:"sampling_ratio"` // 0.0 to 1.0
	Headers       map[string]string `yaml:"headers" mapstructure:"headers"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// HealthConfig represents health check configuration
type HealthConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ReadyConfig represents readiness check configuration
type ReadyConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ResilienceConfig holds resilience configuration
type ResilienceConfig struct {
	RateLimit      HTTPRateLimitConfig  `yaml:"rate_limit" mapstructure:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
}

// HTTPRateLimitConfig holds HTTP rate limiting configuration
type HTTPRateLimitConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Rate is the limit in format 'requests-period' (e.g. '100-S')
	Rate              string                     `yaml:"rate" mapstructure:"rate"`
	TrustForwardedFor bool                       `yaml:"trust_forwarded_for" mapstructure:"trust_forwarded_for"`
	ExcludePaths      []string                   `yaml:"exclude_paths" mapstructure:"exclude_paths"`
	ByEndpoint        bool                       `yaml:"by_endpoint" mapstructure:"by_endpoint"`
	EndpointRates     map[string]string          `yaml:"endpoint_rates" mapstructure:"endpoint_rates"`
	Headers           HTTPRateLimitHeadersConfig `yaml:"headers" mapstructure:"headers"`
	FailClose         bool                       `yaml:"fail_close" mapstructure:"fail_close"`
	// Store is "memory" or "redis"; redis shares counters across replicas
	// using the flow.redis connection settings.
	Store string `yaml:"store" mapstructure:"store"`
}

// HTTPRateLimitHeadersConfig holds rate limit headers configuration
type HTTPRateLimitHeadersConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	LimitHeader     string `yaml:"limit_header" mapstructure:"limit_header"`
	RemainingHeader string `yaml:"remaining_header" mapstructure:"remaining_header"`
	ResetHeader     string `yaml:"reset_header" mapstructure:"reset_header"`
}

// CircuitBreakerConfig holds circuit breaker configuration for provider calls.
type CircuitBreakerConfig struct {
	Enabled bool                   `yaml:"enabled" mapstructure:"enabled"`
	Default CircuitBreakerSettings `yaml:"default" mapstructure:"default"`
	// Services holds per-operation overrides keyed by "exchange", "identity", "access".
	Services map[string]CircuitBreakerSettings `yaml:"services" mapstructure:"services"`
}

// CircuitBreakerSettings holds settings for a single circuit breaker
type CircuitBreakerSettings struct {
	MaxRequests      uint32        `yaml:"max_requests" mapstructure:"max_requests"`
	Interval         time.Duration `yaml:"interval" mapstructure:"interval"`
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	OnStateChange    bool          `yaml:"on_state_change" mapstructure:"on_state_change"`
}
