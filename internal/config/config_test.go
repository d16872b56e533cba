package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"Server.HTTPPort", cfg.Server.HTTPPort, 8080},
		{"Server.ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"Server.ShutdownTimeout", cfg.Server.ShutdownTimeout, 30 * time.Second},
		{"Provider.Name", cfg.Provider.Name, "whop"},
		{"Provider.AuthURL", cfg.Provider.AuthURL, "https://whop.com/oauth"},
		{"Provider.UserPath", cfg.Provider.UserPath, "/users/{user_id}"},
		{"Provider.AccessPath", cfg.Provider.AccessPath, "/users/{user_id}/access/{experience_id}"},
		{"Provider.SubjectClaim", cfg.Provider.SubjectClaim, "sub"},
		{"Provider.Timeout", cfg.Provider.Timeout, time.Duration(0)},
		{"Session.Algorithm", cfg.Session.Algorithm, "HS256"},
		{"Flow.Store", cfg.Flow.Store, "cookie"},
		{"Flow.CookiePrefix", cfg.Flow.CookiePrefix, "w_"},
		{"Flow.CookieSecure", cfg.Flow.CookieSecure, false},
		{"Flow.TTL", cfg.Flow.TTL, 10 * time.Minute},
		{"Flow.Redis.KeyPrefix", cfg.Flow.Redis.KeyPrefix, "oauthrelay:flow:"},
		{"CORS.MaxAge", cfg.CORS.MaxAge, 86400},
		{"Observability.Metrics.Path", cfg.Observability.Metrics.Path, "/metrics"},
		{"Observability.Tracing.Protocol", cfg.Observability.Tracing.Protocol, "grpc"},
		{"Observability.Health.Path", cfg.Observability.Health.Path, "/health"},
		{"Observability.Ready.Path", cfg.Observability.Ready.Path, "/ready"},
		{"Log.Level", cfg.Log.Level, "info"},
		{"Log.Format", cfg.Log.Format, "json"},
		{"Resilience.RateLimit.Rate", cfg.Resilience.RateLimit.Rate, "100-S"},
		{"Resilience.CircuitBreaker.Default.MaxRequests", cfg.Resilience.CircuitBreaker.Default.MaxRequests, uint32(3)},
		{"Resilience.CircuitBreaker.Default.Timeout", cfg.Resilience.CircuitBreaker.Default.Timeout, 30 * time.Second},
		{"Resilience.CircuitBreaker.Default.FailureThreshold", cfg.Resilience.CircuitBreaker.Default.FailureThreshold, uint32(5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestConfig_DefaultScopesAndOrigins(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	if len(cfg.Provider.Scopes) != 1 || cfg.Provider.Scopes[0] != "read_user" {
		t.Errorf("Provider.Scopes = %v, want [read_user]", cfg.Provider.Scopes)
	}

	if len(cfg.CORS.Origins) != 2 ||
		cfg.CORS.Origins[0] != "http://localhost:3000" ||
		cfg.CORS.Origins[1] != "http://127.0.0.1:3000" {
		t.Errorf("CORS.Origins = %v, want localhost:3000 defaults", cfg.CORS.Origins)
	}
}

func TestConfig_ClientCredentialsFallBackToAppCredentials(t *testing.T) {
	cfg := &Config{Provider: ProviderConfig{AppID: "app_1", APIKey: "key_1"}}
	applyDefaults(cfg)

	if cfg.Provider.ClientID != "app_1" {
		t.Errorf("Provider.ClientID = %s, want app_1", cfg.Provider.ClientID)
	}
	if cfg.Provider.ClientSecret != "key_1" {
		t.Errorf("Provider.ClientSecret = %s, want key_1", cfg.Provider.ClientSecret)
	}
}

func TestNormalizeOrigins(t *testing.T) {
	got := normalizeOrigins([]string{"https://a.example.com, https://b.example.com", " ", "https://c.example.com"})
	want := []string{"https://a.example.com", "https://b.example.com", "https://c.example.com"}

	if len(got) != len(want) {
		t.Fatalf("normalizeOrigins = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("normalizeOrigins[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestLoadFromString(t *testing.T) {
	yamlStr := `
server:
  http_port: 9090
  base_path: /api/
flow:
  store: memory
  ttl: 5m
cors:
  origins:
    - https://game.example.com
log:
  level: debug
`
	cfg, err := LoadFromString(yamlStr)
	if err != nil {
		t.Fatalf("LoadFromString failed: %v", err)
	}

	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("Server.HTTPPort = %d, want 9090", cfg.Server.HTTPPort)
	}
	if cfg.Server.BasePath != "/api" {
		t.Errorf("Server.BasePath = %s, want /api", cfg.Server.BasePath)
	}
	if cfg.Flow.Store != "memory" {
		t.Errorf("Flow.Store = %s, want memory", cfg.Flow.Store)
	}
	if cfg.Flow.TTL != 5*time.Minute {
		t.Errorf("Flow.TTL = %v, want 5m", cfg.Flow.TTL)
	}
	if len(cfg.CORS.Origins) != 1 || cfg.CORS.Origins[0] != "https://game.example.com" {
		t.Errorf("CORS.Origins = %v", cfg.CORS.Origins)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}

	// Check defaults were applied
	if cfg.Flow.CookiePrefix != "w_" {
		t.Errorf("Flow.CookiePrefix = %s, want w_ (default)", cfg.Flow.CookiePrefix)
	}
}

func TestLoadFromString_Invalid(t *testing.T) {
	yamlStr := `
invalid: yaml: content
  - broken
`
	_, err := LoadFromString(yamlStr)
	if err == nil {
		t.Error("LoadFromString should fail with invalid YAML")
	}
}

func TestLoad_EnvironmentOnly(t *testing.T) {
	t.Setenv("SESSION_JWT_SECRET", "env-secret")
	t.Setenv("WHOP_API_KEY", "env-key")
	t.Setenv("NEXT_PUBLIC_WHOP_APP_ID", "app_env")
	t.Setenv("OAUTH_REDIRECT_URI", "https://relay.example.com/api/oauth/callback")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("OAUTH_RELAY_FLOW_STORE", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Session.SigningKey != "env-secret" {
		t.Errorf("Session.SigningKey = %q, want env-secret", cfg.Session.SigningKey)
	}
	if cfg.Provider.APIKey != "env-key" || cfg.Provider.ClientSecret != "env-key" {
		t.Errorf("Provider key not bound: %+v", cfg.Provider)
	}
	if cfg.Provider.AppID != "app_env" || cfg.Provider.ClientID != "app_env" {
		t.Errorf("Provider app id not bound: %+v", cfg.Provider)
	}
	if cfg.Provider.RedirectURL != "https://relay.example.com/api/oauth/callback" {
		t.Errorf("Provider.RedirectURL = %s", cfg.Provider.RedirectURL)
	}
	if len(cfg.CORS.Origins) != 2 || cfg.CORS.Origins[1] != "https://b.example.com" {
		t.Errorf("CORS.Origins = %v", cfg.CORS.Origins)
	}
	if cfg.Flow.Store != "memory" {
		t.Errorf("Flow.Store = %s, want memory", cfg.Flow.Store)
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("env-only config should validate: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("session:\n  signing_key: file-secret\nprovider:\n  app_id: app_file\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.SigningKey != "file-secret" {
		t.Errorf("Session.SigningKey = %q, want file-secret", cfg.Session.SigningKey)
	}
	if cfg.Provider.ClientID != "app_file" {
		t.Errorf("Provider.ClientID = %q, want app_file", cfg.Provider.ClientID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load should fail for a missing config file")
	}
}

func TestNewViper(t *testing.T) {
	v := NewViper()
	if v == nil {
		t.Error("NewViper should return non-nil viper instance")
	}
}
