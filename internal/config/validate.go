package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "validation errors:\n  - " + strings.Join(msgs, "\n  - ")
}

// MaxFlowTTL caps the lifetime of flow cookies and server-side flow entries.
const MaxFlowTTL = 10 * time.Minute

// Validate validates the configuration
func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateSession(&cfg.Session)...)

	// Provider settings are irrelevant when the mock provider is in use
	if !cfg.DevMode.Enabled {
		errs = append(errs, validateProvider(&cfg.Provider)...)
	}

	errs = append(errs, validateFlow(&cfg.Flow)...)
	errs = append(errs, validateRateLimit(&cfg.Resilience.RateLimit, &cfg.Flow)...)

	for i, origin := range cfg.CORS.Origins {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("cors.origins[%d]", i),
				Message: fmt.Sprintf("must be an origin like 'https://game.example.com', got '%s'", origin),
			})
		}
	}

	if cfg.Server.BasePath != "" && !strings.HasPrefix(cfg.Server.BasePath, "/") {
		errs = append(errs, ValidationError{
			Field:   "server.base_path",
			Message: "must start with '/'",
		})
	}

	if cfg.Server.HTTPPort < 1 || cfg.Server.HTTPPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.http_port",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", cfg.Server.HTTPPort),
		})
	}

	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.Cert == "" {
			errs = append(errs, ValidationError{Field: "server.tls.cert", Message: "required when TLS is enabled"})
		}
		if cfg.Server.TLS.Key == "" {
			errs = append(errs, ValidationError{Field: "server.tls.key", Message: "required when TLS is enabled"})
		}
	}

	if cfg.DevMode.Enabled && cfg.DevMode.ProfilesDir == "" {
		errs = append(errs, ValidationError{
			Field:   "dev_mode.profiles_dir",
			Message: "required when dev mode is enabled",
		})
	}

	if cfg.Observability.Tracing.Enabled {
		switch cfg.Observability.Tracing.Protocol {
		case "grpc", "http":
		default:
			errs = append(errs, ValidationError{
				Field:   "observability.tracing.protocol",
				Message: fmt.Sprintf("must be 'grpc' or 'http', got '%s'", cfg.Observability.Tracing.Protocol),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateSession(s *SessionConfig) ValidationErrors {
	var errs ValidationErrors

	switch s.Algorithm {
	case "HS256":
		if s.SigningKey == "" {
			errs = append(errs, ValidationError{
				Field:   "session.signing_key",
				Message: "required (set SESSION_JWT_SECRET)",
			})
		}
	case "RS256":
		if s.PrivateKey == "" {
			errs = append(errs, ValidationError{
				Field:   "session.private_key",
				Message: "required for RS256",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "session.algorithm",
			Message: fmt.Sprintf("must be 'HS256' or 'RS256', got '%s'", s.Algorithm),
		})
	}

	return errs
}

func validateProvider(p *ProviderConfig) ValidationErrors {
	var errs ValidationErrors

	if p.ClientID == "" {
		errs = append(errs, ValidationError{Field: "provider.app_id", Message: "required (set WHOP_APP_ID)"})
	}
	if p.APIKey == "" {
		errs = append(errs, ValidationError{Field: "provider.api_key", Message: "required (set WHOP_API_KEY)"})
	}

	if p.RedirectURL == "" {
		errs = append(errs, ValidationError{Field: "provider.redirect_url", Message: "required (set OAUTH_REDIRECT_URI)"})
	} else if err := validateAbsoluteURL(p.RedirectURL); err != nil {
		errs = append(errs, ValidationError{Field: "provider.redirect_url", Message: err.Error()})
	}

	for field, raw := range map[string]string{
		"provider.auth_url":     p.AuthURL,
		"provider.token_url":    p.TokenURL,
		"provider.api_base_url": p.APIBaseURL,
	} {
		if err := validateAbsoluteURL(raw); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error()})
		}
	}

	if p.JWKSURL != "" {
		if err := validateAbsoluteURL(p.JWKSURL); err != nil {
			errs = append(errs, ValidationError{Field: "provider.jwks_url", Message: err.Error()})
		}
	} else {
		errs = append(errs, ValidationError{Field: "provider.jwks_url", Message: "required to verify provider access tokens"})
	}

	if !strings.Contains(p.UserPath, "{user_id}") {
		errs = append(errs, ValidationError{Field: "provider.user_path", Message: "must contain {user_id}"})
	}
	if !strings.Contains(p.AccessPath, "{user_id}") || !strings.Contains(p.AccessPath, "{experience_id}") {
		errs = append(errs, ValidationError{Field: "provider.access_path", Message: "must contain {user_id} and {experience_id}"})
	}

	return errs
}

func validateFlow(f *FlowConfig) ValidationErrors {
	var errs ValidationErrors

	switch f.Store {
	case "cookie", "memory":
	case "redis":
		if len(f.Redis.Addresses) == 0 {
			errs = append(errs, ValidationError{
				Field:   "flow.redis.addresses",
				Message: "required for Redis flow store",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "flow.store",
			Message: fmt.Sprintf("must be 'cookie', 'memory', or 'redis', got '%s'", f.Store),
		})
	}

	if f.TTL <= 0 || f.TTL > MaxFlowTTL {
		errs = append(errs, ValidationError{
			Field:   "flow.ttl",
			Message: fmt.Sprintf("must be positive and at most %s, got %s", MaxFlowTTL, f.TTL),
		})
	}

	if strings.ContainsAny(f.CookiePrefix, " ;,=") {
		errs = append(errs, ValidationError{
			Field:   "flow.cookie_prefix",
			Message: "must be a valid cookie name token",
		})
	}

	return errs
}

func validateRateLimit(rl *HTTPRateLimitConfig, f *FlowConfig) ValidationErrors {
	if !rl.Enabled {
		return nil
	}

	var errs ValidationErrors
	switch rl.Store {
	case "memory", "":
	case "redis":
		if len(f.Redis.Addresses) == 0 {
			errs = append(errs, ValidationError{
				Field:   "flow.redis.addresses",
				Message: "required for Redis rate limit store",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "resilience.rate_limit.store",
			Message: fmt.Sprintf("must be 'memory' or 'redis', got '%s'", rl.Store),
		})
	}
	return errs
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL, got '%s'", raw)
	}
	return nil
}
