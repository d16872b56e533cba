// Package security inspects relay configuration for risky settings and
// reports them at startup.
package security

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dzerik/oauth-relay/internal/config"
)

// Severity represents the severity level of a security warning.
type Severity string

const (
	// SeverityCritical must be fixed before production.
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// MinSigningKeyLength is the shortest HS256 secret not reported as weak.
const MinSigningKeyLength = 32

// placeholderKeys are secrets copied from examples and never replaced.
var placeholderKeys = []string{"secret", "changeme", "change-me", "your-secret-key", "development"}

// Warning represents a security warning.
type Warning struct {
	// Code is a stable identifier, e.g. "SEC-001".
	Code     string
	Severity Severity
	Title    string
	// Description explains the exposure.
	Description    string
	Recommendation string
}

// Checker analyzes configuration for security issues.
type Checker struct {
	cfg *config.Config
}

// NewChecker creates a new security checker.
func NewChecker(cfg *config.Config) *Checker {
	return &Checker{cfg: cfg}
}

// Check returns every warning that applies to the configuration.
func (c *Checker) Check() []Warning {
	var warnings []Warning

	warnings = append(warnings, c.checkDevMode()...)
	warnings = append(warnings, c.checkSigningKey()...)
	warnings = append(warnings, c.checkFlowCookies()...)
	warnings = append(warnings, c.checkRedirectURL()...)
	warnings = append(warnings, c.checkCORS()...)
	warnings = append(warnings, c.checkFlowStore()...)
	warnings = append(warnings, c.checkRateLimit()...)

	return warnings
}

// HasCritical returns true if there are any critical warnings.
func (c *Checker) HasCritical() bool {
	for _, w := range c.Check() {
		if w.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// GetBySeverity returns warnings filtered by severity.
func GetBySeverity(warnings []Warning, severity Severity) []Warning {
	var result []Warning
	for _, w := range warnings {
		if w.Severity == severity {
			result = append(result, w)
		}
	}
	return result
}

func (c *Checker) checkDevMode() []Warning {
	if !c.cfg.DevMode.Enabled {
		return nil
	}
	return []Warning{{
		Code:           "SEC-001",
		Severity:       SeverityCritical,
		Title:          "Development mode enabled",
		Description:    "The mock provider signs in anyone as a configured profile and grants access from local YAML files.",
		Recommendation: "Set dev_mode.enabled: false or unset DEV_MODE.",
	}}
}

func (c *Checker) checkSigningKey() []Warning {
	s := c.cfg.Session
	if s.Algorithm != "" && s.Algorithm != "HS256" {
		return nil
	}

	key := strings.ToLower(strings.TrimSpace(s.SigningKey))
	for _, p := range placeholderKeys {
		if key == p {
			return []Warning{{
				Code:           "SEC-002",
				Severity:       SeverityCritical,
				Title:          "Placeholder session signing key",
				Description:    "Anyone who knows the example secret can mint session credentials.",
				Recommendation: "Generate a random secret, e.g. `openssl rand -hex 32`, and set SESSION_JWT_SECRET.",
			}}
		}
	}

	if len(s.SigningKey) < MinSigningKeyLength {
		return []Warning{{
			Code:     "SEC-003",
			Severity: SeverityHigh,
			Title:    "Weak session signing key",
			Description: fmt.Sprintf("The HS256 signing key is %d bytes; keys shorter than %d bytes can be brute forced offline from any issued credential.",
				len(s.SigningKey), MinSigningKeyLength),
			Recommendation: "Use at least 32 random bytes for SESSION_JWT_SECRET, or switch to RS256.",
		}}
	}
	return nil
}

func (c *Checker) checkFlowCookies() []Warning {
	if c.cfg.Flow.CookieSecure || c.cfg.DevMode.Enabled {
		return nil
	}
	return []Warning{{
		Code:           "SEC-004",
		Severity:       SeverityHigh,
		Title:          "Flow cookies not marked as Secure",
		Description:    "The CSRF state cookie can travel over plain HTTP and be read by a network attacker.",
		Recommendation: "Set flow.cookie_secure: true when the relay is reached over HTTPS.",
	}}
}

func (c *Checker) checkRedirectURL() []Warning {
	if c.cfg.DevMode.Enabled || c.cfg.Provider.RedirectURL == "" {
		return nil
	}
	u, err := url.Parse(c.cfg.Provider.RedirectURL)
	if err != nil || u.Scheme == "https" {
		return nil
	}
	return []Warning{{
		Code:           "SEC-005",
		Severity:       SeverityHigh,
		Title:          "OAuth redirect over plain HTTP",
		Description:    "Authorization codes are delivered to the callback unencrypted.",
		Recommendation: "Serve the callback over HTTPS and update OAUTH_REDIRECT_URI.",
	}}
}

func (c *Checker) checkCORS() []Warning {
	for _, origin := range c.cfg.CORS.Origins {
		if origin == "*" {
			return []Warning{{
				Code:           "SEC-006",
				Severity:       SeverityMedium,
				Title:          "Wildcard CORS origin",
				Description:    "Any web page may call /session, /me and /access/check with a credential it obtained.",
				Recommendation: "List the exact origins of your web clients in CORS_ORIGINS.",
			}}
		}
	}
	return nil
}

func (c *Checker) checkFlowStore() []Warning {
	r := c.cfg.Flow.Redis
	if c.cfg.Flow.Store != "redis" || r.TLS.Enabled || r.Password != "" {
		return nil
	}
	return []Warning{{
		Code:           "SEC-007",
		Severity:       SeverityMedium,
		Title:          "Unauthenticated Redis flow store",
		Description:    "Flow parameters are written to Redis without TLS or a password.",
		Recommendation: "Set flow.redis.password or enable flow.redis.tls.",
	}}
}

func (c *Checker) checkRateLimit() []Warning {
	if c.cfg.Resilience.RateLimit.Enabled {
		return nil
	}
	return []Warning{{
		Code:           "SEC-008",
		Severity:       SeverityLow,
		Title:          "Rate limiting disabled",
		Description:    "Nothing bounds how fast a client can hit the provider through /access/check.",
		Recommendation: "Set resilience.rate_limit.enabled: true.",
	}}
}

// CountBySeverity returns the count of warnings by severity.
func CountBySeverity(warnings []Warning) map[Severity]int {
	counts := map[Severity]int{
		SeverityCritical: 0,
		SeverityHigh:     0,
		SeverityMedium:   0,
		SeverityLow:      0,
	}
	for _, w := range warnings {
		counts[w.Severity]++
	}
	return counts
}

// FormatSummary returns a one-line summary of warnings.
func FormatSummary(warnings []Warning) string {
	if len(warnings) == 0 {
		return "No security warnings found"
	}

	counts := CountBySeverity(warnings)
	return fmt.Sprintf("Security warnings: %d critical, %d high, %d medium, %d low",
		counts[SeverityCritical],
		counts[SeverityHigh],
		counts[SeverityMedium],
		counts[SeverityLow],
	)
}
