// Package idp binds the relay to its external identity provider.
//
// The relay needs exactly four things from the provider: an authorization
// URL, a code exchange, the authenticated user's profile and an access
// decision for a (user, experience) pair.
package idp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/dzerik/oauth-relay/internal/config"
	"github.com/dzerik/oauth-relay/internal/model"
	"github.com/dzerik/oauth-relay/internal/service/metrics"
	"github.com/dzerik/oauth-relay/pkg/logger"
	"github.com/dzerik/oauth-relay/pkg/resilience/circuitbreaker"
	"github.com/dzerik/oauth-relay/pkg/tracing"
)

var (
	ErrAuthorizationURLFailed = errors.New("failed to build authorization URL")
	ErrTokenExchangeFailed    = errors.New("token exchange failed")
	ErrTokenVerification      = errors.New("failed to verify provider user token")
	ErrIdentityFetchFailed    = errors.New("failed to fetch user information")
	ErrAccessCheckFailed      = errors.New("access check failed")
)

// Operation names, used for breakers, metrics and spans.
const (
	OpAuthorize = "authorize"
	OpExchange  = "exchange"
	OpIdentity  = "identity"
	OpAccess    = "access"
)

// AuthorizationRequest is a provider authorization URL and the provider's
// own state value embedded in it.
type AuthorizationRequest struct {
	URL   string
	State string
}

// Provider defines the interface for identity providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// AuthorizationURL builds the URL the browser is sent to
	AuthorizationURL(ctx context.Context) (*AuthorizationRequest, error)

	// ExchangeCode trades an authorization code for provider tokens
	ExchangeCode(ctx context.Context, code string) (*model.ProviderTokens, error)

	// FetchIdentity resolves the user behind a provider access token. The
	// token is verified for its subject id and the profile is then looked up
	// by that id, never through a "current actor" accessor.
	FetchIdentity(ctx context.Context, accessToken string) (*model.Identity, error)

	// CheckAccess asks whether a user may use an experience
	CheckAccess(ctx context.Context, userID, experienceID string) (*model.AccessDecision, error)
}

// APIError is a failure reported by the provider's API.
type APIError struct {
	Status int
	// Code is the OAuth error code of a token endpoint failure, e.g. invalid_grant.
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return http.StatusText(e.Status) + ": " + e.Message
}

// ProviderMessage extracts the provider's own message from err, falling back
// to the error text.
func ProviderMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsClientError reports whether err is the provider rejecting what the caller
// sent (a bad or replayed code, an unknown user or experience) rather than the
// provider failing. 429 counts as a provider failure.
func IsClientError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == "invalid_grant" {
		return true
	}
	return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests
}

// Manager wraps the configured provider with circuit breaking, metrics and
// tracing. It implements Provider itself.
type Manager struct {
	provider Provider
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	devMode  bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithBreakers guards provider calls with circuit breakers.
func WithBreakers(b *circuitbreaker.Manager) Option {
	return func(m *Manager) { m.breakers = b }
}

// WithMetrics records provider call metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates the provider selected by configuration: the mock in dev
// mode, Whop otherwise.
func NewManager(cfg *config.Config, client *http.Client, opts ...Option) (*Manager, error) {
	var (
		provider Provider
		err      error
	)

	if cfg.DevMode.Enabled {
		provider, err = NewMockProvider(&cfg.DevMode, mockCallbackURL(cfg))
	} else {
		provider, err = NewWhopProvider(&cfg.Provider, client)
	}
	if err != nil {
		return nil, err
	}

	m := NewManagerWithProvider(provider, opts...)
	m.devMode = cfg.DevMode.Enabled
	return m, nil
}

// NewManagerWithProvider wraps an existing provider.
func NewManagerWithProvider(provider Provider, opts ...Option) *Manager {
	m := &Manager{provider: provider}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func mockCallbackURL(cfg *config.Config) string {
	if cfg.Provider.RedirectURL != "" {
		return cfg.Provider.RedirectURL
	}
	return cfg.Server.BasePath + "/oauth/callback"
}

// Provider returns the underlying provider
func (m *Manager) Provider() Provider {
	return m.provider
}

// IsDevMode returns true if running with the mock provider
func (m *Manager) IsDevMode() bool {
	return m.devMode
}

// Name returns the underlying provider name
func (m *Manager) Name() string {
	return m.provider.Name()
}

// AuthorizationURL builds the provider authorization URL.
func (m *Manager) AuthorizationURL(ctx context.Context) (*AuthorizationRequest, error) {
	return call(ctx, m, OpAuthorize, func(ctx context.Context) (*AuthorizationRequest, error) {
		return m.provider.AuthorizationURL(ctx)
	})
}

// ExchangeCode trades an authorization code for provider tokens.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (*model.ProviderTokens, error) {
	return call(ctx, m, OpExchange, func(ctx context.Context) (*model.ProviderTokens, error) {
		return m.provider.ExchangeCode(ctx, code)
	})
}

// FetchIdentity resolves the user behind a provider access token.
func (m *Manager) FetchIdentity(ctx context.Context, accessToken string) (*model.Identity, error) {
	return call(ctx, m, OpIdentity, func(ctx context.Context) (*model.Identity, error) {
		return m.provider.FetchIdentity(ctx, accessToken)
	})
}

// CheckAccess asks the provider for an access decision.
func (m *Manager) CheckAccess(ctx context.Context, userID, experienceID string) (*model.AccessDecision, error) {
	return call(ctx, m, OpAccess, func(ctx context.Context) (*model.AccessDecision, error) {
		return m.provider.CheckAccess(ctx, userID, experienceID)
	}, tracing.AttrUserID.String(userID), tracing.AttrExperienceID.String(experienceID))
}

// Close releases provider resources such as profile watchers.
func (m *Manager) Close() error {
	if c, ok := m.provider.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func call[T any](ctx context.Context, m *Manager, op string, fn func(context.Context) (T, error), attrs ...attribute.KeyValue) (T, error) {
	name := m.provider.Name()
	ctx, span := tracing.Start(ctx, "idp."+op)
	span.SetAttributes(tracing.AttrProvider.String(name), tracing.AttrOperation.String(op))
	span.SetAttributes(attrs...)

	start := time.Now()
	result, err := circuitbreaker.Execute(ctx, m.breakers, op, func(ctx context.Context) (T, error) {
		result, err := fn(ctx)
		if IsClientError(err) {
			return result, circuitbreaker.Ignore(err)
		}
		return result, err
	})
	elapsed := time.Since(start)

	m.metrics.RecordProviderCall(name, op, err, elapsed.Seconds())
	tracing.Finish(span, err)

	if err != nil {
		logger.FromContext(ctx).Debug("provider call failed",
			zap.String("provider", name),
			zap.String("operation", op),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	}
	return result, err
}
