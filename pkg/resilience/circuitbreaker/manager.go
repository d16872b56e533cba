// Package circuitbreaker guards named upstream operations with sony/gobreaker.
// Breakers fail fast while open and never retry.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/dzerik/oauth-relay/pkg/logger"
)

// ErrUnavailable is returned instead of calling an operation whose breaker
// is open or saturated in half-open state.
var ErrUnavailable = errors.New("upstream temporarily unavailable")

// ignoredError marks a failure the caller caused. It is returned to the
// caller unwrapped and never counts against the breaker.
type ignoredError struct {
	err error
}

func (e *ignoredError) Error() string { return e.err.Error() }

func (e *ignoredError) Unwrap() error { return e.err }

// Ignore marks err as saying nothing about upstream health, e.g. a rejected
// authorization code. Execute returns err itself to the caller.
func Ignore(err error) error {
	if err == nil {
		return nil
	}
	return &ignoredError{err: err}
}

func unwrapIgnored(err error) error {
	var ig *ignoredError
	if errors.As(err, &ig) {
		return ig.err
	}
	return err
}

// Config holds circuit breaker configuration.
type Config struct {
	Enabled bool
	// Default settings for operations without an override
	Default Settings
	// Services holds per-operation overrides
	Services map[string]Settings
}

// Settings holds settings for a single circuit breaker.
type Settings struct {
	// MaxRequests is the number of trial calls allowed while half-open
	MaxRequests uint32
	// Interval is the cyclic period for clearing counts while closed
	Interval time.Duration
	// Timeout is how long the breaker stays open before going half-open
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold uint32
	// OnStateChange logs transitions
	OnStateChange bool
}

// DefaultConfig returns default circuit breaker configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Default: Settings{
			MaxRequests:      3,
			Interval:         60 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			OnStateChange:    true,
		},
		Services: make(map[string]Settings),
	}
}

// Manager owns one breaker per operation name.
type Manager struct {
	cfg      Config
	breakers map[string]*gobreaker.CircuitBreaker[any]
	mu       sync.RWMutex
}

// NewManager creates a new circuit breaker manager.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}

	for name, settings := range cfg.Services {
		m.breakers[name] = m.createBreaker(name, settings)
	}

	return m
}

// Enabled reports whether calls are guarded at all.
func (m *Manager) Enabled() bool {
	return m != nil && m.cfg.Enabled
}

func (m *Manager) get(name string) *gobreaker.CircuitBreaker[any] {
	m.mu.RLock()
	cb, exists := m.breakers[name]
	m.mu.RUnlock()
	if exists {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, exists = m.breakers[name]; exists {
		return cb
	}

	settings := m.cfg.Default
	if svc, ok := m.cfg.Services[name]; ok {
		settings = svc
	}
	cb = m.createBreaker(name, settings)
	m.breakers[name] = cb
	return cb
}

func (m *Manager) createBreaker(name string, settings Settings) *gobreaker.CircuitBreaker[any] {
	threshold := settings.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}

	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A caller giving up says nothing about upstream health.
		IsSuccessful: func(err error) bool {
			var ig *ignoredError
			return err == nil || errors.Is(err, context.Canceled) || errors.As(err, &ig)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if settings.OnStateChange {
				logger.Named("circuitbreaker").Warn("state changed",
					zap.String("operation", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			}
		},
	})
}

// Execute runs fn under the named breaker. With a nil or disabled manager fn
// runs unguarded.
func Execute[T any](ctx context.Context, m *Manager, name string, fn func(context.Context) (T, error)) (T, error) {
	if !m.Enabled() {
		result, err := fn(ctx)
		return result, unwrapIgnored(err)
	}

	result, err := m.get(name).Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %s: %v", ErrUnavailable, name, err)
		}
		return zero, unwrapIgnored(err)
	}
	return result.(T), nil
}

// State returns the state name of the named breaker.
func (m *Manager) State(name string) string {
	return m.get(name).State().String()
}

// States returns the state names of every breaker created so far.
func (m *Manager) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]string, len(m.breakers))
	for name, cb := range m.breakers {
		states[name] = cb.State().String()
	}
	return states
}
