package state

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dzerik/oauth-relay/internal/model"
)

// Cookie name suffixes appended to the configured prefix.
const (
	StateCookie = "state"
	ModeCookie  = "mode"
	PortCookie  = "port"
)

// CookieConfig controls the flow cookies.
type CookieConfig struct {
	Prefix string
	Secure bool
	MaxAge time.Duration
}

// Manager issues and recovers per-flow state. Delivery preferences live in
// cookies unless a server-side Store is configured.
type Manager struct {
	cookies CookieConfig
	store   Store
	newTok  func() (string, error)
}

// NewManager creates a flow state manager. store may be nil for cookie mode.
func NewManager(cfg CookieConfig, store Store) *Manager {
	if cfg.Prefix == "" {
		cfg.Prefix = "w_"
	}
	if cfg.MaxAge <= 0 || cfg.MaxAge > DefaultTTL {
		cfg.MaxAge = DefaultTTL
	}
	return &Manager{
		cookies: cfg,
		store:   store,
		newTok:  NewToken,
	}
}

// CookieName returns the full name of a flow cookie.
func (m *Manager) CookieName(suffix string) string {
	return m.cookies.Prefix + suffix
}

// StoreName returns "cookie" or the server-side store type.
func (m *Manager) StoreName() string {
	if m.store == nil {
		return "cookie"
	}
	return m.store.Name()
}

// Begin generates a CSRF token and the cookie that carries it.
func (m *Manager) Begin() (string, *http.Cookie, error) {
	token, err := m.newTok()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate state token: %w", err)
	}
	return token, m.cookie(StateCookie, token), nil
}

// Stash records the delivery preferences for the flow. In cookie mode it
// returns the mode/port cookies (omitting absent values); with a store it
// saves them server-side and returns no cookies.
func (m *Manager) Stash(ctx context.Context, csrfToken string, params model.FlowParams) ([]*http.Cookie, error) {
	if params.IsEmpty() {
		return nil, nil
	}

	if m.store != nil {
		if err := m.store.Save(ctx, csrfToken, params); err != nil {
			return nil, err
		}
		return nil, nil
	}

	var cookies []*http.Cookie
	if params.Mode != "" {
		cookies = append(cookies, m.cookie(ModeCookie, string(params.Mode)))
	}
	if params.Port != 0 {
		cookies = append(cookies, m.cookie(PortCookie, strconv.Itoa(params.Port)))
	}
	return cookies, nil
}

// StateToken returns the CSRF token from the state cookie, or "".
func (m *Manager) StateToken(cookies []*http.Cookie) string {
	return cookieValue(cookies, m.CookieName(StateCookie))
}

// Recover returns the delivery preferences stashed at initiation. Missing or
// unparseable values come back empty; only store failures are errors.
func (m *Manager) Recover(ctx context.Context, csrfToken string, cookies []*http.Cookie) (model.FlowParams, error) {
	if m.store != nil {
		params, err := m.store.Take(ctx, csrfToken)
		if errors.Is(err, ErrFlowNotFound) {
			return model.FlowParams{}, nil
		}
		if err != nil {
			return model.FlowParams{}, err
		}
		return *params, nil
	}

	var params model.FlowParams
	if mode, err := model.ParseDeliveryMode(cookieValue(cookies, m.CookieName(ModeCookie))); err == nil {
		params.Mode = mode
	}
	if port, err := model.ParsePort(cookieValue(cookies, m.CookieName(PortCookie))); err == nil {
		params.Port = port
	}
	return params, nil
}

// ClearCookies returns directives that expire every flow cookie.
func (m *Manager) ClearCookies() []*http.Cookie {
	names := []string{StateCookie, ModeCookie, PortCookie}
	cleared := make([]*http.Cookie, 0, len(names))
	for _, suffix := range names {
		c := m.cookie(suffix, "")
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		cleared = append(cleared, c)
	}
	return cleared
}

// Ping checks the server-side store, if any.
func (m *Manager) Ping(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	return m.store.Ping(ctx)
}

// Close releases the server-side store, if any.
func (m *Manager) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}

func (m *Manager) cookie(suffix, value string) *http.Cookie {
	return &http.Cookie{
		Name:     m.CookieName(suffix),
		Value:    value,
		Path:     "/",
		MaxAge:   int(m.cookies.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func cookieValue(cookies []*http.Cookie, name string) string {
	for _, c := range cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}
