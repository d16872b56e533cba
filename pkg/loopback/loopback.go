// Package loopback is the native-client side of a relay login. It listens on
// 127.0.0.1 for the session the relay's confirmation page POSTs, opens the
// system browser at the relay's init endpoint and hands back what arrived.
package loopback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/pkg/browser"
	"go.uber.org/zap"

	"github.com/dzerik/oauth-relay/pkg/logger"
)

// Host is the only interface the listener binds.
const Host = "127.0.0.1"

const (
	maxSessionBody  = 64 << 10
	shutdownTimeout = 5 * time.Second
)

var (
	ErrMissingRelayURL = errors.New("relay URL is required")
	ErrInvalidSession  = errors.New("session payload has no session_token")
	ErrAlreadyReceived = errors.New("session already received")
)

// User is the user summary delivered with a session.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Session is what the relay delivers at the end of a login.
type Session struct {
	SessionToken string `json:"session_token"`
	User         User   `json:"user"`
}

// Config configures a loopback login.
type Config struct {
	// RelayURL is the relay's base URL including its base path, e.g.
	// https://relay.example.com/api.
	RelayURL string
	// Port to listen on; 0 picks a free one.
	Port int
	// SkipBrowser prints the init URL instead of opening it.
	SkipBrowser bool
	// Open launches the browser. Defaults to browser.OpenURL.
	Open func(url string) error
}

// Listener receives exactly one session on 127.0.0.1.
type Listener struct {
	relay  *url.URL
	origin string
	ln     net.Listener
	server *http.Server

	once    sync.Once
	results chan *Session
	errs    chan error
}

// NewListener binds the loopback port. Call Serve to start accepting.
func NewListener(cfg Config) (*Listener, error) {
	if cfg.RelayURL == "" {
		return nil, ErrMissingRelayURL
	}
	relay, err := url.Parse(strings.TrimSuffix(cfg.RelayURL, "/"))
	if err != nil || relay.Scheme == "" || relay.Host == "" {
		return nil, fmt.Errorf("invalid relay URL %q", cfg.RelayURL)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on loopback port: %w", err)
	}

	l := &Listener{
		relay:   relay,
		origin:  relay.Scheme + "://" + relay.Host,
		ln:      ln,
		results: make(chan *Session, 1),
		errs:    make(chan error, 1),
	}
	l.server = &http.Server{
		Handler:           l.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return l, nil
}

// Port returns the bound port.
func (l *Listener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

// InitURL is where the browser starts the login.
func (l *Listener) InitURL() string {
	u := *l.relay
	u.Path += "/oauth/init"
	u.RawQuery = url.Values{
		"mode": {"loopback"},
		"port": {strconv.Itoa(l.Port())},
	}.Encode()
	return u.String()
}

// Handler serves POST /session. Only the relay's origin passes the preflight.
func (l *Listener) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(privateNetworkAccess)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{l.origin},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         600,
	}))
	r.Post("/session", l.handleSession)
	return r
}

// privateNetworkAccess answers Chrome's private network preflight, which a
// public page needs before it may reach 127.0.0.1.
func privateNetworkAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Private-Network") == "true" {
			w.Header().Set("Access-Control-Allow-Private-Network", "true")
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Listener) handleSession(w http.ResponseWriter, r *http.Request) {
	var session Session
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSessionBody)).Decode(&session); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}
	if session.SessionToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ErrInvalidSession.Error()})
		return
	}

	delivered := false
	l.once.Do(func() {
		l.results <- &session
		delivered = true
	})
	if !delivered {
		writeJSON(w, http.StatusConflict, map[string]string{"error": ErrAlreadyReceived.Error()})
		return
	}

	logger.Info("session received", zap.String("user_id", session.User.ID))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Serve accepts connections until Close. Errors other than a normal close
// are reported by Wait.
func (l *Listener) Serve() {
	if err := l.server.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		select {
		case l.errs <- err:
		default:
		}
	}
}

// Wait blocks until a session arrives, the listener fails or ctx ends.
func (l *Listener) Wait(ctx context.Context) (*Session, error) {
	select {
	case s := <-l.results:
		return s, nil
	case err := <-l.errs:
		return nil, fmt.Errorf("loopback listener failed: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("login cancelled: %w", ctx.Err())
	}
}

// Close stops the listener.
func (l *Listener) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return l.server.Shutdown(ctx)
}

// Login runs a complete loopback login and returns the delivered session.
func Login(ctx context.Context, cfg Config) (*Session, error) {
	l, err := NewListener(cfg)
	if err != nil {
		return nil, err
	}
	go l.Serve()
	defer func() {
		if err := l.Close(); err != nil {
			logger.Warn("failed to stop loopback listener", zap.Error(err))
		}
	}()

	initURL := l.InitURL()
	open := cfg.Open
	if open == nil {
		open = browser.OpenURL
	}

	if cfg.SkipBrowser {
		logger.Info("open this URL in your browser", zap.String("url", initURL))
	} else {
		logger.Info("opening browser", zap.String("url", initURL))
		if err := open(initURL); err != nil {
			logger.Warn("failed to open browser, open the URL manually",
				zap.String("url", initURL),
				zap.Error(err),
			)
		}
	}

	logger.Info("waiting for session", zap.Int("port", l.Port()))
	return l.Wait(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
