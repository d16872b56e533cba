package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, path, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Enabled || !cfg.FailClose || !cfg.TrustForwardedFor {
		t.Errorf("DefaultConfig() = %+v, want enabled, fail-close, trusting forwarded headers", cfg)
	}
	if cfg.Rate != "100-S" {
		t.Errorf("DefaultConfig.Rate = %s, want '100-S'", cfg.Rate)
	}
	if cfg.Headers.LimitHeader != "X-RateLimit-Limit" {
		t.Errorf("DefaultConfig.Headers.LimitHeader = %s", cfg.Headers.LimitHeader)
	}
}

func TestNewLimiter_InvalidRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rate = "invalid-rate"

	if _, err := NewLimiter(cfg); err == nil {
		t.Error("NewLimiter should fail with invalid rate")
	}
}

func TestNewLimiter_EndpointRates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ByEndpoint = true
	cfg.EndpointRates = map[string]string{
		"/api":            "50-S",
		"/api/oauth/init": "10-M",
		"/broken":         "invalid",
	}

	l, err := NewLimiter(cfg)
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}

	if len(l.endpoints) != 2 {
		t.Fatalf("expected 2 valid endpoint limiters, got %d", len(l.endpoints))
	}
	if l.endpoints[0].prefix != "/api/oauth/init" {
		t.Errorf("longest prefix should be tried first, got %s", l.endpoints[0].prefix)
	}

	if prefix, _ := l.limiterFor("/api/oauth/init"); prefix != "/api/oauth/init" {
		t.Errorf("limiterFor(/api/oauth/init) = %s", prefix)
	}
	if prefix, _ := l.limiterFor("/api/session"); prefix != "/api" {
		t.Errorf("limiterFor(/api/session) = %s", prefix)
	}
	if prefix, inst := l.limiterFor("/other"); prefix != "*" || inst != l.instance {
		t.Errorf("limiterFor(/other) should fall back to the default limiter")
	}
}

func TestLimiter_EndpointRatesIgnoredWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EndpointRates = map[string]string{"/api": "50-S"}

	l, err := NewLimiter(cfg)
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	if len(l.endpoints) != 0 {
		t.Errorf("endpoint limiters should not be built when ByEndpoint is false")
	}
}

func TestLimiter_Middleware_Headers(t *testing.T) {
	l, err := NewLimiter(DefaultConfig())
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}

	w := serve(l.Middleware()(okHandler()), "/api/session", "192.168.1.1:12345")

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if limit, _ := strconv.ParseInt(w.Header().Get("X-RateLimit-Limit"), 10, 64); limit != 100 {
		t.Errorf("X-RateLimit-Limit = %d, want 100", limit)
	}
	if remaining, _ := strconv.ParseInt(w.Header().Get("X-RateLimit-Remaining"), 10, 64); remaining != 99 {
		t.Errorf("X-RateLimit-Remaining = %d, want 99", remaining)
	}
	if w.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("missing X-RateLimit-Reset header")
	}
}

func TestLimiter_Middleware_HeadersDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Headers.Enabled = false
	l, err := NewLimiter(cfg)
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}

	w := serve(l.Middleware()(okHandler()), "/api/session", "192.168.1.1:12345")
	if w.Header().Get("X-RateLimit-Limit") != "" {
		t.Error("X-RateLimit-Limit header should not be present when disabled")
	}
}

func TestLimiter_Middleware_RejectsWithEnvelope(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rate = "2-M"
	l, err := NewLimiter(cfg)
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	h := l.Middleware()(okHandler())

	for i := 0; i < 2; i++ {
		if w := serve(h, "/api/me", "10.0.0.1:1"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}

	w := serve(h, "/api/me", "10.0.0.1:1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body["error"] != "Too many requests" {
		t.Errorf("error = %q", body["error"])
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	// another client has its own budget
	if w := serve(h, "/api/me", "10.0.0.2:1"); w.Code != http.StatusOK {
		t.Errorf("other client: expected 200, got %d", w.Code)
	}
}

func TestLimiter_Middleware_ExcludedPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rate = "1-M"
	cfg.ExcludePaths = []string{"/api/health"}
	l, err := NewLimiter(cfg)
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	h := l.Middleware()(okHandler())

	for i := 0; i < 5; i++ {
		if w := serve(h, "/api/health", "192.168.1.1:12345"); w.Code != http.StatusOK {
			t.Errorf("request %d to excluded path should succeed, got %d", i, w.Code)
		}
	}
}

func TestLimiter_clientKey(t *testing.T) {
	tests := []struct {
		name              string
		trustForwardedFor bool
		remoteAddr        string
		xForwardedFor     string
		xRealIP           string
		expectedKey       string
	}{
		{
			name:        "remote addr only",
			remoteAddr:  "192.168.1.1:12345",
			expectedKey: "192.168.1.1",
		},
		{
			name:              "X-Forwarded-For with multiple IPs",
			trustForwardedFor: true,
			remoteAddr:        "10.0.0.1:12345",
			xForwardedFor:     "203.0.113.50, 70.41.3.18",
			expectedKey:       "203.0.113.50",
		},
		{
			name:              "X-Real-IP trusted",
			trustForwardedFor: true,
			remoteAddr:        "10.0.0.1:12345",
			xRealIP:           "203.0.113.100",
			expectedKey:       "203.0.113.100",
		},
		{
			name:          "forwarded headers ignored when untrusted",
			remoteAddr:    "10.0.0.1:12345",
			xForwardedFor: "203.0.113.50",
			expectedKey:   "10.0.0.1",
		},
		{
			name:        "IPv6 remote addr",
			remoteAddr:  "[::1]:12345",
			expectedKey: "::1",
		},
		{
			name:        "remote addr without port",
			remoteAddr:  "192.168.1.1",
			expectedKey: "192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TrustForwardedFor = tt.trustForwardedFor
			l, _ := NewLimiter(cfg)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if key := l.clientKey(req); key != tt.expectedKey {
				t.Errorf("clientKey() = %s, want %s", key, tt.expectedKey)
			}
		})
	}
}

func TestNewRedisLimiter_SharesBudget(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := DefaultConfig()
	cfg.Rate = "1-M"

	first, err := NewRedisLimiter(cfg, client)
	if err != nil {
		t.Fatalf("NewRedisLimiter failed: %v", err)
	}
	second, err := NewRedisLimiter(cfg, client)
	if err != nil {
		t.Fatalf("NewRedisLimiter failed: %v", err)
	}

	if w := serve(first.Middleware()(okHandler()), "/api/me", "10.0.0.1:1"); w.Code != http.StatusOK {
		t.Fatalf("first replica: expected 200, got %d", w.Code)
	}
	if w := serve(second.Middleware()(okHandler()), "/api/me", "10.0.0.1:1"); w.Code != http.StatusTooManyRequests {
		t.Errorf("second replica: expected 429, got %d", w.Code)
	}
}
