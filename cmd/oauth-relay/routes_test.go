package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dzerik/oauth-relay/internal/config"
	"github.com/dzerik/oauth-relay/internal/model"
	"github.com/dzerik/oauth-relay/internal/service/credential"
	"github.com/dzerik/oauth-relay/internal/service/metrics"
)

const testSigningKey = "test-signing-key-with-at-least-32-bytes"

const playerProfile = `user:
  id: "user_player"
  name: "Player One"
  username: "player"
access:
  exp_game: customer
`

type testRelay struct {
	cfg    *config.Config
	deps   *RouterDeps
	router chi.Router
}

func newTestRelay(t *testing.T, mutate ...func(*config.Config)) *testRelay {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "player.yaml"), []byte(playerProfile), 0o644))

	cfg, err := config.LoadFromString(`
server:
  base_path: /api
session:
  signing_key: ` + testSigningKey + `
dev_mode:
  enabled: true
  profiles_dir: ` + dir + `
observability:
  metrics:
    enabled: true
    path: /metrics
  health:
    path: /health
  ready:
    path: /ready
`)
	require.NoError(t, err)
	for _, fn := range mutate {
		fn(cfg)
	}
	require.NoError(t, config.Validate(cfg))

	deps, err := createDependencies(cfg, metrics.New(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	return &testRelay{cfg: cfg, deps: deps, router: SetupRouter(deps)}
}

func (tr *testRelay) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	tr.router.ServeHTTP(rec, req)
	return rec
}

func (tr *testRelay) get(target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return tr.do(req)
}

// login runs /oauth/init and returns the provider redirect and the flow cookies.
func (tr *testRelay) login(t *testing.T, query string) (*url.URL, []*http.Cookie) {
	t.Helper()

	rec := tr.get("/api/oauth/init" + query)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return loc, rec.Result().Cookies()
}

func (tr *testRelay) issue(t *testing.T) string {
	t.Helper()
	codec, err := credential.NewCodec(credential.Config{Algorithm: "HS256", SigningKey: testSigningKey})
	require.NoError(t, err)
	token, err := codec.Issue(credential.Subject{UserID: "user_player", Name: "Player One"})
	require.NoError(t, err)
	return token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func clearedCookies(rec *httptest.ResponseRecorder) []string {
	var names []string
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			names = append(names, c.Name)
		}
	}
	return names
}

func TestOAuthInit_RedirectsWithCombinedState(t *testing.T) {
	tr := newTestRelay(t)

	loc, cookies := tr.login(t, "?mode=loopback&port=7777")

	assert.Equal(t, "/api/oauth/callback", loc.Path)
	assert.Equal(t, "mock_player", loc.Query().Get("code"))

	parts := strings.SplitN(loc.Query().Get("state"), ":", 2)
	require.Len(t, parts, 2)

	byName := map[string]*http.Cookie{}
	for _, c := range cookies {
		byName[c.Name] = c
	}
	require.Contains(t, byName, "w_state")
	assert.Equal(t, parts[1], byName["w_state"].Value)
	assert.True(t, byName["w_state"].HttpOnly)
	assert.Equal(t, "loopback", byName["w_mode"].Value)
	assert.Equal(t, "7777", byName["w_port"].Value)
}

func TestOAuthInit_InvalidParameters(t *testing.T) {
	tr := newTestRelay(t)

	tests := []struct {
		name    string
		query   string
		message string
	}{
		{"bad mode", "?mode=carrier-pigeon", "Invalid mode parameter"},
		{"port out of range", "?mode=loopback&port=70000", "Invalid port parameter"},
		{"port not a number", "?mode=loopback&port=abc", "Invalid port parameter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tr.get("/api/oauth/init" + tt.query)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.message, decodeBody(t, rec)["error"])
		})
	}
}

func TestOAuthCallback_LoopbackDelivery(t *testing.T) {
	tr := newTestRelay(t)

	loc, cookies := tr.login(t, "?mode=loopback&port=7777")
	rec := tr.get(loc.RequestURI(), cookies...)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), "127.0.0.1:7777")
	assert.Contains(t, rec.Body.String(), "Dev Mode")
	assert.ElementsMatch(t, []string{"w_state", "w_mode", "w_port"}, clearedCookies(rec))
}

func TestOAuthCallback_DirectDelivery(t *testing.T) {
	tr := newTestRelay(t)

	loc, cookies := tr.login(t, "")
	rec := tr.get(loc.RequestURI(), cookies...)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var payload model.SessionPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "user_player", payload.User.ID)
	assert.Equal(t, "Player One", payload.User.Name)
	require.NotEmpty(t, payload.SessionToken)

	// the delivered credential works against the session endpoint
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+payload.SessionToken)
	session := tr.do(req)
	require.Equal(t, http.StatusOK, session.Code)
	assert.Equal(t, true, decodeBody(t, session)["valid"])
}

func TestOAuthCallback_QueryOverridesCarriedMode(t *testing.T) {
	tr := newTestRelay(t)

	loc, cookies := tr.login(t, "?mode=loopback&port=7777")
	q := loc.Query()
	q.Set("mode", "direct")
	loc.RawQuery = q.Encode()

	rec := tr.get(loc.RequestURI(), cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestOAuthCallback_CSRFFailures(t *testing.T) {
	tr := newTestRelay(t)

	t.Run("state mismatch", func(t *testing.T) {
		loc, cookies := tr.login(t, "")
		for _, c := range cookies {
			if c.Name == "w_state" {
				c.Value = "forged"
			}
		}

		rec := tr.get(loc.RequestURI(), cookies...)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "State mismatch (CSRF check failed)", decodeBody(t, rec)["error"])
		assert.Contains(t, clearedCookies(rec), "w_state")
	})

	t.Run("missing cookie", func(t *testing.T) {
		loc, _ := tr.login(t, "")

		rec := tr.get(loc.RequestURI())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Missing state cookie (CSRF check failed)", decodeBody(t, rec)["error"])
		assert.Contains(t, clearedCookies(rec), "w_state")
	})

	t.Run("malformed state", func(t *testing.T) {
		rec := tr.get("/api/oauth/callback?code=mock_player&state=no-separator")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid state format", decodeBody(t, rec)["error"])
	})
}

func TestOAuthCallback_ProviderErrors(t *testing.T) {
	tr := newTestRelay(t)

	tests := []struct {
		name    string
		query   string
		status  int
		message string
	}{
		{"denied", "?error=access_denied&error_description=user+cancelled", http.StatusBadRequest, "Authorization denied by provider"},
		{"missing code", "?state=a:b", http.StatusBadRequest, "Missing authorization code"},
		{"missing state", "?code=mock_player", http.StatusBadRequest, "Missing state parameter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tr.get("/api/oauth/callback" + tt.query)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, decodeBody(t, rec)["error"])
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	tr := newTestRelay(t)
	token := tr.issue(t)

	expiredCodec, err := credential.NewCodec(
		credential.Config{Algorithm: "HS256", SigningKey: testSigningKey},
		credential.WithClock(func() time.Time { return time.Now().Add(-3 * credential.Lifetime) }),
	)
	require.NoError(t, err)
	expired, err := expiredCodec.Issue(credential.Subject{UserID: "user_player"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		auth   string
		status int
	}{
		{"session valid", "/api/session", "Bearer " + token, http.StatusOK},
		{"me valid", "/api/me", "Bearer " + token, http.StatusOK},
		{"session expired", "/api/session", "Bearer " + expired, http.StatusUnauthorized},
		{"me garbage", "/api/me", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"missing header", "/api/session", "", http.StatusUnauthorized},
		{"wrong scheme", "/api/me", "Basic " + token, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := tr.do(req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	body := decodeBody(t, tr.do(req))
	assert.Equal(t, "user_player", body["id"])
	assert.Equal(t, "Player One", body["name"])
}

func TestAccessCheck(t *testing.T) {
	tr := newTestRelay(t)
	token := tr.issue(t)

	t.Run("granted via query", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/access/check?experienceId=exp_game", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := tr.do(req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["hasAccess"])
		assert.Equal(t, "customer", body["accessLevel"])
		assert.Equal(t, "user_player", body["userId"])
		assert.Equal(t, "exp_game", body["experienceId"])
	})

	t.Run("denied via body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/access/check", strings.NewReader(`{"experienceId":"exp_other"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		rec := tr.do(req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decodeBody(t, rec)
		assert.Equal(t, false, body["hasAccess"])
		assert.Equal(t, "no_access", body["accessLevel"])
	})

	t.Run("bad experience id is rejected before the credential", func(t *testing.T) {
		rec := tr.get("/api/access/check?experienceId=game")
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		detail, ok := decodeBody(t, rec)["detail"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "game", detail["provided"])
		assert.Equal(t, "experienceId must look like exp_XXX", detail["hint"])
	})

	t.Run("missing experience id", func(t *testing.T) {
		rec := tr.get("/api/access/check")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeBody(t, rec), "detail")
	})

	t.Run("missing credential", func(t *testing.T) {
		rec := tr.get("/api/access/check?experienceId=exp_game")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestCORS(t *testing.T) {
	tr := newTestRelay(t, func(cfg *config.Config) {
		cfg.CORS.Origins = []string{"https://game.example.com"}
	})

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/session", nil)
		req.Header.Set("Origin", "https://game.example.com")
		req.Header.Set("Access-Control-Request-Method", "GET")
		req.Header.Set("Access-Control-Request-Headers", "Authorization")
		rec := tr.do(req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://game.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET,POST,OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Authorization, Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
	})

	t.Run("local origin is always allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := tr.do(req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unknown origin gets no headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/me", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		req.Header.Set("Access-Control-Request-Method", "GET")
		rec := tr.do(req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("oauth routes carry no CORS headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/oauth/init", nil)
		req.Header.Set("Origin", "https://game.example.com")
		rec := tr.do(req)

		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRouter_ErrorEnvelopes(t *testing.T) {
	tr := newTestRelay(t)

	t.Run("method not allowed", func(t *testing.T) {
		rec := tr.do(httptest.NewRequest(http.MethodDelete, "/api/session", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, "Method not allowed", decodeBody(t, rec)["error"])
	})

	t.Run("not found", func(t *testing.T) {
		rec := tr.get("/api/nowhere")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Not found", decodeBody(t, rec)["error"])
	})

	t.Run("routes live under the base path", func(t *testing.T) {
		rec := tr.get("/oauth/init")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealthAndReady(t *testing.T) {
	tr := newTestRelay(t)

	rec := tr.get("/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "healthy", body["status"])

	rec = tr.get("/api/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	tr.deps.HealthHandler.SetReady(true)
	rec = tr.get("/api/ready")
	require.Equal(t, http.StatusOK, rec.Code)
	checks := decodeBody(t, rec)["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["flow_store"])
}

func TestMetricsEndpoint(t *testing.T) {
	tr := newTestRelay(t)

	tr.get("/api/health")
	rec := tr.get("/api/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "oauth_relay_http_requests_total")
}

func TestAdminRoutes(t *testing.T) {
	tr := newTestRelay(t)

	t.Run("schema", func(t *testing.T) {
		rec := tr.get("/api/admin/schema")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OAuth Relay Configuration", decodeBody(t, rec)["title"])
	})

	t.Run("profile schema", func(t *testing.T) {
		rec := tr.get("/api/admin/schema/profile")
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown schema", func(t *testing.T) {
		rec := tr.get("/api/admin/schema/service")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("config hides secrets", func(t *testing.T) {
		rec := tr.get("/api/admin/config")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), testSigningKey)
		assert.Equal(t, "/api", decodeBody(t, rec)["base_path"])
	})

	t.Run("info lists profiles", func(t *testing.T) {
		rec := tr.get("/api/admin/info")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "mock", body["provider"])
		assert.Equal(t, []interface{}{"player"}, body["profiles"])
		assert.Equal(t, "player", body["default_profile"])
	})
}

func TestAdminRoutes_DevOnly(t *testing.T) {
	tr := newTestRelay(t)
	tr.cfg.DevMode.Enabled = false
	router := SetupRouter(tr.deps)

	for _, path := range []string{"/api/admin/config", "/api/admin/info", "/api/admin/log/level"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestRateLimit(t *testing.T) {
	tr := newTestRelay(t, func(cfg *config.Config) {
		cfg.Resilience.RateLimit.Enabled = true
		cfg.Resilience.RateLimit.Rate = "2-M"
		cfg.Resilience.RateLimit.ExcludePaths = []string{"/health"}
	})
	require.NotNil(t, tr.deps.RateLimiter)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusUnauthorized, tr.get("/api/me").Code)
	}
	rec := tr.get("/api/me")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, tr.get("/api/health").Code)
	}
}

func TestCreateDependencies_RedisFlowStore(t *testing.T) {
	cfg, err := config.LoadFromString(`
session:
  signing_key: ` + testSigningKey + `
dev_mode:
  enabled: true
flow:
  store: redis
  redis:
    addresses: ["127.0.0.1:1"]
`)
	require.NoError(t, err)

	_, err = createDependencies(cfg, metrics.New(), nil)
	assert.Error(t, err)
}
