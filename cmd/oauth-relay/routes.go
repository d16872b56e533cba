package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dzerik/oauth-relay/internal/config"
	"github.com/dzerik/oauth-relay/internal/handler"
	"github.com/dzerik/oauth-relay/internal/schema"
	"github.com/dzerik/oauth-relay/internal/service/idp"
	"github.com/dzerik/oauth-relay/internal/service/metrics"
	"github.com/dzerik/oauth-relay/pkg/logger"
	"github.com/dzerik/oauth-relay/pkg/resilience/circuitbreaker"
	"github.com/dzerik/oauth-relay/pkg/resilience/ratelimit"
	"github.com/dzerik/oauth-relay/pkg/tracing"
)

const requestTimeout = 60 * time.Second

// RouterDeps contains dependencies for router setup.
type RouterDeps struct {
	Config         *config.Config
	Metrics        *metrics.Metrics
	TracerProvider *tracing.TracerProvider
	RateLimiter    *ratelimit.Limiter
	Provider       *idp.Manager
	Breakers       *circuitbreaker.Manager

	OAuthHandler   *handler.OAuthHandler
	SessionHandler *handler.SessionHandler
	AccessHandler  *handler.AccessHandler
	HealthHandler  *handler.HealthHandler

	closers []io.Closer
}

// Close releases the flow store, provider watchers and Redis connections.
func (d *RouterDeps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// SetupRouter creates the chi router. Every route lives under
// server.base_path.
func SetupRouter(deps *RouterDeps) chi.Router {
	r := chi.NewRouter()
	applyGlobalMiddleware(r, deps)

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	routes := func(r chi.Router) {
		r.NotFound(handler.NotFound)
		r.MethodNotAllowed(handler.MethodNotAllowed)

		registerOAuthRoutes(r, deps)
		registerClientRoutes(r, deps)
		registerHealthRoutes(r, deps)
		registerMetricsRoutes(r, deps)
		registerAdminRoutes(r, deps)
	}

	if base := strings.TrimSuffix(deps.Config.Server.BasePath, "/"); base != "" {
		r.Route(base, routes)
	} else {
		routes(r)
	}

	return r
}

// applyGlobalMiddleware applies middleware stack to router.
func applyGlobalMiddleware(r chi.Router, deps *RouterDeps) {
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	if deps.TracerProvider != nil {
		r.Use(tracing.Middleware)
	}

	r.Use(logger.RequestLogger)
	r.Use(logger.RecoveryLogger)
	r.Use(chimw.CleanPath)
	r.Use(chimw.Timeout(requestTimeout))
	r.Use(deps.Metrics.Middleware)

	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Middleware())
		logger.Info("rate limiting enabled",
			zap.String("rate", deps.Config.Resilience.RateLimit.Rate),
			zap.String("store", deps.Config.Resilience.RateLimit.Store),
		)
	}
}

// registerOAuthRoutes registers the browser legs of a login. They are
// navigations, not API calls, and carry no CORS headers.
func registerOAuthRoutes(r chi.Router, deps *RouterDeps) {
	r.Route("/oauth", func(r chi.Router) {
		r.Get("/init", deps.OAuthHandler.HandleInit)
		r.Get("/callback", deps.OAuthHandler.HandleCallback)
	})
}

// registerClientRoutes registers the endpoints game clients and web pages
// call with a session credential.
func registerClientRoutes(r chi.Router, deps *RouterDeps) {
	r.Group(func(r chi.Router) {
		r.Use(handler.CORS(deps.Config.CORS))

		preflight := func(path string) {
			r.Options(path, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		}

		r.Get("/session", deps.SessionHandler.HandleSession)
		preflight("/session")

		r.Get("/me", deps.SessionHandler.HandleMe)
		preflight("/me")

		r.Get("/access/check", deps.AccessHandler.HandleCheck)
		r.Post("/access/check", deps.AccessHandler.HandleCheck)
		preflight("/access/check")

		healthPath := deps.Config.Observability.Health.Path
		if healthPath == "" {
			healthPath = "/health"
		}
		r.Get(healthPath, deps.HealthHandler.HandleHealth)
		preflight(healthPath)
	})
}

// registerHealthRoutes registers the readiness probe.
func registerHealthRoutes(r chi.Router, deps *RouterDeps) {
	readyPath := deps.Config.Observability.Ready.Path
	if readyPath == "" {
		readyPath = "/ready"
	}
	r.Get(readyPath, deps.HealthHandler.HandleReady)
}

// registerMetricsRoutes registers metrics endpoint if enabled.
func registerMetricsRoutes(r chi.Router, deps *RouterDeps) {
	if !deps.Config.Observability.Metrics.Enabled {
		return
	}
	metricsPath := deps.Config.Observability.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Handle(metricsPath, deps.Metrics.Handler())
}

// registerAdminRoutes registers admin endpoints.
func registerAdminRoutes(r chi.Router, deps *RouterDeps) {
	cfg := deps.Config

	r.Route("/admin", func(r chi.Router) {
		r.Get("/schema", handleSchema)
		r.Get("/schema/{type}", handleSchema)

		if cfg.DevMode.Enabled {
			r.Handle("/log/level", logger.LevelHandler())
			r.Get("/config", makeConfigHandler(cfg))
			r.Get("/info", makeInfoHandler(deps))
		}
	})
}

// handleSchema returns the JSON schema named by {type}, the config schema
// by default.
func handleSchema(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "type")
	if raw == "" {
		raw = string(schema.SchemaTypeConfig)
	}

	st, ok := schema.ParseSchemaType(raw)
	if !ok {
		handler.NotFound(w, r)
		return
	}

	data, err := schema.NewGenerator().GenerateType(st)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	_, _ = w.Write(data)
}

// makeConfigHandler returns configuration without secrets.
func makeConfigHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		sanitized := struct {
			DevMode          bool     `json:"dev_mode"`
			HTTPPort         int      `json:"http_port"`
			BasePath         string   `json:"base_path"`
			Provider         string   `json:"provider"`
			RedirectURL      string   `json:"redirect_url"`
			SessionAlgorithm string   `json:"session_algorithm"`
			FlowStore        string   `json:"flow_store"`
			CookieSecure     bool     `json:"cookie_secure"`
			CORSOrigins      []string `json:"cors_origins"`
			RateLimit        bool     `json:"rate_limit"`
			CircuitBreaker   bool     `json:"circuit_breaker"`
		}{
			DevMode:          cfg.DevMode.Enabled,
			HTTPPort:         cfg.Server.HTTPPort,
			BasePath:         cfg.Server.BasePath,
			Provider:         cfg.Provider.Name,
			RedirectURL:      cfg.Provider.RedirectURL,
			SessionAlgorithm: cfg.Session.Algorithm,
			FlowStore:        cfg.Flow.Store,
			CookieSecure:     cfg.Flow.CookieSecure,
			CORSOrigins:      cfg.CORS.Origins,
			RateLimit:        cfg.Resilience.RateLimit.Enabled,
			CircuitBreaker:   cfg.Resilience.CircuitBreaker.Enabled,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sanitized)
	}
}

// makeInfoHandler returns build info, mock profiles and breaker states.
func makeInfoHandler(deps *RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		info := map[string]interface{}{
			"version":    Version,
			"build_time": BuildTime,
			"dev_mode":   deps.Config.DevMode.Enabled,
		}
		if deps.Provider != nil {
			info["provider"] = deps.Provider.Name()
			if mock, ok := deps.Provider.Provider().(*idp.MockProvider); ok {
				info["profiles"] = mock.Profiles()
				info["default_profile"] = mock.DefaultProfile()
			}
		}
		if deps.Breakers != nil {
			info["circuit_breakers"] = deps.Breakers.States()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(info)
	}
}
