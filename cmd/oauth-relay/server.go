package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dzerik/oauth-relay/internal/config"
	"github.com/dzerik/oauth-relay/internal/handler"
	"github.com/dzerik/oauth-relay/internal/service/access"
	"github.com/dzerik/oauth-relay/internal/service/credential"
	"github.com/dzerik/oauth-relay/internal/service/delivery"
	"github.com/dzerik/oauth-relay/internal/service/handoff"
	"github.com/dzerik/oauth-relay/internal/service/idp"
	"github.com/dzerik/oauth-relay/internal/service/metrics"
	"github.com/dzerik/oauth-relay/internal/service/state"
	"github.com/dzerik/oauth-relay/pkg/logger"
	"github.com/dzerik/oauth-relay/pkg/resilience/circuitbreaker"
	"github.com/dzerik/oauth-relay/pkg/resilience/ratelimit"
	"github.com/dzerik/oauth-relay/pkg/tracing"
)

// NewServer creates the HTTP server with all dependencies wired. The
// returned deps must be closed after the server stops.
func NewServer(cfg *config.Config, m *metrics.Metrics, tp *tracing.TracerProvider) (*http.Server, *RouterDeps, error) {
	deps, err := createDependencies(cfg, m, tp)
	if err != nil {
		return nil, nil, err
	}

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           SetupRouter(deps),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}, deps, nil
}

// createDependencies initializes all server dependencies. On error,
// anything already opened is closed.
func createDependencies(cfg *config.Config, m *metrics.Metrics, tp *tracing.TracerProvider) (*RouterDeps, error) {
	deps := &RouterDeps{
		Config:         cfg,
		Metrics:        m,
		TracerProvider: tp,
	}
	ready := false
	defer func() {
		if !ready {
			_ = deps.Close()
		}
	}()

	codec, err := credential.NewCodec(credential.Config{
		Algorithm:  cfg.Session.Algorithm,
		SigningKey: cfg.Session.SigningKey,
		PrivateKey: cfg.Session.PrivateKey,
		PublicKey:  cfg.Session.PublicKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create credential codec: %w", err)
	}
	logger.Info("credential codec created", zap.String("algorithm", codec.Algorithm()))

	var redisClient redis.UniversalClient
	if needsRedis(cfg) {
		redisClient, err = state.NewRedisClient(flowStoreConfig(cfg).Redis)
		if err != nil {
			return nil, err
		}
	}

	store, err := createFlowStore(cfg, redisClient)
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, fmt.Errorf("failed to create flow store: %w", err)
	}
	flows := state.NewManager(state.CookieConfig{
		Prefix: cfg.Flow.CookiePrefix,
		Secure: cfg.Flow.CookieSecure,
		MaxAge: cfg.Flow.TTL,
	}, store)
	// a Redis flow store owns the client and closes it
	deps.closers = append(deps.closers, flows)
	if redisClient != nil && cfg.Flow.Store != "redis" {
		deps.closers = append(deps.closers, redisClient)
	}
	logger.Info("flow state manager created", zap.String("store", flows.StoreName()))

	provider, err := createProvider(cfg, m, deps)
	if err != nil {
		return nil, err
	}
	deps.closers = append(deps.closers, provider)
	deps.Provider = provider

	renderer, err := delivery.NewRenderer(providerDisplayName(cfg))
	if err != nil {
		return nil, err
	}

	if cfg.Resilience.RateLimit.Enabled {
		deps.RateLimiter, err = createRateLimiter(cfg, redisClient)
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
	}

	pingers := map[string]handler.Pinger{"flow_store": flows}
	if redisClient != nil {
		pingers["redis"] = redisPinger{redisClient}
	}

	deps.OAuthHandler = handler.NewOAuthHandler(handoff.NewOrchestrator(provider, codec, flows, m), renderer)
	deps.SessionHandler = handler.NewSessionHandler(codec, m)
	deps.AccessHandler = handler.NewAccessHandler(access.NewGateway(codec, provider, m))
	deps.HealthHandler = handler.NewHealthHandler(pingers)

	ready = true
	return deps, nil
}

// needsRedis reports whether any component is configured to use Redis.
func needsRedis(cfg *config.Config) bool {
	return cfg.Flow.Store == "redis" ||
		(cfg.Resilience.RateLimit.Enabled && cfg.Resilience.RateLimit.Store == "redis")
}

// createFlowStore returns the server-side flow store, or nil in cookie mode.
func createFlowStore(cfg *config.Config, client redis.UniversalClient) (state.Store, error) {
	storeCfg := flowStoreConfig(cfg)
	if storeCfg.Type == "redis" {
		return state.NewRedisStoreWithClient(client, storeCfg.Redis.KeyPrefix, storeCfg.TTL), nil
	}
	return state.NewStore(storeCfg)
}

// createProvider creates the provider manager: the mock in dev mode, Whop
// otherwise, guarded by circuit breakers when enabled.
func createProvider(cfg *config.Config, m *metrics.Metrics, deps *RouterDeps) (*idp.Manager, error) {
	opts := []idp.Option{idp.WithMetrics(m)}
	if cfg.Resilience.CircuitBreaker.Enabled {
		deps.Breakers = circuitbreaker.NewManager(breakerConfig(cfg))
		opts = append(opts, idp.WithBreakers(deps.Breakers))
	}

	client := &http.Client{Timeout: cfg.Provider.Timeout}
	if deps.TracerProvider != nil {
		client = tracing.Client(client)
	}

	provider, err := idp.NewManager(cfg, client, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	logger.Info("provider created",
		zap.String("provider", provider.Name()),
		zap.Bool("dev_mode", provider.IsDevMode()),
		zap.Bool("circuit_breaker", deps.Breakers != nil),
	)
	return provider, nil
}

// createRateLimiter creates the rate limiter, sharing counters through
// Redis when configured.
func createRateLimiter(cfg *config.Config, client redis.UniversalClient) (*ratelimit.Limiter, error) {
	limiterCfg := rateLimitConfig(cfg)
	if cfg.Resilience.RateLimit.Store == "redis" {
		return ratelimit.NewRedisLimiter(limiterCfg, client)
	}
	return ratelimit.NewLimiter(limiterCfg)
}

type redisPinger struct {
	client redis.UniversalClient
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// initTracing initializes OpenTelemetry tracing if enabled.
func initTracing(cfg *config.Config) *tracing.TracerProvider {
	if !cfg.Observability.Tracing.Enabled {
		return nil
	}

	tracingCfg := tracing.Config{
		Enabled:        true,
		ServiceName:    tracing.DefaultServiceName,
		ServiceVersion: Version,
		Environment:    getEnvironment(cfg),
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		Protocol:       cfg.Observability.Tracing.Protocol,
		Insecure:       cfg.Observability.Tracing.Insecure,
		SamplingRatio:  cfg.Observability.Tracing.SamplingRatio,
		Headers:        cfg.Observability.Tracing.Headers,
	}

	tp, err := tracing.Init(context.Background(), tracingCfg)
	if err != nil {
		logger.Error("failed to initialize tracing", zap.Error(err))
		return nil
	}

	logger.Info("tracing initialized",
		zap.String("endpoint", tracingCfg.Endpoint),
		zap.String("protocol", tracingCfg.Protocol),
	)
	return tp
}

// startHTTPServer serves until the server is shut down. Any other error is
// sent on errCh.
func startHTTPServer(srv *http.Server, tlsCfg config.TLSConfig, errCh chan<- error) {
	logger.Info("starting HTTP server",
		zap.String("addr", srv.Addr),
		zap.Bool("tls", tlsCfg.Enabled),
	)

	var err error
	if tlsCfg.Enabled {
		err = srv.ListenAndServeTLS(tlsCfg.Cert, tlsCfg.Key)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- err
	}
}

// waitForShutdown blocks until a signal arrives or the server fails, then
// drains connections and releases dependencies.
func waitForShutdown(srv *http.Server, deps *RouterDeps, tp *tracing.TracerProvider, timeout time.Duration, errCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var serveErr error
	select {
	case sig := <-quit:
		logger.Info("shutting down server...", zap.String("signal", sig.String()))
	case serveErr = <-errCh:
		logger.Error("server error", zap.Error(serveErr))
	}

	deps.HealthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	if err := deps.Close(); err != nil {
		logger.Error("failed to release dependencies", zap.Error(err))
	}

	if tp != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracing shutdown error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
	return serveErr
}
