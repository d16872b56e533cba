package main

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/dzerik/oauth-relay/internal/config"
	"github.com/dzerik/oauth-relay/internal/service/metrics"
	"github.com/dzerik/oauth-relay/internal/service/security"
	"github.com/dzerik/oauth-relay/pkg/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application entry point with proper error handling.
func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	// Handle informational commands (version, help, schema)
	handled, err := handleInfoCommands(opts, os.Stdout)
	if handled || err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.devMode {
		cfg.DevMode.Enabled = true
	}

	if err := initLogger(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting oauth-relay",
		zap.String("version", Version),
		zap.String("config", opts.configPath),
		zap.Bool("dev_mode", cfg.DevMode.Enabled),
		zap.String("log_level", logger.GetLevel()),
	)

	if err := config.Validate(cfg); err != nil {
		logger.Error("configuration validation failed", zap.Error(err))
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	checkSecurity(cfg)

	return runServer(cfg)
}

// initLogger initializes the logger from the log section. Dev mode turns on
// debug output.
func initLogger(cfg *config.Config) error {
	logCfg := logger.DefaultConfig()
	if cfg.Log.Level != "" {
		logCfg.Level = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		logCfg.Format = cfg.Log.Format
	}
	logCfg.Development = cfg.Log.Development
	if cfg.DevMode.Enabled {
		logCfg.Level = "debug"
		logCfg.Development = true
	}
	return logger.Init(logCfg)
}

// checkSecurity checks for security issues and logs warnings.
func checkSecurity(cfg *config.Config) []security.Warning {
	warnings := security.NewChecker(cfg).Check()

	if len(warnings) == 0 {
		logger.Info("security check passed - no issues found")
		return nil
	}

	logger.Warn("security issues detected in configuration",
		zap.Int("total_warnings", len(warnings)),
		zap.String("summary", security.FormatSummary(warnings)),
	)
	for _, w := range warnings {
		logFunc := logger.Warn
		if w.Severity == security.SeverityCritical {
			logFunc = logger.Error
		}
		logFunc("security warning",
			zap.String("code", w.Code),
			zap.String("severity", string(w.Severity)),
			zap.String("title", w.Title),
			zap.String("recommendation", w.Recommendation),
		)
	}
	return warnings
}

// runServer starts the HTTP server and blocks until graceful shutdown.
func runServer(cfg *config.Config) error {
	m := metrics.New()
	tp := initTracing(cfg)

	srv, deps, err := NewServer(cfg, m, tp)
	if err != nil {
		logger.Error("failed to create server", zap.Error(err))
		return fmt.Errorf("failed to create server: %w", err)
	}

	errCh := make(chan error, 1)
	go startHTTPServer(srv, cfg.Server.TLS, errCh)

	// Mark as ready after startup delay
	time.AfterFunc(1*time.Second, func() {
		deps.HealthHandler.SetReady(true)
		logger.Info("service is ready")
	})

	return waitForShutdown(srv, deps, tp, cfg.Server.ShutdownTimeout, errCh)
}
