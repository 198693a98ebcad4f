// Package main is the entry point for the onboarding BFF server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mosaicfin/onboard/internal/config"
	"github.com/mosaicfin/onboard/internal/definition"
	"github.com/mosaicfin/onboard/internal/gateway"
	"github.com/mosaicfin/onboard/internal/history"
	"github.com/mosaicfin/onboard/internal/observability"
	"github.com/mosaicfin/onboard/internal/session"
	"github.com/mosaicfin/onboard/internal/transport"
	"github.com/mosaicfin/onboard/internal/wizard"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "onboard-bff", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.InitMetrics(prometheus.DefaultRegisterer)
	}

	// Load wizard definitions, validate, build registry.
	loader := definition.NewLoader()
	defs, err := loader.LoadAll(cfg.Definitions.Directories)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}

	validator := definition.NewValidator()
	if verrs := validator.Validate(defs); len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		logger.Error("definition validation failed", zap.Int("errors", len(verrs)))
		return 1
	}

	registry := definition.NewRegistry(defs)
	if metrics != nil {
		metrics.SetDefinitionsLoaded(float64(len(defs)))
		metrics.RecordDefinitionReload("success")
	}

	// Session and history stores.
	sessions, sessionsCloser, err := buildSessionStore(cfg.Session.Store, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return 1
	}
	trail, trailCloser, err := buildHistoryStore(ctx, cfg.History, logger)
	if err != nil {
		logger.Error("history store initialization failed", zap.Error(err))
		return 1
	}

	// Remote API client and wizard engine. The metrics layer observes
	// remote calls when enabled.
	var observer gateway.Observer
	if metrics != nil {
		observer = metrics
	}
	remote := gateway.NewClient(cfg.RemoteAPI, logger, observer)

	var engineMetrics wizard.Metrics
	if metrics != nil {
		engineMetrics = metrics
	}
	engine := wizard.NewEngine(registry, sessions, trail, remote, cfg.Wizard.PostbackURL, logger, engineMetrics)

	readinessChecks := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return len(registry.AllWizards()) > 0 },
	}
	if hc, ok := sessions.(observability.HealthChecker); ok {
		readinessChecks.SessionStore = hc
	}
	if hc, ok := trail.(observability.HealthChecker); ok {
		readinessChecks.HistoryStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:   cfg,
		Log:      logger,
		Registry: registry,
		Sessions: sessions,
		Engine:   engine,
		Auth:     remote,
		Metrics:  metrics,
		Ready:    readinessChecks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", len(defs)),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if sessionsCloser != nil {
		sessionsCloser()
	}
	if trailCloser != nil {
		trailCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildSessionStore creates the session store named by the driver.
func buildSessionStore(cfg config.SessionStoreConfig, logger *zap.Logger) (session.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory session store")
		return session.NewMemoryStore(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("session store: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		logger.Info("using redis session store", zap.Int("db", cfg.DB))
		return session.NewRedisStore(client), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store driver: %q", cfg.Driver)
	}
}

// buildHistoryStore creates the submission audit trail store named by the
// driver.
func buildHistoryStore(ctx context.Context, cfg config.HistoryConfig, logger *zap.Logger) (history.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory history store")
		return history.NewMemoryStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("history store: %s environment variable not set", cfg.DSNEnv)
		}
		store, err := history.NewPGStore(ctx, dsn, cfg)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using postgres history store")
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported history store driver: %q", cfg.Driver)
	}
}
