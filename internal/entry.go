// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/ai/offline"
	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/cache"
	"github.com/starford/ansuz/internal/expand"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/pipeline"
	"github.com/starford/ansuz/internal/progress"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/studyservice"
)

// core bundles the wired application components shared by the HTTP server
// and the MCP server.
type core struct {
	svc    *studyservice.Service
	store  *cache.Store
	broker *progress.Broker
	jobs   *pipeline.Registry
	local  *storage.FS
	hybrid *storage.Hybrid // nil when no remote backend is configured
	db     *cache.DB
}

func (c *core) close() {
	c.broker.Close()
	_ = c.db.Close()
}

// buildCore wires storage, cache, pipeline, and services from config.
func buildCore(ctx context.Context, app *application, logger *slog.Logger) (*core, error) {
	cfg := app.config

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	local, err := storage.NewFS(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	var backend storage.Backend = local
	var hybrid *storage.Hybrid
	if cfg.Storage.Redis.Configured() {
		remote := storage.NewRedis(cfg.Storage.Redis.Addr, cfg.Storage.Redis.Password, cfg.Storage.Redis.DB)
		hybrid = storage.NewHybrid(local, remote, logger)
		backend = hybrid
	}

	db, err := cache.Open(cfg.Cache.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("init cache index: %w", err)
	}

	store := cache.NewStore(backend, db, logger)
	if err := store.SyncIndex(ctx); err != nil {
		logger.Warn("initial cache sync failed", slog.String("error", err.Error()))
	}

	suite := offline.Suite()
	if app.suite != nil {
		suite = *app.suite
	}

	broker := progress.NewBroker()
	jobs := pipeline.NewRegistry(cfg.Jobs.TTL(), broker, logger)
	orch := pipeline.NewOrchestrator(store, backend, suite, jobs, broker, logger)
	expander := expand.NewService(store, suite.Expander, logger)
	svc := studyservice.NewService(orch, jobs, store, expander, backend)

	return &core{
		svc:    svc,
		store:  store,
		broker: broker,
		jobs:   jobs,
		local:  local,
		hybrid: hybrid,
		db:     db,
	}, nil
}

func newLogger(cfg *Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

func applyOptions(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := applyOptions(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(cfg)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("data_dir", cfg.Storage.DataDir),
		slog.String("index_path", cfg.Cache.IndexPath),
		slog.Bool("remote_backend", cfg.Storage.Redis.Configured()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := buildCore(ctx, app, logger)
	if err != nil {
		return err
	}
	defer c.close()

	apiRouter := api.NewRouter(c.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, c.broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Evict finished jobs after their TTL.
	g.Go(func() error {
		return c.jobs.Janitor(gCtx)
	})

	// Watch the shared cache directory for out-of-band changes, but only
	// while operations actually land on local disk.
	if cfg.Cache.Watch && (c.hybrid == nil || c.hybrid.IsLocal(gCtx)) {
		cacheRoot := filepath.Join(c.local.Root(), "shared", "cache")
		g.Go(func() error {
			if err := cache.Watch(gCtx, c.store, cacheRoot, logger); err != nil {
				logger.Warn("cache watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP server on stdio with the given options.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := applyOptions(opts)
	if err != nil {
		return err
	}
	// Logs go to stderr: stdout carries the MCP protocol.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	slog.SetDefault(logger)

	c, err := buildCore(ctx, app, logger)
	if err != nil {
		return err
	}
	defer c.close()

	return mcpserver.New(c.svc).ServeStdio()
}
