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

	"github.com/starford/jotter/internal/api"
	"github.com/starford/jotter/internal/confwatch"
	"github.com/starford/jotter/internal/mcpserver"
	"github.com/starford/jotter/internal/models"
	"github.com/starford/jotter/internal/search"
	"github.com/starford/jotter/internal/sse"
	"github.com/starford/jotter/internal/storage"
	"github.com/starford/jotter/internal/storage/sqlite"
	"github.com/starford/jotter/internal/store"
	pkgconfig "github.com/starford/jotter/pkg/config"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger installs a JSON logger whose level can change at runtime.
func (a *application) newLogger() (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(a.config.App.LogLevel)
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger, level
}

// openBackend builds the storage backend selected by cfg.
func openBackend(cfg StorageConfig) (storage.Backend, error) {
	switch cfg.Driver {
	case DriverMemory:
		return storage.NewMemory(), nil
	case DriverFile:
		return storage.NewFS(cfg.Path)
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		return sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Run starts the HTTP application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger, level := app.newLogger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("storage_path", cfg.Storage.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	backend, err := openBackend(cfg.Storage)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer backend.Close()

	broker := sse.NewBroker(cfg.Events.Throttle, cfg.Events.KeepAlive)
	defer broker.Close()

	st, err := store.Open(ctx, backend, store.WithChangeFunc(func(kind string, n models.Note) {
		broker.PublishNoteEvent(kind, n.ID)
	}))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	logger.Info("Store opened", slog.Int("notes", st.Len()))

	handler := api.NewHandler(st, search.New(st))
	apiRouter := api.NewRouter(handler, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.CORS(api.CORSConfig{
		AllowedOrigins: cfg.App.CORS.AllowedOrigins,
		MaxAge:         cfg.App.CORS.MaxAge,
	}))

	// Health check endpoints.
	r.Get("/health/live", api.Live)
	r.Get("/health/ready", api.Ready(st))

	// Mount API routes under /api.
	r.With(api.RateLimit(cfg.App.RateLimit.RPS, cfg.App.RateLimit.Burst)).Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Follow log level changes in the config file.
	if app.configPath != "" {
		g.Go(func() error {
			err := confwatch.Watch(gCtx, app.configPath, confwatch.DefaultDebounce, logger, func() error {
				next := NewDefaultConfig()
				if err := pkgconfig.Load(app.configPath, next); err != nil {
					return err
				}
				if next.App.LogLevel != level.Level() {
					logger.Info("Log level changed",
						slog.String("from", level.Level().String()),
						slog.String("to", next.App.LogLevel.String()))
					level.Set(next.App.LogLevel)
				}
				return nil
			})
			if err != nil {
				logger.Warn("config watcher disabled", slog.String("error", err.Error()))
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
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Close the event stream first so open SSE connections do not hold
		// up the graceful shutdown.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.HTTP.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group context so the other goroutines stop once the
// server is down.
var errShutdown = errors.New("shutdown")

// RunMCP serves the note tools over MCP on stdin/stdout. Logs go to stderr
// unless redirected, since stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger, _ := app.newLogger()

	backend, err := openBackend(app.config.Storage)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer backend.Close()

	st, err := store.Open(ctx, backend)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	logger.Info("MCP server starting",
		slog.String("storage_driver", app.config.Storage.Driver),
		slog.Int("notes", st.Len()))

	return mcpserver.New(st, search.New(st), app.version).ServeStdio()
}
