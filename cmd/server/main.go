// Content Pipeline - AI content creation server
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/contentpipeline/internal/api"
	"github.com/ashureev/contentpipeline/internal/capability"
	"github.com/ashureev/contentpipeline/internal/config"
	"github.com/ashureev/contentpipeline/internal/events"
	"github.com/ashureev/contentpipeline/internal/metrics"
	"github.com/ashureev/contentpipeline/internal/middleware"
	"github.com/ashureev/contentpipeline/internal/pipeline"
	"github.com/ashureev/contentpipeline/internal/registry"
	"github.com/ashureev/contentpipeline/internal/scheduler"
	"github.com/ashureev/contentpipeline/internal/shared"
	"github.com/ashureev/contentpipeline/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// logLevel is raised or lowered once configuration is loaded.
var logLevel = new(slog.LevelVar)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := newRootCmd(logger).ExecuteContext(context.Background()); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "contentpipeline",
		Short:         "AI content creation pipeline server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), logger)
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the background scheduler",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), logger)
			},
		},
		&cobra.Command{
			Use:   "snapshot",
			Short: "Take and persist one metric snapshot, then exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runSnapshot(cmd.Context(), logger)
			},
		},
		&cobra.Command{
			Use:   "agents",
			Short: "Print the agent table",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				return printAgents(cmd, cfg.AgentsFile)
			},
		},
	)
	return root
}

func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logLevel.Set(cfg.LogLevel)
	return cfg, nil
}

func storeOptions(cfg *config.Config, maxOpen int) store.Options {
	return store.Options{
		MaxOpenConns: maxOpen,
		Retry: shared.RetryPolicy{
			MaxAttempts: cfg.Retry.DatabaseMaxRetries,
			BaseDelay:   cfg.Retry.DatabaseRetryBaseDelay,
		},
	}
}

func openStore(ctx context.Context, cfg *config.Config, maxOpen int) (*store.SQLiteStore, error) {
	repo, err := store.NewSQLite(cfg.DB.Path, storeOptions(cfg, maxOpen))
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	return repo, nil
}

// newProducer connects to the remote capability when one is configured and
// falls back to the built-in template producer otherwise.
func newProducer(cfg *config.Config, logger *slog.Logger) (capability.Producer, func()) {
	if cfg.CapabilityAddr == "" {
		slog.Info("Using built-in content producer")
		return capability.NewTemplate(), func() {}
	}

	slog.Info("Connecting to remote content capability", "address", cfg.CapabilityAddr)
	client, err := capability.NewGrpcClient(capability.DefaultGrpcClientConfig(cfg.CapabilityAddr), logger)
	if err != nil {
		slog.Warn("Remote capability unavailable, using built-in producer", "error", err)
		return capability.NewTemplate(), func() {}
	}
	return client, client.Close
}

func runServe(ctx context.Context, logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("Starting server", "port", cfg.Port, "db_path", cfg.DB.Path)

	reg, err := registry.Load(cfg.AgentsFile)
	if err != nil {
		return fmt.Errorf("load agent table: %w", err)
	}
	slog.Info("Agent table loaded", "agents", reg.Len(), "active", reg.ActiveCount())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openStore(ctx, cfg, cfg.DB.MaxOpenConns)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Database connected")

	// The scheduler gets its own pool so snapshot writes never take request connections.
	snapRepo, err := openStore(ctx, cfg, cfg.DB.SnapshotMaxOpenConns)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := snapRepo.Close(); closeErr != nil {
			slog.Error("Failed to close snapshot repository", "error", closeErr)
		}
	}()

	producer, closeProducer := newProducer(cfg, logger)
	defer closeProducer()

	hub := events.NewHub(128, 64)
	counters := pipeline.NewCounters(time.Now().UTC())

	opts := pipeline.OptionsFromConfig(cfg)
	opts.Events = hub
	opts.Logger = logger
	orch := pipeline.New(repo, reg, producer, counters, opts)
	agg := metrics.NewAggregator(reg, counters, nil)

	sched := scheduler.New(agg, snapRepo, orch, scheduler.Options{
		SnapshotInterval:  cfg.Schedule.SnapshotInterval,
		ReconcileInterval: cfg.Schedule.ReconcileInterval,
		Retry: shared.RetryPolicy{
			MaxAttempts: cfg.Retry.DatabaseMaxRetries,
			BaseDelay:   cfg.Retry.DatabaseRetryBaseDelay,
		},
		WriteTimeout: cfg.Timeout.StageWrite,
		Events:       hub,
		Logger:       logger,
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, orch, reg, agg, cfg)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	api.NewHealthHandler(baseHandler).RegisterHealth(r)
	api.NewSystemHandler(baseHandler).RegisterRoutes(r)
	api.NewContentHandler(baseHandler).RegisterRoutes(r)
	r.Method(http.MethodGet, "/ws/events", events.NewWebSocketHandler(hub, wsOriginPatterns(cfg.AllowedOrigins)))

	// Event streams are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}

// runSnapshot persists one snapshot. A fresh process has no in-memory stage
// history, so the content counter is first lifted to the persisted row count.
func runSnapshot(ctx context.Context, logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := registry.Load(cfg.AgentsFile)
	if err != nil {
		return fmt.Errorf("load agent table: %w", err)
	}

	repo, err := openStore(ctx, cfg, cfg.DB.SnapshotMaxOpenConns)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	persisted, err := repo.CountContentSince(ctx, time.Time{})
	if err != nil {
		return fmt.Errorf("count content: %w", err)
	}
	counters := pipeline.NewCounters(time.Now().UTC())
	counters.RaiseContentCreated(persisted)

	sched := scheduler.New(metrics.NewAggregator(reg, counters, nil), repo, nil, scheduler.Options{
		Retry: shared.RetryPolicy{
			MaxAttempts: cfg.Retry.DatabaseMaxRetries,
			BaseDelay:   cfg.Retry.DatabaseRetryBaseDelay,
		},
		WriteTimeout: cfg.Timeout.StageWrite,
		Logger:       logger,
	})
	return sched.SnapshotTick(ctx)
}

func printAgents(cmd *cobra.Command, agentsFile string) error {
	reg, err := registry.Load(agentsFile)
	if err != nil {
		return fmt.Errorf("load agent table: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{
		"agents":        reg.List(),
		"active_agents": reg.ActiveCount(),
	})
}

// wsOriginPatterns converts CORS origins into websocket origin host patterns.
func wsOriginPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			out = append(out, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}
