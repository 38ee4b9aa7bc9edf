package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/terra-clan/treetest-engine/internal/api"
	"github.com/terra-clan/treetest-engine/internal/cache"
	"github.com/terra-clan/treetest-engine/internal/cleanup"
	"github.com/terra-clan/treetest-engine/internal/config"
	"github.com/terra-clan/treetest-engine/internal/health"
	"github.com/terra-clan/treetest-engine/internal/metrics"
	"github.com/terra-clan/treetest-engine/internal/seed"
	"github.com/terra-clan/treetest-engine/internal/storage"
	"github.com/terra-clan/treetest-engine/internal/study"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.Level,
	}))
	slog.SetDefault(logger)

	slog.Info("starting treetest-engine",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"redis", cfg.Redis.Enabled,
	)

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	repo, err := openRepository(initCtx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector()
	opts := study.Options{
		StartDelay:     cfg.Navigation.StartDelay,
		DefaultMaxTime: cfg.Results.DefaultMaxTime,
		Metrics:        collector,
	}

	var checks []namedCheck
	if cfg.Redis.Enabled {
		client, err := cache.NewClient(initCtx, cache.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()

		opts.Cache = cache.NewRedisTreeCache(client, cfg.Redis.TreeCacheTTL)
		opts.Guard = cache.NewRedisSubmissionGuard(client, cfg.Redis.SubmissionGuardTTL)
		checks = append(checks, namedCheck{"redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
		slog.Info("redis connected successfully", "address", cfg.Redis.Address)
	}

	// Seed studies from fixtures
	if cfg.Seed.Dir != "" {
		if err := seed.ApplyDir(initCtx, repo, cfg.Seed.Dir); err != nil {
			slog.Error("failed to seed studies", "dir", cfg.Seed.Dir, "error", err)
			os.Exit(1)
		}
	}

	manager := study.NewService(repo, opts)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start cleanup worker
	cleanup.NewCleaner(manager, cfg.Cleanup.Interval, cfg.Navigation.IdleTimeout).Start(ctx)

	// Setup HTTP server
	server := api.NewServer(cfg.Server, manager, collector, cfg.Auth.AdminAPIKey)
	for _, c := range checks {
		server.RegisterCheck(c.name, health.CheckerFunc(c.check))
	}
	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gracefully...")

	// Cancel context to stop background workers
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := repo.Close(); err != nil {
		slog.Error("storage close error", "error", err)
	}

	slog.Info("treetest-engine stopped")
}

type namedCheck struct {
	name  string
	check func(ctx context.Context) error
}

// openRepository migrates and connects the configured storage driver
func openRepository(ctx context.Context, cfg config.StorageConfig) (storage.Repository, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory storage, data is lost on restart")
		return storage.NewMemoryRepository(), nil

	case config.DriverPostgres:
		slog.Info("running database migrations", "dir", cfg.MigrationsDir)
		if err := storage.MigrateFromDSN(ctx, cfg.DSN, storage.MigrationSource(cfg.MigrationsDir)); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:          cfg.DSN,
			MaxOpenConns: int32(cfg.MaxOpenConns),
			MaxIdleConns: int32(cfg.MaxIdleConns),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create database repository: %w", err)
		}
		slog.Info("database connected successfully")
		return repo, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
