package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"relay/internal/server/api"
	"relay/internal/server/config"
	"relay/internal/server/events"
	"relay/internal/server/history"
	"relay/internal/server/metrics"
	"relay/internal/server/registry"
	"relay/internal/server/service"
	"relay/internal/server/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Structured logging
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	slog.Info("configuration loaded",
		"version", version,
		"port", cfg.Server.Port,
		"storage_backend", cfg.Storage.Backend,
		"history_backend", cfg.History.Backend,
		"max_upload_bytes", cfg.Upload.MaxBytes,
		"ttl", cfg.Registry.TTL,
	)

	ctx := context.Background()

	// Initialize storage
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Metrics
	var (
		gatherer prometheus.Gatherer
		m        *metrics.Metrics
	)
	if cfg.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(promReg)
		gatherer = promReg
	}

	reg := registry.New(
		registry.WithMaxMintAttempts(cfg.Registry.MaxMintAttempts),
		registry.WithRetiredCapacity(cfg.Registry.RetiredCapacity, 0.001),
		registry.WithCollisionHook(func(namespace string) {
			m.Collision(namespace)
			slog.Warn("identifier collision, retrying", "namespace", namespace)
		}),
	)
	m.WatchRegistry(reg.Stats)

	// History
	hist, closeHistory, err := openHistory(ctx, cfg.History)
	if err != nil {
		return fmt.Errorf("failed to initialize history: %w", err)
	}
	defer closeHistory()

	// Events
	var publisher events.Publisher = events.Noop{}
	if cfg.NATS.URL != "" {
		nc, err := events.Connect(events.Options{
			URL:      cfg.NATS.URL,
			User:     cfg.NATS.User,
			Password: cfg.NATS.Password,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		publisher = events.NewNATSPublisher(nc, cfg.NATS.Subject)
		slog.Info("event publishing enabled", "subject", cfg.NATS.Subject)
	}
	defer publisher.Close()

	svc := service.NewTransferService(service.Deps{
		Store:          store,
		Registry:       reg,
		History:        hist,
		Events:         publisher,
		Metrics:        m,
		Logger:         logger,
		BaseURL:        cfg.Server.BaseURL,
		MaxUploadBytes: cfg.Upload.MaxBytes,
	})

	// Transfers never outlive the process, so start from an empty root.
	if err := svc.ResetStorage(ctx); err != nil {
		return fmt.Errorf("failed to reset storage: %w", err)
	}

	// Sessions
	secret := cfg.Session.Secret
	if secret == "" {
		secret = randomSecret()
		slog.Warn("session.secret not set, using a random secret; sessions will not survive restarts")
	}
	sessions, err := api.NewSessions(cfg.Session.CookieName, secret, cfg.Session.MaxAge)
	if err != nil {
		return err
	}

	// Start cleanup service
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	var cleanup *storage.CleanupService
	if cfg.Registry.TTL > 0 {
		cleanup = storage.NewCleanupService(svc, cfg.Registry.TTL, cfg.Registry.SweepInterval)
		cleanup.Start(cleanupCtx)
	}

	// Setup HTTP router
	handler := api.NewHandler(svc, cfg.Server.BaseURL, cfg.Upload.MaxBytes)
	e := api.SetupRouter(handler, cfg, sessions, gatherer)

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.Server.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig)
	case err := <-serverErr:
		return fmt.Errorf("server stopped: %w", err)
	}

	// Stop accepting new requests, finish in-flight ones
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop cleanup service
	cleanupCancel()
	if cleanup != nil {
		cleanup.Wait()
	}

	slog.Info("server exited cleanly")
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendMinio:
		store, err := storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Prefix:    cfg.Minio.Prefix,
			Region:    cfg.Minio.Region,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("object storage initialized", "endpoint", cfg.Minio.Endpoint, "bucket", cfg.Minio.Bucket)
		return store, nil
	default:
		slog.Info("file storage initialized", "path", cfg.Path)
		return storage.NewFileSystemStore(cfg.Path), nil
	}
}

func openHistory(ctx context.Context, cfg config.HistoryConfig) (history.Log, func(), error) {
	if cfg.Backend != config.BackendRedis {
		return history.NewMemoryLog(cfg.MaxRecords), func() {}, nil
	}

	client, err := history.DialRedis(ctx, history.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("history stored in redis", "addr", cfg.Redis.Addr)
	return history.NewRedisLog(client, cfg.MaxRecords, cfg.TTL), func() { client.Close() }, nil
}

func randomSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
