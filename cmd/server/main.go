package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maneesh/mediadrop/internal/auth"
	"github.com/maneesh/mediadrop/internal/config"
	"github.com/maneesh/mediadrop/internal/coordinator"
	"github.com/maneesh/mediadrop/internal/handlers"
	"github.com/maneesh/mediadrop/internal/logging"
	"github.com/maneesh/mediadrop/internal/resumable"
	"github.com/maneesh/mediadrop/internal/storage"
	"github.com/maneesh/mediadrop/internal/tracing"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("starting mediadrop service", "port", cfg.ServicePort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Options{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.JaegerEndpoint,
		Enabled:     cfg.TracingEnabled,
		SampleRatio: 1,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Error("error shutting down tracer", "error", err)
		}
	}()

	objects, err := openObjectStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	for _, bucket := range []string{cfg.TempBucket, cfg.VideoBucket, cfg.PhotoBucket} {
		if err := objects.EnsureBucket(ctx, bucket); err != nil {
			return fmt.Errorf("failed to ensure bucket %s: %w", bucket, err)
		}
	}

	logger.Info("connecting to redis", "addr", cfg.GetRedisAddr())
	redisClient, err := storage.NewRedisClient(ctx, cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("failed to initialize redis client: %w", err)
	}
	defer redisClient.Close()

	var sessions storage.SessionStore
	switch cfg.SessionBackend {
	case "memory":
		sessions = storage.NewMemorySessionStore()
	default:
		sessions = storage.NewRedisSessionStore(redisClient, cfg.SessionExpiry+cfg.SessionRetention)
	}
	logger.Info("session store ready", "backend", cfg.SessionBackend)

	logger.Info("connecting to record store", "driver", cfg.RecordDriver)
	records, err := storage.NewRecordStore(ctx, cfg.RecordDriver, cfg.GetDSN())
	if err != nil {
		return fmt.Errorf("failed to initialize record store: %w", err)
	}
	defer records.Close()
	if err := records.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate record store: %w", err)
	}

	coord := coordinator.New(objects, sessions, coordinator.Options{
		TempBucket:       cfg.TempBucket,
		VideoBucket:      cfg.VideoBucket,
		PhotoBucket:      cfg.PhotoBucket,
		MaxChunkBytes:    cfg.GetChunkSizeBytes(),
		SessionExpiry:    cfg.SessionExpiry,
		SessionRetention: cfg.SessionRetention,
	}, logger)

	thresholds := cfg.Thresholds()
	deps := handlers.RouterDeps{
		Media:  handlers.NewMediaHandler(records, redisClient, coord, logger),
		Tokens: auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL),
		Logger: logger,
		Health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"records": records.Ping,
			"redis":   redisClient.Ping,
			"objects": func(ctx context.Context) error {
				_, err := objects.ListObjects(ctx, cfg.TempBucket, "health/")
				return err
			},
		}),
	}
	if cfg.ResumableEnabled {
		srv, err := resumable.New(coord, resumable.Options{Dir: cfg.ResumableDir}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize resumable endpoint: %w", err)
		}
		deps.Resumable = srv.Handler()
		deps.ResumablePath = srv.BasePath()
		logger.Info("resumable uploads enabled", "path", srv.BasePath(), "dir", cfg.ResumableDir)
	}
	deps.Upload = handlers.NewUploadHandler(coord, thresholds, deps.ResumablePath, logger)

	go coordinator.NewSweeper(coord, cfg.SweepInterval, logger).Run(ctx)

	// Chunk and resumable bodies are large; only headers are bounded tightly.
	srv := &http.Server{
		Addr:              ":" + cfg.ServicePort,
		Handler:           handlers.NewRouter(deps),
		ReadTimeout:       10 * time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
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

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exited")
	return nil
}

func openObjectStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.ObjectStore, error) {
	switch cfg.StorageBackend {
	case "s3":
		logger.Info("connecting to s3", "region", cfg.S3Region, "endpoint", cfg.S3Endpoint)
		store, err := storage.NewS3Store(ctx, storage.S3Options{
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			UsePathStyle:  cfg.S3UsePathStyle,
			PublicBaseURL: cfg.PublicBaseURL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 client: %w", err)
		}
		return store, nil
	case "memory":
		logger.Warn("using in-memory object store, uploads are lost on restart")
		return storage.NewMemoryStore(cfg.PublicBaseURL), nil
	default:
		logger.Info("connecting to minio", "endpoint", cfg.MinIOEndpoint)
		store, err := storage.NewMinioClient(storage.MinioOptions{
			Endpoint:      cfg.MinIOEndpoint,
			AccessKey:     cfg.MinIOAccessKey,
			SecretKey:     cfg.MinIOSecretKey,
			UseSSL:        cfg.MinIOUseSSL,
			PublicBaseURL: cfg.PublicBaseURL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize minio client: %w", err)
		}
		return store, nil
	}
}
