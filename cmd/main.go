/*
Package main is the entry point for the Link Room server.

It loads configuration, initializes the global logger, builds the realtime substrate and
the room directory selected by the environment, serves the HTTP and WebSocket routes,
and shuts everything down gracefully on SIGINT or SIGTERM.
*/
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

	"linkroom/internal/app/directory"
	"linkroom/internal/app/realtime"
	"linkroom/internal/configs"
	"linkroom/internal/handler"
	"linkroom/internal/pkg/logx"
)

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.LogLevel)
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("realtime_backend", cfg.RealtimeBackend).
		Str("directory_backend", cfg.DirectoryBackend).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	substrate, rdb, err := newSubstrate(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to initialize realtime substrate")
	}

	dir, err := newDirectory(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to initialize room directory")
	}

	router := handler.Router(&handler.AppDeps{
		Config:    cfg,
		Directory: dir,
		Substrate: substrate,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logx.Info("Link Room server starting", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	if err := substrate.Close(); err != nil {
		logx.Error(err, "Failed to close realtime substrate")
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logx.Error(err, "Failed to close Redis client")
		}
	}
	if err := dir.Close(); err != nil {
		logx.Error(err, "Failed to close room directory")
	}

	logx.Info("Server gracefully stopped.")
}

// newSubstrate builds the configured realtime substrate. The Redis client is returned
// separately because the substrate does not own it.
func newSubstrate(ctx context.Context, cfg *configs.AppConfig) (realtime.Substrate, *redis.Client, error) {
	if cfg.RealtimeBackend != configs.BackendRedis {
		return realtime.NewHub(), nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logx.Info("Connected to Redis", "addr", opt.Addr)
	return realtime.NewRedis(rdb), rdb, nil
}

func newDirectory(ctx context.Context, cfg *configs.AppConfig) (directory.Directory, error) {
	switch cfg.DirectoryBackend {
	case configs.BackendPostgres:
		return directory.NewPostgres(ctx, cfg.DatabaseDSN)
	case configs.BackendS3:
		return directory.NewS3(ctx, directory.S3Config{
			BucketName:      cfg.S3BucketName,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	default:
		return directory.NewMemory(), nil
	}
}
