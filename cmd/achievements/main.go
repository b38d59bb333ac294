// cmd/achievements/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/FairForge/achievements/internal/api"
	"github.com/FairForge/achievements/internal/config"
	"github.com/FairForge/achievements/internal/gateway"
	"github.com/FairForge/achievements/internal/metadata"
	"github.com/FairForge/achievements/internal/metrics"
	"github.com/FairForge/achievements/internal/objstore"
)

func main() {
	configPath := flag.String("config", os.Getenv("ACHIEVEMENTS_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	config.LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	level := zap.NewAtomicLevel()
	setLevel(level, cfg.Server.LogLevel)
	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *configPath, level, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, configPath string, level zap.AtomicLevel, logger *zap.Logger) error {
	store, err := objstore.NewS3(ctx, objstore.S3Config{
		Endpoint:           cfg.Storage.Endpoint,
		Region:             cfg.Storage.Region,
		Bucket:             cfg.Storage.Bucket,
		AccessKey:          cfg.Storage.AccessKey,
		SecretKey:          cfg.Storage.SecretKey,
		UsePathStyle:       cfg.Storage.UsePathStyle,
		InsecureSkipVerify: cfg.Storage.InsecureSkipVerify,
	}, logger)
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}
	if cfg.Storage.CreateBucket {
		if err := store.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}
	}

	m := metrics.New()
	gw, err := gateway.New(store, metadata.NewIndex(), logger,
		gateway.WithUploadTTL(cfg.Grants.UploadTTL),
		gateway.WithDownloadTTL(cfg.Grants.DownloadTTL),
		gateway.WithDefaultContentType(cfg.Grants.DefaultContentType),
		gateway.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	health := api.NewHealthChecker(logger)
	health.RegisterCheck("object_store", store.HealthCheck)

	server := api.NewServer(cfg, logger, gw, health, m)

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, logger, func(next *config.Config) {
			setLevel(level, next.Server.LogLevel)
		})
		if err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
		} else {
			go watcher.Run(ctx)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func setLevel(level zap.AtomicLevel, name string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		l = zapcore.InfoLevel
	}
	level.SetLevel(l)
}
