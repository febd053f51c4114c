package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/mailmerge/internal/archive"
	"github.com/JonMunkholm/mailmerge/internal/assets"
	"github.com/JonMunkholm/mailmerge/internal/config"
	"github.com/JonMunkholm/mailmerge/internal/core"
	"github.com/JonMunkholm/mailmerge/internal/events"
	"github.com/JonMunkholm/mailmerge/internal/logging"
	"github.com/JonMunkholm/mailmerge/internal/render"
	"github.com/JonMunkholm/mailmerge/internal/storage"
	"github.com/JonMunkholm/mailmerge/internal/web"
)

func main() {
	// Overload so a local .env wins over the shell environment
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded", "config", cfg.String())

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := make(map[string]web.HealthCheck)

	var store core.RunStore = storage.NewMemoryRunStore(0)
	if cfg.Database.Enabled() {
		pool, err := connectDB(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		pg := storage.NewPostgresRunStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate run history: %w", err)
		}
		store = pg
		health["database"] = pool.Ping
	} else {
		logger.Info("no database configured, run history kept in memory")
	}

	var publisher core.ProgressPublisher
	if cfg.Redis.Enabled() {
		pub, err := events.NewPublisher(ctx, events.Config{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.ProgressTTL,
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		publisher = pub
		health["redis"] = pub.Health
		logger.Info("publishing progress to redis", "addr", cfg.Redis.Addr)
	}

	resolver := assets.NewResolver(assets.Options{
		MaxBytes: cfg.Assets.MaxImageBytes,
		CacheTTL: cfg.Assets.CacheTTL,
		Logger:   logger,
	}).Defaults(cfg.Assets.HTTPTimeout, cfg.Assets.BaseDir)

	var (
		sink      core.ExportSink
		downloads web.Downloads
	)
	switch strings.ToLower(cfg.Storage.Backend) {
	case "file":
		sink = storage.FileSink{Dir: cfg.Storage.Dir}
	case "s3":
		client, err := storage.NewS3Client(ctx, storage.S3Config{
			Region:          cfg.Storage.S3Region,
			Endpoint:        cfg.Storage.S3Endpoint,
			AccessKeyID:     cfg.Storage.S3AccessKey,
			SecretAccessKey: cfg.Storage.S3SecretKey,
			UsePathStyle:    cfg.Storage.S3UsePathStyle,
		})
		if err != nil {
			return err
		}
		sink = storage.NewS3Sink(client, cfg.Storage.S3Bucket, cfg.Storage.S3Prefix)
		resolver.Register("s3", assets.S3Fetcher{Client: client})
	default:
		mem := storage.NewMemorySink(cfg.Storage.Retention)
		sink, downloads = mem, mem
	}
	logger.Info("export storage ready", "backend", cfg.Storage.Backend)

	pipeline := &core.Pipeline{
		NewSurface:   render.NewSurface,
		Images:       resolver,
		Sink:         sink,
		NewBundle:    archive.Factory(archive.Options{}),
		Supports:     render.Supports,
		PollInterval: cfg.Generation.PollInterval,
		Logger:       logger,
	}

	service, err := core.NewService(core.Options{
		Pipeline:     pipeline,
		Store:        store,
		Publisher:    publisher,
		Limiter:      core.NewLoadLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		RunRetention: cfg.Generation.RunRetention,
		MaxRecords:   cfg.Generation.MaxRecords,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	server, err := web.NewServer(web.Options{
		Service:   service,
		Config:    cfg,
		Downloads: downloads,
		Supports:  render.Supports,
		Health:    health,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		service.StartRetentionScheduler(gctx, core.RetentionConfig{
			RetentionDays: cfg.History.RetentionDays,
			CheckInterval: cfg.History.CheckInterval,
		})
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := service.Limiter().Status(); status.Active > 0 {
			logger.Info("waiting for loads to complete", "active", status.Active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				logger.Warn("loads did not complete in time", "error", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
		return service.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func connectDB(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}
	return pool, nil
}
