package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"intake-bot/internal/cache"
	"intake-bot/internal/config"
	"intake-bot/internal/convo"
	"intake-bot/internal/handlers"
	"intake-bot/internal/httpserver"
	"intake-bot/internal/logging"
	"intake-bot/internal/metrics"
	"intake-bot/internal/notify"
	"intake-bot/internal/repo"
	"intake-bot/internal/review"
	"intake-bot/internal/sheet"
	"intake-bot/internal/storage"
	"intake-bot/internal/wa"
	"intake-bot/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting intake-bot", "env", cfg.AppEnv, "postgres", cfg.UsePostgres())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := repo.Open(ctx, repo.Config{
		DatabaseURL: cfg.DatabaseURL,
		Schema:      cfg.DatabaseSchema,
		SQLitePath:  cfg.SQLitePath,
	}, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	deps := httpserver.Dependencies{Repository: repository}
	handlerOpts := handlers.Options{DedupTTL: cfg.DedupTTL, Metrics: metricRegistry}
	if cfg.RedisAddr != "" {
		redisClient := cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
		deps.Cache = redisClient
		handlerOpts.Deduper = redisClient
	} else {
		logger.Info("REDIS_ADDR not set, message dedup and stats cache disabled")
	}

	media, err := storage.NewLocal(cfg.MediaDir, logger)
	if err != nil {
		return fmt.Errorf("init media storage: %w", err)
	}

	var ledger convo.Ledger
	if cfg.LedgerPath != "" {
		l, err := sheet.NewLedger(cfg.LedgerPath, logger)
		if err != nil {
			return fmt.Errorf("init ledger: %w", err)
		}
		ledger = l
	}

	waClient, err := wa.New(ctx, wa.Config{
		StorePath: cfg.WhatsAppStorePath,
		LogLevel:  cfg.WhatsAppLogLevel,
		Metrics:   metricRegistry,
	}, logger)
	if err != nil {
		return fmt.Errorf("init whatsapp client: %w", err)
	}
	defer waClient.Close()
	deps.Chat = waClient

	notifier, err := notify.NewWhatsApp(waClient, cfg.ReviewerJID, logger)
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}

	engine := convo.New(repository, media, ledger, notifier, metricRegistry, logger, convo.EngineConfig{
		OrganizationName: cfg.OrganizationName,
		MaxMediaBytes:    cfg.MediaMaxBytes,
	})
	waClient.SetMessageProcessor(handlers.NewMessageHandler(engine, waClient, waClient, logger, handlerOpts))
	deps.Reviewer = review.New(repository, notifier, metricRegistry, logger)

	waCtx, waCancel := context.WithCancel(ctx)
	defer waCancel()
	go func() {
		if err := waClient.Start(waCtx); err != nil {
			logger.Error("whatsapp client stopped", "error", err)
			stop()
		}
	}()

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, deps, httpserver.Options{
		BasePath:   cfg.PublicBasePath,
		AdminToken: cfg.AdminToken,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
