package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notisync/internal/api"
	"notisync/internal/backoff"
	"notisync/internal/cache"
	"notisync/internal/channel"
	"notisync/internal/config"
	"notisync/internal/domain"
	"notisync/internal/events"
	"notisync/internal/export"
	"notisync/internal/google"
	"notisync/internal/logging"
	"notisync/internal/metrics"
	"notisync/internal/queue"
	"notisync/internal/repository"
	"notisync/internal/syncer"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventCache, err := cache.New(cfg.Cache.Path, logger)
	if err != nil {
		return err
	}
	defer eventCache.Close()

	eventBus := events.NewEventBus()
	counter := initSentCounter(ctx, cfg, logger)
	dispatcher, err := initChannels(cfg, logger)
	if err != nil {
		return err
	}

	queueService := queue.New(dispatcher, channel.Retryable, cfg.Delivery.PolicyFor, counter, eventBus, logger, queue.Options{
		Interval:          cfg.Queue.DispatchInterval(),
		DefaultMaxRetries: cfg.Queue.DefaultMaxRetries,
		Retry:             backoff.Default(),
	})
	go queueService.Start(ctx)
	go runCleanup(ctx, queueService, time.Duration(cfg.Queue.CleanupAfterHours)*time.Hour, logger)

	orchestrator, err := initSync(ctx, cfg, eventCache, eventBus, logger)
	if err != nil {
		return err
	}

	exporter := export.New(queueService, eventCache, cfg.Exports.Path, logger)

	if cfg.API.Enabled {
		apiServer := api.NewHTTPServer(cfg.API, queueService, orchestrator, eventCache, exporter, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			_ = apiServer.Shutdown(context.Background())
		}()
	}

	if cfg.Backup.Enabled {
		backupService := cache.NewBackupService(cfg.Cache.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	logger.Info().Str("environment", cfg.App.Environment).Msg("notisync started")
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "main").Logger()
	return cfg, logger, closer, nil
}

// initSentCounter строит счётчик отправок: Redis с фолбэком на память
// или только память.
func initSentCounter(ctx context.Context, cfg *config.Config, logger zerolog.Logger) domain.SentCounter {
	memory := repository.NewMemorySentCounter(time.Hour)
	if !cfg.Redis.Enabled {
		return memory
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable at startup, using in-memory counter with failover")
	}

	primary := repository.NewRedisSentCounter(client, time.Hour)
	return repository.NewFailoverSentCounter(primary, memory, &logger)
}

func initChannels(cfg *config.Config, logger zerolog.Logger) (*channel.Dispatcher, error) {
	dispatcher := channel.NewDispatcher(cfg.Queue.DispatchTimeout(), logger)

	for _, wc := range cfg.Channels.Webhooks {
		webhook, err := channel.NewWebhook(channel.WebhookConfig{
			Name:              wc.Name,
			URL:               wc.URL,
			Username:          wc.Username,
			AvatarURL:         wc.AvatarURL,
			Timeout:           time.Duration(wc.TimeoutSeconds) * time.Second,
			RetryAttempts:     wc.RetryAttempts,
			RetryDelay:        time.Duration(wc.RetryDelaySeconds) * time.Second,
			RequestsPerMinute: wc.RequestsPerMinute,
		}, logger)
		if err != nil {
			return nil, err
		}
		dispatcher.Register(webhook)
		logger.Info().Str("channel", wc.Name).Msg("webhook channel registered")
	}

	if cfg.Channels.Telegram.Enabled {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Channels.Telegram.BotToken)
		if err != nil {
			return nil, err
		}
		botAPI.Debug = cfg.Channels.Telegram.Debug
		dispatcher.Register(channel.NewTelegram(botAPI, logger))
		logger.Info().Str("bot", botAPI.Self.UserName).Msg("telegram channel registered")
	}

	return dispatcher, nil
}

// initSync подключает удалённый календарь и запускает авто-синк.
// Возвращает nil когда синхронизация выключена.
func initSync(ctx context.Context, cfg *config.Config, eventCache *cache.Cache, bus *events.EventBus, logger zerolog.Logger) (*syncer.Orchestrator, error) {
	if !cfg.Sync.Enabled {
		logger.Info().Msg("calendar sync disabled")
		return nil, nil
	}

	remote, err := google.NewCalendarService(cfg.Sync.CredentialsFile, cfg.Sync.CalendarID)
	if err != nil {
		return nil, err
	}

	testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := remote.TestConnection(testCtx); err != nil {
		logger.Warn().Err(err).Msg("calendar connection test failed, starting in degraded mode")
	}

	reconciler := syncer.NewReconciler(eventCache, remote, bus, logger)
	orchestrator := syncer.NewOrchestrator(eventCache, remote, reconciler, bus, logger)
	go orchestrator.StartAutoSync(ctx, cfg.Sync.AutoInterval(), cfg.Sync.WindowDays)

	return orchestrator, nil
}

func runCleanup(ctx context.Context, q *queue.Service, olderThan time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Cleanup(olderThan)
		}
	}
}
