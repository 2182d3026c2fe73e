package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/mirador-sentinel/internal/alerting"
	"github.com/miradorstack/mirador-sentinel/internal/api"
	"github.com/miradorstack/mirador-sentinel/internal/baseline"
	"github.com/miradorstack/mirador-sentinel/internal/buffer"
	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/engine"
	"github.com/miradorstack/mirador-sentinel/internal/explain"
	"github.com/miradorstack/mirador-sentinel/internal/forest"
	"github.com/miradorstack/mirador-sentinel/internal/health"
	"github.com/miradorstack/mirador-sentinel/internal/ingest"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/notify"
	"github.com/miradorstack/mirador-sentinel/internal/services"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(utils.LogOptions{
		Level:      cfg.Logging.Level,
		JSON:       cfg.Logging.JSON,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	slog.SetDefault(logger)
	logger.Info("starting mirador-sentinel",
		slog.String("address", cfg.Server.Address),
		slog.String("http_address", cfg.Server.HTTPAddress),
		slog.Duration("window", cfg.Detection.Window),
		slog.Duration("tick", cfg.Detection.TickPeriod),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NewMemoryProvider()
	if cfg.Cache.Enabled {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
			KeyPrefix:    cfg.Cache.KeyPrefix,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, using in-process cache", slog.Any("error", err))
		} else {
			cacheProvider = provider
		}
	}
	defer cacheProvider.Close()

	ruleEngine, err := alerting.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}
	alertOpts := alerting.Options{
		Cooldown:    cfg.Alerts.Cooldown,
		DecayCount:  cfg.Alerts.DecayCount,
		HistorySize: cfg.Alerts.HistorySize,
	}
	if ruleEngine != nil {
		alertOpts.Recommender = ruleEngine
	}
	alerts, err := alerting.NewManager(alertOpts)
	if err != nil {
		logger.Error("failed to create alert manager", slog.Any("error", err))
		os.Exit(1)
	}

	buf := buffer.New(buffer.Options{
		Retention:     cfg.Detection.Retention,
		MaxFutureSkew: cfg.Detection.MaxFutureSkew,
	})

	deps := engine.Deps{
		Buffer: buf,
		Baseline: baseline.NewDetector(baseline.Options{
			Alpha:      cfg.Baseline.Alpha,
			ZThreshold: cfg.Baseline.ZThreshold,
			Warmup:     cfg.Baseline.WarmupCount,
			Epsilon:    cfg.Baseline.Epsilon,
		}),
		Forest: forest.NewDetector(forest.Options{
			Trees:          cfg.Forest.Trees,
			Subsample:      cfg.Forest.SubsampleSize,
			SampleCapacity: cfg.Forest.SampleCapacity,
			MinSamples:     cfg.Forest.MinSamples,
			Threshold:      cfg.Forest.AnomalyThreshold,
			Seed:           cfg.Forest.Seed,
		}),
		Health: health.NewAggregator(health.Weights{
			Error:    cfg.Health.ErrorWeight,
			Critical: cfg.Health.CriticalWeight,
			Anomaly:  cfg.Health.AnomalyWeight,
		}, cfg.Health.HistorySize),
		Alerts: alerts,
		Logger: logger,
	}

	notifiers := buildNotifiers(cfg.Notify, logger)
	var dispatcher *notify.Dispatcher
	if len(notifiers) > 0 {
		dispatcher = notify.NewDispatcher(notify.Options{
			QueueSize:     cfg.Notify.QueueSize,
			MaxRetries:    cfg.Notify.MaxRetries,
			RetryBackoff:  cfg.Notify.RetryBackoff,
			RatePerSecond: cfg.Notify.RatePerSecond,
			Burst:         cfg.Notify.Burst,
			DedupTTL:      cfg.Notify.DedupTTL,
			Cache:         cacheProvider,
			Logger:        logger,
		}, notifiers...)
		deps.Notifier = dispatcher
	} else {
		logger.Info("no notification channels configured; alerts are only exposed through the API")
	}

	var explainer *explain.Worker
	if cfg.Explain.Enabled {
		client, err := explain.NewClient(cfg.Explain.Endpoint, cfg.Explain.APIKey, cfg.Explain.Timeout)
		if err != nil {
			logger.Error("failed to create explain client", slog.Any("error", err))
			os.Exit(1)
		}
		explainer = explain.NewWorker(client, alerts, explain.Options{
			QueueSize:  cfg.Explain.QueueSize,
			Workers:    cfg.Explain.Workers,
			MaxRetries: cfg.Explain.MaxRetries,
			CacheTTL:   cfg.Explain.CacheTTL,
			Cache:      cacheProvider,
			Logger:     logger,
		})
		deps.Explainer = explainer
	}

	orchestrator, err := engine.NewOrchestrator(engine.Options{
		Window:          cfg.Detection.Window,
		TickPeriod:      cfg.Detection.TickPeriod,
		TickDeadline:    cfg.Detection.TickDeadline,
		RetrainPeriod:   cfg.Forest.RetrainPeriod,
		SummaryInterval: cfg.Notify.SummaryInterval,
		StaleAfter:      cfg.Health.StaleAfter,
		Parallelism:     cfg.Detection.Parallelism,
		ContextEvents:   cfg.Explain.ContextEvents,
		Thresholds: engine.Thresholds{
			ErrorRate:     cfg.Thresholds.ErrorRate,
			CriticalRate:  cfg.Thresholds.CriticalRate,
			ErrorCount:    cfg.Thresholds.ErrorCount,
			CriticalCount: cfg.Thresholds.CriticalCount,
			MinEvents:     cfg.Thresholds.MinEvents,
		},
	}, deps)
	if err != nil {
		logger.Error("failed to create orchestrator", slog.Any("error", err))
		os.Exit(1)
	}

	ingestor := ingest.New(buf, cfg.Server.MaxBatch, logger)
	monitorService := services.NewMonitorService(logger, orchestrator, ingestor, cfg.Server.MaxBatch)

	server, err := api.NewServer(cfg.Server, monitorService)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var httpServer *http.Server
	if cfg.Server.HTTPAddress != "" {
		httpServer = &http.Server{
			Addr: cfg.Server.HTTPAddress,
			Handler: api.NewHTTPHandler(api.HTTPOptions{
				Source:   orchestrator,
				Ingestor: ingestor,
				Gatherer: prometheus.DefaultGatherer,
				Logger:   logger,
			}),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- orchestrator.Run(ctx)
		stop()
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("detection loop stopped with error", slog.Any("error", err))
	}
	server.Shutdown(shutdownCtx)
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server shutdown", slog.Any("error", err))
		}
	}
	if explainer != nil {
		if err := explainer.Close(shutdownCtx); err != nil {
			logger.Warn("explain worker shutdown", slog.Any("error", err))
		}
	}
	if dispatcher != nil {
		if err := dispatcher.Close(shutdownCtx); err != nil {
			logger.Warn("notification dispatcher shutdown", slog.Any("error", err))
		}
	}

	logger.Info("mirador-sentinel stopped")
}

// buildNotifiers returns every channel with enough configuration to run. A channel that
// fails to initialise is logged and skipped; the engine keeps detecting without it.
func buildNotifiers(cfg config.NotifyConfig, logger *slog.Logger) []notify.Notifier {
	var out []notify.Notifier

	if cfg.Telegram.BotToken != "" || cfg.Telegram.ChatID != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.BaseURL, cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.Timeout)
		if err != nil {
			logger.Warn("telegram disabled", slog.Any("error", err))
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Telegram.Timeout)
			bot, err := tg.Check(ctx)
			cancel()
			if err != nil {
				logger.Warn("telegram bot check failed; sends will be retried", slog.Any("error", err))
			} else {
				logger.Info("telegram bot connected", slog.String("bot", bot))
			}
			out = append(out, tg)
		}
	}

	if cfg.Webhook.URL != "" {
		wh, err := notify.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Headers, cfg.Webhook.Timeout)
		if err != nil {
			logger.Warn("webhook disabled", slog.Any("error", err))
		} else {
			out = append(out, wh)
		}
	}

	if cfg.NATS.URL != "" {
		nc, err := notify.NewNATSNotifier(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			logger.Warn("nats disabled", slog.Any("error", err))
		} else {
			out = append(out, nc)
		}
	}

	return out
}
