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

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"timeline_sync/internal/broker"
	"timeline_sync/internal/config"
	"timeline_sync/internal/controller"
	"timeline_sync/internal/domain"
	"timeline_sync/internal/scheduler"
	"timeline_sync/internal/service"
	"timeline_sync/internal/source/httpapi"
	"timeline_sync/internal/storage/postgres"
	"timeline_sync/internal/storage/redisstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Setup logger
	logger := setupLogger("info")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	consumer, err := broker.NewConsumer(broker.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	snapshots, err := redisstore.NewSnapshotStore(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix, 0)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer snapshots.Close()

	// Initialize loader
	var source service.EntrySource
	switch cfg.Source.Kind {
	case config.SourceHTTP:
		source = httpapi.New(httpapi.Config{
			BaseURL:        cfg.Source.HTTP.BaseURL,
			Timeout:        cfg.Source.HTTP.Timeout,
			MaxAttempts:    cfg.Source.HTTP.Retry.MaxAttempts,
			InitialBackoff: cfg.Source.HTTP.Retry.InitialBackoff,
			MaxBackoff:     cfg.Source.HTTP.Retry.MaxBackoff,
		}, logger)
	default:
		source = postgres.NewEntryStore(db)
	}

	loader := service.NewLoader(
		source,
		postgres.NewPositionStore(db),
		postgres.NewTransactionManager(db, postgres.SnapshotRead),
		logger,
		cfg.Timeline,
	)

	view := &logView{logger: logger.With("feed", cfg.Timeline.FeedKey)}
	ctrl := controller.New(
		func(req domain.WindowRequest) controller.LoadSession { return loader.NewSession(req) },
		consumer,
		view,
		cfg.Timeline,
		logger,
	)
	view.entries = ctrl.Entries()

	restoreSnapshot(ctx, ctrl, snapshots, cfg.Timeline.FeedKey, logger)

	metricsServer := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting timeline controller",
		"feed", cfg.Timeline.FeedKey,
		"source", cfg.Source.Kind,
		"owners", cfg.Timeline.OwnerIDs,
		"refresh_interval", cfg.Timeline.RefreshInterval,
	)

	if err := ctrl.Start(ctx); err != nil {
		logger.Error("failed to start controller", "error", err)
		os.Exit(1)
	}

	sched := scheduler.NewScheduler(ctrl, cfg.Timeline.RefreshInterval, logger)
	schedErr := sched.Start(ctx)

	shutdown(ctrl, snapshots, metricsServer, cfg.Timeline.FeedKey, logger)

	if schedErr != nil && !errors.Is(schedErr, context.Canceled) {
		logger.Error("scheduler error", "error", schedErr)
		os.Exit(1)
	}
}

func restoreSnapshot(ctx context.Context, ctrl *controller.Controller, snapshots *redisstore.SnapshotStore, feedKey string, logger *slog.Logger) {
	entries, err := snapshots.Load(ctx, feedKey)
	if err != nil {
		logger.Warn("failed to load snapshot", "error", err)
		return
	}
	if err := ctrl.Restore(entries); err != nil {
		logger.Warn("failed to restore snapshot", "error", err)
	}
}

func shutdown(ctrl *controller.Controller, snapshots *redisstore.SnapshotStore, metricsServer *http.Server, feedKey string, logger *slog.Logger) {
	if err := ctrl.Close(); err != nil {
		logger.Warn("failed to stop controller", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries := ctrl.Snapshot()
	if err := snapshots.Save(ctx, feedKey, entries); err != nil {
		logger.Error("failed to save snapshot", "error", err)
	} else {
		logger.Info("saved snapshot", "entries", len(entries))
	}

	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop metrics server", "error", err)
	}
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
