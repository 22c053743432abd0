package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"mailer/internal/config"
	"mailer/internal/consumer"
	"mailer/internal/database"
	"mailer/internal/handlers"
	"mailer/internal/metrics"
	"mailer/internal/processor"
	"mailer/internal/router"
	"mailer/internal/sender/async"
	"mailer/internal/sender/email"
	"mailer/internal/sender/emaillog"
	"mailer/internal/sender/slack"
	"mailer/internal/sender/webhook"
)

// run wires the service together and blocks until ctx is cancelled or a
// component fails. Shutdown order: HTTP server, async dispatcher, Kafka
// processor, then the event store and metrics publisher so late delivery
// events are still recorded.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	sinkCtx, stopSinks := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSinks()
	var sinks errgroup.Group

	prom := metrics.NewPrometheus()
	recorders := []metrics.Recorder{prom}

	if cfg.Redis.Addr != "" {
		logger.Info("Connecting to Redis", "addr", cfg.Redis.Addr)
		rdb, err := metrics.ConnectRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rdb.Close()

		collector := metrics.NewCollector("mailer", rdb)
		collector.SetReportInterval(cfg.Redis.ReportInterval)
		recorders = append(recorders, metrics.NewCollectorAdapter(collector))
		sinks.Go(func() error { return collector.Run(sinkCtx) })
	}
	rec := metrics.NewMulti(recorders...)

	var store *database.EventStore
	var eventSinks []emaillog.Sink
	if cfg.Postgres.DSN != "" {
		logger.Info("Connecting to PostgreSQL database", "dsn", config.MaskDSN(cfg.Postgres.DSN))
		db, err := database.NewDB(cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		store = database.NewEventStore(db, cfg.Postgres.EventBuffer, logger)
		eventSinks = append(eventSinks, store)
		sinks.Go(func() error { return store.Run(sinkCtx) })
	}
	alerts, err := newAlertNotifiers(cfg, logger)
	if err != nil {
		return err
	}
	for _, n := range alerts {
		eventSinks = append(eventSinks, n)
		sinks.Go(func() error { return n.Run(sinkCtx) })
	}
	events := emaillog.New(logger, eventSinks...)

	policy, err := cfg.RetryPolicy()
	if err != nil {
		return err
	}
	client, err := email.NewClient(ctx, cfg.EmailClientConfig(),
		email.WithEventLogger(events),
		email.WithMetrics(rec),
		email.WithLogger(logger),
		email.WithPolicy(policy),
	)
	if err != nil {
		return fmt.Errorf("failed to create email client: %w", err)
	}
	email.SetDefault(client)
	logger.Info("Email client ready", "mode", client.Mode())

	dispatcher := async.New(logger,
		async.WithEventLogger(events),
		async.WithMetrics(rec),
		async.WithMaxInFlight(cfg.Async.MaxInFlight),
	)
	async.SetDefault(dispatcher)

	auth := handlers.NewHeaderAuth(cfg.Auth.AdminEmails)
	handlerOpts := []handlers.Option{
		handlers.WithAuth(auth, auth, auth),
		handlers.WithLogger(logger),
	}
	if store != nil {
		handlerOpts = append(handlerOpts, handlers.WithEventReader(store))
	}
	h := handlers.NewHandlers(client, dispatcher, cfg.Branding(), handlerOpts...)
	r := router.NewRouter(h,
		router.WithMetrics(rec, prom.Handler()),
		router.WithLogger(logger),
	)
	server := router.NewServer(cfg.HTTP.Port, r, router.Timeouts{
		Read:  cfg.HTTP.ReadTimeout,
		Write: cfg.HTTP.WriteTimeout,
	})

	processorDone := make(chan struct{})
	if cfg.KafkaEnabled() {
		proc, closeKafka, err := newProcessor(cfg, client, rec, logger)
		if err != nil {
			return err
		}
		defer closeKafka()
		g.Go(func() error {
			defer close(processorDone)
			return proc.Run(gctx)
		})
	} else {
		close(processorDone)
	}

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", "error", err)
		}

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Async.DrainTimeout)
		defer cancelDrain()
		if err := dispatcher.Shutdown(drainCtx); err != nil {
			logger.Warn("Background sends still running at shutdown", "error", err)
		}

		<-processorDone
		stopSinks()
		return nil
	})

	err = g.Wait()
	stopSinks()
	if sinkErr := sinks.Wait(); sinkErr != nil {
		logger.Error("Background sink stopped with error", "error", sinkErr)
	}
	if store != nil && store.Dropped() > 0 {
		logger.Warn("Delivery events dropped by the event store", "count", store.Dropped())
	}
	return err
}

// newAlertNotifiers builds the configured failure alert webhooks.
func newAlertNotifiers(cfg *config.Config, logger *slog.Logger) ([]*webhook.Notifier, error) {
	var notifiers []*webhook.Notifier
	if cfg.Alerts.WebhookURL != "" {
		n, err := webhook.NewNotifier(cfg.Alerts.WebhookURL, cfg.App.Name, webhook.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("alert webhook: %w", err)
		}
		notifiers = append(notifiers, n)
		logger.Info("Failure alerts enabled", "notifier", "webhook")
	}
	if cfg.Alerts.SlackWebhookURL != "" {
		n, err := slack.NewNotifier(cfg.Alerts.SlackWebhookURL, cfg.App.Name, webhook.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("slack alerts: %w", err)
		}
		notifiers = append(notifiers, n)
		logger.Info("Failure alerts enabled", "notifier", "slack", "webhook_url", slack.MaskURL(cfg.Alerts.SlackWebhookURL))
	}
	return notifiers, nil
}

// newProcessor connects the Kafka consumer and optional dead-letter writer.
// The returned func closes both.
func newProcessor(cfg *config.Config, client *email.Client, rec metrics.Recorder, logger *slog.Logger) (*processor.Processor, func(), error) {
	logger.Info("Connecting to Kafka consumer", "topic", cfg.Kafka.Topic, "group_id", cfg.Kafka.GroupID)
	kafkaConsumer, err := consumer.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	closers := []func() error{kafkaConsumer.Close}

	opts := []processor.Option{
		processor.WithWorkers(cfg.Kafka.Workers),
		processor.WithMetrics(rec),
		processor.WithBranding(cfg.Branding()),
		processor.WithLogger(logger),
	}
	if cfg.Kafka.DeadLetterTopic != "" {
		dl, err := consumer.NewDeadLetter(cfg.Kafka.Brokers, cfg.Kafka.DeadLetterTopic)
		if err != nil {
			kafkaConsumer.Close()
			return nil, nil, fmt.Errorf("failed to create dead letter writer: %w", err)
		}
		closers = append(closers, dl.Close)
		opts = append(opts, processor.WithDeadLetter(dl))
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Error("Failed to close kafka client", "error", err)
			}
		}
	}
	return processor.New(kafkaConsumer, client, opts...), closeAll, nil
}
