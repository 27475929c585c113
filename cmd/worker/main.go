// The worker process runs queue consumers only: no HTTP surface, no
// websocket gateway. It exists so deployments can scale job processing
// independently of the API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/talimy/notify"
	"github.com/talimy/notify/job"
	"github.com/talimy/notify/jobs"
	"github.com/talimy/notify/mailer"
	"github.com/talimy/notify/notification"
	"github.com/talimy/notify/report"
	"github.com/talimy/notify/sms"
	"github.com/talimy/notify/store/postgres"
	"github.com/talimy/notify/topology"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("worker process failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := notify.ResolveConfig()
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	// The QUEUE_WORKERS_ENABLED toggle governs the API process; a
	// dedicated worker exists to consume and always does.
	cfg.WorkersEnabled = true

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.New(ctx, cfg.DatabaseURL, postgres.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	controller := topology.NewController(ctx, cfg, topology.WithLogger(logger))
	defer controller.Stop(context.Background())
	if !controller.ConsumersEnabled() {
		return errors.New("no reachable broker, nothing to consume")
	}

	mailClient := mailer.NewClient(cfg.ResendAPIKey, cfg.ResendFromEmail, cfg.ResendBaseURL,
		mailer.WithLogger(logger))
	smsClient := sms.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber,
		cfg.TwilioBaseURL, sms.WithLogger(logger))
	reportClient := report.NewClient(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL,
		report.WithLogger(logger))

	// Fan-out replays re-enqueue their email/sms channels as jobs so the
	// per-queue retry policy applies to each channel independently.
	producer := controller.Producer()
	svc := notification.NewService(store, store,
		notification.WithEmailSender(jobs.EmailDispatcher{Producer: producer}),
		notification.WithSMSSender(jobs.SMSDispatcher{Producer: producer}),
		notification.WithLogger(logger),
	)

	registry := job.NewRegistry()
	jobs.RegisterProcessors(registry, jobs.ProcessorDeps{
		Mailer:        mailClient,
		SMS:           smsClient,
		Reports:       reportClient,
		Notifications: svc,
		Logger:        logger,
	})
	if err := controller.StartConsumers(ctx, registry); err != nil {
		return fmt.Errorf("start consumers: %w", err)
	}
	logger.Info("queue consumers running", slog.Any("queues", job.Queues()))

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return controller.Stop(shutdownCtx)
}
