// The api process serves the HTTP and websocket surface, produces
// background jobs, and runs queue consumers when QUEUE_WORKERS_ENABLED
// allows it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/talimy/notify"
	"github.com/talimy/notify/httpapi"
	"github.com/talimy/notify/job"
	"github.com/talimy/notify/jobs"
	"github.com/talimy/notify/mailer"
	"github.com/talimy/notify/notification"
	"github.com/talimy/notify/realtime"
	"github.com/talimy/notify/report"
	"github.com/talimy/notify/sms"
	"github.com/talimy/notify/store/postgres"
	"github.com/talimy/notify/topology"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("api process failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := notify.ResolveConfig()
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

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
	producer := controller.Producer()

	mailClient := mailer.NewClient(cfg.ResendAPIKey, cfg.ResendFromEmail, cfg.ResendBaseURL,
		mailer.WithLogger(logger))
	smsClient := sms.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber,
		cfg.TwilioBaseURL, sms.WithLogger(logger))
	reportClient := report.NewClient(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL,
		report.WithLogger(logger))

	gateway := realtime.NewGateway(proxyAuthenticator{}, realtime.WithGatewayLogger(logger))

	// Fan-out dispatch prefers the queue; without a broker it calls the
	// providers inline (and skips silently when they lack credentials).
	var emailSender notification.EmailSender = inlineEmailSender{client: mailClient}
	var smsSender notification.SMSSender = inlineSMSSender{client: smsClient}
	if producer.Enabled() {
		emailSender = jobs.EmailDispatcher{Producer: producer}
		smsSender = jobs.SMSDispatcher{Producer: producer}
	}

	svc := notification.NewService(store, store,
		notification.WithGateway(gateway),
		notification.WithEmailSender(emailSender),
		notification.WithSMSSender(smsSender),
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

	apiServer := httpapi.NewServer(svc,
		httpapi.WithWebsocket(gateway),
		httpapi.WithDeadLetters(controller.DLQ()),
		httpapi.WithLogger(logger),
	)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiServer.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", slog.String("error", err.Error()))
	}
	if err := controller.Stop(shutdownCtx); err != nil {
		logger.Warn("consumer shutdown incomplete", slog.String("error", err.Error()))
	}
	return nil
}

// proxyAuthenticator trusts the upstream auth proxy: after verifying the
// client session, the proxy re-issues the websocket token as
// "tenantId:userId". The same trust boundary as the HTTP identity
// headers.
type proxyAuthenticator struct{}

func (proxyAuthenticator) Authenticate(_ context.Context, token string) (realtime.Identity, error) {
	tenantID, userID, ok := strings.Cut(token, ":")
	if !ok || tenantID == "" || userID == "" {
		return realtime.Identity{}, errors.New("malformed identity token")
	}
	return realtime.Identity{TenantID: tenantID, UserID: userID}, nil
}

// inlineEmailSender dispatches fan-out email directly through the
// provider when no queue is available.
type inlineEmailSender struct {
	client *mailer.Client
}

func (s inlineEmailSender) SendNotificationEmail(ctx context.Context, _ string, to []string, title, message string) error {
	_, err := s.client.SendNotificationEmails(ctx, to, title, message)
	return err
}

type inlineSMSSender struct {
	client *sms.Client
}

func (s inlineSMSSender) SendNotificationSMS(ctx context.Context, _ string, to []string, message string) error {
	_, err := s.client.SendNotificationSMS(ctx, to, message)
	return err
}
