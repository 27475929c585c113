package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/talimy/notify/job"
	"github.com/talimy/notify/mailer"
	"github.com/talimy/notify/notification"
	"github.com/talimy/notify/report"
	"github.com/talimy/notify/sms"
)

// ProcessorDeps carries everything the per-kind processors need.
type ProcessorDeps struct {
	Mailer        *mailer.Client
	SMS           *sms.Client
	Reports       *report.Client
	Notifications *notification.Service
	Logger        *slog.Logger
}

// RegisterProcessors binds one typed definition per job kind onto the
// registry. Payloads are re-validated here: a job written by an older
// producer (or replayed from the DLQ) must not reach a provider with a
// broken schema.
func RegisterProcessors(r *job.Registry, deps ProcessorDeps) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	job.RegisterDefinition(r, job.NewDefinition(JobEmailSend, func(ctx context.Context, p EmailJobPayload) error {
		if err := ValidateEmailPayload(p); err != nil {
			return err
		}
		// Notification fan-out emails skip silently when the provider is
		// not configured; other email kinds fail and retry.
		if p.Template == mailer.TemplateNotification && !deps.Mailer.Configured() {
			logger.Debug("notification email skipped, provider not configured",
				slog.String("tenant_id", p.TenantID),
				slog.Int("recipients", len(p.To)),
			)
			return nil
		}
		res, err := deps.Mailer.Send(ctx, mailer.SendInput{
			To:        p.To,
			Subject:   p.Subject,
			HTML:      p.HTML,
			Template:  p.Template,
			Variables: p.Variables,
		})
		if err != nil {
			return fmt.Errorf("process email job: %w", err)
		}
		logger.Info("email job processed",
			slog.String("tenant_id", p.TenantID),
			slog.Int("accepted", res.Accepted),
		)
		return nil
	}))

	job.RegisterDefinition(r, job.NewDefinition(JobSMSSend, func(ctx context.Context, p SMSJobPayload) error {
		if err := ValidateSMSPayload(p); err != nil {
			return err
		}
		if p.Template == sms.TemplateNotification && !deps.SMS.Configured() {
			logger.Debug("notification sms skipped, provider not configured",
				slog.String("tenant_id", p.TenantID),
				slog.Int("recipients", len(p.To)),
			)
			return nil
		}
		res, err := deps.SMS.Send(ctx, sms.SendInput{
			To:        p.To,
			Body:      p.Body,
			Template:  p.Template,
			Variables: p.Variables,
		})
		if err != nil {
			return fmt.Errorf("process sms job: %w", err)
		}
		logger.Info("sms job processed",
			slog.String("tenant_id", p.TenantID),
			slog.Int("accepted", res.Accepted),
		)
		return nil
	}))

	job.RegisterDefinition(r, job.NewDefinition(JobNotificationSend, func(ctx context.Context, p NotificationJobPayload) error {
		if err := ValidateNotificationPayload(p); err != nil {
			return err
		}
		res, err := deps.Notifications.Send(ctx, p.Actor, p.Payload)
		if err != nil {
			return fmt.Errorf("process notification job: %w", err)
		}
		logger.Info("notification job processed",
			slog.Int("created", res.Created),
			slog.Int("email_dispatched", res.EmailDispatched),
			slog.Int("sms_dispatched", res.SmsDispatched),
		)
		return nil
	}))

	job.RegisterDefinition(r, job.NewDefinition(JobReportGenerate, func(ctx context.Context, p ReportJobPayload) error {
		if err := ValidateReportPayload(p); err != nil {
			return err
		}
		rep, err := deps.Reports.Generate(ctx, report.GenerateInput{
			Title:  p.Title,
			Prompt: p.Prompt,
			Data:   p.Data,
		})
		if err != nil {
			return fmt.Errorf("process report job: %w", err)
		}
		logger.Info("report job processed",
			slog.String("tenant_id", p.TenantID),
			slog.String("title", rep.Title),
			slog.String("model", rep.Model),
		)
		return nil
	}))
}
