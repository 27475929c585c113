package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/talimy/notify"
	"github.com/talimy/notify/job"
	"github.com/talimy/notify/notification"
)

// Producer validates payloads and enqueues them on the named queues. A
// producer with a nil store is disabled: every enqueue fails with
// notify.ErrNoQueue, and callers that can degrade (fan-out dispatch)
// fall back to their inline path.
type Producer struct {
	store  job.Store
	logger *slog.Logger
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithProducerLogger sets the producer logger.
func WithProducerLogger(l *slog.Logger) ProducerOption {
	return func(p *Producer) { p.logger = l }
}

// NewProducer creates a producer. Pass a nil store for the disabled
// no-op variant used when no broker is configured.
func NewProducer(store job.Store, opts ...ProducerOption) *Producer {
	p := &Producer{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enabled reports whether a broker-backed store is attached.
func (p *Producer) Enabled() bool { return p.store != nil }

func (p *Producer) enqueue(ctx context.Context, queue, name, tenantID string, payload any, opts ...job.Option) (*job.Job, error) {
	if p.store == nil {
		return nil, fmt.Errorf("jobs: enqueue %s: %w", name, notify.ErrNoQueue)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode %s payload: %w", name, err)
	}

	j := job.New(queue, name, tenantID, raw, opts...)
	if err := p.store.EnqueueJob(ctx, j); err != nil {
		return nil, fmt.Errorf("jobs: enqueue %s: %w", name, err)
	}
	p.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", name),
		slog.String("queue", queue),
		slog.String("tenant_id", tenantID),
	)
	return j, nil
}

// EnqueueEmail validates and enqueues an email job.
func (p *Producer) EnqueueEmail(ctx context.Context, payload EmailJobPayload, opts ...job.Option) (*job.Job, error) {
	if err := ValidateEmailPayload(payload); err != nil {
		return nil, err
	}
	return p.enqueue(ctx, job.QueueEmails, JobEmailSend, payload.TenantID, payload, opts...)
}

// EnqueueSMS validates and enqueues an sms job.
func (p *Producer) EnqueueSMS(ctx context.Context, payload SMSJobPayload, opts ...job.Option) (*job.Job, error) {
	if err := ValidateSMSPayload(payload); err != nil {
		return nil, err
	}
	return p.enqueue(ctx, job.QueueSMS, JobSMSSend, payload.TenantID, payload, opts...)
}

// EnqueueNotification validates and enqueues a fan-out replay job.
func (p *Producer) EnqueueNotification(ctx context.Context, payload NotificationJobPayload, opts ...job.Option) (*job.Job, error) {
	if err := ValidateNotificationPayload(payload); err != nil {
		return nil, err
	}
	tenantID := payload.Payload.TenantID
	if tenantID == "" {
		tenantID = payload.Actor.TenantID
	}
	return p.enqueue(ctx, job.QueueNotifications, JobNotificationSend, tenantID, payload, opts...)
}

// EnqueueReport validates and enqueues a report generation job.
func (p *Producer) EnqueueReport(ctx context.Context, payload ReportJobPayload, opts ...job.Option) (*job.Job, error) {
	if err := ValidateReportPayload(payload); err != nil {
		return nil, err
	}
	return p.enqueue(ctx, job.QueueReports, JobReportGenerate, payload.TenantID, payload, opts...)
}

// EmailDispatcher adapts the producer to notification.EmailSender: the
// fan-out's email channel becomes an emails-queue job.
type EmailDispatcher struct {
	Producer *Producer
}

func (d EmailDispatcher) SendNotificationEmail(ctx context.Context, tenantID string, to []string, title, message string) error {
	_, err := d.Producer.EnqueueEmail(ctx, EmailJobPayload{
		TenantID: tenantID,
		To:       to,
		Subject:  title,
		Template: "notification",
		Variables: map[string]string{
			"title":   title,
			"message": message,
		},
	})
	return err
}

// SMSDispatcher adapts the producer to notification.SMSSender.
type SMSDispatcher struct {
	Producer *Producer
}

func (d SMSDispatcher) SendNotificationSMS(ctx context.Context, tenantID string, to []string, message string) error {
	_, err := d.Producer.EnqueueSMS(ctx, SMSJobPayload{
		TenantID: tenantID,
		To:       to,
		Template: "notification",
		Variables: map[string]string{
			"message": message,
		},
	})
	return err
}

// Interface checks.
var (
	_ notification.EmailSender = EmailDispatcher{}
	_ notification.SMSSender   = SMSDispatcher{}
)
