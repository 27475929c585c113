package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/talimy/notify"
	"github.com/talimy/notify/job"
	"github.com/talimy/notify/jobs"
	"github.com/talimy/notify/mailer"
	"github.com/talimy/notify/notification"
	"github.com/talimy/notify/report"
	"github.com/talimy/notify/sms"
	"github.com/talimy/notify/store/memory"
)

const (
	tenantA = "11111111-1111-4111-8111-111111111111"
	userU1  = "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validEmailPayload() jobs.EmailJobPayload {
	return jobs.EmailJobPayload{
		TenantID: tenantA,
		To:       []string{"a@school.example"},
		Subject:  "Hello",
		HTML:     "<p>World</p>",
	}
}

func TestEnqueueEmailPersistsJob(t *testing.T) {
	store := memory.NewJobStore()
	p := jobs.NewProducer(store, jobs.WithProducerLogger(discardLogger()))
	ctx := context.Background()

	j, err := p.EnqueueEmail(ctx, validEmailPayload())
	if err != nil {
		t.Fatalf("EnqueueEmail: %v", err)
	}
	if j.Queue != job.QueueEmails {
		t.Errorf("Queue = %q, want emails", j.Queue)
	}
	if j.Name != jobs.JobEmailSend {
		t.Errorf("Name = %q", j.Name)
	}
	if j.TenantID != tenantA {
		t.Errorf("TenantID = %q", j.TenantID)
	}
	if j.RemoveOnComplete != 100 || j.RemoveOnFail != 100 {
		t.Errorf("retention = %d/%d, want 100/100", j.RemoveOnComplete, j.RemoveOnFail)
	}

	stored, err := store.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	var decoded jobs.EmailJobPayload
	if err := json.Unmarshal(stored.Payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.Subject != "Hello" {
		t.Errorf("Subject = %q", decoded.Subject)
	}
}

func TestEnqueueValidationRejectsBadPayloads(t *testing.T) {
	p := jobs.NewProducer(memory.NewJobStore(), jobs.WithProducerLogger(discardLogger()))
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"email without tenant", func() error {
			pl := validEmailPayload()
			pl.TenantID = ""
			_, err := p.EnqueueEmail(ctx, pl)
			return err
		}},
		{"email with bad address", func() error {
			pl := validEmailPayload()
			pl.To = []string{"not-an-email"}
			_, err := p.EnqueueEmail(ctx, pl)
			return err
		}},
		{"email without body or template", func() error {
			pl := validEmailPayload()
			pl.Subject, pl.HTML, pl.Template = "", "", ""
			_, err := p.EnqueueEmail(ctx, pl)
			return err
		}},
		{"sms with bad number", func() error {
			_, err := p.EnqueueSMS(ctx, jobs.SMSJobPayload{
				TenantID: tenantA,
				To:       []string{"555-not-e164"},
				Body:     "hi",
			})
			return err
		}},
		{"notification without actor", func() error {
			_, err := p.EnqueueNotification(ctx, jobs.NotificationJobPayload{
				Payload: notification.SendInput{Title: "t", Message: "m"},
			})
			return err
		}},
		{"report without prompt", func() error {
			_, err := p.EnqueueReport(ctx, jobs.ReportJobPayload{
				TenantID: tenantA,
				Title:    "t",
			})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, notify.ErrInvalidInput) {
				t.Errorf("got %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestDisabledProducerReturnsNoQueue(t *testing.T) {
	p := jobs.NewProducer(nil, jobs.WithProducerLogger(discardLogger()))
	if p.Enabled() {
		t.Error("Enabled() = true for nil store")
	}

	_, err := p.EnqueueEmail(context.Background(), validEmailPayload())
	if !errors.Is(err, notify.ErrNoQueue) {
		t.Fatalf("got %v, want ErrNoQueue", err)
	}
}

func TestDispatchersEnqueueFanOutJobs(t *testing.T) {
	store := memory.NewJobStore()
	p := jobs.NewProducer(store, jobs.WithProducerLogger(discardLogger()))
	ctx := context.Background()

	email := jobs.EmailDispatcher{Producer: p}
	if err := email.SendNotificationEmail(ctx, tenantA, []string{"a@school.example"}, "Hello", "World"); err != nil {
		t.Fatalf("SendNotificationEmail: %v", err)
	}
	smsDispatch := jobs.SMSDispatcher{Producer: p}
	if err := smsDispatch.SendNotificationSMS(ctx, tenantA, []string{"+15550001111"}, "World"); err != nil {
		t.Fatalf("SendNotificationSMS: %v", err)
	}

	emailCount, _ := store.CountJobs(ctx, job.CountOpts{Queue: job.QueueEmails})
	smsCount, _ := store.CountJobs(ctx, job.CountOpts{Queue: job.QueueSMS})
	if emailCount != 1 || smsCount != 1 {
		t.Errorf("queued %d email / %d sms jobs, want 1/1", emailCount, smsCount)
	}
}

func newProcessorRegistry(t *testing.T, mailerURL string, mailerKey string) *job.Registry {
	t.Helper()
	nstore := memory.NewNotificationStore()
	dir := memory.NewDirectory()
	dir.AddRecipient(notification.Recipient{ID: userU1, TenantID: tenantA, Email: "u1@school.example"})
	svc := notification.NewService(nstore, dir, notification.WithLogger(discardLogger()))

	registry := job.NewRegistry()
	jobs.RegisterProcessors(registry, jobs.ProcessorDeps{
		Mailer:        mailer.NewClient(mailerKey, "noreply@talimy.space", mailerURL, mailer.WithLogger(discardLogger())),
		SMS:           sms.NewClient("", "", "", "", sms.WithLogger(discardLogger())),
		Reports:       report.NewClient("", "", report.WithLogger(discardLogger())),
		Notifications: svc,
		Logger:        discardLogger(),
	})
	return registry
}

func runJob(t *testing.T, registry *job.Registry, queue, name string, payload any) error {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	handler, ok := registry.Get(name)
	if !ok {
		t.Fatalf("no handler for %q", name)
	}
	return handler(context.Background(), job.New(queue, name, tenantA, raw))
}

func TestEmailProcessorSendsThroughProvider(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		json.NewEncoder(w).Encode(map[string]string{"id": "msg_1"})
	}))
	t.Cleanup(srv.Close)

	registry := newProcessorRegistry(t, srv.URL, "test-key")
	if err := runJob(t, registry, job.QueueEmails, jobs.JobEmailSend, validEmailPayload()); err != nil {
		t.Fatalf("email processor: %v", err)
	}
	if requests != 1 {
		t.Errorf("provider received %d requests, want 1", requests)
	}
}

func TestEmailProcessorRejectsInvalidPayloadBeforeProvider(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	t.Cleanup(srv.Close)

	registry := newProcessorRegistry(t, srv.URL, "test-key")
	pl := validEmailPayload()
	pl.To = nil
	err := runJob(t, registry, job.QueueEmails, jobs.JobEmailSend, pl)
	if !errors.Is(err, notify.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
	if requests != 0 {
		t.Errorf("provider was called %d times for an invalid payload", requests)
	}
}

func TestNotificationFanOutEmailSkipsWithoutProvider(t *testing.T) {
	registry := newProcessorRegistry(t, "http://unused.invalid", "")

	pl := jobs.EmailJobPayload{
		TenantID:  tenantA,
		To:        []string{"a@school.example"},
		Template:  mailer.TemplateNotification,
		Variables: map[string]string{"title": "Hi", "message": "There"},
	}
	if err := runJob(t, registry, job.QueueEmails, jobs.JobEmailSend, pl); err != nil {
		t.Fatalf("fan-out email job failed instead of skipping: %v", err)
	}
}

func TestNonFanOutEmailFailsWithoutProvider(t *testing.T) {
	registry := newProcessorRegistry(t, "http://unused.invalid", "")

	pl := jobs.EmailJobPayload{
		TenantID:  tenantA,
		To:        []string{"a@school.example"},
		Template:  mailer.TemplateWelcome,
		Variables: map[string]string{"name": "Amina", "schoolName": "Hilltop"},
	}
	err := runJob(t, registry, job.QueueEmails, jobs.JobEmailSend, pl)
	if !errors.Is(err, notify.ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestNotificationProcessorReplayCreatesDuplicateRows(t *testing.T) {
	nstore := memory.NewNotificationStore()
	dir := memory.NewDirectory()
	dir.AddRecipient(notification.Recipient{ID: userU1, TenantID: tenantA})
	svc := notification.NewService(nstore, dir, notification.WithLogger(discardLogger()))

	registry := job.NewRegistry()
	jobs.RegisterProcessors(registry, jobs.ProcessorDeps{
		Mailer:        mailer.NewClient("", "", "", mailer.WithLogger(discardLogger())),
		SMS:           sms.NewClient("", "", "", "", sms.WithLogger(discardLogger())),
		Reports:       report.NewClient("", "", report.WithLogger(discardLogger())),
		Notifications: svc,
		Logger:        discardLogger(),
	})

	pl := jobs.NotificationJobPayload{
		Actor: notify.Actor{ID: userU1, TenantID: tenantA, Roles: []string{notify.RoleSchoolAdmin}},
		Payload: notification.SendInput{
			RecipientIDs: []string{userU1},
			Title:        "Grade posted",
			Message:      "Math midterm grades are out",
		},
	}
	for i := 0; i < 2; i++ {
		if err := runJob(t, registry, job.QueueNotifications, jobs.JobNotificationSend, pl); err != nil {
			t.Fatalf("notification processor run %d: %v", i+1, err)
		}
	}

	count, err := nstore.CountUnread(context.Background(), tenantA, userU1)
	if err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	if count != 2 {
		t.Errorf("unread = %d after duplicate replay, want 2", count)
	}
}
