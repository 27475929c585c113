// Package jobs defines the payload contracts for every background job
// kind, the producer that validates and enqueues them, and the
// processors the worker role registers to consume them.
package jobs

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/talimy/notify"
	"github.com/talimy/notify/notification"
)

// Job kind names, one per queue.
const (
	JobEmailSend        = "email.send"
	JobSMSSend          = "sms.send"
	JobNotificationSend = "notification.send"
	JobReportGenerate   = "report.generate"
)

// EmailJobPayload is the contract for the emails queue. Either Template
// (with Variables) or Subject+HTML must be set.
type EmailJobPayload struct {
	TenantID  string            `json:"tenantId" validate:"required,uuid"`
	To        []string          `json:"to" validate:"required,min=1,max=100,dive,email"`
	Subject   string            `json:"subject,omitempty" validate:"omitempty,max=200"`
	HTML      string            `json:"html,omitempty"`
	Template  string            `json:"template,omitempty" validate:"omitempty,max=64"`
	Variables map[string]string `json:"variables,omitempty"`
}

// SMSJobPayload is the contract for the sms queue. Either Template (with
// Variables) or Body must be set.
type SMSJobPayload struct {
	TenantID  string            `json:"tenantId" validate:"required,uuid"`
	To        []string          `json:"to" validate:"required,min=1,max=100,dive,e164"`
	Body      string            `json:"body,omitempty" validate:"omitempty,max=1600"`
	Template  string            `json:"template,omitempty" validate:"omitempty,max=64"`
	Variables map[string]string `json:"variables,omitempty"`
}

// NotificationJobPayload replays a fan-out through the notification
// service: the acting identity plus the original send input. Replaying
// the same job twice creates duplicate rows; that is the at-least-once
// contract, not a bug.
type NotificationJobPayload struct {
	Actor   notify.Actor           `json:"actor" validate:"required"`
	Payload notification.SendInput `json:"payload" validate:"required"`
}

// ReportJobPayload is the contract for the reports queue.
type ReportJobPayload struct {
	TenantID string         `json:"tenantId" validate:"required,uuid"`
	Title    string         `json:"title" validate:"required,max=200"`
	Prompt   string         `json:"prompt" validate:"required,max=8000"`
	Data     map[string]any `json:"data,omitempty"`
}

var validate = validator.New()

// ValidateEmailPayload checks the schema before enqueue or processing.
func ValidateEmailPayload(p EmailJobPayload) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("jobs: email payload: %v: %w", err, notify.ErrInvalidInput)
	}
	if p.Template == "" && (p.Subject == "" || p.HTML == "") {
		return fmt.Errorf("jobs: email payload needs template or subject+html: %w", notify.ErrInvalidInput)
	}
	return nil
}

// ValidateSMSPayload checks the schema before enqueue or processing.
func ValidateSMSPayload(p SMSJobPayload) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("jobs: sms payload: %v: %w", err, notify.ErrInvalidInput)
	}
	if p.Template == "" && p.Body == "" {
		return fmt.Errorf("jobs: sms payload needs template or body: %w", notify.ErrInvalidInput)
	}
	return nil
}

// ValidateNotificationPayload checks the schema before enqueue or
// processing. The send input itself is validated again by the service.
func ValidateNotificationPayload(p NotificationJobPayload) error {
	if p.Actor.ID == "" || len(p.Actor.Roles) == 0 {
		return fmt.Errorf("jobs: notification payload needs an actor: %w", notify.ErrInvalidInput)
	}
	if p.Payload.Title == "" || p.Payload.Message == "" {
		return fmt.Errorf("jobs: notification payload needs title and message: %w", notify.ErrInvalidInput)
	}
	return nil
}

// ValidateReportPayload checks the schema before enqueue or processing.
func ValidateReportPayload(p ReportJobPayload) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("jobs: report payload: %v: %w", err, notify.ErrInvalidInput)
	}
	return nil
}
