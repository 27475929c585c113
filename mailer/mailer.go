// Package mailer sends transactional email through a Resend-compatible
// HTTP API. Without credentials the client degrades to a typed
// unavailable error, or to a silent skip on the notification fan-out path.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/talimy/notify"
)

// Provider is the name reported in dispatch results.
const Provider = "resend"

// Result summarizes one dispatch attempt.
type Result struct {
	Provider   string   `json:"provider"`
	Accepted   int      `json:"accepted"`
	MessageIDs []string `json:"message_ids,omitempty"`
	// Skipped is true when the dispatch was silently skipped because the
	// provider is not configured.
	Skipped bool `json:"skipped,omitempty"`
}

// SendInput describes one outbound email. Either Template (with
// Variables) or explicit Subject/HTML must be set.
type SendInput struct {
	To        []string          `json:"to"`
	Subject   string            `json:"subject,omitempty"`
	HTML      string            `json:"html,omitempty"`
	Template  string            `json:"template,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// Client talks to a Resend-compatible API.
type Client struct {
	apiKey  string
	from    string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a mail client. An empty apiKey yields a client whose
// Send returns notify.ErrUnavailable.
func NewClient(apiKey, from, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:  apiKey,
		from:    from,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether provider credentials are present.
func (c *Client) Configured() bool { return c.apiKey != "" }

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// Send delivers one email to all recipients. Returns
// notify.ErrUnavailable when the provider is not configured.
func (c *Client) Send(ctx context.Context, in SendInput) (*Result, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("mailer: no api key: %w", notify.ErrUnavailable)
	}
	if len(in.To) == 0 {
		return nil, fmt.Errorf("mailer: no recipients: %w", notify.ErrInvalidInput)
	}

	subject, html := in.Subject, in.HTML
	if in.Template != "" {
		rendered, err := RenderEmail(in.Template, in.Variables)
		if err != nil {
			return nil, err
		}
		if subject == "" {
			subject = rendered.Subject
		}
		html = rendered.HTML
	}
	if subject == "" || html == "" {
		return nil, fmt.Errorf("mailer: subject and body required: %w", notify.ErrInvalidInput)
	}

	body, err := json.Marshal(sendRequest{From: c.from, To: in.To, Subject: subject, HTML: html})
	if err != nil {
		return nil, fmt.Errorf("mailer: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mailer: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mailer: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("mailer: provider returned %d: %s", resp.StatusCode, raw)
	}

	var sr sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("mailer: decode response: %w", err)
	}

	c.logger.Debug("email sent",
		slog.Int("recipients", len(in.To)),
		slog.String("message_id", sr.ID),
	)
	res := &Result{Provider: Provider, Accepted: len(in.To)}
	if sr.ID != "" {
		res.MessageIDs = []string{sr.ID}
	}
	return res, nil
}

// SendNotificationEmails is the fan-out path: when the provider is not
// configured it skips silently instead of failing, so a notification
// send never breaks on missing email credentials.
func (c *Client) SendNotificationEmails(ctx context.Context, to []string, title, message string) (*Result, error) {
	if !c.Configured() {
		c.logger.Debug("email dispatch skipped, provider not configured",
			slog.Int("recipients", len(to)),
		)
		return &Result{Provider: Provider, Skipped: true}, nil
	}
	return c.Send(ctx, SendInput{
		To:       to,
		Subject:  title,
		Template: TemplateNotification,
		Variables: map[string]string{
			"title":   title,
			"message": message,
		},
	})
}
