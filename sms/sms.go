// Package sms sends text messages through a Twilio-compatible REST API.
// Each recipient is one API call; partial delivery is reported in the
// result rather than failing the whole batch.
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/talimy/notify"
)

// Provider is the name reported in dispatch results.
const Provider = "twilio"

// MaxBodyLength is the provider's hard cap on message body size.
const MaxBodyLength = 1600

// Result summarizes one dispatch attempt.
type Result struct {
	Provider   string   `json:"provider"`
	Accepted   int      `json:"accepted"`
	MessageIDs []string `json:"message_ids,omitempty"`
	// Skipped is true when the dispatch was silently skipped because the
	// provider is not configured.
	Skipped bool `json:"skipped,omitempty"`
}

// SendInput describes one outbound text. Either Template (with
// Variables) or an explicit Body must be set.
type SendInput struct {
	To        []string          `json:"to"`
	Body      string            `json:"body,omitempty"`
	Template  string            `json:"template,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// Client talks to a Twilio-compatible API.
type Client struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	http       *http.Client
	logger     *slog.Logger
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

// NewClient creates an sms client. Missing credentials yield a client
// whose Send returns notify.ErrUnavailable.
func NewClient(accountSID, authToken, from, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    baseURL,
		http:       &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether provider credentials are present.
func (c *Client) Configured() bool {
	return c.accountSID != "" && c.authToken != "" && c.from != ""
}

type messageResponse struct {
	SID string `json:"sid"`
}

// Send delivers the message to each recipient. Per-recipient provider
// failures are logged and reflected in the Accepted count; an error is
// returned only when nothing could be attempted.
func (c *Client) Send(ctx context.Context, in SendInput) (*Result, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("sms: missing credentials: %w", notify.ErrUnavailable)
	}
	if len(in.To) == 0 {
		return nil, fmt.Errorf("sms: no recipients: %w", notify.ErrInvalidInput)
	}

	body := in.Body
	if in.Template != "" {
		rendered, err := RenderSMS(in.Template, in.Variables)
		if err != nil {
			return nil, err
		}
		body = rendered
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("sms: empty body: %w", notify.ErrInvalidInput)
	}
	if len(body) > MaxBodyLength {
		// Never split a multi-byte rune at the cut.
		cut := MaxBodyLength
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}

	res := &Result{Provider: Provider}
	for _, to := range in.To {
		sid, err := c.sendOne(ctx, to, body)
		if err != nil {
			c.logger.Warn("sms delivery failed",
				slog.String("to", to),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Accepted++
		if sid != "" {
			res.MessageIDs = append(res.MessageIDs, sid)
		}
	}
	return res, nil
}

func (c *Client) sendOne(ctx context.Context, to, body string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("provider returned %d: %s", resp.StatusCode, raw)
	}

	var mr messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return mr.SID, nil
}

// SendNotificationSMS is the fan-out path: when the provider is not
// configured it skips silently instead of failing.
func (c *Client) SendNotificationSMS(ctx context.Context, to []string, message string) (*Result, error) {
	if !c.Configured() {
		c.logger.Debug("sms dispatch skipped, provider not configured",
			slog.Int("recipients", len(to)),
		)
		return &Result{Provider: Provider, Skipped: true}, nil
	}
	return c.Send(ctx, SendInput{
		To:        to,
		Template:  TemplateNotification,
		Variables: map[string]string{"message": message},
	})
}
