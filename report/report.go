// Package report generates narrative school reports through an
// OpenRouter-style chat completion API.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/talimy/notify"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "openai/gpt-4o-mini"

// GenerateInput describes one report request.
type GenerateInput struct {
	// Title names the report, e.g. "Term 2 attendance summary".
	Title string `json:"title"`
	// Prompt is the instruction given to the model.
	Prompt string `json:"prompt"`
	// Data is structured context serialized into the prompt.
	Data map[string]any `json:"data,omitempty"`
}

// Report is a generated document.
type Report struct {
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Client talks to an OpenRouter-compatible chat completion API.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithModel overrides the completion model.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a report client. An empty apiKey yields a client
// whose Generate returns notify.ErrUnavailable.
func NewClient(apiKey, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   DefaultModel,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether provider credentials are present.
func (c *Client) Configured() bool { return c.apiKey != "" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const systemPrompt = "You are an assistant that writes concise, factual school reports. " +
	"Use only the data provided; do not invent numbers or names."

// Generate produces a report from the prompt and structured data.
func (c *Client) Generate(ctx context.Context, in GenerateInput) (*Report, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("report: no api key: %w", notify.ErrUnavailable)
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, fmt.Errorf("report: empty prompt: %w", notify.ErrInvalidInput)
	}

	userPrompt := in.Prompt
	if len(in.Data) > 0 {
		data, err := json.MarshalIndent(in.Data, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("report: encode data: %w", err)
		}
		userPrompt = fmt.Sprintf("%s\n\nData:\n%s", in.Prompt, data)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("report: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("report: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("report: generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("report: provider returned %d: %s", resp.StatusCode, raw)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("report: decode response: %w", err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("report: provider returned no content")
	}

	c.logger.Debug("report generated",
		slog.String("title", in.Title),
		slog.String("model", c.model),
	)
	return &Report{
		Title:       in.Title,
		Content:     cr.Choices[0].Message.Content,
		Model:       c.model,
		GeneratedAt: time.Now().UTC(),
	}, nil
}
