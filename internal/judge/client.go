package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotConfigured means no API key was supplied for the judgment service.
var ErrNotConfigured = errors.New("judge: AI service not configured")

// Message is one role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the generation payload posted to the service.
type Request struct {
	Provider    string    `json:"provider"`
	Service     string    `json:"service"`
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// Options configure the HTTP client.
type Options struct {
	BaseURL     string
	APIKey      string
	Provider    string
	Service     string
	Model       string
	// Temperature nil selects defaultTemperature; an explicit 0 is kept.
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
}

const defaultTemperature = 0.3

// Generator returns raw model text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Client calls an LLM gateway over HTTP.
type Client struct {
	opts   Options
	http   *http.Client
	logger zerolog.Logger
}

// New builds the client, or ErrNotConfigured when credentials are missing.
func New(opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.APIKey == "" || opts.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Provider == "" {
		opts.Provider = "anthropic"
	}
	if opts.Service == "" {
		opts.Service = opts.Provider
	}
	if opts.Model == "" {
		opts.Model = "claude-3-5-sonnet-20240620"
	}
	temperature := defaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	opts.Temperature = &temperature
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 300
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Client{
		opts:   opts,
		http:   &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "judge").Logger(),
	}, nil
}

// Model returns the model identifier sent with every request.
func (c *Client) Model() string { return c.opts.Model }

// Generate sends a single user message and extracts the reply text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	payload := Request{
		Provider:    c.opts.Provider,
		Service:     c.opts.Service,
		Model:       c.opts.Model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: *c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal judge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create judge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send judge request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read judge response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("judge HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	text, err := extractText(raw)
	if err != nil {
		return "", err
	}
	c.logger.Debug().Int("bytes", len(text)).Str("model", c.opts.Model).Msg("judge response received")
	return text, nil
}

// extractText pulls the reply out of the gateway envelope, trying
// data, choices[0].message.content, message, text and content in turn.
func extractText(raw []byte) (string, error) {
	var envelope struct {
		Data    json.RawMessage `json:"data"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Message json.RawMessage `json:"message"`
		Text    string          `json:"text"`
		Content json.RawMessage `json:"content"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		// 非 JSON 响应按纯文本处理
		text := strings.TrimSpace(string(raw))
		if text == "" {
			return "", fmt.Errorf("judge returned empty response")
		}
		return text, nil
	}

	if text, ok := rawText(envelope.Data); ok {
		return text, nil
	}
	if len(envelope.Choices) > 0 && envelope.Choices[0].Message.Content != "" {
		return envelope.Choices[0].Message.Content, nil
	}
	if text, ok := rawText(envelope.Message); ok {
		return text, nil
	}
	if envelope.Text != "" {
		return envelope.Text, nil
	}
	if text, ok := rawText(envelope.Content); ok {
		return text, nil
	}
	if msg, ok := rawText(envelope.Error); ok {
		return "", fmt.Errorf("judge error: %s", msg)
	}
	return string(raw), nil
}

// rawText returns a JSON string value as-is, an object's "content" field,
// or any other non-null value re-encoded as JSON text.
func rawText(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s, s != ""
	}
	var obj struct {
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(trimmed, &obj); err == nil && obj.Content != nil {
		return *obj.Content, true
	}
	return string(trimmed), true
}

var _ Generator = (*Client)(nil)
