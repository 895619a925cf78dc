package exchange

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
	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL        = "https://api-contract.weex.com"
	defaultRateLimitDelay = 100 * time.Millisecond

	tickerPath       = "/capi/v2/market/ticker"
	depthPath        = "/capi/v2/market/depth"
	tradesPath       = "/capi/v2/market/trades"
	openInterestPath = "/capi/v2/market/openInterest"
	fundingRatePath  = "/capi/v2/market/fundingRate/current"
	assetsPath       = "/capi/v2/account/assets"
	orderPath        = "/capi/v2/trade/order"
	triggerOrderPath = "/capi/v2/trade/trigger/order"
	aiLogPath        = "/capi/v2/order/uploadAiLog"
)

// APIError carries a failed exchange response. Status is the HTTP code.
type APIError struct {
	Status int
	Code   string
	Msg    string
}

func (e *APIError) Error() string {
	if e.Status != 0 && (e.Status < 200 || e.Status >= 300) {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("WEEX API error: %s", e.Msg)
}

// Options parameterise the exchange client.
type Options struct {
	BaseURL        string
	Credentials    Credentials
	AccountID      string
	Timeout        time.Duration
	RateLimitDelay time.Duration
}

// Client talks to the WEEX contract REST API.
type Client struct {
	opts    Options
	baseURL string
	http    *http.Client
	signer  *Signer
	logger  zerolog.Logger
}

// NewClient builds a client; signing is enabled only with complete credentials.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.RateLimitDelay < 0 {
		opts.RateLimitDelay = 0
	} else if opts.RateLimitDelay == 0 {
		opts.RateLimitDelay = defaultRateLimitDelay
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	c := &Client{
		opts:    opts,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "weex_client").Logger(),
	}
	if signer, err := NewSigner(opts.Credentials); err == nil {
		c.signer = signer
	}
	return c
}

// HasCredentials reports whether signed endpoints are usable.
func (c *Client) HasCredentials() bool {
	return c.signer != nil
}

type envelope struct {
	Code    json.RawMessage `json:"code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type response struct {
	Data json.RawMessage
	Body json.RawMessage
}

// do sends one request. The body is serialised once and the same bytes are signed and sent.
func (c *Client) do(ctx context.Context, method, path string, payload any, signed bool) (response, error) {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return response{}, fmt.Errorf("marshal request: %w", err)
		}
		body = encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return response{}, err
	}
	if signed {
		if c.signer == nil {
			return response{}, ErrCredentialsMissing
		}
		for k, v := range c.signer.Headers(method, path, body) {
			req.Header[k] = v
		}
	} else {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("locale", "en-US")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return response{}, parseHTTPError(resp.StatusCode, raw)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return response{}, &APIError{Status: resp.StatusCode, Msg: "malformed response body"}
	}

	// Some deployments answer with a flat object and no code.
	if len(env.Code) == 0 {
		return response{Data: raw, Body: raw}, nil
	}
	if !successCode(env.Code) {
		msg := firstNonEmpty(env.Msg, env.Message, "Code: "+strings.Trim(string(env.Code), `"`))
		return response{}, &APIError{Status: resp.StatusCode, Code: strings.Trim(string(env.Code), `"`), Msg: msg}
	}

	data := env.Data
	if len(data) == 0 || string(data) == "null" {
		data = raw
	}
	return response{Data: data, Body: raw}, nil
}

func successCode(raw json.RawMessage) bool {
	switch strings.Trim(string(raw), `"`) {
	case "0", "00000", "200":
		return true
	default:
		return false
	}
}

func parseHTTPError(status int, payload []byte) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err == nil {
		if msg := firstNonEmpty(env.Msg, env.Message); msg != "" {
			return &APIError{Status: status, Code: strings.Trim(string(env.Code), `"`), Msg: msg}
		}
	}
	msg := strings.TrimSpace(string(payload))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Msg: msg}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// firstDecimal reads the first parseable numeric field among keys.
func firstDecimal(obj map[string]json.RawMessage, keys ...string) (decimal.Decimal, bool) {
	for _, key := range keys {
		raw, ok := obj[key]
		if !ok || len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var value decimal.Decimal
		if err := value.UnmarshalJSON(raw); err != nil {
			continue
		}
		return value, true
	}
	return decimal.Zero, false
}

// objectOf decodes raw into a field map; arrays yield their first element.
func objectOf(raw json.RawMessage) map[string]json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
			return nil
		}
		raw = items[0]
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var errNoPrice = errors.New("no valid price in response")
