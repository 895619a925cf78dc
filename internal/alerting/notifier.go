package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Kind distinguishes the two messages the pipeline sends.
type Kind string

const (
	KindOpportunity Kind = "opportunity"
	KindExecution   Kind = "execution"
)

// Notification 封装告警上下文。
type Notification struct {
	Kind       Kind
	AlertID    string
	Symbol     string
	SpreadPct  decimal.Decimal
	WeexPrice  decimal.Decimal
	OtherPrice decimal.Decimal
	BuyAt      string
	SellAt     string
	Profit     decimal.Decimal
	RiskLevel  string
	At         time.Time

	// 仅执行消息使用
	OrderID string
	Method  string
	Size    decimal.Decimal
	Price   decimal.Decimal
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("kind", string(note.Kind)).
		Str("alert_id", note.AlertID).
		Str("symbol", note.Symbol).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	switch note.Kind {
	case KindExecution:
		builder.WriteString("[Spread Sentinel] Trade executed\n")
	default:
		builder.WriteString("[Spread Sentinel] Arbitrage opportunity\n")
	}
	builder.WriteString(fmt.Sprintf("Symbol: %s\n", note.Symbol))
	if !note.At.IsZero() {
		builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	}
	builder.WriteString(fmt.Sprintf("Spread: %s%% (risk %s)\n", note.SpreadPct.StringFixed(3), note.RiskLevel))
	builder.WriteString(fmt.Sprintf("WEEX: %s / Other: %s\n", note.WeexPrice.String(), note.OtherPrice.String()))
	if note.BuyAt != "" {
		builder.WriteString(fmt.Sprintf("Buy at %s, sell at %s\n", note.BuyAt, note.SellAt))
	}
	builder.WriteString(fmt.Sprintf("Projected profit: $%s\n", note.Profit.StringFixed(2)))
	if note.Kind == KindExecution {
		builder.WriteString(fmt.Sprintf("Order: %s via %s\n", note.OrderID, note.Method))
		builder.WriteString(fmt.Sprintf("Size: %s @ %s\n", note.Size.String(), note.Price.String()))
	}
	if note.AlertID != "" {
		builder.WriteString(fmt.Sprintf("Alert: %s", note.AlertID))
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = Nop{}
)
