package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

const maxExplanationLen = 1000

// MarketOrder is an immediate order for Size base units.
type MarketOrder struct {
	Symbol string
	Side   Side
	Size   decimal.Decimal
}

// TriggerOrder fires an OrderType order once the mark crosses TriggerPrice.
type TriggerOrder struct {
	Symbol       string
	Side         Side
	Size         decimal.Decimal
	TriggerPrice decimal.Decimal
	OrderType    string
}

// OrderResult is the exchange acknowledgement of a placed order.
type OrderResult struct {
	OrderID string
	Data    json.RawMessage
}

// AILog is the decision trail uploaded after an AI-driven execution.
type AILog struct {
	OrderID     string
	Stage       string
	Model       string
	Input       any
	Output      any
	Explanation string
}

type orderRequest struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Type   string `json:"type"`
	Size   string `json:"size"`
}

type triggerOrderRequest struct {
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	TriggerPrice string `json:"triggerPrice"`
	Size         string `json:"size"`
	OrderType    string `json:"orderType"`
}

type aiLogRequest struct {
	OrderID     *string `json:"orderId"`
	Stage       string  `json:"stage"`
	Model       string  `json:"model"`
	Input       any     `json:"input"`
	Output      any     `json:"output"`
	Explanation string  `json:"explanation"`
}

// PlaceMarketOrder submits a signed market order.
func (c *Client) PlaceMarketOrder(ctx context.Context, order MarketOrder) (OrderResult, error) {
	if !order.Size.IsPositive() {
		return OrderResult{}, fmt.Errorf("order size must be positive")
	}
	req := orderRequest{
		Symbol: order.Symbol,
		Side:   string(order.Side),
		Type:   "market",
		Size:   order.Size.String(),
	}
	resp, err := c.do(ctx, http.MethodPost, orderPath, req, true)
	if err != nil {
		return OrderResult{}, err
	}
	return OrderResult{OrderID: orderIDOf(resp.Data), Data: resp.Data}, nil
}

// PlaceTriggerOrder submits a signed trigger order; OrderType defaults to market.
func (c *Client) PlaceTriggerOrder(ctx context.Context, order TriggerOrder) (OrderResult, error) {
	if !order.Size.IsPositive() {
		return OrderResult{}, fmt.Errorf("order size must be positive")
	}
	if !order.TriggerPrice.IsPositive() {
		return OrderResult{}, fmt.Errorf("trigger price must be positive")
	}
	orderType := order.OrderType
	if orderType == "" {
		orderType = "market"
	}
	req := triggerOrderRequest{
		Symbol:       order.Symbol,
		Side:         string(order.Side),
		TriggerPrice: order.TriggerPrice.String(),
		Size:         order.Size.String(),
		OrderType:    orderType,
	}
	resp, err := c.do(ctx, http.MethodPost, triggerOrderPath, req, true)
	if err != nil {
		return OrderResult{}, err
	}
	return OrderResult{OrderID: orderIDOf(resp.Data), Data: resp.Data}, nil
}

// UploadAILog posts the decision trail; explanations are cut to 1000 characters.
func (c *Client) UploadAILog(ctx context.Context, entry AILog) error {
	if entry.Stage == "" || entry.Model == "" || entry.Input == nil || entry.Output == nil || entry.Explanation == "" {
		return fmt.Errorf("ai log requires stage, model, input, output and explanation")
	}
	req := aiLogRequest{
		Stage:       entry.Stage,
		Model:       entry.Model,
		Input:       entry.Input,
		Output:      entry.Output,
		Explanation: truncateRunes(entry.Explanation, maxExplanationLen),
	}
	if entry.OrderID != "" {
		id := entry.OrderID
		req.OrderID = &id
	}
	_, err := c.do(ctx, http.MethodPost, aiLogPath, req, true)
	return err
}

func orderIDOf(data json.RawMessage) string {
	obj := objectOf(data)
	for _, key := range []string{"orderId", "order_id", "id"} {
		if raw, ok := obj[key]; ok && string(raw) != "null" {
			return strings.Trim(string(raw), `"`)
		}
	}
	return ""
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
