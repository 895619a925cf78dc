package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spread-sentinel/internal/alerting"
	"spread-sentinel/internal/events"
	"spread-sentinel/internal/exchange"
	"spread-sentinel/internal/storage"
)

// TickerSource fetches WEEX last prices.
type TickerSource interface {
	FetchTickers(ctx context.Context, symbols []string) map[string]decimal.Decimal
	FetchTicker(ctx context.Context, symbol string) (exchange.Ticker, error)
}

// OrderPlacer submits orders and the AI decision trail.
type OrderPlacer interface {
	PlaceMarketOrder(ctx context.Context, order exchange.MarketOrder) (exchange.OrderResult, error)
	PlaceTriggerOrder(ctx context.Context, order exchange.TriggerOrder) (exchange.OrderResult, error)
	UploadAILog(ctx context.Context, entry exchange.AILog) error
}

// MarketFeed serves the auxiliary market collections.
type MarketFeed interface {
	OrderBook(ctx context.Context, symbol string, limit int) (exchange.OrderBook, error)
	RecentTrades(ctx context.Context, symbol string, limit int) ([]json.RawMessage, error)
	OpenInterest(ctx context.Context, symbol string) (exchange.OpenInterest, error)
	FundingRate(ctx context.Context, symbol string) (exchange.FundingRate, error)
	AccountBalance(ctx context.Context) (exchange.Balance, error)
}

var (
	_ TickerSource = (*exchange.Client)(nil)
	_ OrderPlacer  = (*exchange.Client)(nil)
	_ MarketFeed   = (*exchange.Client)(nil)
)

// broadcaster fans lifecycle changes out to the event bus and Telegram.
// Delivery failures are logged and never affect the alert.
type broadcaster struct {
	events   events.Publisher
	notifier alerting.Notifier
	logger   zerolog.Logger
}

func newBroadcaster(pub events.Publisher, notifier alerting.Notifier, logger zerolog.Logger) broadcaster {
	if pub == nil {
		pub = events.Nop{}
	}
	if notifier == nil {
		notifier = alerting.Nop{}
	}
	return broadcaster{events: pub, notifier: notifier, logger: logger}
}

func (b broadcaster) publish(ctx context.Context, eventType string, alert storage.Alert, detail any) {
	evt := events.Event{
		Type:    eventType,
		AlertID: alert.ID,
		Symbol:  alert.Symbol,
		Status:  string(alert.Status),
		At:      time.Now().UTC(),
	}
	if detail != nil {
		if raw, err := json.Marshal(detail); err == nil {
			evt.Detail = raw
		}
	}
	if err := b.events.Publish(ctx, evt); err != nil {
		b.logger.Warn().Err(err).Str("alert_id", alert.ID).Str("event", eventType).Msg("failed to publish event")
	}
}

func (b broadcaster) notify(ctx context.Context, kind alerting.Kind, alert storage.Alert) {
	note := alerting.Notification{
		Kind:       kind,
		AlertID:    alert.ID,
		Symbol:     alert.Symbol,
		SpreadPct:  alert.SpreadPct,
		WeexPrice:  alert.WeexPrice,
		OtherPrice: alert.OtherPrice,
		BuyAt:      string(alert.BuyAt),
		SellAt:     string(alert.SellAt),
		Profit:     alert.ProjectedProfit,
		RiskLevel:  string(alert.RiskLevel),
		At:         alert.UpdatedAt,
	}
	if alert.OrderID != nil {
		note.OrderID = *alert.OrderID
	}
	if alert.ExecutionMethod != nil {
		note.Method = *alert.ExecutionMethod
	}
	if alert.ExecutionSize != nil {
		note.Size = *alert.ExecutionSize
	}
	if alert.ExecutionPrice != nil {
		note.Price = *alert.ExecutionPrice
	}
	if err := b.notifier.Notify(ctx, note); err != nil {
		b.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to dispatch notification")
	}
}

// settleTimeout bounds the writes that finish a lifecycle step.
const settleTimeout = 10 * time.Second

// detached keeps ctx values but ignores its cancellation, so a claimed alert
// still reaches a resting status while the process shuts down.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

func recordAudit(ctx context.Context, store storage.AuditStore, logger zerolog.Logger, event string, detail any) {
	if store == nil {
		return
	}
	if err := store.RecordAudit(ctx, event, detail); err != nil {
		logger.Error().Err(err).Str("event", event).Msg("failed to record audit entry")
	}
}
