package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spread-sentinel/internal/alerting"
	"spread-sentinel/internal/events"
	"spread-sentinel/internal/exchange"
	"spread-sentinel/internal/spread"
	"spread-sentinel/internal/storage"
)

// ExecutorOptions bound automatic order placement.
type ExecutorOptions struct {
	// DefaultNotional is the USDT notional used when an alert has no requested size.
	DefaultNotional decimal.Decimal
	BatchSize       int
	MaxAttempts     int
	// RetryBackoff doubles after every failed attempt.
	RetryBackoff time.Duration
	UploadAILog  bool
	Model        string
}

// ExecutorStore is the persistence the executor needs.
type ExecutorStore interface {
	storage.AlertStore
	storage.PreferenceStore
	storage.AuditStore
}

// Executor turns APPROVED alerts into exchange orders.
type Executor struct {
	opts   ExecutorOptions
	market TickerSource
	orders OrderPlacer
	store  ExecutorStore
	out    broadcaster
	logger zerolog.Logger
	now    func() time.Time
}

// ExecutionSummary reports one scheduled scan.
type ExecutionSummary struct {
	Considered int
	Deferred   int
	Executed   int
	Failed     int
}

// NewExecutor wires the executor.
func NewExecutor(opts ExecutorOptions, market TickerSource, orders OrderPlacer, store ExecutorStore, pub events.Publisher, notifier alerting.Notifier, logger zerolog.Logger) *Executor {
	if !opts.DefaultNotional.IsPositive() {
		opts.DefaultNotional = decimal.NewFromInt(10)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	log := logger.With().Str("component", "executor").Logger()
	return &Executor{
		opts:   opts,
		market: market,
		orders: orders,
		store:  store,
		out:    newBroadcaster(pub, notifier, log),
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Tick runs one scheduled scan.
func (e *Executor) Tick(ctx context.Context, _ time.Time) error {
	_, err := e.ExecuteEligible(ctx)
	return err
}

// ExecuteApproved places an immediate market order for an alert the judge
// has just approved, provided it fits the users' risk ceiling.
func (e *Executor) ExecuteApproved(ctx context.Context, alert storage.Alert) (storage.Alert, error) {
	log := e.logger.With().Str("alert_id", alert.ID).Str("symbol", alert.Symbol).Logger()

	ceiling, ok, err := RiskCeiling(ctx, e.store)
	if err != nil {
		return alert, err
	}
	if !ok {
		log.Info().Msg("no users have auto-execute enabled, keeping alert APPROVED")
		return alert, nil
	}
	if !alert.RiskLevel.Within(ceiling) {
		log.Info().Str("risk_level", string(alert.RiskLevel)).Str("ceiling", string(ceiling)).
			Msg("alert risk exceeds permitted ceiling, keeping alert APPROVED")
		return alert, nil
	}
	if !e.retryEligible(alert, e.now()) {
		return alert, nil
	}
	return e.execute(ctx, alert, false)
}

// ExecuteEligible scans APPROVED auto-execute alerts within the risk ceiling
// that still have attempts left, and places a trigger order for each, falling
// back to a market order.
func (e *Executor) ExecuteEligible(ctx context.Context) (ExecutionSummary, error) {
	var summary ExecutionSummary

	ceiling, ok, err := RiskCeiling(ctx, e.store)
	if err != nil {
		return summary, err
	}
	if !ok {
		return summary, nil
	}

	alerts, err := e.store.ListExecutable(ctx, storage.ExecutableQuery{
		RiskLevels:  spread.LevelsWithin(ceiling),
		MaxAttempts: e.opts.MaxAttempts,
		Limit:       e.opts.BatchSize,
	})
	if err != nil {
		return summary, fmt.Errorf("list executable alerts: %w", err)
	}
	if len(alerts) == 0 {
		return summary, nil
	}

	now := e.now()
	for _, alert := range alerts {
		summary.Considered++
		if !alert.RiskLevel.Within(ceiling) || !e.retryEligible(alert, now) {
			summary.Deferred++
			continue
		}

		updated, err := e.execute(ctx, alert, true)
		switch {
		case updated.Status == storage.StatusExecuted:
			summary.Executed++
		case err != nil:
			summary.Failed++
		}
	}

	e.logger.Info().
		Str("ceiling", string(ceiling)).
		Int("considered", summary.Considered).
		Int("executed", summary.Executed).
		Int("failed", summary.Failed).
		Int("deferred", summary.Deferred).
		Msg("auto-execute scan complete")
	return summary, nil
}

// retryEligible enforces max attempts and exponential backoff measured from
// the last execution start.
func (e *Executor) retryEligible(alert storage.Alert, now time.Time) bool {
	if alert.ExecutionAttempts >= e.opts.MaxAttempts {
		return false
	}
	if alert.ExecutionAttempts == 0 || alert.ExecutionStartedAt == nil || e.opts.RetryBackoff <= 0 {
		return true
	}
	return !now.Before(alert.ExecutionStartedAt.Add(backoff(e.opts.RetryBackoff, alert.ExecutionAttempts)))
}

// maxRetryWait caps the doubling so large attempt counts cannot overflow.
const maxRetryWait = 24 * time.Hour

// backoff returns base * 2^(attempts-1), clamped to maxRetryWait.
func backoff(base time.Duration, attempts int) time.Duration {
	wait := base
	for i := 1; i < attempts; i++ {
		if wait >= maxRetryWait/2 {
			return maxRetryWait
		}
		wait *= 2
	}
	if wait > maxRetryWait {
		return maxRetryWait
	}
	return wait
}

func (e *Executor) execute(ctx context.Context, alert storage.Alert, scheduled bool) (storage.Alert, error) {
	log := e.logger.With().Str("alert_id", alert.ID).Str("symbol", alert.Symbol).Logger()

	ticker, err := e.market.FetchTicker(ctx, alert.Symbol)
	if err != nil {
		log.Warn().Err(err).Msg("could not fetch current price, skipping execution")
		return alert, fmt.Errorf("fetch ticker %s: %w", alert.Symbol, err)
	}

	notional := e.opts.DefaultNotional
	if alert.RequestedTradeSize != nil && alert.RequestedTradeSize.IsPositive() {
		notional = *alert.RequestedTradeSize
	}
	size, err := spread.OrderSize(notional, ticker.Price)
	if err != nil {
		log.Warn().Err(err).Str("notional", notional.String()).Str("price", ticker.Price.String()).
			Msg("cannot size order, skipping execution")
		return alert, err
	}

	started := e.now()
	claimed, err := e.store.TransitionAlert(ctx, alert.ID, storage.StatusApproved, storage.StatusExecuting, storage.AlertPatch{
		ExecutionStartedAt: &started,
	})
	if errors.Is(err, storage.ErrStaleTransition) || errors.Is(err, storage.ErrNotFound) {
		log.Debug().Err(err).Msg("alert already claimed, skipping")
		return alert, nil
	}
	if err != nil {
		return alert, fmt.Errorf("claim alert %s: %w", alert.ID, err)
	}

	side := exchange.SideSell
	if alert.BuyAt == storage.VenueWEEX {
		side = exchange.SideBuy
	}

	var (
		result exchange.OrderResult
		method string
	)
	if scheduled {
		method = storage.MethodTriggerOrder
		result, err = e.orders.PlaceTriggerOrder(ctx, exchange.TriggerOrder{
			Symbol:       alert.Symbol,
			Side:         side,
			Size:         size,
			TriggerPrice: alert.WeexPrice,
			OrderType:    "market",
		})
		if err != nil {
			log.Warn().Err(err).Msg("trigger order failed, trying market order")
			method = storage.MethodMarketOrder
			result, err = e.orders.PlaceMarketOrder(ctx, exchange.MarketOrder{Symbol: alert.Symbol, Side: side, Size: size})
		}
	} else {
		method = storage.MethodAIMarketOrder
		result, err = e.orders.PlaceMarketOrder(ctx, exchange.MarketOrder{Symbol: alert.Symbol, Side: side, Size: size})
	}

	if err != nil {
		return e.revert(ctx, claimed, err)
	}
	return e.complete(ctx, claimed, result, method, ticker.Price, size)
}

func (e *Executor) complete(ctx context.Context, alert storage.Alert, result exchange.OrderResult, method string, price, size decimal.Decimal) (storage.Alert, error) {
	ctx, cancel := detached(ctx)
	defer cancel()

	executedAt := e.now()
	orderID := result.OrderID
	done, err := e.store.TransitionAlert(ctx, alert.ID, storage.StatusExecuting, storage.StatusExecuted, storage.AlertPatch{
		OrderID:             &orderID,
		ExecutionMethod:     &method,
		ExecutionPrice:      &price,
		ExecutionSize:       &size,
		ExecutedAt:          &executedAt,
		ClearExecutionError: true,
	})
	if err != nil {
		// 订单已提交但状态未落库，需要人工核对
		e.logger.Error().Err(err).Str("alert_id", alert.ID).Str("order_id", orderID).
			Msg("order placed but alert could not be marked EXECUTED")
		return alert, fmt.Errorf("mark alert %s executed: %w", alert.ID, err)
	}

	e.logger.Info().
		Str("alert_id", done.ID).
		Str("symbol", done.Symbol).
		Str("order_id", orderID).
		Str("method", method).
		Str("size", size.String()).
		Str("price", price.String()).
		Msg("trade executed")

	recordAudit(ctx, e.store, e.logger, storage.AuditTradeExecuted, map[string]string{
		"alert_id": done.ID,
		"symbol":   done.Symbol,
		"order_id": orderID,
		"method":   method,
		"size":     size.String(),
		"price":    price.String(),
	})
	e.out.publish(ctx, events.AlertExecuted, done, map[string]string{"order_id": orderID, "method": method})
	e.out.notify(ctx, alerting.KindExecution, done)
	e.uploadAILog(ctx, done)
	return done, nil
}

func (e *Executor) revert(ctx context.Context, alert storage.Alert, cause error) (storage.Alert, error) {
	ctx, cancel := detached(ctx)
	defer cancel()

	msg := cause.Error()
	reverted, err := e.store.TransitionAlert(ctx, alert.ID, storage.StatusExecuting, storage.StatusApproved, storage.AlertPatch{
		ExecutionError:    &msg,
		IncrementAttempts: true,
	})
	if err != nil {
		e.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to release alert after execution error")
		return alert, fmt.Errorf("execute alert %s: %w (release failed: %v)", alert.ID, cause, err)
	}

	e.logger.Error().Err(cause).
		Str("alert_id", reverted.ID).
		Str("symbol", reverted.Symbol).
		Int("attempts", reverted.ExecutionAttempts).
		Msg("execution failed, alert kept APPROVED for retry")
	if reverted.ExecutionAttempts >= e.opts.MaxAttempts {
		e.logger.Warn().Str("alert_id", reverted.ID).Int("attempts", reverted.ExecutionAttempts).
			Msg("execution attempts exhausted, leaving alert APPROVED")
	}

	recordAudit(ctx, e.store, e.logger, storage.AuditExecutionError, map[string]any{
		"alert_id": reverted.ID,
		"symbol":   reverted.Symbol,
		"error":    msg,
		"attempts": reverted.ExecutionAttempts,
	})
	e.out.publish(ctx, events.AlertRetrying, reverted, map[string]string{"error": msg})
	return reverted, cause
}

func (e *Executor) uploadAILog(ctx context.Context, alert storage.Alert) {
	if !e.opts.UploadAILog || alert.AIValidation == nil || alert.OrderID == nil {
		return
	}
	v := alert.AIValidation
	model := v.Model
	if model == "" {
		model = e.opts.Model
	}
	approval := "Reject trade"
	if alert.Status == storage.StatusExecuted {
		approval = "Execute trade"
	}
	entry := exchange.AILog{
		OrderID: *alert.OrderID,
		Stage:   "Decision Making",
		Model:   model,
		Input: map[string]any{
			"prompt": "Analyze arbitrage opportunity",
			"data": map[string]string{
				"symbol":           alert.Symbol,
				"spread_pct":       alert.SpreadPct.StringFixed(4),
				"weex_price":       alert.WeexPrice.String(),
				"other_price":      alert.OtherPrice.String(),
				"projected_profit": alert.ProjectedProfit.StringFixed(2),
				"risk_level":       string(alert.RiskLevel),
			},
		},
		Output: map[string]any{
			"sentiment_score": v.SentimentScore,
			"confidence":      v.Confidence,
			"recommendation":  approval,
			"reasoning":       v.Reasoning,
		},
		Explanation: fmt.Sprintf(
			"AI analysis of %s arbitrage opportunity. Spread of %s%% detected with projected profit of $%s. "+
				"Sentiment score: %.2f, confidence %.2f. Recommendation: %s. %s",
			alert.Symbol, alert.SpreadPct.StringFixed(2), alert.ProjectedProfit.StringFixed(2),
			v.SentimentScore, v.Confidence, v.Recommendation, v.Reasoning,
		),
	}
	if err := e.orders.UploadAILog(ctx, entry); err != nil {
		e.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("AI log upload failed")
	}
}
