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
	"spread-sentinel/internal/fetcher"
	"spread-sentinel/internal/spread"
	"spread-sentinel/internal/storage"
)

// DetectorOptions configure the opportunity detector.
type DetectorOptions struct {
	Symbols []string
	Params  spread.Params
}

// DetectorStore is the persistence the detector needs.
type DetectorStore interface {
	storage.AlertStore
	storage.SnapshotStore
	storage.AuditStore
}

// Detector compares WEEX prices with a second source and opens alerts.
type Detector struct {
	opts   DetectorOptions
	market TickerSource
	source fetcher.ComparisonSource
	store  DetectorStore
	out    broadcaster
	logger zerolog.Logger
	now    func() time.Time
}

// CycleResult summarises one detector pass.
type CycleResult struct {
	Observed int
	Created  []storage.Alert
}

// NewDetector wires the detector.
func NewDetector(opts DetectorOptions, market TickerSource, source fetcher.ComparisonSource, store DetectorStore, pub events.Publisher, notifier alerting.Notifier, logger zerolog.Logger) *Detector {
	opts.Params = opts.Params.WithDefaults()
	log := logger.With().Str("component", "detector").Str("source", source.Name()).Logger()
	return &Detector{
		opts:   opts,
		market: market,
		source: source,
		store:  store,
		out:    newBroadcaster(pub, notifier, log),
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Tick runs one cycle; failures are written to the audit log and returned
// to the scheduler, which keeps polling.
func (d *Detector) Tick(ctx context.Context, _ time.Time) error {
	_, err := d.RunCycle(ctx)
	if err != nil {
		recordAudit(ctx, d.store, d.logger, storage.AuditDetectorError, map[string]string{
			"error":  err.Error(),
			"source": d.source.Name(),
		})
	}
	return err
}

// RunCycle fetches every configured symbol and observes each price.
func (d *Detector) RunCycle(ctx context.Context) (CycleResult, error) {
	var result CycleResult

	prices := d.market.FetchTickers(ctx, d.opts.Symbols)
	if len(prices) == 0 {
		d.logger.Warn().Strs("symbols", d.opts.Symbols).Msg("no prices fetched from WEEX")
		return result, nil
	}

	for _, symbol := range d.opts.Symbols {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		result.Observed++
		created, err := d.Observe(ctx, symbol, price)
		if err != nil {
			return result, err
		}
		if created != nil {
			result.Created = append(result.Created, *created)
		}
	}

	d.logger.Debug().Int("observed", result.Observed).Int("created", len(result.Created)).Msg("poll complete")
	return result, nil
}

// Observe records one WEEX price and opens an alert when the spread is
// profitable and the symbol has no open alert. A comparison failure skips
// the symbol; store failures are returned.
func (d *Detector) Observe(ctx context.Context, symbol string, weexPrice decimal.Decimal) (*storage.Alert, error) {
	log := d.logger.With().Str("symbol", symbol).Logger()

	otherPrice, err := d.source.FetchComparison(ctx, symbol, weexPrice)
	if err != nil {
		log.Warn().Err(err).Msg("comparison price unavailable, skipping symbol")
		return nil, nil
	}
	if !otherPrice.IsPositive() {
		log.Warn().Str("other_price", otherPrice.String()).Msg("non-positive comparison price, skipping symbol")
		return nil, nil
	}

	pct := spread.Percent(weexPrice, otherPrice)
	now := d.now()
	asset := fetcher.AssetOf(symbol)

	if err := d.store.UpsertLiveFeed(ctx, storage.LiveFeed{
		Asset:      asset,
		Symbol:     symbol,
		Exchange:   string(storage.VenueWEEX),
		Price:      weexPrice,
		OtherPrice: otherPrice,
		SpreadPct:  pct,
		Source:     d.source.Name(),
		UpdatedAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("live feed %s: %w", symbol, err)
	}
	if err := d.store.AppendSpreadSample(ctx, storage.SpreadSample{
		ObservedAt: now,
		Symbol:     symbol,
		WeexPrice:  weexPrice,
		OtherPrice: otherPrice,
		SpreadPct:  pct,
		Source:     d.source.Name(),
	}); err != nil {
		return nil, fmt.Errorf("spread sample %s: %w", symbol, err)
	}

	log.Debug().
		Str("weex_price", weexPrice.String()).
		Str("other_price", otherPrice.String()).
		Str("spread_pct", pct.StringFixed(4)).
		Msg("price observed")

	if !spread.IsProfitable(pct, d.opts.Params) {
		return nil, nil
	}

	open, err := d.store.HasOpenAlert(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("open alert check %s: %w", symbol, err)
	}
	if open {
		log.Debug().Msg("open alert exists, not creating another")
		return nil, nil
	}

	buyAt, sellAt := storage.VenueOther, storage.VenueWEEX
	if weexPrice.LessThan(otherPrice) {
		buyAt, sellAt = storage.VenueWEEX, storage.VenueOther
	}

	created, err := d.store.CreateAlert(ctx, storage.Alert{
		Type:            storage.AlertTypeArbitrage,
		Symbol:          symbol,
		Asset:           asset,
		SpreadPct:       pct,
		WeexPrice:       weexPrice,
		OtherPrice:      otherPrice,
		BuyAt:           buyAt,
		SellAt:          sellAt,
		ProjectedProfit: spread.ProjectedProfit(pct, d.opts.Params.TradeAmount, d.opts.Params.FeeRate),
		RiskLevel:       spread.Classify(pct, decimal.Zero),
		AutoExecute:     true,
		CreatedAt:       now,
	})
	if errors.Is(err, storage.ErrOpenAlertExists) {
		log.Debug().Msg("lost race to open alert, skipping")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create alert %s: %w", symbol, err)
	}

	log.Info().
		Str("alert_id", created.ID).
		Str("spread_pct", pct.StringFixed(4)).
		Str("projected_profit", created.ProjectedProfit.StringFixed(2)).
		Str("risk_level", string(created.RiskLevel)).
		Str("buy_at", string(buyAt)).
		Msg("arbitrage alert created")

	d.out.publish(ctx, events.AlertCreated, created, nil)
	d.out.notify(ctx, alerting.KindOpportunity, created)
	return &created, nil
}
