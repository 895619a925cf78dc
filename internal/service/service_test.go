package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"spread-sentinel/internal/exchange"
	"spread-sentinel/internal/spread"
	"spread-sentinel/internal/storage"
)

type fakeMarket struct {
	mu        sync.Mutex
	prices    map[string]decimal.Decimal
	tickerErr error
	calls     int
}

func (f *fakeMarket) FetchTickers(_ context.Context, symbols []string) map[string]decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]decimal.Decimal)
	for _, s := range symbols {
		if p, ok := f.prices[s]; ok {
			out[s] = p
		}
	}
	return out
}

func (f *fakeMarket) FetchTicker(_ context.Context, symbol string) (exchange.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.tickerErr != nil {
		return exchange.Ticker{}, f.tickerErr
	}
	p, ok := f.prices[symbol]
	if !ok {
		return exchange.Ticker{}, errors.New("no ticker for " + symbol)
	}
	return exchange.Ticker{Symbol: symbol, Price: p}, nil
}

type fakeOrders struct {
	mu         sync.Mutex
	triggerErr error
	marketErr  error
	triggers   []exchange.TriggerOrder
	markets    []exchange.MarketOrder
	logs       []exchange.AILog
	// onPlace runs before every order is recorded
	onPlace func()
}

func (f *fakeOrders) PlaceMarketOrder(_ context.Context, order exchange.MarketOrder) (exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onPlace != nil {
		f.onPlace()
	}
	f.markets = append(f.markets, order)
	if f.marketErr != nil {
		return exchange.OrderResult{}, f.marketErr
	}
	return exchange.OrderResult{OrderID: "mkt-1"}, nil
}

func (f *fakeOrders) PlaceTriggerOrder(_ context.Context, order exchange.TriggerOrder) (exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onPlace != nil {
		f.onPlace()
	}
	f.triggers = append(f.triggers, order)
	if f.triggerErr != nil {
		return exchange.OrderResult{}, f.triggerErr
	}
	return exchange.OrderResult{OrderID: "trg-1"}, nil
}

func (f *fakeOrders) UploadAILog(_ context.Context, entry exchange.AILog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

type fakeGenerator struct {
	text  string
	err   error
	calls int
}

func (g *fakeGenerator) Generate(context.Context, string) (string, error) {
	g.calls++
	return g.text, g.err
}

func (g *fakeGenerator) Model() string { return "test-model" }

// cancellingGenerator cancels the tick context mid-call, like a shutdown.
type cancellingGenerator struct {
	cancel context.CancelFunc
}

func (g cancellingGenerator) Generate(ctx context.Context, _ string) (string, error) {
	g.cancel()
	return "", ctx.Err()
}

func (cancellingGenerator) Model() string { return "test-model" }

// ctxStore fails writes on a done context, as pgx does.
type ctxStore struct {
	*storage.MemoryStore
}

func (s ctxStore) TransitionAlert(ctx context.Context, id string, from, to storage.Status, patch storage.AlertPatch) (storage.Alert, error) {
	if err := ctx.Err(); err != nil {
		return storage.Alert{}, err
	}
	return s.MemoryStore.TransitionAlert(ctx, id, from, to, patch)
}

func (s ctxStore) RecordAudit(ctx context.Context, event string, detail any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.RecordAudit(ctx, event, detail)
}

type fakeFeed struct {
	balanceErr error
	failSymbol string
}

func (f *fakeFeed) OrderBook(_ context.Context, symbol string, limit int) (exchange.OrderBook, error) {
	if symbol == f.failSymbol {
		return exchange.OrderBook{}, errors.New("depth unavailable")
	}
	return exchange.OrderBook{
		Symbol: symbol,
		Bids:   []exchange.Level{{Price: decimal.NewFromInt(99), Size: decimal.NewFromInt(int64(limit))}},
		Asks:   []exchange.Level{{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1)}},
	}, nil
}

func (f *fakeFeed) RecentTrades(_ context.Context, symbol string, _ int) ([]json.RawMessage, error) {
	return []json.RawMessage{json.RawMessage(`{"price":"100","size":"1"}`)}, nil
}

func (f *fakeFeed) OpenInterest(_ context.Context, symbol string) (exchange.OpenInterest, error) {
	return exchange.OpenInterest{Symbol: symbol, OpenInterest: decimal.NewFromInt(1234)}, nil
}

func (f *fakeFeed) FundingRate(_ context.Context, symbol string) (exchange.FundingRate, error) {
	return exchange.FundingRate{Symbol: symbol, FundingRate: decimal.RequireFromString("0.0001")}, nil
}

func (f *fakeFeed) AccountBalance(context.Context) (exchange.Balance, error) {
	if f.balanceErr != nil {
		return exchange.Balance{}, f.balanceErr
	}
	return exchange.Balance{AccountID: "acc", Available: decimal.NewFromInt(500), Total: decimal.NewFromInt(500)}, nil
}

var (
	_ TickerSource = (*fakeMarket)(nil)
	_ OrderPlacer  = (*fakeOrders)(nil)
	_ MarketFeed   = (*fakeFeed)(nil)
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func enableAutoExecute(t *testing.T, store *storage.MemoryStore, risk spread.RiskLevel) {
	t.Helper()
	require.NoError(t, store.UpsertPreference(context.Background(), storage.UserPreference{
		UserID:             "u-1",
		AutoExecuteEnabled: true,
		AutoExecuteMaxRisk: risk,
	}))
}

func pendingAlert(t *testing.T, store *storage.MemoryStore, symbol string, risk spread.RiskLevel) storage.Alert {
	t.Helper()
	alert, err := store.CreateAlert(context.Background(), storage.Alert{
		Symbol:          symbol,
		Asset:           "BTC_USDT",
		SpreadPct:       decimal.NewFromInt(2),
		WeexPrice:       decimal.NewFromInt(100),
		OtherPrice:      decimal.NewFromInt(102),
		BuyAt:           storage.VenueWEEX,
		SellAt:          storage.VenueOther,
		ProjectedProfit: decimal.RequireFromString("1.8"),
		RiskLevel:       risk,
		AutoExecute:     true,
	})
	require.NoError(t, err)
	return alert
}

func approvedAlert(t *testing.T, store *storage.MemoryStore, symbol string, risk spread.RiskLevel) storage.Alert {
	t.Helper()
	ctx := context.Background()
	alert := pendingAlert(t, store, symbol, risk)
	_, err := store.TransitionAlert(ctx, alert.ID, storage.StatusPending, storage.StatusAnalyzing, storage.AlertPatch{})
	require.NoError(t, err)
	approved, err := store.TransitionAlert(ctx, alert.ID, storage.StatusAnalyzing, storage.StatusApproved, storage.AlertPatch{
		AIValidation: &storage.AIValidation{SentimentScore: 0.8, Confidence: 0.9, Recommendation: storage.RecommendApprove, Reasoning: "strong"},
	})
	require.NoError(t, err)
	return approved
}

func TestRiskCeiling(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	_, ok, err := RiskCeiling(ctx, store)
	require.NoError(t, err)
	require.False(t, ok, "nobody enabled")

	require.NoError(t, store.UpsertPreference(ctx, storage.UserPreference{UserID: "a", AutoExecuteEnabled: true, AutoExecuteMaxRisk: spread.RiskLow}))
	require.NoError(t, store.UpsertPreference(ctx, storage.UserPreference{UserID: "b", AutoExecuteEnabled: true}))
	require.NoError(t, store.UpsertPreference(ctx, storage.UserPreference{UserID: "c", AutoExecuteEnabled: false, AutoExecuteMaxRisk: spread.RiskHigh}))

	ceiling, ok, err := RiskCeiling(ctx, store)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, spread.RiskMedium, ceiling, "missing max risk defaults to MEDIUM and disabled users are ignored")
}
