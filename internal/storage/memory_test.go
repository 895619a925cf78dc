package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-sentinel/internal/spread"
)

func newAlert(symbol string) Alert {
	return Alert{
		Symbol:          symbol,
		Asset:           "BTC_USDT",
		SpreadPct:       decimal.RequireFromString("2"),
		WeexPrice:       decimal.RequireFromString("50000"),
		OtherPrice:      decimal.RequireFromString("51000"),
		BuyAt:           VenueWEEX,
		SellAt:          VenueOther,
		ProjectedProfit: decimal.RequireFromString("1.8"),
		RiskLevel:       spread.RiskLow,
		AutoExecute:     true,
	}
}

func TestCanTransitionTable(t *testing.T) {
	all := []Status{StatusPending, StatusAnalyzing, StatusApproved, StatusRejected, StatusExecuting, StatusExecuted}
	allowed := map[[2]Status]bool{
		{StatusPending, StatusAnalyzing}:   true,
		{StatusAnalyzing, StatusApproved}:  true,
		{StatusAnalyzing, StatusRejected}:  true,
		{StatusApproved, StatusExecuting}:  true,
		{StatusExecuting, StatusExecuted}:  true,
		{StatusExecuting, StatusApproved}:  true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.True(t, StatusRejected.IsTerminal())
	assert.True(t, StatusExecuted.IsTerminal())
	assert.False(t, StatusApproved.IsTerminal())
	assert.True(t, StatusApproved.IsOpen())
	assert.False(t, StatusExecuting.IsOpen())
}

func TestMemoryStoreCreateAssignsDefaults(t *testing.T) {
	store := NewMemoryStore()
	created, err := store.CreateAlert(context.Background(), newAlert("cmt_btcusdt"))
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, AlertTypeArbitrage, created.Type)
	assert.Equal(t, StatusPending, created.Status)
	assert.Zero(t, created.ExecutionAttempts)
	assert.False(t, created.CreatedAt.IsZero())
}

func TestMemoryStoreOneOpenAlertPerSymbol(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := store.CreateAlert(ctx, newAlert("cmt_btcusdt"))
	require.NoError(t, err)

	_, err = store.CreateAlert(ctx, newAlert("cmt_btcusdt"))
	require.ErrorIs(t, err, ErrOpenAlertExists)

	_, err = store.CreateAlert(ctx, newAlert("cmt_ethusdt"))
	require.NoError(t, err)

	_, err = store.TransitionAlert(ctx, first.ID, StatusPending, StatusAnalyzing, AlertPatch{})
	require.NoError(t, err)
	_, err = store.TransitionAlert(ctx, first.ID, StatusAnalyzing, StatusRejected, AlertPatch{})
	require.NoError(t, err)

	open, err := store.HasOpenAlert(ctx, "cmt_btcusdt")
	require.NoError(t, err)
	assert.False(t, open)

	_, err = store.CreateAlert(ctx, newAlert("cmt_btcusdt"))
	require.NoError(t, err)
}

func TestMemoryStoreConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.CreateAlert(ctx, newAlert("cmt_btcusdt")); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestMemoryStoreTransitionCAS(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	alert, err := store.CreateAlert(ctx, newAlert("cmt_btcusdt"))
	require.NoError(t, err)

	_, err = store.TransitionAlert(ctx, alert.ID, StatusPending, StatusAnalyzing, AlertPatch{})
	require.NoError(t, err)

	// second claim loses
	_, err = store.TransitionAlert(ctx, alert.ID, StatusPending, StatusAnalyzing, AlertPatch{})
	require.ErrorIs(t, err, ErrStaleTransition)

	_, err = store.TransitionAlert(ctx, alert.ID, StatusAnalyzing, StatusExecuted, AlertPatch{})
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = store.TransitionAlert(ctx, "missing", StatusPending, StatusAnalyzing, AlertPatch{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorePatchAndRetry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	alert, err := store.CreateAlert(ctx, newAlert("cmt_btcusdt"))
	require.NoError(t, err)

	now := time.Now().UTC()
	verdict := &AIValidation{SentimentScore: 0.5, Confidence: 0.7, Reasoning: "ok", Recommendation: RecommendApprove}
	_, err = store.TransitionAlert(ctx, alert.ID, StatusPending, StatusAnalyzing, AlertPatch{})
	require.NoError(t, err)
	_, err = store.TransitionAlert(ctx, alert.ID, StatusAnalyzing, StatusApproved, AlertPatch{AIValidation: verdict, AnalyzedAt: &now})
	require.NoError(t, err)

	_, err = store.TransitionAlert(ctx, alert.ID, StatusApproved, StatusExecuting, AlertPatch{ExecutionStartedAt: &now})
	require.NoError(t, err)
	msg := "HTTP 500: boom"
	reverted, err := store.TransitionAlert(ctx, alert.ID, StatusExecuting, StatusApproved, AlertPatch{ExecutionError: &msg, IncrementAttempts: true})
	require.NoError(t, err)
	assert.Equal(t, 1, reverted.ExecutionAttempts)
	require.NotNil(t, reverted.ExecutionError)
	assert.Equal(t, msg, *reverted.ExecutionError)
	require.NotNil(t, reverted.AIValidation)
	assert.Equal(t, RecommendApprove, reverted.AIValidation.Recommendation)

	_, err = store.TransitionAlert(ctx, alert.ID, StatusApproved, StatusExecuting, AlertPatch{})
	require.NoError(t, err)
	orderID := "o-1"
	method := MethodTriggerOrder
	done, err := store.TransitionAlert(ctx, alert.ID, StatusExecuting, StatusExecuted, AlertPatch{
		OrderID:             &orderID,
		ExecutionMethod:     &method,
		ClearExecutionError: true,
		ExecutedAt:          &now,
	})
	require.NoError(t, err)
	assert.Nil(t, done.ExecutionError)
	assert.Equal(t, 1, done.ExecutionAttempts)
	assert.Equal(t, "o-1", *done.OrderID)

	// 返回值是副本，修改不影响存储
	*done.OrderID = "mutated"
	stored, err := store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, "o-1", *stored.OrderID)
}

func TestMemoryStoreListExecutable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	approve := func(a Alert) Alert {
		created, err := store.CreateAlert(ctx, a)
		require.NoError(t, err)
		_, err = store.TransitionAlert(ctx, created.ID, StatusPending, StatusAnalyzing, AlertPatch{})
		require.NoError(t, err)
		approved, err := store.TransitionAlert(ctx, created.ID, StatusAnalyzing, StatusApproved, AlertPatch{})
		require.NoError(t, err)
		return approved
	}

	manual := newAlert("cmt_ethusdt")
	manual.AutoExecute = false
	risky := newAlert("cmt_solusdt")
	risky.RiskLevel = spread.RiskHigh
	approve(newAlert("cmt_btcusdt"))
	approve(manual)
	approve(risky)

	// 一次失败的执行
	spent := approve(newAlert("cmt_xrpusdt"))
	_, err := store.TransitionAlert(ctx, spent.ID, StatusApproved, StatusExecuting, AlertPatch{})
	require.NoError(t, err)
	_, err = store.TransitionAlert(ctx, spent.ID, StatusExecuting, StatusApproved, AlertPatch{IncrementAttempts: true})
	require.NoError(t, err)

	executable, err := store.ListExecutable(ctx, ExecutableQuery{
		RiskLevels:  spread.LevelsWithin(spread.RiskMedium),
		MaxAttempts: 1,
		Limit:       10,
	})
	require.NoError(t, err)
	require.Len(t, executable, 1)
	assert.Equal(t, "cmt_btcusdt", executable[0].Symbol)

	all, err := store.ListExecutable(ctx, ExecutableQuery{
		RiskLevels: spread.LevelsWithin(spread.RiskHigh),
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Len(t, all, 3, "no attempt bound, every tier")

	approved, err := store.ListAlertsByStatus(ctx, StatusApproved, 1)
	require.NoError(t, err)
	assert.Len(t, approved, 1)
}

func TestMemoryStorePreferencesAndAudit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.UpsertPreference(ctx, UserPreference{UserID: "a", AutoExecuteEnabled: true}))
	require.NoError(t, store.UpsertPreference(ctx, UserPreference{UserID: "b", AutoExecuteEnabled: false, AutoExecuteMaxRisk: spread.RiskHigh}))

	prefs, err := store.ListAutoExecutePreferences(ctx)
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.Equal(t, spread.RiskMedium, prefs[0].AutoExecuteMaxRisk)

	require.NoError(t, store.RecordAudit(ctx, AuditDetectorError, map[string]string{"error": "x"}))
	require.NoError(t, store.RecordAudit(ctx, AuditTradeExecuted, map[string]string{"order_id": "1"}))
	entries, err := store.ListRecentAudit(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, AuditTradeExecuted, entries[0].Event)
	assert.JSONEq(t, `{"order_id":"1"}`, string(entries[0].Detail))
}

func TestMemoryStoreSpreadSamplesWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		require.NoError(t, store.AppendSpreadSample(ctx, SpreadSample{
			ObservedAt: base.Add(time.Duration(i) * time.Minute),
			Symbol:     []string{"cmt_btcusdt", "cmt_ethusdt"}[i%2],
			SpreadPct:  decimal.NewFromInt(int64(i)),
		}))
	}

	all, err := store.ListSpreadSamples(ctx, "", base, base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Len(t, all, 3)

	btc, err := store.ListSpreadSamples(ctx, "cmt_btcusdt", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, btc, 2)
}

func TestStoreWithoutPool(t *testing.T) {
	var store *Store
	_, err := store.GetAlert(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.ErrorIs(t, Migrate(nil, 0), ErrNotConfigured)
}
