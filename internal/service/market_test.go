package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-sentinel/internal/exchange"
	"spread-sentinel/internal/storage"
)

func TestMarketPollersWriteSnapshots(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	symbols := []string{btc, "cmt_ethusdt"}
	pollers := NewMarketPollers(MarketPollerOptions{Symbols: symbols, DepthLimit: 5}, &fakeFeed{}, store, testLogger())
	require.Len(t, pollers, 5)

	for name, p := range pollers {
		assert.Equal(t, name, p.Collection())
		require.NoError(t, p.Tick(ctx, time.Now()))
	}

	for _, collection := range []string{
		storage.CollectionOrderBooks,
		storage.CollectionRecentTrades,
		storage.CollectionOpenInterest,
		storage.CollectionFundingRates,
	} {
		for _, symbol := range symbols {
			_, ok := store.Snapshot(collection, symbol)
			assert.True(t, ok, "%s/%s", collection, symbol)
		}
	}

	snap, ok := store.Snapshot(storage.CollectionOrderBooks, btc)
	require.True(t, ok)
	var book struct {
		Symbol string              `json:"symbol"`
		Bids   []map[string]string `json:"bids"`
	}
	require.NoError(t, json.Unmarshal(snap.Payload, &book))
	assert.Equal(t, btc, book.Symbol)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, "5", book.Bids[0]["size"])

	_, ok = store.Snapshot(storage.CollectionAccountBalance, "account")
	assert.True(t, ok)
}

func TestMarketPollerSkipsFailedSymbol(t *testing.T) {
	store := storage.NewMemoryStore()
	pollers := NewMarketPollers(MarketPollerOptions{Symbols: []string{btc, "cmt_ethusdt"}}, &fakeFeed{failSymbol: btc}, store, testLogger())

	require.NoError(t, pollers[storage.CollectionOrderBooks].Tick(context.Background(), time.Now()))
	_, ok := store.Snapshot(storage.CollectionOrderBooks, btc)
	assert.False(t, ok)
	_, ok = store.Snapshot(storage.CollectionOrderBooks, "cmt_ethusdt")
	assert.True(t, ok)
}

func TestBalancePollerSkipsWithoutCredentials(t *testing.T) {
	store := storage.NewMemoryStore()
	pollers := NewMarketPollers(MarketPollerOptions{}, &fakeFeed{balanceErr: exchange.ErrCredentialsMissing}, store, testLogger())

	require.NoError(t, pollers[storage.CollectionAccountBalance].Tick(context.Background(), time.Now()))
	_, ok := store.Snapshot(storage.CollectionAccountBalance, "account")
	assert.False(t, ok)
}

func TestSnapshotPollerHonoursCancellation(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewSnapshotPoller("test", []string{"a", "b"}, time.Minute, func(context.Context, string) (any, error) {
		return map[string]string{"ok": "1"}, nil
	}, store, testLogger())
	require.ErrorIs(t, p.Tick(ctx, time.Now()), context.Canceled)
	_, ok := store.Snapshot("test", "a")
	assert.True(t, ok, "first key is written before the delay")
}
