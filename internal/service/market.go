package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"spread-sentinel/internal/exchange"
	"spread-sentinel/internal/storage"
)

// FetchFunc returns the projection to store for key. Symbol-less collections
// receive an empty key.
type FetchFunc func(ctx context.Context, key string) (any, error)

// SnapshotPoller refreshes one market_snapshots collection.
type SnapshotPoller struct {
	collection  string
	keys        []string
	fetch       FetchFunc
	symbolDelay time.Duration
	store       storage.SnapshotStore
	logger      zerolog.Logger
	now         func() time.Time
}

// NewSnapshotPoller builds a poller writing collection for every key.
func NewSnapshotPoller(collection string, keys []string, symbolDelay time.Duration, fetch FetchFunc, store storage.SnapshotStore, logger zerolog.Logger) *SnapshotPoller {
	return &SnapshotPoller{
		collection:  collection,
		keys:        keys,
		fetch:       fetch,
		symbolDelay: symbolDelay,
		store:       store,
		logger:      logger.With().Str("component", "market_poller").Str("collection", collection).Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Collection returns the collection name.
func (p *SnapshotPoller) Collection() string { return p.collection }

// Tick refreshes every key sequentially. Per-key fetch errors are logged and
// skipped; store errors abort the pass.
func (p *SnapshotPoller) Tick(ctx context.Context, _ time.Time) error {
	written := 0
	for i, key := range p.keys {
		if i > 0 && p.symbolDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.symbolDelay):
			}
		}

		value, err := p.fetch(ctx, key)
		if errors.Is(err, exchange.ErrCredentialsMissing) {
			p.logger.Debug().Msg("credentials not configured, skipping")
			return nil
		}
		if err != nil {
			p.logger.Warn().Err(err).Str("symbol", key).Msg("fetch failed")
			continue
		}

		payload, err := json.Marshal(value)
		if err != nil {
			p.logger.Warn().Err(err).Str("symbol", key).Msg("encode snapshot failed")
			continue
		}
		if err := p.store.UpsertSnapshot(ctx, storage.Snapshot{
			Collection: p.collection,
			Key:        key,
			Payload:    payload,
			UpdatedAt:  p.now(),
		}); err != nil {
			return fmt.Errorf("store %s/%s: %w", p.collection, key, err)
		}
		written++
	}
	p.logger.Debug().Int("written", written).Msg("snapshots refreshed")
	return nil
}

// MarketPollerOptions size the auxiliary fetches.
type MarketPollerOptions struct {
	Symbols     []string
	DepthLimit  int
	TradesLimit int
	SymbolDelay time.Duration
}

// NewMarketPollers builds the five auxiliary pollers keyed by collection.
func NewMarketPollers(opts MarketPollerOptions, feed MarketFeed, store storage.SnapshotStore, logger zerolog.Logger) map[string]*SnapshotPoller {
	depth, trades := opts.DepthLimit, opts.TradesLimit
	if depth <= 0 {
		depth = 20
	}
	if trades <= 0 {
		trades = 50
	}

	perSymbol := func(collection string, fetch FetchFunc) *SnapshotPoller {
		return NewSnapshotPoller(collection, opts.Symbols, opts.SymbolDelay, fetch, store, logger)
	}

	return map[string]*SnapshotPoller{
		storage.CollectionOrderBooks: perSymbol(storage.CollectionOrderBooks, func(ctx context.Context, symbol string) (any, error) {
			return feed.OrderBook(ctx, symbol, depth)
		}),
		storage.CollectionRecentTrades: perSymbol(storage.CollectionRecentTrades, func(ctx context.Context, symbol string) (any, error) {
			list, err := feed.RecentTrades(ctx, symbol, trades)
			if err != nil {
				return nil, err
			}
			return map[string]any{"symbol": symbol, "trades": list}, nil
		}),
		storage.CollectionOpenInterest: perSymbol(storage.CollectionOpenInterest, func(ctx context.Context, symbol string) (any, error) {
			return feed.OpenInterest(ctx, symbol)
		}),
		storage.CollectionFundingRates: perSymbol(storage.CollectionFundingRates, func(ctx context.Context, symbol string) (any, error) {
			return feed.FundingRate(ctx, symbol)
		}),
		storage.CollectionAccountBalance: NewSnapshotPoller(storage.CollectionAccountBalance, []string{"account"}, 0,
			func(ctx context.Context, _ string) (any, error) {
				return feed.AccountBalance(ctx)
			}, store, logger),
	}
}
