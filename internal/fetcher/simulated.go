package fetcher

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spread-sentinel/internal/pricebook"
)

// SimulatedOptions parameterise the drift source.
type SimulatedOptions struct {
	// MaxDriftPct bounds the per-draw offset from the reference, in percent.
	MaxDriftPct decimal.Decimal
	Seed        int64
	// PriceTTL is how long a book entry stands before a new draw; 0 draws every call.
	PriceTTL time.Duration
}

// Simulated derives a comparison price as reference * (1 + U(-d, +d)).
// The book owns the current price per symbol: a fresh entry (drawn earlier,
// written by another replica, or pinned by an operator) is returned as is.
type Simulated struct {
	book   pricebook.Book
	drift  decimal.Decimal
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated builds a drift source backed by book.
func NewSimulated(opts SimulatedOptions, book pricebook.Book, logger zerolog.Logger) *Simulated {
	drift := opts.MaxDriftPct
	if !drift.IsPositive() {
		drift = decimal.NewFromInt(1)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if book == nil {
		book = pricebook.NewMemory()
	}
	return &Simulated{
		book:   book,
		drift:  drift.Div(decimal.NewFromInt(100)),
		ttl:    opts.PriceTTL,
		logger: logger.With().Str("component", "simulated_source").Logger(),
		now:    time.Now,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Name identifies the source.
func (s *Simulated) Name() string { return "simulated" }

// FetchComparison returns the book price for symbol while it is fresh, and
// otherwise draws a new offset around reference and records it.
func (s *Simulated) FetchComparison(ctx context.Context, symbol string, reference decimal.Decimal) (decimal.Decimal, error) {
	if !reference.IsPositive() {
		return decimal.Zero, errors.New("simulated source needs a positive reference price")
	}

	if price, ok := s.held(ctx, symbol); ok {
		return price, nil
	}

	s.mu.Lock()
	u := s.rng.Float64()
	s.mu.Unlock()

	// offset in [-d, +d)
	offset := s.drift.Mul(decimal.NewFromFloat(u*2 - 1))
	price := reference.Mul(decimal.NewFromInt(1).Add(offset))

	if err := s.book.Set(ctx, symbol, price); err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("price book update failed")
	}
	return price, nil
}

func (s *Simulated) held(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	if s.ttl <= 0 {
		return decimal.Zero, false
	}
	entry, ok, err := s.book.Get(ctx, symbol)
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("price book read failed, drawing a new price")
		return decimal.Zero, false
	}
	if !ok || !entry.Price.IsPositive() {
		return decimal.Zero, false
	}
	if entry.UpdatedAt.IsZero() || s.now().Sub(entry.UpdatedAt) >= s.ttl {
		return decimal.Zero, false
	}
	return entry.Price, true
}

// Static returns fixed prices per symbol; used by simulate-opportunity.
type Static struct {
	Prices map[string]decimal.Decimal
}

// Name identifies the source.
func (s *Static) Name() string { return "static" }

// FetchComparison returns the configured price for symbol.
func (s *Static) FetchComparison(_ context.Context, symbol string, _ decimal.Decimal) (decimal.Decimal, error) {
	price, ok := s.Prices[symbol]
	if !ok {
		return decimal.Zero, errors.New("no static price for " + symbol)
	}
	return price, nil
}

var (
	_ ComparisonSource = (*Simulated)(nil)
	_ ComparisonSource = (*Static)(nil)
)
