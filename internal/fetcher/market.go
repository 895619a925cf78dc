package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BinanceOptions parameterise the spot ticker source.
type BinanceOptions struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	Timeout   time.Duration
	// Symbols overrides the derived spot pair, keyed by contract symbol.
	Symbols map[string]string
}

// Binance reads the last spot price from Binance as the comparison venue.
type Binance struct {
	opts   BinanceOptions
	client *binance.Client
	logger zerolog.Logger
}

// NewBinance constructs a Binance comparison source.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := binance.NewClient(opts.APIKey, opts.SecretKey)
	client.HTTPClient = &http.Client{Timeout: timeout}
	if base := strings.TrimRight(opts.BaseURL, "/"); base != "" {
		client.BaseURL = base
	}

	return &Binance{
		opts:   opts,
		client: client,
		logger: logger.With().Str("component", "binance_source").Logger(),
	}
}

// Name identifies the source.
func (b *Binance) Name() string { return "binance" }

// FetchComparison returns the spot last price for the mapped pair.
func (b *Binance) FetchComparison(ctx context.Context, symbol string, _ decimal.Decimal) (decimal.Decimal, error) {
	pair := b.pairFor(symbol)

	prices, err := b.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance ticker %s: %w", pair, err)
	}
	for _, p := range prices {
		if p == nil || !strings.EqualFold(p.Symbol, pair) {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse binance price %q: %w", p.Price, err)
		}
		if !price.IsPositive() {
			return decimal.Zero, fmt.Errorf("binance returned non-positive price for %s", pair)
		}
		return price, nil
	}
	return decimal.Zero, fmt.Errorf("binance returned no price for %s", pair)
}

func (b *Binance) pairFor(symbol string) string {
	if pair, ok := b.opts.Symbols[symbol]; ok && pair != "" {
		return pair
	}
	return SpotSymbolOf(symbol)
}

var _ ComparisonSource = (*Binance)(nil)
