package fetcher

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// ComparisonSource supplies the second-venue price compared against WEEX.
// reference is the WEEX price for the same symbol in the current cycle.
type ComparisonSource interface {
	Name() string
	FetchComparison(ctx context.Context, symbol string, reference decimal.Decimal) (decimal.Decimal, error)
}

// AssetOf maps a contract symbol such as cmt_btcusdt to BTC_USDT.
func AssetOf(symbol string) string {
	base := strings.TrimPrefix(strings.ToLower(symbol), "cmt_")
	base = strings.TrimSuffix(base, "usdt")
	return strings.ToUpper(base) + "_USDT"
}

// SpotSymbolOf maps cmt_btcusdt to the spot pair BTCUSDT.
func SpotSymbolOf(symbol string) string {
	return strings.ToUpper(strings.TrimPrefix(strings.ToLower(symbol), "cmt_"))
}
