package spread

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)

	// DefaultFeeRate is the per-leg taker fee applied to projected profit.
	DefaultFeeRate = decimal.NewFromFloat(0.001)
	// DefaultMinSpreadPct is the minimum spread (percent) worth flagging.
	DefaultMinSpreadPct = decimal.NewFromInt(1)
	// DefaultTradeAmount is the notional used to project profit.
	DefaultTradeAmount = decimal.NewFromInt(100)
)

// Params bundles the profitability inputs; zero fields fall back to defaults.
type Params struct {
	MinSpreadPct decimal.Decimal
	TradeAmount  decimal.Decimal
	FeeRate      decimal.Decimal
}

// WithDefaults fills unset fields.
func (p Params) WithDefaults() Params {
	if p.MinSpreadPct.IsZero() {
		p.MinSpreadPct = DefaultMinSpreadPct
	}
	if p.TradeAmount.IsZero() {
		p.TradeAmount = DefaultTradeAmount
	}
	if p.FeeRate.IsZero() {
		p.FeeRate = DefaultFeeRate
	}
	return p
}

// Percent returns (max-min)/min*100, or zero when either price is not positive.
func Percent(a, b decimal.Decimal) decimal.Decimal {
	if !a.IsPositive() || !b.IsPositive() {
		return decimal.Zero
	}
	lo, hi := a, b
	if lo.GreaterThan(hi) {
		lo, hi = hi, lo
	}
	return hi.Sub(lo).Div(lo).Mul(hundred)
}

// ProjectedProfit is the gross spread capture minus round-trip fees.
func ProjectedProfit(spreadPct, amount, feeRate decimal.Decimal) decimal.Decimal {
	gross := spreadPct.Div(hundred).Mul(amount)
	fees := amount.Mul(feeRate).Mul(two)
	return gross.Sub(fees)
}

// IsProfitable reports whether spreadPct clears the threshold and nets a positive profit.
func IsProfitable(spreadPct decimal.Decimal, p Params) bool {
	p = p.WithDefaults()
	if spreadPct.LessThan(p.MinSpreadPct) {
		return false
	}
	return ProjectedProfit(spreadPct, p.TradeAmount, p.FeeRate).IsPositive()
}
