package spread

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RiskLevel is the three-tier classification attached to every alert.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

var (
	highSpread     = decimal.NewFromInt(5)
	mediumSpread   = decimal.NewFromInt(2)
	highVolatility = decimal.NewFromFloat(0.1)
	midVolatility  = decimal.NewFromFloat(0.05)
)

// Classify maps a spread and volatility to a risk tier. Both bounds are strict.
func Classify(spreadPct, volatility decimal.Decimal) RiskLevel {
	switch {
	case spreadPct.GreaterThan(highSpread) || volatility.GreaterThan(highVolatility):
		return RiskHigh
	case spreadPct.GreaterThan(mediumSpread) || volatility.GreaterThan(midVolatility):
		return RiskMedium
	default:
		return RiskLow
	}
}

// Rank orders tiers LOW < MEDIUM < HIGH; unknown values rank above HIGH.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 4
	}
}

// Valid reports whether r is one of the three known tiers.
func (r RiskLevel) Valid() bool {
	return r.Rank() <= 3
}

// Within reports whether r is at or below ceiling.
func (r RiskLevel) Within(ceiling RiskLevel) bool {
	if !ceiling.Valid() {
		return false
	}
	return r.Rank() <= ceiling.Rank()
}

// LevelsWithin lists the tiers at or below ceiling, lowest first.
func LevelsWithin(ceiling RiskLevel) []RiskLevel {
	out := make([]RiskLevel, 0, 3)
	for _, level := range []RiskLevel{RiskLow, RiskMedium, RiskHigh} {
		if level.Within(ceiling) {
			out = append(out, level)
		}
	}
	return out
}

// ParseRiskLevel normalises stored values; empty or unknown input yields fallback.
func ParseRiskLevel(raw string, fallback RiskLevel) RiskLevel {
	level := RiskLevel(strings.ToUpper(strings.TrimSpace(raw)))
	if level.Valid() {
		return level
	}
	return fallback
}

// MostPermissive returns the highest tier in levels, or "" when levels is empty.
func MostPermissive(levels ...RiskLevel) RiskLevel {
	var best RiskLevel
	for _, level := range levels {
		if !level.Valid() {
			continue
		}
		if best == "" || level.Rank() > best.Rank() {
			best = level
		}
	}
	return best
}
