package spread

import (
	"errors"

	"github.com/shopspring/decimal"
)

const sizePlaces = 6

var (
	// MinOrderSize is the smallest base-asset size accepted for submission.
	MinOrderSize = decimal.New(1, -sizePlaces)

	// ErrInvalidPrice is returned when sizing against a non-positive price.
	ErrInvalidPrice = errors.New("spread: price must be positive")
	// ErrOrderTooSmall is returned when the rounded size is below MinOrderSize.
	ErrOrderTooSmall = errors.New("spread: order size below minimum")
)

// OrderSize converts a quote notional into a base size rounded to 6 places.
func OrderSize(notional, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, ErrInvalidPrice
	}
	size := notional.Div(price).Round(sizePlaces)
	if size.LessThan(MinOrderSize) {
		return decimal.Zero, ErrOrderTooSmall
	}
	return size, nil
}
