package pricebook

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Redis stores each symbol as a hash {price, ts} so replicas share one series.
type Redis struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedis builds a Redis-backed book; keys are "<prefix>price:<symbol>".
func NewRedis(rdb redis.Cmdable, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) key(symbol string) string {
	return r.prefix + "price:" + symbol
}

// Get reads the hash for symbol.
func (r *Redis) Get(ctx context.Context, symbol string) (Entry, bool, error) {
	vals, err := r.rdb.HGetAll(ctx, r.key(symbol)).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	priceStr, ok := vals["price"]
	if !ok {
		return Entry{}, false, nil
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}
	entry := Entry{Price: price}
	if tsStr, ok := vals["ts"]; ok {
		if nanos, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			entry.UpdatedAt = time.Unix(0, nanos).UTC()
		}
	}
	return entry, true, nil
}

// Set writes price and the current timestamp.
func (r *Redis) Set(ctx context.Context, symbol string, price decimal.Decimal) error {
	fields := map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(time.Now().UnixNano(), 10),
	}
	if err := r.rdb.HSet(ctx, r.key(symbol), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

var _ Book = (*Redis)(nil)
