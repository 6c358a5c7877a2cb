package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/quantfold/etfbot/internal/domain"
)

// PriceCache publishes the latest observed price per symbol so other
// processes (dashboards, risk monitors) can read the live tape without
// subscribing to the feed themselves.
type PriceCache struct {
	client *Client
	ttl    time.Duration
}

// NewPriceCache creates a PriceCache. Entries expire after ttl so a stale
// price disappears instead of masquerading as live; ttl <= 0 disables expiry.
func NewPriceCache(client *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{client: client, ttl: ttl}
}

func priceKey(symbol string) string {
	return "etfbot:price:" + symbol
}

// SetPrice stores the latest price for a symbol.
func (c *PriceCache) SetPrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	key := priceKey(symbol)
	fields := map[string]any{
		"price": price.String(),
		"ts":    ts.UTC().Format(time.RFC3339Nano),
	}

	pipe := c.client.Underlying().TxPipeline()
	pipe.HSet(ctx, key, fields)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice returns the latest cached price for a symbol, or
// domain.ErrNotFound if none is cached.
func (c *PriceCache) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	vals, err := c.client.Underlying().HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, time.Time{}, domain.ErrNotFound
		}
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}

	price, err := decimal.NewFromString(vals["price"])
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse cached price %s: %w", symbol, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, vals["ts"])
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse cached timestamp %s: %w", symbol, err)
	}
	return price, ts.UTC(), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
