package quote

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// PriceCache stores recently fetched prices.
type PriceCache interface {
	GetPrice(ctx context.Context, ticker string) (decimal.Decimal, bool)
	SetPrice(ctx context.Context, ticker string, price decimal.Decimal)
}

// RedisPriceCache stores each price as a hash at "quote:{ticker}" with fields
// "price" and "ts" (Unix nanoseconds). Entries expire after ttl.
type RedisPriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisPriceCache creates a cache backed by rdb.
func NewRedisPriceCache(rdb *redis.Client, ttl time.Duration) *RedisPriceCache {
	return &RedisPriceCache{rdb: rdb, ttl: ttl}
}

func quoteKey(ticker string) string {
	return "quote:" + ticker
}

// GetPrice reports a miss on any Redis error; the caller falls back to the
// provider.
func (c *RedisPriceCache) GetPrice(ctx context.Context, ticker string) (decimal.Decimal, bool) {
	vals, err := c.rdb.HGetAll(ctx, quoteKey(ticker)).Result()
	if err != nil || len(vals) == 0 {
		return decimal.Zero, false
	}

	price, err := decimal.NewFromString(vals["price"])
	if err != nil {
		return decimal.Zero, false
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil || time.Since(time.Unix(0, tsNano)) > c.ttl {
		return decimal.Zero, false
	}
	return price, true
}

func (c *RedisPriceCache) SetPrice(ctx context.Context, ticker string, price decimal.Decimal) {
	key := quoteKey(ticker)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(time.Now().UnixNano(), 10),
	})
	pipe.Expire(ctx, key, c.ttl)
	_, _ = pipe.Exec(ctx)
}

var _ PriceCache = (*RedisPriceCache)(nil)
