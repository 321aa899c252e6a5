package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// priceCacheTTL bounds how long a price survives without refresh so a dead
// engine never leaves a permanently stale reference price behind.
const priceCacheTTL = 10 * time.Minute

// PriceCache implements domain.PriceCache using Redis hashes. Each mint's
// price lives at "price:{mint}" with fields "usd" and "ts" (Unix
// nanoseconds).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(mint string) string {
	return "price:" + mint
}

// SetPrice stores the latest USD price and observation time for a mint.
func (pc *PriceCache) SetPrice(ctx context.Context, mint string, priceUSD float64, ts time.Time) error {
	key := priceKey(mint)
	fields := map[string]interface{}{
		"usd": strconv.FormatFloat(priceUSD, 'f', -1, 64),
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	}
	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, priceCacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", mint, err)
	}
	return nil
}

// GetPrice retrieves the latest USD price and its observation time for a
// mint. It returns domain.ErrNotFound when no price is cached.
func (pc *PriceCache) GetPrice(ctx context.Context, mint string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(mint)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", mint, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(vals["usd"], 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", mint, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price ts %s: %w", mint, err)
	}
	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
