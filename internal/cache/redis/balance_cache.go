package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// balanceCacheTTL keeps the cached balance short-lived; the timers refresh
// it every minute.
const balanceCacheTTL = 5 * time.Minute

// BalanceCache implements domain.BalanceCache with plain string keys.
type BalanceCache struct {
	rdb *redis.Client
}

// NewBalanceCache creates a BalanceCache backed by the given Client.
func NewBalanceCache(c *Client) *BalanceCache {
	return &BalanceCache{rdb: c.Underlying()}
}

func balanceKey(wallet string) string {
	return "balance:" + wallet
}

// SetBalance stores the last observed lamport balance for a wallet.
func (bc *BalanceCache) SetBalance(ctx context.Context, wallet string, lamports uint64) error {
	err := bc.rdb.Set(ctx, balanceKey(wallet),
		strconv.FormatUint(lamports, 10), balanceCacheTTL).Err()
	if err != nil {
		return fmt.Errorf("redis: set balance %s: %w", wallet, err)
	}
	return nil
}

// GetBalance returns the cached lamport balance for a wallet, or
// domain.ErrNotFound when none is cached.
func (bc *BalanceCache) GetBalance(ctx context.Context, wallet string) (uint64, error) {
	val, err := bc.rdb.Get(ctx, balanceKey(wallet)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get balance %s: %w", wallet, err)
	}

	lamports, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse balance %s: %w", wallet, err)
	}
	return lamports, nil
}

// Compile-time interface check.
var _ domain.BalanceCache = (*BalanceCache)(nil)
