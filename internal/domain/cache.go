package domain

import (
	"context"
	"time"
)

// PriceCache stores the latest reference price per mint with a freshness
// timestamp. Implementations return ErrNotFound on a miss.
type PriceCache interface {
	SetPrice(ctx context.Context, mint string, priceUSD float64, ts time.Time) error
	GetPrice(ctx context.Context, mint string) (float64, time.Time, error)
}

// BalanceCache stores the last observed wallet balance so low-frequency
// timers do not hammer the RPC node.
type BalanceCache interface {
	SetBalance(ctx context.Context, wallet string, lamports uint64) error
	GetBalance(ctx context.Context, wallet string) (uint64, error)
}

// LockManager provides distributed locks; used to guarantee a single live
// trader instance per wallet.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// RequestWindow counts requests in a sliding window, used to budget relay
// endpoint usage across instances.
type RequestWindow interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
