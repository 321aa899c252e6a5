package domain

import (
	"context"
	"time"
)

// TradeRecord is the persisted journal row for one execution attempt,
// including deliberate declines, so that every signature can be reconciled
// out-of-band.
type TradeRecord struct {
	ID          string
	Strategy    string
	AssetPath   []string
	InputAmount uint64
	Profit      int64
	ProfitUSD   float64
	Status      TradeStatus
	Signatures  []string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TradeStore persists the trade journal.
type TradeStore interface {
	Insert(ctx context.Context, t TradeRecord) error
	Update(ctx context.Context, t TradeRecord) error
	ListByStatus(ctx context.Context, status TradeStatus, limit int) ([]TradeRecord, error)
}

// PnLStore persists daily aggregates and per-strategy stats.
type PnLStore interface {
	UpsertDaily(ctx context.Context, day DailyPnL) error
	Today(ctx context.Context) (DailyPnL, error)
	History(ctx context.Context, days int) ([]DailyPnL, error)
	RecordStrategyResult(ctx context.Context, strategy string, profitUSD float64, win bool) error
	StrategyStats(ctx context.Context) ([]StrategyStats, error)
}

// StuckAssetStore persists stranded-asset records.
type StuckAssetStore interface {
	Add(ctx context.Context, s StuckAsset) (int64, error)
	ListPending(ctx context.Context) ([]StuckAsset, error)
	MarkRecovered(ctx context.Context, id int64, proof string) error
}

// StateStore is a generic key/value store for small engine state such as the
// tracked peak balance and the last breaker snapshot.
type StateStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// State keys used across the engine.
const (
	StateKeyPeakBalance = "peak_balance_usd"
	StateKeyRiskLevel   = "risk_level"
)
