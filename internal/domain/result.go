package domain

import "time"

// TradeStatus is the persisted state of one execution attempt.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusFailed    TradeStatus = "failed"
	TradeStatusDeclined  TradeStatus = "declined" // leg 2 deliberately skipped
	TradeStatusUnknown   TradeStatus = "unknown"  // bundle timed out, fate unresolved
)

// ExecutionResult is the outcome of one execution attempt. Profit is net of
// nothing further: quoted amounts already include fees.
type ExecutionResult struct {
	TradeID      string
	Success      bool
	Profit       int64 // lamports, negative on loss
	ProfitUSD    float64
	Signatures   []string
	ComputeUnits uint64
	TipLamports  uint64
	Status       TradeStatus
	Error        string
	Stuck        *StuckAsset
	Duration     time.Duration
}

// TradeResult is the completed-trade record the ledger aggregates.
type TradeResult struct {
	TradeID   string
	Strategy  string
	Profit    int64
	ProfitUSD float64
	FeesUSD   float64
	Success   bool
	Timestamp time.Time
}

// DailyPnL is one day's aggregate, keyed by UTC date.
type DailyPnL struct {
	Date      string // YYYY-MM-DD
	ProfitUSD float64
	Trades    int
	Wins      int
	Losses    int
}

// PnLSnapshot is the cumulative profit-and-loss view.
type PnLSnapshot struct {
	TotalProfitUSD  float64
	TotalTrades     int
	Wins            int
	Losses          int
	WinRate         float64
	BestTradeUSD    float64
	WorstTradeUSD   float64
	CurrentStreak   int // positive = win streak, negative = loss streak
	LongestWinRun   int
	LongestLossRun  int
	PeakBalanceUSD  float64
	DrawdownUSD     float64
	DrawdownPercent float64
}

// StrategyStats aggregates results per strategy for the status surface.
type StrategyStats struct {
	Strategy  string
	Trades    int
	Wins      int
	ProfitUSD float64
}
