package domain

import "time"

// Position is an open exposure in an intermediate asset, created when the
// first leg of a cycle fills and destroyed when the final leg completes (or
// the holding is converted into a StuckAsset).
type Position struct {
	TradeID       string
	Strategy      string
	Mint          string
	Symbol        string
	Amount        uint64 // committed base-currency amount, lamports
	EntryPriceUSD float64
	OpenedAt      time.Time
}

// Age returns how long the position has been open.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}
