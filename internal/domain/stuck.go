package domain

import "time"

// RecoveryStatus tracks the lifecycle of a stranded asset.
type RecoveryStatus string

const (
	RecoveryPending   RecoveryStatus = "pending"
	RecoveryRecovered RecoveryStatus = "recovered"
)

// Stranding reasons recorded on StuckAsset.Reason. Free-form reasons are also
// allowed; these constants cover the paths the executor itself produces.
const (
	StuckReasonLegFailed      = "leg_failed"
	StuckReasonNoReverseQuote = "no_reverse_quote"
	StuckReasonLossDeclined   = "reverse_swap_would_lose"
	StuckReasonEmergencyStop  = "emergency_stop"
)

// StuckAsset is a persisted record of a token balance that could not be
// converted back to the base currency. It stays pending until a recovery
// sweep reconverts it or confirms the wallet no longer holds it.
type StuckAsset struct {
	ID              int64
	Mint            string
	Symbol          string
	EstimatedAmount uint64 // raw token units
	TradeID         string
	Reason          string
	Status          RecoveryStatus
	CreatedAt       time.Time
	RecoveredAt     *time.Time
	RecoveryProof   string // signature of the recovery swap, or "wallet_empty"
}
