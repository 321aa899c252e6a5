package domain

import (
	"fmt"
	"time"
)

// Opportunity is a candidate trade produced by a strategy. Amounts are in the
// smallest on-chain unit (lamports for the base currency, raw token units for
// everything else).
type Opportunity struct {
	ID                string
	Strategy          string
	AssetPath         []string // symbols along the cycle, e.g. [SOL, RAY, SOL]
	MintPath          []string // mint addresses, same length as AssetPath
	InputAmount       uint64
	ExpectedOutput    uint64
	ExpectedProfit    int64 // lamports
	ExpectedProfitUSD float64
	Confidence        float64 // [0,1]
	Quotes            []*Quote
	Metadata          map[string]string
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

// Validate checks the structural invariants of an opportunity.
func (o Opportunity) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("opportunity: missing id")
	}
	if o.Strategy == "" {
		return fmt.Errorf("opportunity %s: missing strategy", o.ID)
	}
	if len(o.AssetPath) < 2 {
		return fmt.Errorf("opportunity %s: asset path needs at least 2 hops, got %d", o.ID, len(o.AssetPath))
	}
	if len(o.AssetPath) != len(o.MintPath) {
		return fmt.Errorf("opportunity %s: asset path (%d) and mint path (%d) length mismatch",
			o.ID, len(o.AssetPath), len(o.MintPath))
	}
	if o.InputAmount == 0 {
		return fmt.Errorf("opportunity %s: zero input amount", o.ID)
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("opportunity %s: confidence %f outside [0,1]", o.ID, o.Confidence)
	}
	return nil
}

// Expired reports whether the opportunity's quotes are no longer usable.
func (o Opportunity) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// Legs returns the number of swaps needed to complete the cycle.
func (o Opportunity) Legs() int {
	if len(o.AssetPath) < 2 {
		return 0
	}
	return len(o.AssetPath) - 1
}

// Quote is a priced route for a single swap, as returned by the quote
// provider. OutAmount already reflects fees and price impact.
type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       uint64
	OutAmount      uint64
	SlippageBps    int
	PriceImpactPct float64
	RoutePlan      []byte // provider-opaque route, passed back when building the swap
	FetchedAt      time.Time
}
