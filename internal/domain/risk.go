package domain

import "time"

// RiskCheck is the gate's decision for a proposed trade. AdjustedAmount is
// set only when the gate shrank the requested size; a nil AdjustedAmount with
// Allowed=true means the full requested amount was approved.
type RiskCheck struct {
	Allowed        bool
	Reason         string
	AdjustedAmount *uint64
}

// Approved returns an allowed RiskCheck at the requested size.
func Approved() RiskCheck {
	return RiskCheck{Allowed: true}
}

// ApprovedAt returns an allowed RiskCheck shrunk to the given amount.
func ApprovedAt(amount uint64) RiskCheck {
	return RiskCheck{Allowed: true, AdjustedAmount: &amount}
}

// Denied returns a rejecting RiskCheck with a human-readable reason.
func Denied(reason string) RiskCheck {
	return RiskCheck{Allowed: false, Reason: reason}
}

// Amount resolves the effective trade size given the originally requested one.
func (rc RiskCheck) Amount(requested uint64) uint64 {
	if rc.AdjustedAmount != nil {
		return *rc.AdjustedAmount
	}
	return requested
}

// BreakerState is a snapshot of the circuit breaker state machine.
type BreakerState struct {
	Triggered           bool
	ConsecutiveFailures int
	CooldownRemaining   time.Duration
	LastTrippedAt       time.Time
	LastResetAt         time.Time
}

// RiskLevel selects one of the named limit profiles.
type RiskLevel string

const (
	RiskLevelConservative RiskLevel = "conservative"
	RiskLevelStandard     RiskLevel = "standard"
	RiskLevelAggressive   RiskLevel = "aggressive"
)

// Valid reports whether the level names a known profile.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLevelConservative, RiskLevelStandard, RiskLevelAggressive:
		return true
	}
	return false
}
