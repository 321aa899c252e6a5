package domain

import "time"

// PendingSwapEvent is a parsed pending transaction observed on the market
// data stream. Decoding raw instructions happens upstream; strategies only
// see this normalized form.
type PendingSwapEvent struct {
	Signature  string
	Program    string
	PoolAddr   string
	InputMint  string
	OutputMint string
	InAmount   uint64
	OutAmount  uint64
	Slot       uint64
	ObservedAt time.Time
}
