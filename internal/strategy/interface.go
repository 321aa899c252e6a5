package strategy

import (
	"context"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// Strategy is a poll-based opportunity producer. Scan is called once per
// engine iteration and returns zero or more candidate opportunities. A
// producer is responsible for setting ExpiresAt to the true validity of the
// quotes it embeds.
type Strategy interface {
	Name() string
	Scan(ctx context.Context) ([]domain.Opportunity, error)
}

// EventDrivenStrategy is an optional capability for strategies that react to
// streaming market data. OnPendingTransaction is invoked by the feed with an
// already-parsed event and may return a single opportunity, or nil when the
// event is not actionable.
type EventDrivenStrategy interface {
	Strategy
	OnPendingTransaction(ctx context.Context, event domain.PendingSwapEvent) (*domain.Opportunity, error)
}
