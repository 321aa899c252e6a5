// Package notify fans operational alerts out to chat channels. Senders are
// independent; one channel being down never blocks another.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Alert event names recognized by the notify.events config filter.
const (
	EventStuckAsset    = "stuck_asset"
	EventBreakerTrip   = "breaker_trip"
	EventLowBalance    = "low_balance"
	EventEmergencyStop = "emergency_stop"
)

// Sender delivers a single formatted alert to one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier applies the configured event filter and fans alerts out to every
// sender. An empty filter means every event is delivered.
type Notifier struct {
	senders []Sender
	allowed map[string]struct{}
	logger  *slog.Logger
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	n := &Notifier{
		senders: senders,
		allowed: make(map[string]struct{}, len(events)),
		logger:  logger.With(slog.String("component", "notifier")),
	}
	for _, e := range events {
		n.allowed[strings.TrimSpace(e)] = struct{}{}
	}
	return n
}

// Notify delivers the alert if its event passes the configured filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.allowed) > 0 {
		if _, ok := n.allowed[event]; !ok {
			n.logger.DebugContext(ctx, "alert suppressed by filter", slog.String("event", event))
			return nil
		}
	}
	return n.fanOut(ctx, title, message)
}

// NotifyAll delivers the alert to every sender, ignoring the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.fanOut(ctx, title, message)
}

func (n *Notifier) fanOut(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		err := s.Send(ctx, title, message)
		if err == nil {
			continue
		}
		n.logger.ErrorContext(ctx, "alert delivery failed",
			slog.String("sender", s.Name()),
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return errors.Join(errs...)
}
