package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// Breaker is the consecutive-failure circuit breaker. It trips when the
// failure count reaches the threshold and resets lazily: the cooldown is
// checked when the gate next evaluates, not by a timer.
type Breaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration

	failures      int
	triggered     bool
	lastTrippedAt time.Time
	lastResetAt   time.Time

	logger *slog.Logger
	now    func() time.Time
}

// NewBreaker creates a closed breaker with the given trip threshold and
// cooldown.
func NewBreaker(threshold int, cooldown time.Duration, logger *slog.Logger) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger.With(slog.String("component", "breaker")),
		now:       time.Now,
	}
}

// Configure swaps the threshold and cooldown, used when the risk profile
// changes. The current failure count and trip state are preserved.
func (b *Breaker) Configure(threshold int, cooldown time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.threshold = threshold
	b.cooldown = cooldown
}

// RecordResult is the breaker's only write path. A success with non-negative
// profit resets the counter; anything else increments it and may trip the
// breaker. Gate denials never reach this method: only execution outcomes
// drive the breaker.
func (b *Breaker) RecordResult(success bool, profit int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success && profit >= 0 {
		b.failures = 0
		return
	}

	b.failures++
	if b.failures >= b.threshold && !b.triggered {
		b.triggered = true
		b.lastTrippedAt = b.now()
		b.logger.Warn("circuit breaker tripped",
			slog.Int("consecutive_failures", b.failures),
			slog.Int("threshold", b.threshold),
			slog.Duration("cooldown", b.cooldown),
		)
	}
}

// Check reports whether the breaker currently blocks trading. When the
// cooldown has elapsed the breaker resets and the call reports open.
func (b *Breaker) Check() (tripped bool, remaining time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.triggered {
		return false, 0
	}

	elapsed := b.now().Sub(b.lastTrippedAt)
	if elapsed >= b.cooldown {
		b.triggered = false
		b.failures = 0
		b.lastResetAt = b.now()
		b.logger.Info("circuit breaker reset after cooldown")
		return false, 0
	}
	return true, b.cooldown - elapsed
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// State returns a snapshot for the status surface.
func (b *Breaker) State() domain.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := domain.BreakerState{
		Triggered:           b.triggered,
		ConsecutiveFailures: b.failures,
		LastTrippedAt:       b.lastTrippedAt,
		LastResetAt:         b.lastResetAt,
	}
	if b.triggered {
		if rem := b.cooldown - b.now().Sub(b.lastTrippedAt); rem > 0 {
			st.CooldownRemaining = rem
		}
	}
	return st
}
