// Package ledger owns the engine's positions and profit-and-loss aggregates.
// It is the single writer for this state; the risk gate only reads it. All
// methods are safe for concurrent use, and every figure returned by a read is
// computed under the same mutex so a gate evaluation never observes a
// half-applied update.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// Ledger tracks open positions, daily and cumulative PnL, streaks, and the
// drawdown peak. Aggregates are written through to the PnL store; storage
// failures degrade to in-memory-only operation with an error log rather than
// halting trading.
type Ledger struct {
	mu sync.Mutex

	positions map[string]domain.Position // keyed by trade ID

	dailyDate string // UTC YYYY-MM-DD the daily aggregate belongs to
	daily     domain.DailyPnL

	totalProfitUSD float64
	totalTrades    int
	wins           int
	losses         int
	bestTradeUSD   float64
	worstTradeUSD  float64
	currentStreak  int
	longestWinRun  int
	longestLossRun int
	peakBalanceUSD float64

	pnl        domain.PnLStore
	state      domain.StateStore
	failClosed bool
	logger     *slog.Logger

	now func() time.Time
}

// New creates a Ledger backed by the given stores.
func New(pnl domain.PnLStore, state domain.StateStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		positions: make(map[string]domain.Position),
		pnl:       pnl,
		state:     state,
		logger:    logger.With(slog.String("component", "ledger")),
		now:       time.Now,
	}
}

// SetFailClosed switches persistence-read failures in Load from degrading
// to zero values into hard startup errors.
func (l *Ledger) SetFailClosed(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failClosed = on
}

// Load restores today's aggregate and the tracked peak balance from storage.
// By default read failures fall back to zero values: the engine prefers
// trading with no memory of past losses over not starting at all. With
// fail-closed enabled a read failure aborts the start instead.
func (l *Ledger) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.dailyDate = l.today()
	l.daily = domain.DailyPnL{Date: l.dailyDate}

	day, err := l.pnl.Today(ctx)
	switch {
	case err != nil && l.failClosed:
		return fmt.Errorf("ledger: load daily pnl: %w", err)
	case err != nil:
		l.logger.Error("load daily pnl failed, starting from zero",
			slog.String("error", err.Error()))
	case day.Date == l.dailyDate:
		l.daily = day
	}

	raw, err := l.state.Get(ctx, domain.StateKeyPeakBalance)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil // fresh start, no peak tracked yet
	case err != nil && l.failClosed:
		return fmt.Errorf("ledger: load peak balance: %w", err)
	case err != nil:
		l.logger.Error("load peak balance failed, starting from zero",
			slog.String("error", err.Error()))
		return nil
	}
	if peak, perr := strconv.ParseFloat(raw, 64); perr == nil {
		l.peakBalanceUSD = peak
	}
	return nil
}

// RecordTrade appends a completed trade to the daily and cumulative
// aggregates and updates streak counters.
func (l *Ledger) RecordTrade(ctx context.Context, res domain.TradeResult) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked()

	win := res.Success && res.Profit >= 0

	l.daily.ProfitUSD += res.ProfitUSD
	l.daily.Trades++
	l.totalProfitUSD += res.ProfitUSD
	l.totalTrades++

	if win {
		l.daily.Wins++
		l.wins++
		if l.currentStreak > 0 {
			l.currentStreak++
		} else {
			l.currentStreak = 1
		}
		if l.currentStreak > l.longestWinRun {
			l.longestWinRun = l.currentStreak
		}
	} else {
		l.daily.Losses++
		l.losses++
		if l.currentStreak < 0 {
			l.currentStreak--
		} else {
			l.currentStreak = -1
		}
		if -l.currentStreak > l.longestLossRun {
			l.longestLossRun = -l.currentStreak
		}
	}

	if res.ProfitUSD > l.bestTradeUSD {
		l.bestTradeUSD = res.ProfitUSD
	}
	if res.ProfitUSD < l.worstTradeUSD {
		l.worstTradeUSD = res.ProfitUSD
	}

	if err := l.pnl.UpsertDaily(ctx, l.daily); err != nil {
		l.logger.Error("persist daily pnl failed",
			slog.String("date", l.daily.Date),
			slog.String("error", err.Error()))
	}
	if err := l.pnl.RecordStrategyResult(ctx, res.Strategy, res.ProfitUSD, win); err != nil {
		l.logger.Error("persist strategy result failed",
			slog.String("strategy", res.Strategy),
			slog.String("error", err.Error()))
	}
}

// DailyLoss returns the absolute value of today's net loss in USD, or 0 when
// the day is net-positive. Calling it twice without an intervening
// RecordTrade returns the same value.
func (l *Ledger) DailyLoss() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked()
	if l.daily.ProfitUSD >= 0 {
		return 0
	}
	return -l.daily.ProfitUSD
}

// Drawdown recomputes the tracked peak as max(peak, current) and returns the
// current drawdown amount and percentage relative to that peak. The new peak
// is persisted.
func (l *Ledger) Drawdown(ctx context.Context, currentBalanceUSD float64) (amountUSD, percent float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if currentBalanceUSD > l.peakBalanceUSD {
		l.peakBalanceUSD = currentBalanceUSD
		if err := l.state.Set(ctx, domain.StateKeyPeakBalance,
			strconv.FormatFloat(l.peakBalanceUSD, 'f', -1, 64)); err != nil {
			l.logger.Error("persist peak balance failed",
				slog.String("error", err.Error()))
		}
	}

	if l.peakBalanceUSD <= 0 {
		return 0, 0
	}
	amountUSD = l.peakBalanceUSD - currentBalanceUSD
	if amountUSD < 0 {
		amountUSD = 0
	}
	percent = amountUSD / l.peakBalanceUSD * 100
	return amountUSD, percent
}

// OpenPosition records a new open exposure. Opening the same trade ID twice
// is an error.
func (l *Ledger) OpenPosition(p domain.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.positions[p.TradeID]; exists {
		return fmt.Errorf("ledger: position for trade %s already open", p.TradeID)
	}
	l.positions[p.TradeID] = p
	return nil
}

// ClosePosition removes the exposure for the given trade and returns it.
func (l *Ledger) ClosePosition(tradeID string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[tradeID]
	if ok {
		delete(l.positions, tradeID)
	}
	return p, ok
}

// OpenPositions returns a copy of the open-position set.
func (l *Ledger) OpenPositions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	return out
}

// PositionCount returns the number of open positions.
func (l *Ledger) PositionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// TotalExposure sums the committed base-currency amounts across all open
// positions.
func (l *Ledger) TotalExposure() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total uint64
	for _, p := range l.positions {
		total += p.Amount
	}
	return total
}

// Snapshot returns the cumulative PnL view.
func (l *Ledger) Snapshot() domain.PnLSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := domain.PnLSnapshot{
		TotalProfitUSD: l.totalProfitUSD,
		TotalTrades:    l.totalTrades,
		Wins:           l.wins,
		Losses:         l.losses,
		BestTradeUSD:   l.bestTradeUSD,
		WorstTradeUSD:  l.worstTradeUSD,
		CurrentStreak:  l.currentStreak,
		LongestWinRun:  l.longestWinRun,
		LongestLossRun: l.longestLossRun,
		PeakBalanceUSD: l.peakBalanceUSD,
	}
	if l.totalTrades > 0 {
		snap.WinRate = float64(l.wins) / float64(l.totalTrades)
	}
	return snap
}

// Today returns today's aggregate.
func (l *Ledger) Today() domain.DailyPnL {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return l.daily
}

// rolloverLocked resets the daily aggregate when the UTC day has changed.
// Caller must hold l.mu.
func (l *Ledger) rolloverLocked() {
	today := l.today()
	if l.dailyDate == today {
		return
	}
	l.dailyDate = today
	l.daily = domain.DailyPnL{Date: today}
}

func (l *Ledger) today() string {
	return l.now().UTC().Format("2006-01-02")
}
