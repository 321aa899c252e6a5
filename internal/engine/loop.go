package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kvasirlabs/cyclearb/internal/domain"
	"github.com/kvasirlabs/cyclearb/internal/notify"
)

// scanLoop is one goroutine: sleep, sweep, scan, trade, repeat. Opportunity
// execution is strictly sequential so exposure accounting in the gate is
// always looking at settled state.
func (e *Engine) scanLoop(ctx context.Context) error {
	for {
		if err := e.sleep(ctx, e.interval()); err != nil {
			return err
		}

		if tripped, remaining := e.breakerPause(ctx); tripped {
			if err := e.sleep(ctx, remaining); err != nil {
				return err
			}
			continue
		}

		price, ok := e.refreshPrice(ctx)
		if !ok {
			continue
		}

		e.recoverySweep(ctx)
		e.reconcileUnknownTrades(ctx)

		opps := e.gather(ctx)
		if len(opps) == 0 {
			continue
		}
		sort.SliceStable(opps, func(i, j int) bool {
			return opps[i].ExpectedProfit > opps[j].ExpectedProfit
		})

		for _, opp := range opps {
			if e.CurrentState() != StateRunning {
				break
			}
			e.trade(ctx, opp, price)
		}
	}
}

// breakerPause flips the engine into the circuit_breaker state while the
// breaker cools down. The pause per iteration is capped so a stop request
// is never stuck behind a long cooldown.
func (e *Engine) breakerPause(ctx context.Context) (bool, time.Duration) {
	state := e.gate.BreakerState()
	if !state.Triggered {
		e.setState(StateRunning)
		return false, 0
	}

	e.setState(StateCircuitBreaker)
	pause := state.CooldownRemaining
	if max := e.cfg.MaxBreakerSleep.Duration; max > 0 && pause > max {
		pause = max
	}
	e.logger.Info("circuit breaker cooling down",
		slog.Duration("remaining", state.CooldownRemaining),
		slog.Duration("pause", pause),
	)
	return true, pause
}

// refreshPrice returns a fresh base-asset USD price, reading the cache
// first and falling back to the price source. A missing price skips the
// whole iteration; trading without a reference price would make every
// fiat limit meaningless.
func (e *Engine) refreshPrice(ctx context.Context) (float64, bool) {
	if price, ts, err := e.prices.GetPrice(ctx, e.cfg.BaseMint); err == nil {
		if e.now().Sub(ts) < e.cfg.PriceTTL.Duration && price > 0 {
			return price, true
		}
	}

	price, err := e.priceSource.ReferencePriceUSD(ctx, e.cfg.BaseMint, 1e9)
	if err != nil || price <= 0 {
		if err != nil {
			e.logger.Warn("reference price unavailable, skipping iteration",
				slog.String("error", err.Error()))
		} else {
			e.logger.Warn("reference price unavailable, skipping iteration")
		}
		return 0, false
	}

	if err := e.prices.SetPrice(ctx, e.cfg.BaseMint, price, e.now().UTC()); err != nil {
		e.logger.Debug("price cache write failed", slog.String("error", err.Error()))
	}
	return price, true
}

// gather drains the event queue and polls every registered strategy,
// concatenating their candidates.
func (e *Engine) gather(ctx context.Context) []domain.Opportunity {
	opps := e.queue.Drain()

	for _, name := range e.registry.List() {
		s, err := e.registry.Get(name)
		if err != nil {
			continue
		}
		found, err := s.Scan(ctx)
		if err != nil {
			e.registry.RecordError(name)
			e.logger.Warn("strategy scan failed",
				slog.String("strategy", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(found) > 0 {
			e.registry.RecordProduced(name, len(found))
			opps = append(opps, found...)
		}
	}
	return opps
}

// trade drives one opportunity through the gate and the executor and books
// the outcome.
func (e *Engine) trade(ctx context.Context, opp domain.Opportunity, priceUSD float64) {
	log := e.logger.With(
		slog.String("opportunity_id", opp.ID),
		slog.String("strategy", opp.Strategy),
	)

	if opp.Expired(e.now()) {
		log.Debug("opportunity expired before execution")
		return
	}

	wasTripped := e.gate.BreakerState().Triggered

	// Soft throttle first: shrink the request while the daily budget drains
	// or failures accumulate, before the hard checks see it.
	requested := e.gate.AdjustedTradeSize(opp.InputAmount)
	if requested == 0 {
		log.Debug("soft throttle zeroed trade size",
			slog.Uint64("requested_lamports", opp.InputAmount))
		return
	}

	check := e.gate.CanTrade(ctx, opp.Strategy, requested, priceUSD)
	if !check.Allowed {
		log.Debug("risk gate denied", slog.String("reason", check.Reason))
		return
	}
	amount := check.Amount(requested)

	if e.observe {
		log.Info("observe mode, skipping execution",
			slog.Uint64("amount_lamports", amount),
			slog.Int64("expected_profit_lamports", opp.ExpectedProfit),
		)
		return
	}

	res := e.exec.Execute(ctx, opp, amount, priceUSD)

	e.ledger.RecordTrade(ctx, domain.TradeResult{
		TradeID:   res.TradeID,
		Strategy:  opp.Strategy,
		Profit:    res.Profit,
		ProfitUSD: res.ProfitUSD,
		Success:   res.Success,
		Timestamp: e.now().UTC(),
	})
	e.gate.ReportTradeResult(res.Success, res.Profit)

	if res.Stuck != nil {
		e.notify(ctx, notify.EventStuckAsset, "Asset stranded",
			fmt.Sprintf("Trade %s left %d units of %s stranded (%s).",
				res.TradeID, res.Stuck.EstimatedAmount, res.Stuck.Symbol, res.Stuck.Reason))
	}
	if state := e.gate.BreakerState(); state.Triggered && !wasTripped {
		e.notify(ctx, notify.EventBreakerTrip, "Circuit breaker tripped",
			fmt.Sprintf("%d consecutive failures, trading pauses for %s.",
				state.ConsecutiveFailures, state.CooldownRemaining.Round(time.Second)))
	}
}

// interval computes the delay before the next iteration: the high-activity
// interval inside a configured window, the regular one otherwise, never
// below the floor implied by the shared quote request budget.
func (e *Engine) interval() time.Duration {
	interval := e.cfg.ScanInterval.Duration
	if e.inHighActivityWindow(e.now().UTC()) {
		interval = e.cfg.HighActivityInterval.Duration
	}
	if floor := e.rateFloor(); interval < floor {
		interval = floor
	}
	return interval
}

// rateFloor estimates the per-iteration quote cost (two legs per strategy
// plus the price refresh) and converts it into a minimum spacing under the
// shared requests-per-second budget.
func (e *Engine) rateFloor() time.Duration {
	if e.limiter == nil {
		return 0
	}
	rps := float64(e.limiter.Limit())
	if rps <= 0 {
		return 0
	}
	requests := float64(len(e.registry.List())*2 + 1)
	return time.Duration(requests / rps * float64(time.Second))
}

func (e *Engine) inHighActivityWindow(now time.Time) bool {
	minute := now.Hour()*60 + now.Minute()
	for _, w := range e.windows {
		if w.start <= w.end {
			if minute >= w.start && minute < w.end {
				return true
			}
		} else if minute >= w.start || minute < w.end {
			// Window wraps midnight.
			return true
		}
	}
	return false
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
