package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kvasirlabs/cyclearb/internal/notify"
)

// runTimers starts the low-frequency background tasks. Each timer is
// independent; one failing iteration never stops the group.
func (e *Engine) runTimers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.every(ctx, e.cfg.StatsInterval.Duration, e.snapshotStats)
	})
	g.Go(func() error {
		return e.every(ctx, time.Minute, e.checkHealth)
	})
	g.Go(func() error {
		return e.every(ctx, time.Minute, e.checkBalance)
	})
	g.Go(func() error {
		return e.every(ctx, 5*time.Minute, e.warnAgedPositions)
	})

	return g.Wait()
}

// every runs fn on a fixed ticker until ctx is done. A non-positive
// interval disables the timer.
func (e *Engine) every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// snapshotStats logs the running day aggregate so operators can follow the
// session without hitting the status endpoint.
func (e *Engine) snapshotStats(ctx context.Context) {
	today := e.ledger.Today()
	if today.Trades == 0 {
		return
	}
	snap := e.ledger.Snapshot()
	e.logger.Debug("stats snapshot",
		slog.Int("trades_today", today.Trades),
		slog.Float64("profit_today_usd", today.ProfitUSD),
		slog.Float64("total_profit_usd", snap.TotalProfitUSD),
	)
}

// checkHealth pings the RPC node; repeated failures only log, the scan loop
// discovers RPC trouble on its own through failing quotes.
func (e *Engine) checkHealth(ctx context.Context) {
	if err := e.chain.GetHealth(ctx); err != nil {
		e.logger.Warn("rpc health check failed", slog.String("error", err.Error()))
	}
}

// checkBalance caches the wallet balance and alerts when it drops below
// the configured floor.
func (e *Engine) checkBalance(ctx context.Context) {
	lamports, err := e.chain.GetBalance(ctx, e.wallet)
	if err != nil {
		e.logger.Warn("balance check failed", slog.String("error", err.Error()))
		return
	}
	if err := e.balances.SetBalance(ctx, e.wallet, lamports); err != nil {
		e.logger.Debug("balance cache write failed", slog.String("error", err.Error()))
	}
	if floor := e.cfg.LowBalanceLamports; floor > 0 && lamports < floor {
		e.logger.Warn("wallet balance low",
			slog.Uint64("lamports", lamports),
			slog.Uint64("floor", floor),
		)
		e.notify(ctx, notify.EventLowBalance, "Wallet balance low",
			fmt.Sprintf("Balance %d lamports is below the %d floor.", lamports, floor))
	}
}

// warnAgedPositions flags positions that have been open longer than the
// configured threshold; they usually mean the recovery sweep cannot find a
// route.
func (e *Engine) warnAgedPositions(ctx context.Context) {
	threshold := e.cfg.AgedPositionWarn.Duration
	if threshold <= 0 {
		return
	}
	for _, p := range e.ledger.OpenPositions() {
		if age := p.Age(e.now()); age > threshold {
			e.logger.Warn("position open past threshold",
				slog.String("trade_id", p.TradeID),
				slog.String("symbol", p.Symbol),
				slog.Duration("age", age.Round(time.Second)),
			)
		}
	}
}
