package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kvasirlabs/cyclearb/internal/config"
	"github.com/kvasirlabs/cyclearb/internal/engine"
	"github.com/kvasirlabs/cyclearb/internal/feed"
	"github.com/kvasirlabs/cyclearb/internal/server"
	"github.com/kvasirlabs/cyclearb/internal/server/handler"
)

// App is the top-level application. It wires the dependency graph, runs the
// engine and its side services, and tears everything down in reverse order.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	closers []func()
}

// New creates the application shell. Dependencies are wired lazily in Run so
// that a config error surfaces before any connection is opened.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run wires the dependencies and blocks until ctx is cancelled or a fatal
// error occurs.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, cleanup)

	observe := strings.ToLower(a.cfg.Mode) == "observe"

	// One live trader per wallet. The lock has no TTL so a crashed instance
	// must be cleared manually before a replacement can start.
	release, err := deps.LockManager.Acquire(ctx, "trader:"+deps.Wallet.PublicKey(), 0)
	if err != nil {
		a.Close()
		return fmt.Errorf("app: acquire instance lock: %w", err)
	}
	a.closers = append(a.closers, release)

	eng, err := engine.New(a.cfg.Engine, observe, engine.Deps{
		Registry:    deps.Registry,
		Queue:       deps.Queue,
		Gate:        deps.Gate,
		Ledger:      deps.Ledger,
		Executor:    deps.Executor,
		Prices:      deps.PriceCache,
		PriceSource: deps.Quotes,
		Chain:       deps.Chain,
		Trades:      deps.TradeStore,
		Stuck:       deps.StuckStore,
		State:       deps.StateStore,
		Balances:    deps.BalanceCache,
		Notifier:    deps.Notifier,
		Limiter:     deps.Quotes.Limiter(),
		Wallet:      deps.Wallet.PublicKey(),
	}, a.logger)
	if err != nil {
		a.Close()
		return fmt.Errorf("app: %w", err)
	}

	if err := eng.Start(ctx); err != nil {
		a.Close()
		return fmt.Errorf("app: start engine: %w", err)
	}

	group, runCtx := errgroup.WithContext(ctx)

	if a.cfg.Feed.Enabled {
		pendingFeed := feed.NewPendingSwapFeed(
			a.cfg.Feed.WsURL, a.cfg.Feed.Programs, deps.Registry, deps.Queue, a.logger)
		group.Go(func() error {
			return pendingFeed.Run(runCtx)
		})
		a.closers = append(a.closers, pendingFeed.Close)
	}

	if a.cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		}, server.Handlers{
			Health:  handler.NewHealthHandler(),
			Control: handler.NewControlHandler(eng, a.logger),
			PnL:     handler.NewPnLHandler(deps.PnLStore, deps.StuckStore, a.logger),
		}, a.logger)

		group.Go(func() error {
			return srv.Start()
		})
		group.Go(func() error {
			<-runCtx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	a.logger.Info("application running",
		slog.String("mode", a.cfg.Mode),
		slog.String("wallet", deps.Wallet.PublicKey()),
		slog.String("risk_level", a.cfg.Risk.Level),
	)

	<-ctx.Done()

	if err := eng.Stop(); err != nil {
		a.logger.Error("engine stop", slog.String("error", err.Error()))
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// Close releases resources in reverse acquisition order. Safe to call after a
// failed Run.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
