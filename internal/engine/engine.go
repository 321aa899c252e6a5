// Package engine is the trading orchestrator: a scan loop that drives
// opportunities through the risk gate and the executor, a stranded-asset
// recovery sweep, and the control surface the HTTP server exposes.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kvasirlabs/cyclearb/internal/config"
	"github.com/kvasirlabs/cyclearb/internal/domain"
	"github.com/kvasirlabs/cyclearb/internal/ledger"
	"github.com/kvasirlabs/cyclearb/internal/notify"
	"github.com/kvasirlabs/cyclearb/internal/platform/solana"
	"github.com/kvasirlabs/cyclearb/internal/risk"
	"github.com/kvasirlabs/cyclearb/internal/strategy"
)

// State is the engine lifecycle state.
type State string

const (
	StateStopped        State = "stopped"
	StateStarting       State = "starting"
	StateRunning        State = "running"
	StateStopping       State = "stopping"
	StateCircuitBreaker State = "circuit_breaker"
	StateError          State = "error"
)

// TradeExecutor turns approved opportunities into on-chain trades and
// unwinds stranded assets.
type TradeExecutor interface {
	Execute(ctx context.Context, opp domain.Opportunity, amount uint64, priceUSD float64) domain.ExecutionResult
	RecoverAsset(ctx context.Context, asset domain.StuckAsset) (proof string, recovered bool, err error)
}

// PriceSource resolves the USD reference price of a mint.
type PriceSource interface {
	ReferencePriceUSD(ctx context.Context, mint string, unitAmount uint64) (float64, error)
}

// ChainStatus is the slice of the node RPC the engine itself uses.
type ChainStatus interface {
	GetHealth(ctx context.Context) error
	GetBalance(ctx context.Context, pubkey string) (uint64, error)
	GetSignatureStatus(ctx context.Context, signature string) (solana.SignatureStatus, error)
}

// timeWindow is a parsed high-activity range in minutes since UTC midnight.
type timeWindow struct {
	start, end int
}

// Engine owns the scan loop and the background timers. All control-surface
// methods are safe for concurrent use.
type Engine struct {
	cfg     config.EngineConfig
	observe bool
	windows []timeWindow

	registry    *strategy.Registry
	queue       *strategy.Queue
	gate        *risk.Gate
	ledger      *ledger.Ledger
	exec        TradeExecutor
	prices      domain.PriceCache
	priceSource PriceSource
	chain       ChainStatus
	trades      domain.TradeStore
	stuck       domain.StuckAssetStore
	state       domain.StateStore
	balances    domain.BalanceCache
	notifier    *notify.Notifier
	limiter     *rate.Limiter
	wallet      string
	logger      *slog.Logger

	mu        sync.Mutex
	lifecycle State
	cancel    context.CancelFunc
	group     *errgroup.Group

	now func() time.Time
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Registry    *strategy.Registry
	Queue       *strategy.Queue
	Gate        *risk.Gate
	Ledger      *ledger.Ledger
	Executor    TradeExecutor
	Prices      domain.PriceCache
	PriceSource PriceSource
	Chain       ChainStatus
	Trades      domain.TradeStore
	Stuck       domain.StuckAssetStore
	State       domain.StateStore
	Balances    domain.BalanceCache
	Notifier    *notify.Notifier
	Limiter     *rate.Limiter
	Wallet      string
}

// New creates a stopped engine. observe=true runs the full pipeline but
// never submits transactions.
func New(cfg config.EngineConfig, observe bool, deps Deps, logger *slog.Logger) (*Engine, error) {
	windows := make([]timeWindow, 0, len(cfg.HighActivityWindows))
	for _, w := range cfg.HighActivityWindows {
		start, end, err := config.ParseWindow(w)
		if err != nil {
			return nil, fmt.Errorf("engine: high activity window %q: %w", w, err)
		}
		windows = append(windows, timeWindow{start: start, end: end})
	}

	return &Engine{
		cfg:         cfg,
		observe:     observe,
		windows:     windows,
		registry:    deps.Registry,
		queue:       deps.Queue,
		gate:        deps.Gate,
		ledger:      deps.Ledger,
		exec:        deps.Executor,
		prices:      deps.Prices,
		priceSource: deps.PriceSource,
		chain:       deps.Chain,
		trades:      deps.Trades,
		stuck:       deps.Stuck,
		state:       deps.State,
		balances:    deps.Balances,
		notifier:    deps.Notifier,
		limiter:     deps.Limiter,
		wallet:      deps.Wallet,
		logger:      logger.With(slog.String("component", "engine")),
		lifecycle:   StateStopped,
		now:         time.Now,
	}, nil
}

// Start brings the engine from stopped to running and spawns the scan loop
// and the background timers under the given parent context.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.lifecycle != StateStopped && e.lifecycle != StateError {
		state := e.lifecycle
		e.mu.Unlock()
		return fmt.Errorf("engine: cannot start from state %s", state)
	}
	e.lifecycle = StateStarting
	e.mu.Unlock()

	// Restore the persisted risk level before trading resumes.
	if raw, err := e.state.Get(ctx, domain.StateKeyRiskLevel); err == nil && raw != "" {
		if level := domain.RiskLevel(raw); level.Valid() {
			if err := e.gate.SetLevel(level); err == nil {
				e.logger.Info("restored risk level", slog.String("level", raw))
			}
		}
	}
	if err := e.ledger.Load(ctx); err != nil {
		e.mu.Lock()
		e.lifecycle = StateError
		e.mu.Unlock()
		return fmt.Errorf("engine: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, runCtx := errgroup.WithContext(runCtx)

	e.mu.Lock()
	e.cancel = cancel
	e.group = g
	e.lifecycle = StateRunning
	e.mu.Unlock()

	g.Go(func() error { return e.scanLoop(runCtx) })
	g.Go(func() error { return e.runTimers(runCtx) })

	e.logger.Info("engine started", slog.Bool("observe", e.observe))
	return nil
}

// Stop halts the engine gracefully: in-flight work finishes, open positions
// stay on the books for the recovery sweep of the next start.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.lifecycle != StateRunning && e.lifecycle != StateCircuitBreaker {
		state := e.lifecycle
		e.mu.Unlock()
		return fmt.Errorf("engine: cannot stop from state %s", state)
	}
	e.lifecycle = StateStopping
	cancel, group := e.cancel, e.group
	e.mu.Unlock()

	cancel()
	_ = group.Wait()

	e.mu.Lock()
	e.lifecycle = StateStopped
	e.mu.Unlock()

	if n := e.ledger.PositionCount(); n > 0 {
		e.logger.Warn("stopped with open positions, recovery sweep will pick them up",
			slog.Int("positions", n))
	}
	e.logger.Info("engine stopped")
	return nil
}

// EmergencyStop halts immediately: the gate rejects everything from now on,
// the loops are cancelled, and every open position is queued as stranded so
// the recovery sweep unwinds it on the next start.
func (e *Engine) EmergencyStop(ctx context.Context) error {
	e.gate.SetEmergencyStop(true)

	e.mu.Lock()
	cancel, group := e.cancel, e.group
	running := e.lifecycle == StateRunning || e.lifecycle == StateCircuitBreaker
	e.lifecycle = StateStopping
	e.mu.Unlock()

	if running {
		cancel()
		_ = group.Wait()
	}

	for _, p := range e.ledger.OpenPositions() {
		asset := domain.StuckAsset{
			Mint:            p.Mint,
			Symbol:          p.Symbol,
			EstimatedAmount: p.Amount,
			TradeID:         p.TradeID,
			Reason:          domain.StuckReasonEmergencyStop,
			Status:          domain.RecoveryPending,
			CreatedAt:       e.now().UTC(),
		}
		if _, err := e.stuck.Add(ctx, asset); err != nil {
			e.logger.Error("queueing open position as stranded failed",
				slog.String("trade_id", p.TradeID),
				slog.String("error", err.Error()))
		}
		e.ledger.ClosePosition(p.TradeID)
	}

	e.mu.Lock()
	e.lifecycle = StateStopped
	e.mu.Unlock()

	e.logger.Warn("emergency stop engaged")
	e.notify(ctx, notify.EventEmergencyStop, "Emergency stop", "Trading halted, open positions queued for recovery.")
	return nil
}

// SetRiskLevel swaps the active limit profile and persists the choice.
func (e *Engine) SetRiskLevel(ctx context.Context, level domain.RiskLevel) error {
	if err := e.gate.SetLevel(level); err != nil {
		return err
	}
	if err := e.state.Set(ctx, domain.StateKeyRiskLevel, string(level)); err != nil {
		e.logger.Error("persist risk level failed", slog.String("error", err.Error()))
	}
	e.logger.Info("risk level changed", slog.String("level", string(level)))
	return nil
}

// Status is the state exposed on the control surface.
type Status struct {
	State         State               `json:"state"`
	Observe       bool                `json:"observe"`
	Risk          risk.Snapshot       `json:"risk"`
	PnL           domain.PnLSnapshot  `json:"pnl"`
	Today         domain.DailyPnL     `json:"today"`
	OpenPositions []domain.Position   `json:"open_positions"`
	Strategies    []strategy.Info     `json:"strategies"`
	QueueDepth    int                 `json:"queue_depth"`
	QueueDropped  int64               `json:"queue_dropped"`
}

// Status returns a point-in-time snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	state := e.lifecycle
	e.mu.Unlock()

	return Status{
		State:         state,
		Observe:       e.observe,
		Risk:          e.gate.Status(),
		PnL:           e.ledger.Snapshot(),
		Today:         e.ledger.Today(),
		OpenPositions: e.ledger.OpenPositions(),
		Strategies:    e.registry.ListInfo(),
		QueueDepth:    e.queue.Len(),
		QueueDropped:  e.queue.Dropped(),
	}
}

// CurrentState returns the lifecycle state.
func (e *Engine) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lifecycle
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	if e.lifecycle == StateRunning || e.lifecycle == StateCircuitBreaker {
		e.lifecycle = s
	}
	e.mu.Unlock()
}

func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.Debug("notify failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
