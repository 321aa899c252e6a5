// Package risk implements the admission-control gate every trade must pass
// before execution, together with the consecutive-failure circuit breaker and
// the proactive size throttle layered in front of the hard checks.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kvasirlabs/cyclearb/internal/config"
	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// LedgerView is the read-only slice of the ledger the gate consumes.
type LedgerView interface {
	DailyLoss() float64
	Drawdown(ctx context.Context, currentBalanceUSD float64) (amountUSD, percent float64)
	PositionCount() int
	TotalExposure() uint64
}

// BalanceFetcher returns the wallet's spendable base-currency balance in
// lamports.
type BalanceFetcher interface {
	Balance(ctx context.Context) (uint64, error)
}

// Gate runs the ordered pre-trade check pipeline. Checks short-circuit on the
// first denial; cheapest and most catastrophic checks run first. Only the
// per-trade and exposure ceilings may shrink the requested amount; every
// other failing check is a hard deny.
type Gate struct {
	mu sync.Mutex

	level      domain.RiskLevel
	profile    config.RiskProfile
	capitalUSD float64
	strategies map[string]bool
	emergency  bool

	cfg     config.RiskConfig
	breaker *Breaker
	ledger  LedgerView
	balance BalanceFetcher
	logger  *slog.Logger
}

// NewGate creates a Gate using the profile selected by cfg.Level.
func NewGate(cfg config.RiskConfig, ledger LedgerView, balance BalanceFetcher, logger *slog.Logger) *Gate {
	level := domain.RiskLevel(strings.ToLower(cfg.Level))
	if !level.Valid() {
		level = domain.RiskLevelStandard
	}
	profile := cfg.Profile(string(level))

	strategies := make(map[string]bool, len(cfg.Strategies))
	for name, enabled := range cfg.Strategies {
		strategies[name] = enabled
	}

	return &Gate{
		level:      level,
		profile:    profile,
		capitalUSD: cfg.CapitalUSD,
		strategies: strategies,
		cfg:        cfg,
		breaker:    NewBreaker(profile.BreakerThreshold, profile.BreakerCooldown.Duration, logger),
		ledger:     ledger,
		balance:    balance,
		logger:     logger.With(slog.String("component", "risk_gate")),
	}
}

// CanTrade evaluates the ordered check pipeline for a proposed trade.
// priceUSD is the current fiat price of one whole base unit, used to convert
// the wallet balance for the drawdown check.
func (g *Gate) CanTrade(ctx context.Context, strategy string, requested uint64, priceUSD float64) domain.RiskCheck {
	g.mu.Lock()
	defer g.mu.Unlock()

	// 1. Emergency stop.
	if g.emergency {
		return domain.Denied("emergency stop active")
	}

	// 2. Circuit breaker (lazy cooldown reset happens inside Check).
	if tripped, remaining := g.breaker.Check(); tripped {
		return domain.Denied(fmt.Sprintf("circuit breaker cooling down, %s remaining", remaining.Round(time.Second)))
	}

	// 3. Strategy enablement. Unknown strategies are denied: fail closed.
	if enabled, known := g.strategies[strategy]; !known || !enabled {
		return domain.Denied(fmt.Sprintf("strategy %q not enabled", strategy))
	}

	// 4. Daily loss ceiling, absolute and as percent of capital. The check
	// is prospective: the requested amount counts as the worst-case
	// additional loss, so a trade that could blow through the remaining
	// budget is denied before execution, not after.
	dailyLoss := g.ledger.DailyLoss()
	worstCase := dailyLoss + lamportsToUSD(requested, priceUSD)
	if worstCase > g.profile.MaxDailyLossUSD {
		return domain.Denied(fmt.Sprintf("daily loss $%.2f plus worst-case trade loss $%.2f exceeds limit $%.2f",
			dailyLoss, worstCase-dailyLoss, g.profile.MaxDailyLossUSD))
	}
	if g.capitalUSD > 0 && g.profile.MaxDailyLossPercent > 0 {
		pctLimit := g.capitalUSD * g.profile.MaxDailyLossPercent / 100
		if worstCase > pctLimit {
			return domain.Denied(fmt.Sprintf("daily loss $%.2f plus worst-case trade loss $%.2f exceeds %.1f%% of capital",
				dailyLoss, worstCase-dailyLoss, g.profile.MaxDailyLossPercent))
		}
	}

	// 5. Drawdown ceiling. Requires the live balance; an unreachable RPC is
	// a hard deny since the balance-sufficiency check cannot run either.
	balance, err := g.balance.Balance(ctx)
	if err != nil {
		g.logger.Warn("balance unavailable for gate evaluation",
			slog.String("error", err.Error()))
		return domain.Denied("wallet balance unavailable")
	}
	balanceUSD := lamportsToUSD(balance, priceUSD)
	if _, ddPercent := g.ledger.Drawdown(ctx, balanceUSD); ddPercent >= g.profile.MaxDrawdownPercent {
		return domain.Denied(fmt.Sprintf("drawdown %.1f%% at limit %.1f%%", ddPercent, g.profile.MaxDrawdownPercent))
	}

	// 6. Concurrent-position ceiling.
	if open := g.ledger.PositionCount(); open >= g.profile.MaxPositions {
		return domain.Denied(fmt.Sprintf("open positions %d at limit %d", open, g.profile.MaxPositions))
	}

	// 7. Per-trade size ceiling: shrink, not deny.
	amount := requested
	adjusted := false
	if amount > g.profile.MaxTradeLamports {
		amount = g.profile.MaxTradeLamports
		adjusted = true
	}

	// 8. Exposure ceiling: shrink to remaining headroom; deny only when the
	// headroom is zero.
	exposure := g.ledger.TotalExposure()
	if exposure >= g.profile.MaxExposureLamports {
		return domain.Denied(fmt.Sprintf("exposure %d lamports at limit %d", exposure, g.profile.MaxExposureLamports))
	}
	if headroom := g.profile.MaxExposureLamports - exposure; amount > headroom {
		amount = headroom
		adjusted = true
	}

	// 9. Balance sufficiency, including the fee buffer.
	if balance < amount+g.profile.FeeBufferLamports {
		return domain.Denied(fmt.Sprintf("balance %d below trade %d + fee buffer %d",
			balance, amount, g.profile.FeeBufferLamports))
	}

	if adjusted {
		return domain.ApprovedAt(amount)
	}
	return domain.Approved()
}

// ReportTradeResult feeds an execution outcome into the circuit breaker.
func (g *Gate) ReportTradeResult(success bool, profit int64) {
	g.breaker.RecordResult(success, profit)
}

// SetEmergencyStop flips the unconditional-deny flag. Idempotent.
func (g *Gate) SetEmergencyStop(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emergency = on
}

// EmergencyStopped reports the emergency flag.
func (g *Gate) EmergencyStopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.emergency
}

// SetLevel swaps the active limit profile. The breaker keeps its counters but
// adopts the new threshold and cooldown.
func (g *Gate) SetLevel(level domain.RiskLevel) error {
	if !level.Valid() {
		return fmt.Errorf("risk: unknown level %q", level)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.level = level
	g.profile = g.cfg.Profile(string(level))
	g.breaker.Configure(g.profile.BreakerThreshold, g.profile.BreakerCooldown.Duration)
	g.logger.Info("risk profile swapped", slog.String("level", string(level)))
	return nil
}

// Level returns the active profile name.
func (g *Gate) Level() domain.RiskLevel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level
}

// SetStrategyEnabled toggles a strategy in the enablement map.
func (g *Gate) SetStrategyEnabled(name string, enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.strategies[name] = enabled
}

// BreakerState returns the breaker snapshot for the status surface.
func (g *Gate) BreakerState() domain.BreakerState {
	return g.breaker.State()
}

// Snapshot summarizes the gate's current state for the status surface.
type Snapshot struct {
	Level          domain.RiskLevel
	EmergencyStop  bool
	DailyLossUSD   float64
	DailyBudgetUSD float64
	OpenPositions  int
	Exposure       uint64
	Breaker        domain.BreakerState
}

// Status returns the gate snapshot.
func (g *Gate) Status() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Snapshot{
		Level:          g.level,
		EmergencyStop:  g.emergency,
		DailyLossUSD:   g.ledger.DailyLoss(),
		DailyBudgetUSD: g.dailyBudgetLocked(),
		OpenPositions:  g.ledger.PositionCount(),
		Exposure:       g.ledger.TotalExposure(),
		Breaker:        g.breaker.State(),
	}
}

// dailyBudgetLocked returns the effective daily loss budget: the tighter of
// the absolute and percent-of-capital ceilings. Caller must hold g.mu.
func (g *Gate) dailyBudgetLocked() float64 {
	budget := g.profile.MaxDailyLossUSD
	if g.capitalUSD > 0 && g.profile.MaxDailyLossPercent > 0 {
		if pct := g.capitalUSD * g.profile.MaxDailyLossPercent / 100; pct < budget {
			budget = pct
		}
	}
	return budget
}

func lamportsToUSD(lamports uint64, priceUSD float64) float64 {
	return float64(lamports) / 1e9 * priceUSD
}
