package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvasirlabs/cyclearb/internal/config"
	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// stubLedger is a canned LedgerView for gate tests.
type stubLedger struct {
	dailyLoss float64
	drawdown  float64
	positions int
	exposure  uint64
}

func (s *stubLedger) DailyLoss() float64 { return s.dailyLoss }
func (s *stubLedger) Drawdown(context.Context, float64) (float64, float64) {
	return 0, s.drawdown
}
func (s *stubLedger) PositionCount() int    { return s.positions }
func (s *stubLedger) TotalExposure() uint64 { return s.exposure }

type stubBalance struct {
	lamports uint64
	err      error
}

func (s *stubBalance) Balance(context.Context) (uint64, error) { return s.lamports, s.err }

const solPrice = 100.0 // one whole unit in USD, keeps the math readable

func newTestGate(ledger *stubLedger, balance *stubBalance) *Gate {
	cfg := config.Defaults().Risk
	cfg.Strategies = map[string]bool{"backrun": true, "paused": false}
	return NewGate(cfg, ledger, balance, testLogger())
}

func TestGateApprovesCleanTrade(t *testing.T) {
	g := newTestGate(&stubLedger{}, &stubBalance{lamports: 10_000_000_000})

	check := g.CanTrade(context.Background(), "backrun", 1_000_000_000, solPrice)
	require.True(t, check.Allowed)
	assert.Nil(t, check.AdjustedAmount)
	assert.Equal(t, uint64(1_000_000_000), check.Amount(1_000_000_000))
}

func TestGateEmergencyStopDeniesEverything(t *testing.T) {
	g := newTestGate(&stubLedger{}, &stubBalance{lamports: 10_000_000_000})
	g.SetEmergencyStop(true)

	check := g.CanTrade(context.Background(), "backrun", 1, solPrice)
	require.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "emergency stop")

	g.SetEmergencyStop(false)
	check = g.CanTrade(context.Background(), "backrun", 1_000_000_000, solPrice)
	assert.True(t, check.Allowed)
}

func TestGateBreakerBlocksThenRecovers(t *testing.T) {
	g := newTestGate(&stubLedger{}, &stubBalance{lamports: 10_000_000_000})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.breaker.now = func() time.Time { return base }
	for i := 0; i < 3; i++ { // standard profile threshold
		g.ReportTradeResult(false, 0)
	}

	check := g.CanTrade(context.Background(), "backrun", 1_000_000_000, solPrice)
	require.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "circuit breaker")

	// The very evaluation after the cooldown elapses resets the breaker.
	g.breaker.now = func() time.Time { return base.Add(10 * time.Minute) }
	check = g.CanTrade(context.Background(), "backrun", 1_000_000_000, solPrice)
	assert.True(t, check.Allowed)
}

func TestGateStrategyEnablementFailsClosed(t *testing.T) {
	g := newTestGate(&stubLedger{}, &stubBalance{lamports: 10_000_000_000})

	for _, name := range []string{"paused", "never-registered"} {
		check := g.CanTrade(context.Background(), name, 1_000_000_000, solPrice)
		require.False(t, check.Allowed, name)
		assert.Contains(t, check.Reason, "not enabled")
	}

	g.SetStrategyEnabled("paused", true)
	check := g.CanTrade(context.Background(), "paused", 1_000_000_000, solPrice)
	assert.True(t, check.Allowed)
}

func TestGateDailyLossCeilingIsProspective(t *testing.T) {
	ledger := &stubLedger{}
	g := newTestGate(ledger, &stubBalance{lamports: 10_000_000_000})

	// Standard profile: $150 absolute, 7.5% of $2000 capital = $150.
	// Three identical trades that each lose $60: the first two pass, the
	// third must be refused before execution, while realized losses are
	// still only $120. The requested amount counts as the worst-case loss.
	const trade = 600_000_000 // $60 at $100/SOL

	assert.True(t, g.CanTrade(context.Background(), "backrun", trade, solPrice).Allowed)

	ledger.dailyLoss = 60
	assert.True(t, g.CanTrade(context.Background(), "backrun", trade, solPrice).Allowed)

	ledger.dailyLoss = 120
	check := g.CanTrade(context.Background(), "backrun", trade, solPrice)
	require.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "daily loss")

	// A smaller trade that exactly exhausts the remaining budget still fits.
	assert.True(t, g.CanTrade(context.Background(), "backrun", 300_000_000, solPrice).Allowed)

	// Once the budget is spent, any size is refused.
	ledger.dailyLoss = 150
	check = g.CanTrade(context.Background(), "backrun", 1_000_000, solPrice)
	require.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "daily loss")
}

func TestGateBalanceUnavailableIsHardDeny(t *testing.T) {
	g := newTestGate(&stubLedger{}, &stubBalance{err: errors.New("rpc timeout")})

	check := g.CanTrade(context.Background(), "backrun", 1_000_000_000, solPrice)
	require.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "balance unavailable")
}

func TestGateDrawdownCeiling(t *testing.T) {
	ledger := &stubLedger{drawdown: 10} // standard limit is 10%
	g := newTestGate(ledger, &stubBalance{lamports: 10_000_000_000})

	check := g.CanTrade(context.Background(), "backrun", 1_000_000_000, solPrice)
	require.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "drawdown")
}

func TestGatePositionCeiling(t *testing.T) {
	ledger := &stubLedger{positions: 3} // standard limit is 3
	g := newTestGate(ledger, &stubBalance{lamports: 10_000_000_000})

	check := g.CanTrade(context.Background(), "backrun", 1_000_000_000, solPrice)
	require.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "open positions")
}

func TestGatePerTradeCeilingShrinks(t *testing.T) {
	g := newTestGate(&stubLedger{}, &stubBalance{lamports: 10_000_000_000})

	// Standard per-trade ceiling is 2 SOL; asking for 3 shrinks, not denies.
	// Priced low enough that the daily-loss budget is not the binding limit.
	check := g.CanTrade(context.Background(), "backrun", 3_000_000_000, 40.0)
	require.True(t, check.Allowed)
	require.NotNil(t, check.AdjustedAmount)
	assert.Equal(t, uint64(2_000_000_000), *check.AdjustedAmount)
}

func TestGateExposureHeadroomShrinksAndDenies(t *testing.T) {
	ledger := &stubLedger{exposure: 4_500_000_000} // standard cap 5 SOL
	g := newTestGate(ledger, &stubBalance{lamports: 10_000_000_000})

	check := g.CanTrade(context.Background(), "backrun", 1_000_000_000, solPrice)
	require.True(t, check.Allowed)
	require.NotNil(t, check.AdjustedAmount)
	assert.Equal(t, uint64(500_000_000), *check.AdjustedAmount)

	ledger.exposure = 5_000_000_000
	check = g.CanTrade(context.Background(), "backrun", 1_000_000_000, solPrice)
	require.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "exposure")
}

func TestGateBalanceSufficiencyIncludesFeeBuffer(t *testing.T) {
	// Exactly the trade amount with no room for the fee buffer.
	g := newTestGate(&stubLedger{}, &stubBalance{lamports: 1_000_000_000})

	check := g.CanTrade(context.Background(), "backrun", 1_000_000_000, solPrice)
	require.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "fee buffer")

	g = newTestGate(&stubLedger{}, &stubBalance{lamports: 1_020_000_000})
	check = g.CanTrade(context.Background(), "backrun", 1_000_000_000, solPrice)
	assert.True(t, check.Allowed)
}

func TestGateSetLevelSwapsProfile(t *testing.T) {
	g := newTestGate(&stubLedger{}, &stubBalance{lamports: 10_000_000_000})

	require.Error(t, g.SetLevel(domain.RiskLevel("reckless")))
	require.NoError(t, g.SetLevel(domain.RiskLevelConservative))
	assert.Equal(t, domain.RiskLevelConservative, g.Level())

	// Conservative per-trade ceiling is 0.5 SOL. Priced below the
	// conservative $50 daily budget so the size ceiling is what binds.
	check := g.CanTrade(context.Background(), "backrun", 1_000_000_000, 40.0)
	require.True(t, check.Allowed)
	require.NotNil(t, check.AdjustedAmount)
	assert.Equal(t, uint64(500_000_000), *check.AdjustedAmount)
}

func TestGateStatusSnapshot(t *testing.T) {
	ledger := &stubLedger{dailyLoss: 40, positions: 2, exposure: 3_000_000_000}
	g := newTestGate(ledger, &stubBalance{lamports: 10_000_000_000})

	st := g.Status()
	assert.Equal(t, domain.RiskLevelStandard, st.Level)
	assert.False(t, st.EmergencyStop)
	assert.Equal(t, 40.0, st.DailyLossUSD)
	assert.Equal(t, 150.0, st.DailyBudgetUSD)
	assert.Equal(t, 2, st.OpenPositions)
	assert.Equal(t, uint64(3_000_000_000), st.Exposure)
}
