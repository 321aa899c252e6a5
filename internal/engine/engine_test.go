package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/kvasirlabs/cyclearb/internal/config"
	"github.com/kvasirlabs/cyclearb/internal/domain"
	"github.com/kvasirlabs/cyclearb/internal/ledger"
	"github.com/kvasirlabs/cyclearb/internal/platform/solana"
	"github.com/kvasirlabs/cyclearb/internal/risk"
	"github.com/kvasirlabs/cyclearb/internal/strategy"
)

const baseMint = "So11111111111111111111111111111111111111112"

type fakeExecutor struct {
	results      []domain.ExecutionResult // consumed per Execute call
	executed     []domain.Opportunity
	amounts      []uint64
	recoverProof string
	recovered    bool
	recoverErr   error
	recoverCalls int
}

func (f *fakeExecutor) Execute(_ context.Context, opp domain.Opportunity, amount uint64, _ float64) domain.ExecutionResult {
	f.executed = append(f.executed, opp)
	f.amounts = append(f.amounts, amount)
	if len(f.results) > 0 {
		res := f.results[0]
		f.results = f.results[1:]
		return res
	}
	return domain.ExecutionResult{TradeID: opp.ID, Success: true, Status: domain.TradeStatusCompleted}
}

func (f *fakeExecutor) RecoverAsset(context.Context, domain.StuckAsset) (string, bool, error) {
	f.recoverCalls++
	return f.recoverProof, f.recovered, f.recoverErr
}

type fakePriceSource struct {
	price float64
	err   error
	calls int
}

func (f *fakePriceSource) ReferencePriceUSD(context.Context, string, uint64) (float64, error) {
	f.calls++
	return f.price, f.err
}

type fakeChain struct {
	balance  uint64
	statuses map[string]solana.SignatureStatus
}

func (f *fakeChain) GetHealth(context.Context) error { return nil }
func (f *fakeChain) GetBalance(context.Context, string) (uint64, error) {
	return f.balance, nil
}
func (f *fakeChain) GetSignatureStatus(_ context.Context, sig string) (solana.SignatureStatus, error) {
	return f.statuses[sig], nil
}

type memPriceCache struct {
	price float64
	ts    time.Time
}

func (m *memPriceCache) SetPrice(_ context.Context, _ string, price float64, ts time.Time) error {
	m.price, m.ts = price, ts
	return nil
}

func (m *memPriceCache) GetPrice(context.Context, string) (float64, time.Time, error) {
	if m.price == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return m.price, m.ts, nil
}

type memBalanceCache struct{ lamports uint64 }

func (m *memBalanceCache) SetBalance(_ context.Context, _ string, lamports uint64) error {
	m.lamports = lamports
	return nil
}
func (m *memBalanceCache) GetBalance(context.Context, string) (uint64, error) {
	return m.lamports, nil
}

type memTrades struct {
	records map[string]domain.TradeRecord
}

func newMemTrades() *memTrades { return &memTrades{records: make(map[string]domain.TradeRecord)} }

func (m *memTrades) Insert(_ context.Context, t domain.TradeRecord) error {
	m.records[t.ID] = t
	return nil
}

func (m *memTrades) Update(_ context.Context, t domain.TradeRecord) error {
	m.records[t.ID] = t
	return nil
}

func (m *memTrades) ListByStatus(_ context.Context, status domain.TradeStatus, _ int) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for _, r := range m.records {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

type memStuck struct {
	assets map[int64]domain.StuckAsset
	next   int64
}

func newMemStuck() *memStuck { return &memStuck{assets: make(map[int64]domain.StuckAsset)} }

func (m *memStuck) Add(_ context.Context, s domain.StuckAsset) (int64, error) {
	m.next++
	s.ID = m.next
	m.assets[s.ID] = s
	return s.ID, nil
}

func (m *memStuck) ListPending(context.Context) ([]domain.StuckAsset, error) {
	var out []domain.StuckAsset
	for _, a := range m.assets {
		if a.Status == domain.RecoveryPending {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStuck) MarkRecovered(_ context.Context, id int64, proof string) error {
	a, ok := m.assets[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status = domain.RecoveryRecovered
	a.RecoveryProof = proof
	m.assets[id] = a
	return nil
}

type memState struct{ values map[string]string }

func newMemState() *memState { return &memState{values: make(map[string]string)} }

func (m *memState) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (m *memState) Set(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

// memPnL satisfies domain.PnLStore for the ledger.
type memPnL struct{}

func (memPnL) UpsertDaily(context.Context, domain.DailyPnL) error { return nil }
func (memPnL) Today(context.Context) (domain.DailyPnL, error) {
	return domain.DailyPnL{}, nil
}
func (memPnL) History(context.Context, int) ([]domain.DailyPnL, error)        { return nil, nil }
func (memPnL) RecordStrategyResult(context.Context, string, float64, bool) error { return nil }
func (memPnL) StrategyStats(context.Context) ([]domain.StrategyStats, error)  { return nil, nil }

type chainBalance struct{ chain *fakeChain }

func (cb chainBalance) Balance(ctx context.Context) (uint64, error) {
	return cb.chain.GetBalance(ctx, "")
}

type fixture struct {
	engine *Engine
	exec   *fakeExecutor
	prices *memPriceCache
	source *fakePriceSource
	chain  *fakeChain
	trades *memTrades
	stuck  *memStuck
	state  *memState
	queue  *strategy.Queue
	reg    *strategy.Registry
	led    *ledger.Ledger
	gate   *risk.Gate
}

func newFixture(t *testing.T, observe bool) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		exec:   &fakeExecutor{},
		prices: &memPriceCache{},
		source: &fakePriceSource{price: 100},
		chain:  &fakeChain{balance: 10_000_000_000, statuses: make(map[string]solana.SignatureStatus)},
		trades: newMemTrades(),
		stuck:  newMemStuck(),
		state:  newMemState(),
		queue:  strategy.NewQueue(16),
		reg:    strategy.NewRegistry(),
	}

	f.led = ledger.New(memPnL{}, f.state, logger)

	riskCfg := config.Defaults().Risk
	riskCfg.Strategies = map[string]bool{"backrun": true}
	f.gate = risk.NewGate(riskCfg, f.led, chainBalance{f.chain}, logger)

	cfg := config.Defaults().Engine
	eng, err := New(cfg, observe, Deps{
		Registry:    f.reg,
		Queue:       f.queue,
		Gate:        f.gate,
		Ledger:      f.led,
		Executor:    f.exec,
		Prices:      f.prices,
		PriceSource: f.source,
		Chain:       f.chain,
		Trades:      f.trades,
		Stuck:       f.stuck,
		State:       f.state,
		Balances:    &memBalanceCache{},
		Notifier:    nil,
		Limiter:     rate.NewLimiter(rate.Limit(8), 8),
		Wallet:      "wallet-pubkey",
	}, logger)
	require.NoError(t, err)
	f.engine = eng
	return f
}

func engineOpp(id string, profit int64) domain.Opportunity {
	return domain.Opportunity{
		ID:             id,
		Strategy:       "backrun",
		AssetPath:      []string{"SOL", "RAY", "SOL"},
		MintPath:       []string{baseMint, "ray-mint", baseMint},
		InputAmount:    1_000_000_000,
		ExpectedProfit: profit,
		Confidence:     0.5,
	}
}

func TestEngineLifecycle(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	assert.Equal(t, StateStopped, f.engine.CurrentState())
	require.Error(t, f.engine.Stop(), "stopping a stopped engine must fail")

	require.NoError(t, f.engine.Start(ctx))
	assert.Equal(t, StateRunning, f.engine.CurrentState())
	require.Error(t, f.engine.Start(ctx), "double start must fail")

	require.NoError(t, f.engine.Stop())
	assert.Equal(t, StateStopped, f.engine.CurrentState())
}

type failingPnL struct{ memPnL }

func (failingPnL) Today(context.Context) (domain.DailyPnL, error) {
	return domain.DailyPnL{}, errors.New("connection refused")
}

func TestStartAbortsWhenLedgerFailsClosed(t *testing.T) {
	f := newFixture(t, true)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	led := ledger.New(failingPnL{}, f.state, logger)
	led.SetFailClosed(true)

	eng, err := New(config.Defaults().Engine, true, Deps{
		Registry: f.reg, Queue: f.queue, Gate: f.gate, Ledger: led,
		Executor: f.exec, Prices: f.prices, PriceSource: f.source,
		Chain: f.chain, Trades: f.trades, Stuck: f.stuck, State: f.state,
		Balances: &memBalanceCache{}, Wallet: "w",
	}, logger)
	require.NoError(t, err)

	require.Error(t, eng.Start(context.Background()))
	assert.Equal(t, StateError, eng.CurrentState())
}

func TestEngineStartRestoresRiskLevel(t *testing.T) {
	f := newFixture(t, true)
	f.state.values[domain.StateKeyRiskLevel] = "conservative"

	require.NoError(t, f.engine.Start(context.Background()))
	defer func() { _ = f.engine.Stop() }()

	assert.Equal(t, domain.RiskLevelConservative, f.gate.Level())
}

func TestEngineSetRiskLevelPersists(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.engine.SetRiskLevel(ctx, domain.RiskLevelAggressive))
	assert.Equal(t, "aggressive", f.state.values[domain.StateKeyRiskLevel])
	assert.Error(t, f.engine.SetRiskLevel(ctx, domain.RiskLevel("bogus")))
}

func TestEngineEmergencyStopQueuesOpenPositions(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	require.NoError(t, f.led.OpenPosition(domain.Position{
		TradeID: "t1", Strategy: "backrun", Mint: "ray-mint", Symbol: "RAY", Amount: 42_000,
	}))

	require.NoError(t, f.engine.EmergencyStop(ctx))
	assert.Equal(t, StateStopped, f.engine.CurrentState())
	assert.True(t, f.gate.EmergencyStopped())
	assert.Equal(t, 0, f.led.PositionCount())

	pending, err := f.stuck.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.StuckReasonEmergencyStop, pending[0].Reason)
	assert.Equal(t, "t1", pending[0].TradeID)
}

func TestTradeExecutesThroughGate(t *testing.T) {
	f := newFixture(t, false)
	f.exec.results = []domain.ExecutionResult{{
		TradeID: "t1", Success: true, Status: domain.TradeStatusCompleted,
		Profit: 10_000_000, ProfitUSD: 1,
	}}

	f.engine.trade(context.Background(), engineOpp("o1", 10_000_000), 100)

	require.Len(t, f.exec.executed, 1)
	assert.Equal(t, uint64(1_000_000_000), f.exec.amounts[0])
	assert.Equal(t, 1.0, f.led.Snapshot().TotalProfitUSD)
}

func TestTradePassesGateShrunkAmount(t *testing.T) {
	f := newFixture(t, false)

	opp := engineOpp("o1", 10_000_000)
	opp.InputAmount = 3_000_000_000 // standard per-trade ceiling is 2 SOL

	// Priced low enough that the size ceiling binds before the daily budget.
	f.engine.trade(context.Background(), opp, 40)

	require.Len(t, f.exec.amounts, 1)
	assert.Equal(t, uint64(2_000_000_000), f.exec.amounts[0])
}

func TestTradeAppliesSoftThrottle(t *testing.T) {
	f := newFixture(t, false)

	// $90 of the $150 daily budget spent is 60% usage: the soft throttle
	// scales requests by (1-0.6)/0.5 = 0.8 before the hard checks run.
	f.led.RecordTrade(context.Background(), domain.TradeResult{
		TradeID: "earlier", Strategy: "backrun", ProfitUSD: -90, Success: false,
		Timestamp: time.Now().UTC(),
	})

	opp := engineOpp("o1", 10_000_000)
	opp.InputAmount = 500_000_000

	f.engine.trade(context.Background(), opp, 100)

	require.Len(t, f.exec.amounts, 1)
	assert.Equal(t, uint64(400_000_000), f.exec.amounts[0])
}

func TestTradeSkipsWhenThrottleZeroesSize(t *testing.T) {
	f := newFixture(t, false)

	f.led.RecordTrade(context.Background(), domain.TradeResult{
		TradeID: "earlier", Strategy: "backrun", ProfitUSD: -150, Success: false,
		Timestamp: time.Now().UTC(),
	})

	f.engine.trade(context.Background(), engineOpp("o1", 10_000_000), 100)
	assert.Empty(t, f.exec.executed, "an exhausted budget zeroes the trade size")
}

func TestTradeSkipsWhenGateDenies(t *testing.T) {
	f := newFixture(t, false)

	opp := engineOpp("o1", 10_000_000)
	opp.Strategy = "disabled-strategy"

	f.engine.trade(context.Background(), opp, 100)
	assert.Empty(t, f.exec.executed)
}

func TestTradeSkipsExpiredOpportunity(t *testing.T) {
	f := newFixture(t, false)

	opp := engineOpp("o1", 10_000_000)
	opp.ExpiresAt = time.Now().Add(-time.Second)

	f.engine.trade(context.Background(), opp, 100)
	assert.Empty(t, f.exec.executed)
}

func TestObserveModeSkipsExecution(t *testing.T) {
	f := newFixture(t, true)

	f.engine.trade(context.Background(), engineOpp("o1", 10_000_000), 100)
	assert.Empty(t, f.exec.executed, "observe mode must never reach the executor")
}

func TestTradeFeedsBreaker(t *testing.T) {
	f := newFixture(t, false)
	fail := domain.ExecutionResult{TradeID: "t", Success: false, Status: domain.TradeStatusFailed}
	f.exec.results = []domain.ExecutionResult{fail, fail, fail}

	for i := 0; i < 3; i++ { // standard breaker threshold
		f.engine.trade(context.Background(), engineOpp("o", 1), 100)
	}

	assert.True(t, f.gate.BreakerState().Triggered)
	// The next opportunity is denied without reaching the executor.
	f.engine.trade(context.Background(), engineOpp("o4", 1), 100)
	assert.Len(t, f.exec.executed, 3)
}

func TestGatherMergesQueueAndScans(t *testing.T) {
	f := newFixture(t, false)
	f.queue.Push(engineOpp("queued", 5))

	f.reg.Register(&scanStub{name: "backrun", opps: []domain.Opportunity{engineOpp("scanned", 9)}})

	opps := f.engine.gather(context.Background())
	require.Len(t, opps, 2)
	assert.Equal(t, "queued", opps[0].ID)
	assert.Equal(t, "scanned", opps[1].ID)
	assert.Equal(t, 0, f.queue.Len())
}

type scanStub struct {
	name string
	opps []domain.Opportunity
	err  error
}

func (s *scanStub) Name() string { return s.name }
func (s *scanStub) Scan(context.Context) ([]domain.Opportunity, error) {
	return s.opps, s.err
}

func TestRefreshPricePrefersFreshCache(t *testing.T) {
	f := newFixture(t, false)
	f.prices.price = 95
	f.prices.ts = time.Now()

	price, ok := f.engine.refreshPrice(context.Background())
	require.True(t, ok)
	assert.Equal(t, 95.0, price)
	assert.Equal(t, 0, f.source.calls, "fresh cache entries skip the quote provider")
}

func TestRefreshPriceFallsBackToSource(t *testing.T) {
	f := newFixture(t, false)
	f.prices.price = 95
	f.prices.ts = time.Now().Add(-time.Minute) // stale against the 30s TTL

	price, ok := f.engine.refreshPrice(context.Background())
	require.True(t, ok)
	assert.Equal(t, 100.0, price)
	assert.Equal(t, 1, f.source.calls)
	assert.Equal(t, 100.0, f.prices.price, "the fetched price is written back")
}

func TestRefreshPriceUnavailableSkipsIteration(t *testing.T) {
	f := newFixture(t, false)
	f.source.price = 0

	_, ok := f.engine.refreshPrice(context.Background())
	assert.False(t, ok)
}

func TestRecoverySweepMarksRecovered(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id, err := f.stuck.Add(ctx, domain.StuckAsset{
		Mint: "ray-mint", Symbol: "RAY", TradeID: "t1", Status: domain.RecoveryPending,
	})
	require.NoError(t, err)

	f.exec.recovered = true
	f.exec.recoverProof = "recover-sig"

	f.engine.recoverySweep(ctx)

	assert.Equal(t, 1, f.exec.recoverCalls)
	asset := f.stuck.assets[id]
	assert.Equal(t, domain.RecoveryRecovered, asset.Status)
	assert.Equal(t, "recover-sig", asset.RecoveryProof)
}

func TestRecoverySweepLeavesUnrecoveredPending(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.stuck.Add(ctx, domain.StuckAsset{Mint: "ray-mint", Status: domain.RecoveryPending})
	require.NoError(t, err)

	f.engine.recoverySweep(ctx)

	pending, err := f.stuck.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestReconcileUnknownTrades(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.trades.records["finalized"] = domain.TradeRecord{
		ID: "finalized", Status: domain.TradeStatusUnknown, Signatures: []string{"sig-ok"},
	}
	f.trades.records["chain-failed"] = domain.TradeRecord{
		ID: "chain-failed", Status: domain.TradeStatusUnknown, Signatures: []string{"sig-bad"},
	}
	f.trades.records["in-flight"] = domain.TradeRecord{
		ID: "in-flight", Status: domain.TradeStatusUnknown, Signatures: []string{"sig-pending"},
	}
	f.trades.records["no-sigs"] = domain.TradeRecord{
		ID: "no-sigs", Status: domain.TradeStatusUnknown,
	}
	f.chain.statuses["sig-ok"] = solana.SignatureStatus{Found: true, ConfirmationStatus: "finalized"}
	f.chain.statuses["sig-bad"] = solana.SignatureStatus{Found: true, Failed: true}
	f.chain.statuses["sig-pending"] = solana.SignatureStatus{Found: true, ConfirmationStatus: "confirmed"}

	f.engine.reconcileUnknownTrades(ctx)

	assert.Equal(t, domain.TradeStatusCompleted, f.trades.records["finalized"].Status)
	assert.Equal(t, domain.TradeStatusFailed, f.trades.records["chain-failed"].Status)
	assert.Equal(t, domain.TradeStatusUnknown, f.trades.records["in-flight"].Status,
		"confirmed but not finalized stays unknown")
	assert.Equal(t, domain.TradeStatusFailed, f.trades.records["no-sigs"].Status)
}

func TestIntervalHonorsHighActivityWindows(t *testing.T) {
	f := newFixture(t, false)

	// Defaults: scan 5s, high-activity 1s in 13:30-16:00 and 19:00-21:00 UTC.
	f.engine.now = func() time.Time {
		return time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	}
	assert.Equal(t, time.Second, f.engine.interval())

	f.engine.now = func() time.Time {
		return time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	}
	assert.Equal(t, 5*time.Second, f.engine.interval())
}

func TestIntervalRateFloor(t *testing.T) {
	f := newFixture(t, false)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		f.reg.Register(&scanStub{name: name})
	}
	f.engine.limiter = rate.NewLimiter(rate.Limit(2), 2)

	// 5 strategies * 2 quotes + 1 price = 11 requests at 2 rps: 5.5s floor,
	// which overrides the 1s high-activity interval.
	f.engine.now = func() time.Time {
		return time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	}
	assert.Equal(t, 5500*time.Millisecond, f.engine.interval())
}

func TestHighActivityWindowWrapsMidnight(t *testing.T) {
	f := newFixture(t, false)
	cfg := config.Defaults().Engine
	cfg.HighActivityWindows = []string{"23:00-01:30"}
	eng, err := New(cfg, false, Deps{
		Registry: f.reg, Queue: f.queue, Gate: f.gate, Ledger: f.led,
		Executor: f.exec, Prices: f.prices, PriceSource: f.source,
		Chain: f.chain, Trades: f.trades, Stuck: f.stuck, State: f.state,
		Balances: &memBalanceCache{}, Wallet: "w",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	assert.True(t, eng.inHighActivityWindow(time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)))
	assert.True(t, eng.inHighActivityWindow(time.Date(2026, 3, 2, 0, 45, 0, 0, time.UTC)))
	assert.False(t, eng.inHighActivityWindow(time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)))
}

func TestNewRejectsMalformedWindow(t *testing.T) {
	cfg := config.Defaults().Engine
	cfg.HighActivityWindows = []string{"junk"}
	_, err := New(cfg, false, Deps{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestStatusSnapshot(t *testing.T) {
	f := newFixture(t, true)
	f.queue.Push(engineOpp("queued", 1))
	f.reg.Register(&scanStub{name: "backrun"})

	st := f.engine.Status()
	assert.Equal(t, StateStopped, st.State)
	assert.True(t, st.Observe)
	assert.Equal(t, domain.RiskLevelStandard, st.Risk.Level)
	assert.Equal(t, 1, st.QueueDepth)
	require.Len(t, st.Strategies, 1)
	assert.Equal(t, "backrun", st.Strategies[0].Name)
}
