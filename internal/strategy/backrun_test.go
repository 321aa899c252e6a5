package strategy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

const (
	testBaseMint  = "So11111111111111111111111111111111111111112"
	testTokenMint = "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"
)

type routeKey struct {
	in, out string
	amount  uint64
}

type stubQuoter struct {
	routes map[routeKey]*domain.Quote
	err    error
	calls  int
}

func (s *stubQuoter) GetQuote(_ context.Context, in, out string, amount uint64, _ int) (*domain.Quote, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.routes[routeKey{in, out, amount}], nil
}

func (s *stubQuoter) route(in, out string, amountIn, amountOut uint64) {
	if s.routes == nil {
		s.routes = make(map[routeKey]*domain.Quote)
	}
	s.routes[routeKey{in, out, amountIn}] = &domain.Quote{
		InputMint: in, OutputMint: out, InAmount: amountIn, OutAmount: amountOut,
	}
}

func newBackrun(quoter *stubQuoter) *Backrun {
	return NewBackrun(BackrunConfig{
		BaseMint:      testBaseMint,
		BaseSymbol:    "SOL",
		TradeLamports: 1_000_000_000,
		SlippageBps:   50,
		MinProfit:     5_000_000,
		QuoteValidity: 10 * time.Second,
	}, quoter, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func largeSwap() domain.PendingSwapEvent {
	return domain.PendingSwapEvent{
		Signature:  "trigger-sig",
		PoolAddr:   "pool-addr",
		InputMint:  testBaseMint,
		OutputMint: testTokenMint,
		InAmount:   5_000_000_000,
	}
}

func TestBackrunEmitsProfitableCycle(t *testing.T) {
	quoter := &stubQuoter{}
	quoter.route(testBaseMint, testTokenMint, 1_000_000_000, 42_000)
	quoter.route(testTokenMint, testBaseMint, 42_000, 1_010_000_000)
	b := newBackrun(quoter)

	opp, err := b.OnPendingTransaction(context.Background(), largeSwap())
	require.NoError(t, err)
	require.NotNil(t, opp)

	assert.Equal(t, "backrun", opp.Strategy)
	assert.Equal(t, []string{testBaseMint, testTokenMint, testBaseMint}, opp.MintPath)
	assert.Equal(t, uint64(1_000_000_000), opp.InputAmount)
	assert.Equal(t, int64(10_000_000), opp.ExpectedProfit)
	assert.Equal(t, "trigger-sig", opp.Metadata["trigger_signature"])
	assert.Equal(t, "pool-addr", opp.Metadata["pool"])
	require.Len(t, opp.Quotes, 2)
	assert.False(t, opp.Expired(time.Now()))
	assert.True(t, opp.Expired(time.Now().Add(11*time.Second)))
	require.NoError(t, opp.Validate())
}

func TestBackrunIgnoresIrrelevantEvents(t *testing.T) {
	quoter := &stubQuoter{}
	b := newBackrun(quoter)
	ctx := context.Background()

	// Swap into the base asset rather than out of it.
	ev := largeSwap()
	ev.InputMint, ev.OutputMint = testTokenMint, testBaseMint
	opp, err := b.OnPendingTransaction(ctx, ev)
	require.NoError(t, err)
	assert.Nil(t, opp)

	// Too small to move the pool.
	ev = largeSwap()
	ev.InAmount = 500_000_000
	opp, err = b.OnPendingTransaction(ctx, ev)
	require.NoError(t, err)
	assert.Nil(t, opp)

	assert.Equal(t, 0, quoter.calls, "uninteresting events must not spend quote budget")
}

func TestBackrunRespectsProfitFloor(t *testing.T) {
	quoter := &stubQuoter{}
	quoter.route(testBaseMint, testTokenMint, 1_000_000_000, 42_000)
	// 4M lamports profit is below the 5M floor.
	quoter.route(testTokenMint, testBaseMint, 42_000, 1_004_000_000)
	b := newBackrun(quoter)

	opp, err := b.OnPendingTransaction(context.Background(), largeSwap())
	require.NoError(t, err)
	assert.Nil(t, opp)
}

func TestBackrunNoRouteIsNotAnError(t *testing.T) {
	b := newBackrun(&stubQuoter{})

	opp, err := b.OnPendingTransaction(context.Background(), largeSwap())
	require.NoError(t, err)
	assert.Nil(t, opp)
}

func TestBackrunQuoteFailurePropagates(t *testing.T) {
	b := newBackrun(&stubQuoter{err: errors.New("rate limited")})

	_, err := b.OnPendingTransaction(context.Background(), largeSwap())
	assert.Error(t, err)
}

func TestBackrunScanIsQuiet(t *testing.T) {
	b := newBackrun(&stubQuoter{})
	opps, err := b.Scan(context.Background())
	require.NoError(t, err)
	assert.Nil(t, opps)
}
