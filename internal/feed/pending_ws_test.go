package feed

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
	"github.com/kvasirlabs/cyclearb/internal/strategy"
)

// captureStrategy records the events it receives and optionally emits one
// opportunity per event.
type captureStrategy struct {
	name   string
	events []domain.PendingSwapEvent
	emit   *domain.Opportunity
	err    error
}

func (c *captureStrategy) Name() string                                      { return c.name }
func (c *captureStrategy) Scan(context.Context) ([]domain.Opportunity, error) { return nil, nil }

func (c *captureStrategy) OnPendingTransaction(_ context.Context, ev domain.PendingSwapEvent) (*domain.Opportunity, error) {
	c.events = append(c.events, ev)
	return c.emit, c.err
}

func newTestFeed(capacity int) (*PendingSwapFeed, *strategy.Registry, *strategy.Queue) {
	reg := strategy.NewRegistry()
	q := strategy.NewQueue(capacity)
	f := NewPendingSwapFeed("", nil, reg, q, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f, reg, q
}

func TestHandleMessageDispatchesParsedEvent(t *testing.T) {
	f, reg, q := newTestFeed(8)
	cs := &captureStrategy{
		name: "backrun",
		emit: &domain.Opportunity{ID: "opp-1", Strategy: "backrun"},
	}
	reg.Register(cs)

	f.handleMessage(context.Background(), []byte(`{
		"signature": "sig-1",
		"program": "prog-a",
		"pool": "pool-1",
		"input_mint": "mint-in",
		"output_mint": "mint-out",
		"in_amount": "5000000000",
		"out_amount": "123456",
		"slot": 99,
		"timestamp": "2026-03-02T14:00:00.5Z"
	}`))

	require.Len(t, cs.events, 1)
	ev := cs.events[0]
	assert.Equal(t, "sig-1", ev.Signature)
	assert.Equal(t, "pool-1", ev.PoolAddr)
	assert.Equal(t, uint64(5_000_000_000), ev.InAmount)
	assert.Equal(t, uint64(123_456), ev.OutAmount)
	assert.Equal(t, uint64(99), ev.Slot)
	assert.Equal(t, time.Date(2026, 3, 2, 14, 0, 0, 500_000_000, time.UTC), ev.ObservedAt)

	got := q.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, "opp-1", got[0].ID)
}

func TestHandleMessageIgnoresGarbage(t *testing.T) {
	f, reg, q := newTestFeed(8)
	cs := &captureStrategy{name: "backrun"}
	reg.Register(cs)

	f.handleMessage(context.Background(), []byte(`not json`))
	f.handleMessage(context.Background(), []byte(`{"signature": ""}`))
	f.handleMessage(context.Background(), []byte(`{"signature": "s", "input_mint": "a"}`))

	assert.Empty(t, cs.events)
	assert.Equal(t, 0, q.Len())
}

func TestHandleMessageStrategyErrorCountsAgainstIt(t *testing.T) {
	f, reg, q := newTestFeed(8)
	reg.Register(&captureStrategy{name: "backrun", err: errors.New("quote failed")})

	f.handleMessage(context.Background(), []byte(`{
		"signature": "sig-1", "input_mint": "a", "output_mint": "b"
	}`))

	infos := reg.ListInfo()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(1), infos[0].Errors)
	assert.Equal(t, 0, q.Len())
}

func TestHandleMessageFullQueueDrops(t *testing.T) {
	f, reg, q := newTestFeed(1)
	reg.Register(&captureStrategy{
		name: "backrun",
		emit: &domain.Opportunity{ID: "opp", Strategy: "backrun"},
	})

	msg := []byte(`{"signature": "s", "input_mint": "a", "output_mint": "b"}`)
	f.handleMessage(context.Background(), msg)
	f.handleMessage(context.Background(), msg)

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, int64(1), q.Dropped())
}

func TestRunWithoutURLIsIdle(t *testing.T) {
	f, _, _ := newTestFeed(1)
	assert.NoError(t, f.Run(context.Background()))
}

func TestCloseIsIdempotent(t *testing.T) {
	f, _, _ := newTestFeed(1)
	f.Close()
	f.Close()
}
