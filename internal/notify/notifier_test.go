package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyFiltersByEvent(t *testing.T) {
	s := &recordingSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{EventStuckAsset, EventEmergencyStop}, discard())

	require.NoError(t, n.Notify(context.Background(), EventStuckAsset, "stranded", "m"))
	require.NoError(t, n.Notify(context.Background(), EventLowBalance, "low", "m"))

	assert.Equal(t, []string{"stranded"}, s.titles)
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	s := &recordingSender{name: "discord"}
	n := NewNotifier([]Sender{s}, nil, discard())

	require.NoError(t, n.Notify(context.Background(), EventBreakerTrip, "tripped", "m"))
	assert.Len(t, s.titles, 1)
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	s := &recordingSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{EventStuckAsset}, discard())

	require.NoError(t, n.NotifyAll(context.Background(), "anything", "m"))
	assert.Len(t, s.titles, 1)
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	bad := &recordingSender{name: "telegram", err: errors.New("api down")}
	good := &recordingSender{name: "discord"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), EventLowBalance, "low", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
	assert.Len(t, good.titles, 1, "remaining senders still deliver")
}

func TestNotifyWithoutSendersIsNoOp(t *testing.T) {
	n := NewNotifier(nil, nil, discard())
	assert.NoError(t, n.Notify(context.Background(), EventLowBalance, "t", "m"))
}
