package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// scanOnly is a poll-only strategy stub.
type scanOnly struct {
	name string
	opps []domain.Opportunity
	err  error
}

func (s *scanOnly) Name() string { return s.name }
func (s *scanOnly) Scan(context.Context) ([]domain.Opportunity, error) {
	return s.opps, s.err
}

// eventStub additionally reacts to pending swaps.
type eventStub struct {
	scanOnly
}

func (s *eventStub) OnPendingTransaction(context.Context, domain.PendingSwapEvent) (*domain.Opportunity, error) {
	return nil, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&scanOnly{name: "alpha"})

	s, err := r.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", s.Name())

	_, err = r.Get("missing")
	assert.Error(t, err)
}

func TestRegistryListIsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&scanOnly{name: "zeta"})
	r.Register(&scanOnly{name: "alpha"})
	r.Register(&eventStub{scanOnly{name: "mid"}})

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.List())
}

func TestRegistryEventCapabilityDetectedAtRegistration(t *testing.T) {
	r := NewRegistry()
	r.Register(&scanOnly{name: "poll"})
	r.Register(&eventStub{scanOnly{name: "react"}})

	evs := r.EventDriven()
	require.Len(t, evs, 1)
	assert.Equal(t, "react", evs[0].Name())

	// Re-registering under the same name without the capability drops it
	// from the event set.
	r.Register(&scanOnly{name: "react"})
	assert.Empty(t, r.EventDriven())
}

func TestRegistryReplaceResetsCounters(t *testing.T) {
	r := NewRegistry()
	r.Register(&scanOnly{name: "alpha"})
	r.RecordProduced("alpha", 3)
	r.RecordError("alpha")

	infos := r.ListInfo()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(3), infos[0].Opportunities)
	assert.Equal(t, int64(1), infos[0].Errors)
	assert.NotNil(t, infos[0].LastProduced)

	r.Register(&scanOnly{name: "alpha"})
	infos = r.ListInfo()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(0), infos[0].Opportunities)
	assert.Nil(t, infos[0].LastProduced)
}

func TestRegistryCountersIgnoreUnknownNames(t *testing.T) {
	r := NewRegistry()
	r.RecordProduced("ghost", 1)
	r.RecordError("ghost")
	assert.Empty(t, r.ListInfo())
}
