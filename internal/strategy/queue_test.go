package strategy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

func opp(id string) domain.Opportunity {
	return domain.Opportunity{ID: id, Strategy: "backrun"}
}

func TestQueuePushDrain(t *testing.T) {
	q := NewQueue(4)

	assert.True(t, q.Push(opp("a")))
	assert.True(t, q.Push(opp("b")))
	assert.Equal(t, 2, q.Len())

	got := q.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Drain())
}

func TestQueueDropsNewestWhenFull(t *testing.T) {
	q := NewQueue(2)

	require.True(t, q.Push(opp("a")))
	require.True(t, q.Push(opp("b")))
	assert.False(t, q.Push(opp("c")), "the newest push is the one discarded")

	got := q.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, int64(1), q.Dropped())

	// Draining frees capacity again.
	assert.True(t, q.Push(opp("c")))
}

func TestQueueMinimumCapacity(t *testing.T) {
	q := NewQueue(0)
	assert.True(t, q.Push(opp("a")))
	assert.False(t, q.Push(opp("b")))
}

func TestQueueDroppedAccumulates(t *testing.T) {
	q := NewQueue(1)
	q.Push(opp("keep"))
	for i := 0; i < 5; i++ {
		q.Push(opp(fmt.Sprintf("drop-%d", i)))
	}
	assert.Equal(t, int64(5), q.Dropped())
}
