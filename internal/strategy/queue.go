package strategy

import (
	"sync"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// Queue is a bounded buffer between event-driven producers and the scan
// loop. Pushes never block: when the buffer is full the newest opportunity
// is dropped, since event-driven opportunities go stale faster than the
// queue drains. It is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	items   []domain.Opportunity
	cap     int
	dropped int64
}

// NewQueue returns a queue holding at most capacity opportunities.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{cap: capacity}
}

// Push enqueues an opportunity. It reports false when the queue is full and
// the opportunity was dropped.
func (q *Queue) Push(opp domain.Opportunity) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.cap {
		q.dropped++
		return false
	}
	q.items = append(q.items, opp)
	return true
}

// Drain returns everything queued since the last drain and empties the
// queue.
func (q *Queue) Drain() []domain.Opportunity {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued opportunities.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the number of opportunities discarded because the queue
// was full.
func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
