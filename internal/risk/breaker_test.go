package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := NewBreaker(3, 10*time.Minute, testLogger())

	b.RecordResult(false, 0)
	b.RecordResult(false, 0)
	tripped, _ := b.Check()
	assert.False(t, tripped, "two failures must not trip a threshold of three")

	b.RecordResult(false, 0)
	tripped, remaining := b.Check()
	assert.True(t, tripped)
	assert.Greater(t, remaining, time.Duration(0))
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	b := NewBreaker(3, 10*time.Minute, testLogger())

	b.RecordResult(false, 0)
	b.RecordResult(false, 0)
	b.RecordResult(true, 500)
	assert.Equal(t, 0, b.Failures())

	// Counter starts fresh after a win.
	b.RecordResult(false, 0)
	b.RecordResult(false, 0)
	tripped, _ := b.Check()
	assert.False(t, tripped)
}

func TestBreakerSuccessAtLossCountsAsFailure(t *testing.T) {
	b := NewBreaker(2, 10*time.Minute, testLogger())

	// A landed trade that lost money still counts against the breaker.
	b.RecordResult(true, -1_000)
	b.RecordResult(true, -1_000)
	tripped, _ := b.Check()
	assert.True(t, tripped)
}

func TestBreakerLazyCooldownReset(t *testing.T) {
	b := NewBreaker(1, 10*time.Minute, testLogger())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return base }

	b.RecordResult(false, 0)
	tripped, remaining := b.Check()
	require.True(t, tripped)
	assert.Equal(t, 10*time.Minute, remaining)

	// Mid-cooldown the breaker still blocks.
	b.now = func() time.Time { return base.Add(5 * time.Minute) }
	tripped, remaining = b.Check()
	require.True(t, tripped)
	assert.Equal(t, 5*time.Minute, remaining)

	// The reset happens on the first check after the cooldown elapses.
	b.now = func() time.Time { return base.Add(10 * time.Minute) }
	tripped, _ = b.Check()
	assert.False(t, tripped)
	assert.Equal(t, 0, b.Failures())

	st := b.State()
	assert.False(t, st.Triggered)
	assert.Equal(t, base.Add(10*time.Minute), st.LastResetAt)
}

func TestBreakerConfigurePreservesState(t *testing.T) {
	b := NewBreaker(5, 10*time.Minute, testLogger())

	b.RecordResult(false, 0)
	b.RecordResult(false, 0)
	require.Equal(t, 2, b.Failures())

	// Tightening the threshold keeps the accumulated failures; the next
	// failure trips under the new threshold.
	b.Configure(3, time.Minute)
	b.RecordResult(false, 0)
	tripped, _ := b.Check()
	assert.True(t, tripped)
}

func TestBreakerStateSnapshot(t *testing.T) {
	b := NewBreaker(1, time.Hour, testLogger())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return base }

	b.RecordResult(false, 0)

	b.now = func() time.Time { return base.Add(15 * time.Minute) }
	st := b.State()
	assert.True(t, st.Triggered)
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Equal(t, 45*time.Minute, st.CooldownRemaining)
	assert.Equal(t, base, st.LastTrippedAt)
}
