package ratelimit

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func granted(t *testing.T, ch <-chan error) bool {
	t.Helper()
	select {
	case err := <-ch:
		require.NoError(t, err)
		return true
	default:
		return false
	}
}

func waitGrant(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("grant never arrived")
	}
}

func TestLimiterSchedule(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLimiterWithClock(1000, clock)
	defer l.Stop()

	p1 := l.Enqueue(500, time.Time{})
	require.True(t, granted(t, p1), "first grant is immediate")

	p2 := l.Enqueue(500, time.Time{})
	p3 := l.Enqueue(500, time.Time{})
	require.False(t, granted(t, p2))
	require.False(t, granted(t, p3))

	clock.BlockUntil(1)
	clock.Advance(500 * time.Millisecond)
	waitGrant(t, p2)
	require.False(t, granted(t, p3))

	clock.BlockUntil(1)
	clock.Advance(500 * time.Millisecond)
	waitGrant(t, p3)
}

func TestLimiterRateChangeRebuildsSchedule(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLimiterWithClock(1000, clock)
	defer l.Stop()

	p1 := l.Enqueue(500, time.Time{})
	require.True(t, granted(t, p1))
	p2 := l.Enqueue(500, time.Time{})

	// tighten the schedule before the third enqueue
	l.SetMaxRate(2000)
	p3 := l.Enqueue(500, time.Time{})

	clock.BlockUntil(1)
	clock.Advance(500 * time.Millisecond)
	waitGrant(t, p2)

	clock.BlockUntil(1)
	clock.Advance(250 * time.Millisecond)
	waitGrant(t, p3)
}

func TestLimiterEdgeRates(t *testing.T) {
	clock := clockwork.NewFakeClock()

	unlimited := NewLimiterWithClock(-1, clock)
	defer unlimited.Stop()
	require.True(t, granted(t, unlimited.Enqueue(1<<30, time.Time{})))

	blocked := NewLimiterWithClock(0, clock)
	defer blocked.Stop()
	err := <-blocked.Enqueue(1, time.Time{})
	require.ErrorIs(t, err, ErrLimited)
}

func TestLimiterDeadlineBeforeUnlock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLimiterWithClock(10, clock)
	defer l.Stop()

	require.True(t, granted(t, l.Enqueue(100, time.Time{})))
	// unlock time is now ten seconds out; a two second deadline cannot win
	err := <-l.Enqueue(1, clock.Now().Add(2*time.Second))
	require.ErrorIs(t, err, ErrDeadline)
}
