package ratelimit

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrLimited is returned while the rate is pinned to zero.
	ErrLimited = errors.New("rate limited")

	// ErrDeadline rejects work whose deadline falls before its computed
	// unlock time.
	ErrDeadline = errors.New("timeout caused by rate limit")
)

type entry struct {
	executeAt time.Time
	size      float64
	deadline  time.Time
	ch        chan error
}

// Limiter is a credit-based byte scheduler: each grant advances the unlock
// time by size/maxRate, and queued grants release when their unlock time
// arrives. A negative rate disables limiting entirely.
type Limiter struct {
	clock clockwork.Clock

	mu       sync.Mutex
	maxRate  float64
	unlockAt time.Time
	queue    []entry
	timer    clockwork.Timer
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewLimiter(maxRate float64) *Limiter {
	return NewLimiterWithClock(maxRate, clockwork.NewRealClock())
}

func NewLimiterWithClock(maxRate float64, clock clockwork.Clock) *Limiter {
	l := &Limiter{
		clock:   clock,
		maxRate: maxRate,
		timer:   clock.NewTimer(time.Hour),
		stopCh:  make(chan struct{}),
	}
	l.timer.Stop()
	go l.run()
	return l
}

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// Enqueue schedules size units of work. The returned channel yields nil
// once the work may proceed, or an error if it never will. A zero deadline
// means no deadline.
func (l *Limiter) Enqueue(size float64, deadline time.Time) <-chan error {
	ch := make(chan error, 1)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enqueueLocked(entry{size: size, deadline: deadline, ch: ch})
	return ch
}

func (l *Limiter) enqueueLocked(e entry) {
	switch {
	case l.maxRate < 0:
		e.ch <- nil
		return
	case l.maxRate == 0:
		e.ch <- ErrLimited
		return
	}
	if !e.deadline.IsZero() && e.deadline.Before(l.unlockAt) {
		e.ch <- ErrDeadline
		return
	}

	now := l.clock.Now()
	if len(l.queue) == 0 && !l.unlockAt.After(now) {
		l.unlockAt = now
		e.ch <- nil
	} else {
		e.executeAt = l.unlockAt
		l.queue = append(l.queue, e)
	}
	l.unlockAt = l.unlockAt.Add(time.Duration(e.size / l.maxRate * float64(time.Second)))

	if len(l.queue) > 0 {
		l.armLocked()
	}
}

// SetMaxRate rebuilds the queue so the schedule is tight under the new
// rate: preserved entries re-enqueue starting from the old head's slot.
func (l *Limiter) SetMaxRate(maxRate float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maxRate = maxRate
	old := l.queue
	if len(old) == 0 {
		l.unlockAt = l.clock.Now()
	} else {
		l.unlockAt = old[0].executeAt
	}
	l.queue = nil
	for _, e := range old {
		e.executeAt = time.Time{}
		l.enqueueLocked(e)
	}
	l.processLocked()
}

func (l *Limiter) run() {
	for {
		select {
		case <-l.stopCh:
			return
		case <-l.timer.Chan():
		}
		l.mu.Lock()
		l.processLocked()
		l.mu.Unlock()
	}
}

func (l *Limiter) processLocked() {
	now := l.clock.Now()
	for len(l.queue) > 0 {
		e := l.queue[0]
		if e.executeAt.After(now) {
			break
		}
		e.ch <- nil
		l.queue = l.queue[1:]
	}
	if len(l.queue) > 0 {
		l.armLocked()
	}
}

func (l *Limiter) armLocked() {
	d := l.queue[0].executeAt.Sub(l.clock.Now())
	if d < 0 {
		d = 0
	}
	l.timer.Reset(d)
}
