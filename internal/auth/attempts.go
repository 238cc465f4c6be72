package auth

import (
	"context"
	"sync"
	"time"
)

// Attempt is the failed-login record for one key.
type Attempt struct {
	Count       int
	LastAttempt time.Time
}

// AttemptTracker counts failed logins per key over a trailing window: only
// failures newer than now minus the window are counted.
type AttemptTracker interface {
	Increment(ctx context.Context, key string) (Attempt, error)
	Reset(ctx context.Context, key string) error
	Peek(ctx context.Context, key string) (Attempt, error)
}

func emailKey(email string) string {
	return "email:" + email
}

func lockoutKey(address, email string) string {
	return "lockout:" + address + "|" + email
}

// MemoryAttemptTracker keeps failure timestamps in process memory. Counters
// are lost on restart, so production deployments use the redis tracker.
type MemoryAttemptTracker struct {
	mu       sync.Mutex
	window   time.Duration
	now      func() time.Time
	failures map[string][]time.Time
}

func NewMemoryAttemptTracker(window time.Duration) *MemoryAttemptTracker {
	return &MemoryAttemptTracker{
		window:   window,
		now:      time.Now,
		failures: make(map[string][]time.Time),
	}
}

func (t *MemoryAttemptTracker) Increment(_ context.Context, key string) (Attempt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.failures[key] = append(t.prune(key, now), now)
	return Attempt{Count: len(t.failures[key]), LastAttempt: now}, nil
}

func (t *MemoryAttemptTracker) Reset(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.failures, key)
	return nil
}

func (t *MemoryAttemptTracker) Peek(_ context.Context, key string) (Attempt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.prune(key, t.now())
	if len(kept) == 0 {
		return Attempt{}, nil
	}
	return Attempt{Count: len(kept), LastAttempt: kept[len(kept)-1]}, nil
}

// prune drops failures older than the window and must be called with mu held.
// Timestamps are appended in order, so the survivors are a suffix.
func (t *MemoryAttemptTracker) prune(key string, now time.Time) []time.Time {
	times := t.failures[key]
	if t.window > 0 {
		cutoff := now.Add(-t.window)
		i := 0
		for i < len(times) && !times[i].After(cutoff) {
			i++
		}
		times = times[i:]
	}
	if len(times) == 0 {
		delete(t.failures, key)
		return nil
	}
	t.failures[key] = times
	return times
}
