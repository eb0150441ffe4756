package llm

import (
	"context"
	"sync"
	"time"
)

// Throttle is a sliding-window rate limiter shared by every client of a
// process. Callers block while the window is full.
type Throttle struct {
	mu       sync.Mutex
	rpm      int
	window   time.Duration // defaults to 1 minute; exposed for testing
	requests []time.Time
}

// NewThrottle allows rpm requests per minute. It returns nil when rpm <= 0;
// a nil Throttle never blocks.
func NewThrottle(rpm int) *Throttle {
	if rpm <= 0 {
		return nil
	}
	return &Throttle{rpm: rpm, window: time.Minute}
}

// Wait blocks until a request slot is available or ctx is cancelled.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}

	for {
		wait := t.reserve()
		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			// another caller may have taken the slot
			continue
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// reserve records a request and returns 0 when a slot is free, otherwise
// the time until the oldest request leaves the window.
func (t *Throttle) reserve() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-t.window)

	i := 0
	for i < len(t.requests) && t.requests[i].Before(cutoff) {
		i++
	}
	t.requests = t.requests[i:]

	if len(t.requests) < t.rpm {
		t.requests = append(t.requests, now)
		return 0
	}
	return t.requests[0].Add(t.window).Sub(now)
}
