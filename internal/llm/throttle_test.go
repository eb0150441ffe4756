package llm

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestThrottleNilIsNoOp(t *testing.T) {
	var th *Throttle
	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("nil Throttle.Wait returned error: %v", err)
	}
}

func TestNewThrottleZeroRPMReturnsNil(t *testing.T) {
	if th := NewThrottle(0); th != nil {
		t.Fatal("expected nil for rpm=0")
	}
	if th := NewThrottle(-5); th != nil {
		t.Fatal("expected nil for rpm=-5")
	}
}

func TestThrottleAllowsUnderLimit(t *testing.T) {
	th := NewThrottle(5)
	th.window = 100 * time.Millisecond

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		start := time.Now()
		if err := th.Wait(ctx); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
			t.Fatalf("request %d took too long: %v", i, elapsed)
		}
	}
}

func TestThrottleBlocksAtLimit(t *testing.T) {
	th := NewThrottle(3)
	th.window = 200 * time.Millisecond

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := th.Wait(ctx); err != nil {
			t.Fatalf("fill request %d: %v", i, err)
		}
	}

	start := time.Now()
	if err := th.Wait(ctx); err != nil {
		t.Fatalf("blocked request: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("expected blocking ~200ms, got %v", elapsed)
	}
}

func TestThrottleRespectsContextCancellation(t *testing.T) {
	th := NewThrottle(1)
	th.window = 5 * time.Second

	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("first request: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := th.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestThrottleReserveIsAtomic(t *testing.T) {
	const rpm = 5
	th := NewThrottle(rpm)
	th.window = 2 * time.Second

	var wg sync.WaitGroup
	acquired := make(chan struct{}, rpm*3)
	for i := 0; i < rpm*3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if th.reserve() == 0 {
				acquired <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(acquired)

	count := 0
	for range acquired {
		count++
	}
	if count != rpm {
		t.Fatalf("expected exactly %d reservations, got %d", rpm, count)
	}
}
