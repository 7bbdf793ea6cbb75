package connectors_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"connsync/internal/connectors"
)

func TestConcurrent(t *testing.T) {
	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}

	var inFlight, peak, calls atomic.Int32
	err := connectors.Concurrent(context.Background(), 3, items, func(ctx context.Context, i int) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		calls.Add(1)
		if i%5 == 0 {
			return errors.New("odd one out")
		}
		return nil
	})

	if calls.Load() != 20 {
		t.Errorf("calls = %d, want every item attempted", calls.Load())
	}
	if peak.Load() > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak.Load())
	}
	if err == nil {
		t.Fatal("Concurrent() error = nil, want joined errors")
	}
	if joined, ok := err.(interface{ Unwrap() []error }); !ok || len(joined.Unwrap()) != 4 {
		t.Errorf("error = %v, want 4 joined errors", err)
	}
}

func TestConcurrent_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := connectors.Concurrent(ctx, 2, []int{1, 2}, func(context.Context, int) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn called after cancellation")
	}
}
