package app

import (
	"testing"
	"time"

	"connsync/internal/testutil"
)

func TestNewOperation(t *testing.T) {
	ids := testutil.NewStubIDGenerator()
	clock := testutil.FixedClock()

	first := NewOperation("sync", ids, clock)
	second := NewOperation("worker", ids, clock)

	if first.RunID != "run-1" || second.RunID != "run-2" {
		t.Errorf("run ids = %q, %q", first.RunID, second.RunID)
	}
	if first.Command != "sync" || first.Status != "success" {
		t.Errorf("operation = %+v", first)
	}
	if !first.StartedAt.Equal(clock.Now()) {
		t.Errorf("StartedAt = %v, want %v", first.StartedAt, clock.Now())
	}
}

func TestOperation_FailAndElapsed(t *testing.T) {
	clock := testutil.FixedClock()
	op := NewOperation("serve", testutil.NewStubIDGenerator(), clock)

	clock.Advance(90 * time.Second)
	op.Fail()

	if op.Status != "error" {
		t.Errorf("Status = %q, want error", op.Status)
	}
	if got := op.Elapsed(clock); got != 90*time.Second {
		t.Errorf("Elapsed() = %v, want 90s", got)
	}
}
