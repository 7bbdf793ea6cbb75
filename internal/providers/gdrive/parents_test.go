package gdrive_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"connsync/internal/cache"
	"connsync/internal/connectors"
	"connsync/internal/providers/gdrive"
	"connsync/internal/testutil"
)

func TestParentWalker_Chain(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	client := gdrive.NewFakeClient(0)
	client.Folder("root", "Root", "")
	client.Folder("sub", "Sub", "root")
	a := textFile("a", "a", "sub")
	b := textFile("b", "b", "sub")
	client.Put(a, "")
	client.Put(b, "")
	memo := cache.NewMemoryCache(clock)

	t.Run("walks to the root", func(t *testing.T) {
		w := gdrive.NewParentWalker(client, memo, time.Hour, 1, clock.Now())
		got, err := w.Chain(ctx, a)
		if err != nil {
			t.Fatalf("Chain() error = %v", err)
		}
		if want := []string{"a", "sub", "root"}; !slices.Equal(got, want) {
			t.Errorf("Chain() = %v, want %v", got, want)
		}
		gets := client.Gets()

		got, _ = w.Chain(ctx, b)
		if want := []string{"b", "sub", "root"}; !slices.Equal(got, want) {
			t.Errorf("Chain() = %v, want %v", got, want)
		}
		if client.Gets() != gets {
			t.Errorf("sibling walk issued %d lookups, want memoized", client.Gets()-gets)
		}
	})

	t.Run("new pass does not reuse memo", func(t *testing.T) {
		w := gdrive.NewParentWalker(client, memo, time.Hour, 1, clock.Now().Add(time.Minute))
		gets := client.Gets()
		if _, err := w.Chain(ctx, a); err != nil {
			t.Fatalf("Chain() error = %v", err)
		}
		if client.Gets() == gets {
			t.Error("expected fresh lookups for a new pass")
		}
	})

	t.Run("stops at a missing parent", func(t *testing.T) {
		orphan := textFile("o", "o", "vanished")
		w := gdrive.NewParentWalker(client, memo, time.Hour, 2, clock.Now())
		got, err := w.Chain(ctx, orphan)
		if err != nil {
			t.Fatalf("Chain() error = %v", err)
		}
		if !slices.Equal(got, []string{"o"}) {
			t.Errorf("Chain() = %v, want [o]", got)
		}
	})

	t.Run("detects cycles", func(t *testing.T) {
		loop := gdrive.NewFakeClient(0)
		loop.Folder("x", "X", "y")
		loop.Folder("y", "Y", "x")
		w := gdrive.NewParentWalker(loop, cache.NewMemoryCache(clock), time.Hour, 3, clock.Now())
		_, err := w.Chain(ctx, textFile("f", "f", "x"))
		if !errors.Is(err, connectors.ErrHierarchyCycle) {
			t.Errorf("Chain() error = %v, want ErrHierarchyCycle", err)
		}
	})
}
