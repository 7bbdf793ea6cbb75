package gdrive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"connsync/internal/connectors"
)

// ParentWalker computes the ancestor chain of Drive files. Chains are
// memoized in the cache under a key that includes the sync start, so a new
// pass never sees stale moves.
type ParentWalker struct {
	client Client
	cache  connectors.Cache
	ttl    time.Duration
	prefix string
}

// NewParentWalker creates a walker for one sync pass of a connector.
func NewParentWalker(client Client, cache connectors.Cache, ttl time.Duration, connectorID int64, syncStart time.Time) *ParentWalker {
	return &ParentWalker{
		client: client,
		cache:  cache,
		ttl:    ttl,
		prefix: fmt.Sprintf("gdrive-parents-%d-%d-", connectorID, syncStart.UnixMilli()),
	}
}

// Chain returns [f.ID, parent, ..., root]. The walk stops early at a parent
// that no longer exists.
func (w *ParentWalker) Chain(ctx context.Context, f File) ([]string, error) {
	var (
		walked []string
		tail   []string
		seen   = map[string]bool{}
	)
	current := f
	for {
		if seen[current.ID] {
			return nil, fmt.Errorf("%w: %s is its own ancestor", connectors.ErrHierarchyCycle, current.ID)
		}
		seen[current.ID] = true
		walked = append(walked, current.ID)

		parentID := current.Parent()
		if parentID == "" {
			break
		}
		cached, ok, err := w.lookup(ctx, parentID)
		if err != nil {
			return nil, err
		}
		if ok {
			tail = cached
			break
		}
		parent, err := w.client.GetFile(ctx, parentID)
		if err != nil {
			if connectors.IsNotFound(err) {
				break
			}
			return nil, fmt.Errorf("getting parent %s of %s: %w", parentID, current.ID, err)
		}
		current = *parent
	}

	chain := append(walked, tail...)
	start := 0
	if !f.IsFolder() {
		start = 1
	}
	for i := start; i < len(walked); i++ {
		if err := w.cache.Set(ctx, w.prefix+walked[i], strings.Join(chain[i:], "/"), w.ttl); err != nil {
			return nil, fmt.Errorf("caching parents of %s: %w", walked[i], err)
		}
	}
	return chain, nil
}

func (w *ParentWalker) lookup(ctx context.Context, id string) ([]string, bool, error) {
	v, ok, err := w.cache.Get(ctx, w.prefix+id)
	if err != nil {
		return nil, false, fmt.Errorf("reading cached parents of %s: %w", id, err)
	}
	if !ok || v == "" {
		return nil, false, nil
	}
	return strings.Split(v, "/"), true, nil
}
