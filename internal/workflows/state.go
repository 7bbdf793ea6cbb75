package workflows

import (
	"fmt"
	"slices"

	"connsync/internal/connectors"
)

// SyncState is the phase of a sync run, exposed through the sync_state query.
type SyncState string

const (
	StateIdle        SyncState = "idle"
	StateDiscovering SyncState = "discovering"
	StateFanOut      SyncState = "fan_out"
	StateCleanup     SyncState = "cleanup"
	StateSucceeded   SyncState = "succeeded"
	StateFailed      SyncState = "failed"
)

// ScopeQueue is the set of grant roots and containers still to visit in a
// run. It is part of the workflow state and survives continue-as-new, so
// its fields are exported for serialization.
type ScopeQueue struct {
	Pending []string
	Visited map[string]bool
	Removed map[string]bool
}

// NewScopeQueue creates a queue holding roots.
func NewScopeQueue(roots []string) *ScopeQueue {
	q := &ScopeQueue{Visited: map[string]bool{}, Removed: map[string]bool{}}
	q.Push(roots...)
	return q
}

// Push enqueues ids not visited nor already pending.
func (q *ScopeQueue) Push(ids ...string) {
	for _, id := range ids {
		if q.Visited[id] || slices.Contains(q.Pending, id) {
			continue
		}
		q.Pending = append(q.Pending, id)
	}
}

// Next dequeues the next id and marks it visited.
func (q *ScopeQueue) Next() (string, bool) {
	for len(q.Pending) > 0 {
		id := q.Pending[0]
		q.Pending = q.Pending[1:]
		if q.Removed[id] {
			continue
		}
		q.Visited[id] = true
		return id, true
	}
	return "", false
}

func (q *ScopeQueue) Len() int { return len(q.Pending) }

// Apply adds or removes one root. Ids are those the queue holds; callers
// translate the update id first.
func (q *ScopeQueue) Apply(action connectors.ScopeAction, id string) error {
	switch action {
	case connectors.ScopeAdded:
		delete(q.Removed, id)
		q.Push(id)
	case connectors.ScopeRemoved:
		q.Removed[id] = true
		q.Pending = slices.DeleteFunc(q.Pending, func(p string) bool { return p == id })
	default:
		return fmt.Errorf("%w: scope action %q for %s", connectors.ErrInvariant, action, id)
	}
	return nil
}
