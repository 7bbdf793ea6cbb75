package connectors

import "fmt"

// ScopeAction is the change carried by a scope update.
type ScopeAction string

const (
	ScopeAdded   ScopeAction = "added"
	ScopeRemoved ScopeAction = "removed"
)

// Scope types of pending scope rows and workflow signals.
const (
	ScopeFolder     = "folder"
	ScopeBrand      = "brand"
	ScopeHelpCenter = "help_center"
	ScopeTeam       = "team"
)

// ScopeUpdate adds or removes one grant root from a running sync.
type ScopeUpdate struct {
	Type   string      `json:"type"`
	ID     string      `json:"id"`
	Action ScopeAction `json:"action"`
}

// Validate rejects unknown actions.
func (u ScopeUpdate) Validate() error {
	switch u.Action {
	case ScopeAdded, ScopeRemoved:
		return nil
	}
	return fmt.Errorf("%w: scope action %q for %s %s", ErrInvariant, u.Action, u.Type, u.ID)
}

// ApplyScopeUpdates returns ids with the updates applied in order. Added ids
// already present are not repeated.
func ApplyScopeUpdates(ids []string, updates []ScopeUpdate) ([]string, error) {
	out := append([]string(nil), ids...)
	for _, u := range updates {
		if err := u.Validate(); err != nil {
			return nil, err
		}
		idx := -1
		for i, id := range out {
			if id == u.ID {
				idx = i
				break
			}
		}
		switch u.Action {
		case ScopeAdded:
			if idx < 0 {
				out = append(out, u.ID)
			}
		case ScopeRemoved:
			if idx >= 0 {
				out = append(out[:idx], out[idx+1:]...)
			}
		}
	}
	return out, nil
}
