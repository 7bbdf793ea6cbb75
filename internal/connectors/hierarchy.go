package connectors

import (
	"fmt"
	"slices"
)

// Resolver decides which remote entities are in scope given the explicit
// grants of a connector, and computes their parents paths.
type Resolver struct {
	granted map[string]struct{}
}

// NewResolver builds a resolver from the internal ids of rows with a
// read/selected grant.
func NewResolver(grantedIDs []string) *Resolver {
	granted := make(map[string]struct{}, len(grantedIDs))
	for _, id := range grantedIDs {
		granted[id] = struct{}{}
	}
	return &Resolver{granted: granted}
}

// Granted reports whether id carries an explicit grant.
func (r *Resolver) Granted(id string) bool {
	_, ok := r.granted[id]
	return ok
}

// Len returns the number of grants.
func (r *Resolver) Len() int { return len(r.granted) }

// Resolution is the scope decision for one entity.
type Resolution struct {
	InScope bool
	// Parents starts at the entity and ends at the granting ancestor.
	Parents []string
	// GrantedBy is the internal id whose grant caused inclusion.
	GrantedBy string
}

// ParentID returns the direct parent within the resolved path, or "" for a root.
func (r Resolution) ParentID() string {
	if len(r.Parents) < 2 {
		return ""
	}
	return r.Parents[1]
}

// AncestorPaths returns the path of every ancestor level above the entity,
// nearest first. Each path starts at that ancestor and ends at the anchor.
func (r Resolution) AncestorPaths() [][]string {
	var paths [][]string
	for i := 1; i < len(r.Parents); i++ {
		paths = append(paths, r.Parents[i:])
	}
	return paths
}

// Resolve walks chain, which lists the entity followed by its ancestors up to
// the root. The entity is in scope when any element is granted; the parents
// path is cut at the top-most granted element so the rendered tree starts at
// the widest grant.
func (r *Resolver) Resolve(chain []string) (Resolution, error) {
	if len(chain) == 0 {
		return Resolution{}, fmt.Errorf("%w: empty ancestor chain", ErrInvariant)
	}
	seen := make(map[string]struct{}, len(chain))
	anchor := -1
	for i, id := range chain {
		if id == "" {
			return Resolution{}, fmt.Errorf("%w: empty id at depth %d of %v", ErrInvariant, i, chain)
		}
		if _, dup := seen[id]; dup {
			return Resolution{}, fmt.Errorf("%w: %s appears twice in %v", ErrHierarchyCycle, id, chain)
		}
		seen[id] = struct{}{}
		if r.Granted(id) {
			anchor = i
		}
	}
	if anchor < 0 {
		return Resolution{}, nil
	}
	return Resolution{
		InScope:   true,
		Parents:   slices.Clone(chain[:anchor+1]),
		GrantedBy: chain[anchor],
	}, nil
}
