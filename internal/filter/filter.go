// Package filter excludes remote entities from a sync by name.
package filter

import (
	"path"
	"strings"
)

type pattern struct {
	glob      string
	matchPath bool // true = match against the slash-joined path; false = leaf name only
}

// Matcher checks entity paths against exclusion patterns.
// Patterns without '/' match the leaf name only, e.g. "tmp_*".
// Patterns with '/' match the path from the root, e.g. "analytics/staging/*".
type Matcher struct {
	patterns []pattern
}

// New creates a Matcher from raw patterns. Blank entries and entries
// starting with '#' are skipped.
func New(raw []string) *Matcher {
	var patterns []pattern
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		patterns = append(patterns, pattern{glob: p, matchPath: strings.Contains(p, "/")})
	}
	return &Matcher{patterns: patterns}
}

// Parse splits a connector setting on commas and newlines and builds a Matcher.
func Parse(setting string) *Matcher {
	return New(strings.FieldsFunc(setting, func(r rune) bool { return r == ',' || r == '\n' }))
}

// Empty reports whether the matcher excludes nothing.
func (m *Matcher) Empty() bool { return m == nil || len(m.patterns) == 0 }

// Excluded reports whether the entity at segments (root first) is excluded.
func (m *Matcher) Excluded(segments ...string) bool {
	if m.Empty() || len(segments) == 0 {
		return false
	}
	full := strings.Join(segments, "/")
	leaf := segments[len(segments)-1]

	for _, p := range m.patterns {
		target := leaf
		if p.matchPath {
			target = full
		}
		matched, err := path.Match(p.glob, target)
		if err != nil {
			// Malformed pattern, ignored.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
