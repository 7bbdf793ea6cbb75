package connectors_test

import (
	"errors"
	"slices"
	"testing"

	"connsync/internal/connectors"
)

func TestResolver_Resolve(t *testing.T) {
	tests := []struct {
		name      string
		granted   []string
		chain     []string
		inScope   bool
		parents   []string
		grantedBy string
	}{
		{
			name:    "nothing granted",
			granted: []string{"x"},
			chain:   []string{"file", "sub", "root"},
		},
		{
			name:      "granted entity",
			granted:   []string{"file"},
			chain:     []string{"file", "sub", "root"},
			inScope:   true,
			parents:   []string{"file"},
			grantedBy: "file",
		},
		{
			name:      "granted ancestor",
			granted:   []string{"sub"},
			chain:     []string{"file", "sub", "root"},
			inScope:   true,
			parents:   []string{"file", "sub"},
			grantedBy: "sub",
		},
		{
			name:      "top-most grant wins",
			granted:   []string{"sub", "root"},
			chain:     []string{"file", "sub", "root"},
			inScope:   true,
			parents:   []string{"file", "sub", "root"},
			grantedBy: "root",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := connectors.NewResolver(tt.granted).Resolve(tt.chain)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got.InScope != tt.inScope || got.GrantedBy != tt.grantedBy || !slices.Equal(got.Parents, tt.parents) {
				t.Errorf("Resolve() = %+v, want in scope %v parents %v by %q", got, tt.inScope, tt.parents, tt.grantedBy)
			}
		})
	}
}

func TestResolver_ResolveErrors(t *testing.T) {
	r := connectors.NewResolver([]string{"root"})
	tests := []struct {
		name  string
		chain []string
		want  error
	}{
		{name: "empty chain", chain: nil, want: connectors.ErrInvariant},
		{name: "empty id", chain: []string{"file", ""}, want: connectors.ErrInvariant},
		{name: "cycle", chain: []string{"a", "b", "a", "root"}, want: connectors.ErrHierarchyCycle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Resolve(tt.chain); !errors.Is(err, tt.want) {
				t.Errorf("Resolve() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResolution_AncestorPaths(t *testing.T) {
	res, err := connectors.NewResolver([]string{"root"}).Resolve([]string{"file", "sub", "root"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	paths := res.AncestorPaths()
	if len(paths) != 2 || !slices.Equal(paths[0], []string{"sub", "root"}) || !slices.Equal(paths[1], []string{"root"}) {
		t.Errorf("AncestorPaths() = %v", paths)
	}
	if res.ParentID() != "sub" {
		t.Errorf("ParentID() = %q, want sub", res.ParentID())
	}
}
