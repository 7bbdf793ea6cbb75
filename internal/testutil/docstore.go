package testutil

import (
	"connsync/internal/connectors"
	"connsync/internal/docstore"
)

// NewTestDocumentStore creates an in-memory document store. Use FailOn to
// inject write failures.
func NewTestDocumentStore(clock connectors.Clock) *docstore.MemoryStore {
	return docstore.NewMemoryStore(clock)
}
