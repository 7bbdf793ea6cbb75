package connectors

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"slices"
	"sync"
	"time"

	"connsync/internal/internalid"
	"connsync/internal/model"
)

// DefaultPageSize is the page size of batched tracking row scans.
const DefaultPageSize = 1024

// Item is one in-scope remote entity handed to the reconciler.
type Item struct {
	Kind             internalid.Kind
	InternalID       string
	ParentInternalID string // native parent, may lie outside the resolved path
	Title            string
	SourceURL        string
	Parents          []string // resolved path, starts with InternalID
	ContentHash      string
	RemoteUpdatedAt  time.Time
	// Permission of the row created on first discovery; inherited when empty.
	Permission model.Permission
	Payload    Payload
}

// Stats counts reconcile outcomes.
type Stats struct {
	Created  int
	Upserted int
	Skipped  int
	Failed   int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Created += o.Created
	s.Upserted += o.Upserted
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

// Writes returns the number of document store writes.
func (s Stats) Writes() int { return s.Upserted }

// ContentHash returns a stable version string for the given parts.
func ContentHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:%s;", len(p), p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Engine reconciles remote entities against the tracking rows and writes the
// differences to the document store.
type Engine struct {
	db          Database
	store       DocumentStore
	logger      Logger
	clock       Clock
	concurrency int
}

// NewEngine creates an Engine. concurrency <= 0 selects DefaultConcurrency.
func NewEngine(db Database, store DocumentStore, logger Logger, clock Clock, concurrency int) *Engine {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Engine{db: db, store: store, logger: logger, clock: clock, concurrency: concurrency}
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCreated
	outcomeUpserted
)

// Reconcile processes items independently with bounded concurrency. Every
// item is attempted; failures are joined into the returned error after the
// batch so the caller's retry resumes from the tracking rows.
func (e *Engine) Reconcile(ctx context.Context, ds DataSource, connectorID int64, items []Item) (Stats, error) {
	var (
		mu    sync.Mutex
		stats Stats
	)
	err := Concurrent(ctx, e.concurrency, items, func(ctx context.Context, item Item) error {
		out, err := e.reconcileItem(ctx, ds, connectorID, item)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			stats.Failed++
			e.logger.Error("reconcile failed", "connector", connectorID, "id", item.InternalID, "kind", item.Kind, "error", err)
			return err
		}
		switch out {
		case outcomeCreated:
			stats.Created++
			stats.Upserted++
		case outcomeUpserted:
			stats.Upserted++
		case outcomeSkipped:
			stats.Skipped++
		}
		return nil
	})
	return stats, err
}

func (e *Engine) reconcileItem(ctx context.Context, ds DataSource, connectorID int64, item Item) (outcome, error) {
	if len(item.Parents) == 0 || item.Parents[0] != item.InternalID {
		return outcomeSkipped, fmt.Errorf("%w: parents of %s must start with itself, got %v", ErrInvariant, item.InternalID, item.Parents)
	}

	row, err := e.db.FindNode(ctx, connectorID, item.InternalID)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("finding node %s: %w", item.InternalID, err)
	}

	created := false
	if row == nil {
		perm := item.Permission
		if perm == "" {
			perm = model.PermissionInherited
		}
		row, err = e.db.CreateNode(ctx, &model.Node{
			ConnectorID:      connectorID,
			Kind:             string(item.Kind),
			InternalID:       item.InternalID,
			ParentInternalID: item.ParentInternalID,
			Title:            item.Title,
			Permission:       perm,
			SourceURL:        item.SourceURL,
			RemoteUpdatedAt:  nullTime(item.RemoteUpdatedAt),
		})
		if err != nil {
			return outcomeSkipped, fmt.Errorf("creating node %s: %w", item.InternalID, err)
		}
		created = true
	}

	now := e.clock.Now()
	if !created && !NeedsUpsert(row, item) {
		if err := e.db.MarkNodeSeen(ctx, row.ID, now); err != nil {
			return outcomeSkipped, fmt.Errorf("marking node %s seen: %w", item.InternalID, err)
		}
		return outcomeSkipped, nil
	}

	// A grant row records the kind guessed from the id alone; the artifact
	// written under another kind must go before the row is relabelled.
	if row.LastUpsertedAt.Valid && row.Kind != string(item.Kind) {
		if err := deleteArtifact(ctx, e.store, ds, row); err != nil {
			return outcomeSkipped, err
		}
	}

	if err := e.write(ctx, ds, item); err != nil {
		return outcomeSkipped, err
	}

	row.Kind = string(item.Kind)
	row.Title = item.Title
	row.ParentInternalID = item.ParentInternalID
	row.SourceURL = item.SourceURL
	row.Parents = slices.Clone(item.Parents)
	row.ContentHash = item.ContentHash
	row.RemoteUpdatedAt = nullTime(item.RemoteUpdatedAt)
	row.LastUpsertedAt = sql.NullTime{Time: now, Valid: true}
	row.LastSeenAt = sql.NullTime{Time: now, Valid: true}
	if err := e.db.MarkNodeUpserted(ctx, row); err != nil {
		return outcomeSkipped, fmt.Errorf("marking node %s upserted: %w", item.InternalID, err)
	}

	e.logger.Debug("upserted", "connector", connectorID, "id", item.InternalID, "kind", item.Kind, "created", created)
	if created {
		return outcomeCreated, nil
	}
	return outcomeUpserted, nil
}

// NeedsUpsert compares a tracking row against the freshly computed item.
// Providers with expensive payloads call it before fetching content.
func NeedsUpsert(row *model.Node, item Item) bool {
	return !row.LastUpsertedAt.Valid ||
		row.Kind != string(item.Kind) ||
		!slices.Equal(row.Parents, item.Parents) ||
		row.ContentHash != item.ContentHash ||
		row.Title != item.Title
}

func (e *Engine) write(ctx context.Context, ds DataSource, item Item) error {
	artifact, err := payloadArtifact(item.Payload)
	if err != nil {
		return fmt.Errorf("%w for %s", err, item.InternalID)
	}
	want, err := ArtifactOf(item.Kind)
	if err != nil {
		return err
	}
	if want != artifact {
		return fmt.Errorf("%w: %s payload for %s node %s", ErrInvariant, artifact, item.Kind, item.InternalID)
	}

	parentID := ""
	if len(item.Parents) > 1 {
		parentID = item.Parents[1]
	}
	parents := slices.Clone(item.Parents)

	switch p := item.Payload.(type) {
	case Document:
		p.ID, p.Title, p.Parents, p.ParentID, p.SourceURL = item.InternalID, item.Title, parents, parentID, item.SourceURL
		err = e.store.UpsertDocument(ctx, ds, p)
	case Table:
		p.ID, p.Title, p.Parents, p.ParentID = item.InternalID, item.Title, parents, parentID
		err = e.store.UpsertTable(ctx, ds, p)
	case Folder:
		p.ID, p.Title, p.Parents, p.ParentID, p.SourceURL = item.InternalID, item.Title, parents, parentID, item.SourceURL
		err = e.store.UpsertFolder(ctx, ds, p)
	}
	if err != nil {
		return &StoreError{Op: "upsert " + string(artifact), ID: item.InternalID, Err: err}
	}
	return nil
}

func payloadArtifact(p Payload) (Artifact, error) {
	switch p.(type) {
	case Document:
		return ArtifactDocument, nil
	case Table:
		return ArtifactTable, nil
	case Folder:
		return ArtifactFolder, nil
	}
	return "", fmt.Errorf("%w: payload %T", ErrUnknownKind, p)
}

// ScanNodes pages through the rows selected by q with an id cursor and calls
// fn for each. fn may delete the row it is given.
func ScanNodes(ctx context.Context, db Database, q NodeQuery, fn func(*model.Node) error) error {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	for {
		page, err := db.ListNodes(ctx, q)
		if err != nil {
			return fmt.Errorf("listing nodes after %d: %w", q.AfterID, err)
		}
		for _, n := range page {
			if err := fn(n); err != nil {
				return err
			}
		}
		if len(page) < q.Limit {
			return nil
		}
		q.AfterID = page[len(page)-1].ID
	}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// ItemSet collects items in insertion order and drops repeated ids, so
// placeholders shared by many children are written once per pass.
type ItemSet struct {
	seen  map[string]bool
	items []Item
}

func NewItemSet() *ItemSet { return &ItemSet{seen: map[string]bool{}} }

// Add appends item unless an item with the same id was added before.
func (s *ItemSet) Add(item Item) {
	if s.seen[item.InternalID] {
		return
	}
	s.seen[item.InternalID] = true
	s.items = append(s.items, item)
}

func (s *ItemSet) Items() []Item { return s.items }

func (s *ItemSet) Len() int { return len(s.items) }
