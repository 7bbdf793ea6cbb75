package connectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"connsync/internal/internalid"
	"connsync/internal/model"
)

// Collector removes document store artifacts and tracking rows of entities
// that disappeared upstream or lost their grant. The document store is always
// cleaned before the tracking row is touched; when the delete fails the row
// is left unchanged so the next pass retries.
type Collector struct {
	db     Database
	store  DocumentStore
	logger Logger
}

// NewCollector creates a Collector.
func NewCollector(db Database, store DocumentStore, logger Logger) *Collector {
	return &Collector{db: db, store: store, logger: logger}
}

// Revoke handles a permission revocation: the artifact is deleted, inherited
// rows are destroyed and explicit rows are kept with LastUpsertedAt cleared
// so a later grant re-syncs them.
func (c *Collector) Revoke(ctx context.Context, ds DataSource, n *model.Node) error {
	if err := deleteArtifact(ctx, c.store, ds, n); err != nil {
		return err
	}
	if !n.Permission.Explicit() {
		if err := c.db.DeleteNode(ctx, n.ID); err != nil {
			return fmt.Errorf("deleting node %s: %w", n.InternalID, err)
		}
		c.logger.Debug("revoked and deleted", "connector", n.ConnectorID, "id", n.InternalID)
		return nil
	}
	if n.LastUpsertedAt.Valid {
		if err := c.db.ClearNodeUpserted(ctx, n.ID); err != nil {
			return fmt.Errorf("clearing node %s: %w", n.InternalID, err)
		}
	}
	c.logger.Debug("revoked", "connector", n.ConnectorID, "id", n.InternalID, "permission", n.Permission)
	return nil
}

// Remove handles an entity deleted upstream: the artifact and the tracking
// row are both deleted, whatever the permission.
func (c *Collector) Remove(ctx context.Context, ds DataSource, n *model.Node) error {
	if err := deleteArtifact(ctx, c.store, ds, n); err != nil {
		return err
	}
	if err := c.db.DeleteNode(ctx, n.ID); err != nil {
		return fmt.Errorf("deleting node %s: %w", n.InternalID, err)
	}
	c.logger.Debug("removed", "connector", n.ConnectorID, "id", n.InternalID)
	return nil
}

// SweepPolicy selects the rows examined by Sweep.
type SweepPolicy struct {
	ConnectorID       int64
	Kinds             []internalid.Kind
	ParentInternalIDs []string
	// Rows not seen since SeenBefore are gone upstream. Zero disables the check.
	SeenBefore time.Time
	// When set, upserted rows whose anchor lost its grant are revoked.
	Resolver *Resolver
	AfterID  int64
	// Limit bounds the number of rows examined; 0 scans everything.
	Limit int
}

// SweepResult reports a sweep. NextAfterID resumes a limited sweep.
type SweepResult struct {
	Removed     int
	Revoked     int
	Examined    int
	NextAfterID int64
	More        bool
}

// Sweep examines the rows selected by p in id order. A row that fails is
// left unchanged and the sweep moves on; the failures are joined into the
// returned error.
func (c *Collector) Sweep(ctx context.Context, ds DataSource, p SweepPolicy) (SweepResult, error) {
	res := SweepResult{NextAfterID: p.AfterID}
	q := NodeQuery{
		ConnectorID:       p.ConnectorID,
		Kinds:             p.Kinds,
		ParentInternalIDs: p.ParentInternalIDs,
		AfterID:           p.AfterID,
		Limit:             DefaultPageSize,
	}
	if p.Limit > 0 && p.Limit < q.Limit {
		q.Limit = p.Limit
	}

	var errs []error
	for {
		page, err := c.db.ListNodes(ctx, q)
		if err != nil {
			errs = append(errs, fmt.Errorf("listing nodes after %d: %w", q.AfterID, err))
			return res, errors.Join(errs...)
		}
		for _, n := range page {
			if err := ctx.Err(); err != nil {
				return res, errors.Join(append(errs, err)...)
			}
			if err := c.sweepNode(ctx, ds, p, n, &res); err != nil {
				c.logger.Warn("sweep failed", "connector", n.ConnectorID, "id", n.InternalID, "error", err)
				errs = append(errs, err)
			}
			res.Examined++
			res.NextAfterID = n.ID
			if p.Limit > 0 && res.Examined >= p.Limit {
				res.More = true
				return res, errors.Join(errs...)
			}
		}
		if len(page) < q.Limit {
			return res, errors.Join(errs...)
		}
		q.AfterID = page[len(page)-1].ID
	}
}

func (c *Collector) sweepNode(ctx context.Context, ds DataSource, p SweepPolicy, n *model.Node, res *SweepResult) error {
	if !p.SeenBefore.IsZero() && (!n.LastSeenAt.Valid || n.LastSeenAt.Time.Before(p.SeenBefore)) {
		// Explicit rows hold an admin decision and outlive the entity.
		if n.Permission.Explicit() {
			if !n.LastUpsertedAt.Valid {
				return nil
			}
			if err := c.Revoke(ctx, ds, n); err != nil {
				return err
			}
			res.Revoked++
			return nil
		}
		if err := c.Remove(ctx, ds, n); err != nil {
			return err
		}
		res.Removed++
		return nil
	}
	if p.Resolver != nil && n.LastUpsertedAt.Valid && !p.Resolver.Granted(n.Anchor()) {
		if err := c.Revoke(ctx, ds, n); err != nil {
			return err
		}
		res.Revoked++
	}
	return nil
}

// RevokeAll runs the revocation path on every upserted or inherited row of
// the given kinds. It is used when the connection itself loses its rights.
// Failing rows are skipped and their errors joined, as in Sweep.
func (c *Collector) RevokeAll(ctx context.Context, ds DataSource, connectorID int64, kinds []internalid.Kind) (int, error) {
	revoked := 0
	var errs []error
	err := ScanNodes(ctx, c.db, NodeQuery{ConnectorID: connectorID, Kinds: kinds}, func(n *model.Node) error {
		if n.Permission.Explicit() && !n.LastUpsertedAt.Valid {
			return nil
		}
		if err := c.Revoke(ctx, ds, n); err != nil {
			errs = append(errs, err)
			return nil
		}
		revoked++
		return nil
	})
	return revoked, errors.Join(append(errs, err)...)
}
