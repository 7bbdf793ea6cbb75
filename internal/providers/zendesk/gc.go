package zendesk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"connsync/internal/connectors"
	"connsync/internal/internalid"
	"connsync/internal/model"
)

// GarbageCollect removes the brands, help centers and categories not seen
// since syncStart, then revokes every row whose granting ancestor lost its
// grant. Articles are not checked for freshness here: an incremental pass
// does not visit unchanged articles, so their removal goes through
// RemoveMissingArticles.
func (s *Syncer) GarbageCollect(ctx context.Context, c *model.Connector, syncStart time.Time) (connectors.SweepResult, error) {
	var total connectors.SweepResult
	granted, err := s.db.GrantedInternalIDs(ctx, c.ID)
	if err != nil {
		return total, fmt.Errorf("loading grants: %w", err)
	}
	resolver := connectors.NewResolver(granted)
	ds := connectors.DataSourceOf(c)

	var errs []error
	for _, p := range []connectors.SweepPolicy{
		{ConnectorID: c.ID, Kinds: containerKinds, SeenBefore: syncStart, Resolver: resolver},
		{ConnectorID: c.ID, Kinds: []internalid.Kind{internalid.KindZendeskArticle}, Resolver: resolver},
	} {
		res, err := s.collector.Sweep(ctx, ds, p)
		total.Removed += res.Removed
		total.Revoked += res.Revoked
		total.Examined += res.Examined
		if err != nil {
			errs = append(errs, fmt.Errorf("collecting zendesk nodes: %w", err))
		}
	}
	if total.Removed+total.Revoked > 0 {
		s.logger.Info("zendesk garbage collected", "connector", c.ID, "removed", total.Removed, "revoked", total.Revoked)
	}
	return total, errors.Join(errs...)
}

// RemoveForbiddenCategories revokes the categories set to none together
// with their articles.
func (s *Syncer) RemoveForbiddenCategories(ctx context.Context, c *model.Connector) (int, error) {
	var forbidden []*model.Node
	err := connectors.ScanNodes(ctx, s.db, connectors.NodeQuery{
		ConnectorID: c.ID,
		Kinds:       []internalid.Kind{internalid.KindZendeskCategory},
		Permissions: []model.Permission{model.PermissionNone},
	}, func(n *model.Node) error {
		forbidden = append(forbidden, n)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("listing revoked categories: %w", err)
	}

	revoked := 0
	for _, n := range forbidden {
		count, err := s.revokeArticles(ctx, c, n.InternalID)
		revoked += count
		if err != nil {
			return revoked, err
		}
		if n.LastUpsertedAt.Valid {
			if err := s.collector.Revoke(ctx, connectors.DataSourceOf(c), n); err != nil {
				return revoked, err
			}
			revoked++
		}
	}
	return revoked, nil
}

func (s *Syncer) revokeArticles(ctx context.Context, c *model.Connector, categoryID string) (int, error) {
	count := 0
	err := connectors.ScanNodes(ctx, s.db, connectors.NodeQuery{
		ConnectorID:       c.ID,
		Kinds:             []internalid.Kind{internalid.KindZendeskArticle},
		ParentInternalIDs: []string{categoryID},
	}, func(n *model.Node) error {
		if err := s.collector.Revoke(ctx, connectors.DataSourceOf(c), n); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("revoking articles of %s: %w", categoryID, err)
	}
	return count, nil
}

// RemoveMissingArticles checks up to batch article rows after afterID
// against the API and removes those answering 404, those whose brand is
// gone and those whose category is no longer tracked. An API failure stops
// the batch; a failed removal leaves its row for the next pass and the
// remaining rows are still checked.
func (s *Syncer) RemoveMissingArticles(ctx context.Context, c *model.Connector, client Client, afterID int64, batch int) (connectors.SweepResult, error) {
	res := connectors.SweepResult{NextAfterID: afterID}
	if batch <= 0 {
		batch = connectors.DefaultPageSize
	}
	rows, err := s.db.ListNodes(ctx, connectors.NodeQuery{
		ConnectorID: c.ID,
		Kinds:       []internalid.Kind{internalid.KindZendeskArticle},
		AfterID:     afterID,
		Limit:       batch,
	})
	if err != nil {
		return res, fmt.Errorf("listing articles after %d: %w", afterID, err)
	}
	res.More = len(rows) == batch

	ds := connectors.DataSourceOf(c)
	categories := map[string]*model.Node{}
	brands := map[int64]*Brand{}
	var errs []error
	for _, n := range rows {
		res.Examined++
		res.NextAfterID = n.ID

		gone, err := s.articleGone(ctx, c.ID, client, n, categories, brands)
		if err != nil {
			return res, errors.Join(append(errs, err)...)
		}
		if !gone {
			continue
		}
		if err := s.collector.Remove(ctx, ds, n); err != nil {
			s.logger.Warn("removing article failed", "connector", c.ID, "id", n.InternalID, "error", err)
			errs = append(errs, err)
			continue
		}
		res.Removed++
	}
	if res.Removed > 0 {
		s.logger.Info("removed missing articles", "connector", c.ID, "removed", res.Removed)
	}
	return res, errors.Join(errs...)
}

func (s *Syncer) articleGone(ctx context.Context, connectorID int64, client Client, n *model.Node,
	categories map[string]*model.Node, brands map[int64]*Brand) (bool, error) {
	catRow, ok := categories[n.ParentInternalID]
	if !ok {
		var err error
		catRow, err = s.db.FindNode(ctx, connectorID, n.ParentInternalID)
		if err != nil {
			return false, fmt.Errorf("finding category of %s: %w", n.InternalID, err)
		}
		categories[n.ParentInternalID] = catRow
	}
	brandID, ok := brandOfCategory(connectorID, catRow)
	if !ok {
		return true, nil
	}

	brand, ok := brands[brandID]
	if !ok {
		b, err := client.GetBrand(ctx, brandID)
		if err != nil && !connectors.IsNotFound(err) {
			return false, fmt.Errorf("getting brand %d: %w", brandID, err)
		}
		brand = b
		brands[brandID] = b
	}
	if brand == nil {
		return true, nil
	}

	articleID, err := articleNativeID(connectorID, n.InternalID)
	if err != nil {
		return false, err
	}
	if _, err := client.GetArticle(ctx, *brand, articleID); err != nil {
		if connectors.IsNotFound(err) {
			return true, nil
		}
		return false, fmt.Errorf("checking article %d: %w", articleID, err)
	}
	return false, nil
}
