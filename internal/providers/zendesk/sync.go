package zendesk

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"connsync/internal/connectors"
	"connsync/internal/internalid"
	"connsync/internal/model"
	"connsync/internal/providers/httpclient"
)

const (
	// CursorName is the cursor holding the start of the last successful pass.
	CursorName = "zendesk_timestamp"

	// The incremental export lags behind writes; never resume closer to now.
	cursorLag = time.Minute

	MimeTypeBrand      = "application/vnd.connsync.zendesk.brand"
	MimeTypeHelpCenter = "application/vnd.connsync.zendesk.help-center"
	MimeTypeCategory   = "application/vnd.connsync.zendesk.category"
	MimeTypeArticle    = "text/markdown"
)

// Kinds are the node kinds owned by Zendesk connectors.
var Kinds = []internalid.Kind{
	internalid.KindZendeskBrand, internalid.KindZendeskHelpCenter,
	internalid.KindZendeskCategory, internalid.KindZendeskArticle,
}

var containerKinds = []internalid.Kind{
	internalid.KindZendeskBrand, internalid.KindZendeskHelpCenter, internalid.KindZendeskCategory,
}

// Syncer mirrors the help centers of granted brands and categories.
type Syncer struct {
	db        connectors.Database
	engine    *connectors.Engine
	collector *connectors.Collector
	logger    connectors.Logger
	markdown  *md.Converter
}

func NewSyncer(db connectors.Database, store connectors.DocumentStore, logger connectors.Logger, clock connectors.Clock, concurrency int) *Syncer {
	return &Syncer{
		db:        db,
		engine:    connectors.NewEngine(db, store, logger, clock, concurrency),
		collector: connectors.NewCollector(db, store, logger),
		logger:    logger,
		markdown:  md.NewConverter("", true, nil),
	}
}

type ids struct{ connectorID int64 }

func (x ids) brand(id int64) string {
	return internalid.Encode(internalid.ZendeskObject{Type: internalid.ZendeskBrand, ConnectorID: x.connectorID, ID: id})
}

func (x ids) helpCenter(brandID int64) string {
	return internalid.Encode(internalid.ZendeskObject{Type: internalid.ZendeskHelpCenter, ConnectorID: x.connectorID, ID: brandID})
}

func (x ids) category(id int64) string {
	return internalid.Encode(internalid.ZendeskObject{Type: internalid.ZendeskCategory, ConnectorID: x.connectorID, ID: id})
}

func (x ids) article(id int64) string {
	return internalid.Encode(internalid.ZendeskObject{Type: internalid.ZendeskArticle, ConnectorID: x.connectorID, ID: id})
}

// BrandsToSync returns the brands of the account plus the brands added
// through pending brand or help center scopes. Pending scopes are consumed.
func (s *Syncer) BrandsToSync(ctx context.Context, c *model.Connector, client Client) ([]int64, error) {
	brands, err := client.ListBrands(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing brands: %w", err)
	}
	out := make([]int64, 0, len(brands))
	for _, b := range brands {
		out = append(out, b.ID)
	}

	for _, scopeType := range []string{connectors.ScopeBrand, connectors.ScopeHelpCenter} {
		pending, err := s.db.TakePendingScopes(ctx, c.ID, scopeType)
		if err != nil {
			return nil, fmt.Errorf("taking pending %s scopes: %w", scopeType, err)
		}
		for _, p := range pending {
			u := connectors.ScopeUpdate{Type: p.ScopeType, ID: p.ScopeID, Action: connectors.ScopeAction(p.Action)}
			if err := u.Validate(); err != nil {
				return nil, err
			}
			if u.Action != connectors.ScopeAdded {
				continue
			}
			id, err := BrandIDOf(c.ID, u.ID)
			if err != nil {
				return nil, err
			}
			if !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// BrandIDOf returns the brand of a brand or help center internal id.
func BrandIDOf(connectorID int64, internalID string) (int64, error) {
	n, err := internalid.ParseZendesk(connectorID, internalID)
	if err != nil {
		return 0, err
	}
	obj := n.(internalid.ZendeskObject)
	if obj.Type != internalid.ZendeskBrand && obj.Type != internalid.ZendeskHelpCenter {
		return 0, &internalid.InvalidInternalIDError{ID: internalID, Reason: "not a brand or help center"}
	}
	return obj.ID, nil
}

// BrandResult reports the sync of one brand.
type BrandResult struct {
	// Categories lists the in-scope categories whose articles must be
	// listed in full: every category on a full pass, otherwise only those
	// never synced before.
	Categories []int64
	Stats      connectors.Stats
}

// SyncBrand syncs the brand, help center and category folders of one brand.
func (s *Syncer) SyncBrand(ctx context.Context, c *model.Connector, client Client, brandID int64, full bool) (BrandResult, error) {
	var res BrandResult
	x := ids{c.ID}

	brand, err := client.GetBrand(ctx, brandID)
	if err != nil {
		if connectors.IsNotFound(err) {
			s.logger.Info("brand no longer exists", "connector", c.ID, "brand", brandID)
			return res, nil
		}
		return res, fmt.Errorf("getting brand %d: %w", brandID, err)
	}

	resolver, blocked, err := s.scope(ctx, c.ID)
	if err != nil {
		return res, err
	}

	items := connectors.NewItemSet()
	brandPath, err := resolver.Resolve([]string{x.brand(brand.ID)})
	if err != nil {
		return res, err
	}
	if brandPath.InScope {
		items.Add(s.brandItem(*brand, brandPath.Parents))
	}

	if brand.HasHelpCenter {
		hcPath, err := resolver.Resolve([]string{x.helpCenter(brand.ID), x.brand(brand.ID)})
		if err != nil {
			return res, err
		}
		if hcPath.InScope && resolver.Granted(x.helpCenter(brand.ID)) {
			items.Add(s.helpCenterItem(x, *brand, hcPath.Parents))
		}

		categories, err := client.ListCategories(ctx, *brand)
		switch {
		case httpclient.IsForbidden(err):
			s.logger.Warn("help center not readable", "connector", c.ID, "brand", brand.ID)
			categories = nil
		case err != nil:
			return res, fmt.Errorf("listing categories of brand %d: %w", brand.ID, err)
		}

		for _, cat := range categories {
			id := x.category(cat.ID)
			if blocked[id] {
				continue
			}
			r, err := resolver.Resolve([]string{id, x.helpCenter(brand.ID), x.brand(brand.ID)})
			if err != nil {
				return res, err
			}
			if !r.InScope {
				continue
			}
			for _, path := range r.AncestorPaths() {
				switch path[0] {
				case x.helpCenter(brand.ID):
					items.Add(s.helpCenterItem(x, *brand, path))
				case x.brand(brand.ID):
					items.Add(s.brandItem(*brand, path))
				}
			}
			items.Add(connectors.Item{
				Kind:             internalid.KindZendeskCategory,
				InternalID:       id,
				ParentInternalID: x.helpCenter(brand.ID),
				Title:            cat.Name,
				SourceURL:        cat.HTMLURL,
				Parents:          r.Parents,
				ContentHash:      connectors.ContentHash(cat.Name, cat.Description, cat.HTMLURL),
				Payload:          connectors.Folder{MimeType: MimeTypeCategory},
			})

			fresh := full
			if !fresh {
				row, err := s.db.FindNode(ctx, c.ID, id)
				if err != nil {
					return res, fmt.Errorf("finding category %d: %w", cat.ID, err)
				}
				fresh = row == nil || !row.LastUpsertedAt.Valid
			}
			if fresh {
				res.Categories = append(res.Categories, cat.ID)
			}
		}
	}

	res.Stats, err = s.engine.Reconcile(ctx, connectors.DataSourceOf(c), c.ID, items.Items())
	if err != nil {
		return res, fmt.Errorf("reconciling brand %d: %w", brand.ID, err)
	}
	return res, nil
}

func (s *Syncer) brandItem(b Brand, parents []string) connectors.Item {
	return connectors.Item{
		Kind:        internalid.KindZendeskBrand,
		InternalID:  parents[0],
		Title:       b.Name,
		SourceURL:   b.BrandURL,
		Parents:     parents,
		ContentHash: connectors.ContentHash(b.Name, b.BrandURL),
		Payload:     connectors.Folder{MimeType: MimeTypeBrand},
	}
}

func (s *Syncer) helpCenterItem(x ids, b Brand, parents []string) connectors.Item {
	title := b.Name + " Help Center"
	return connectors.Item{
		Kind:             internalid.KindZendeskHelpCenter,
		InternalID:       parents[0],
		ParentInternalID: x.brand(b.ID),
		Title:            title,
		SourceURL:        b.HelpCenterURL(),
		Parents:          parents,
		ContentHash:      connectors.ContentHash(title, b.HelpCenterURL()),
		Payload:          connectors.Folder{MimeType: MimeTypeHelpCenter},
	}
}

// scope returns the resolver of the connector and the categories explicitly
// set to none, which are excluded even under a granted brand.
func (s *Syncer) scope(ctx context.Context, connectorID int64) (*connectors.Resolver, map[string]bool, error) {
	granted, err := s.db.GrantedInternalIDs(ctx, connectorID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading grants: %w", err)
	}
	blocked := map[string]bool{}
	err = connectors.ScanNodes(ctx, s.db, connectors.NodeQuery{
		ConnectorID: connectorID,
		Kinds:       []internalid.Kind{internalid.KindZendeskCategory},
		Permissions: []model.Permission{model.PermissionNone},
	}, func(n *model.Node) error {
		blocked[n.InternalID] = true
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("loading revoked categories: %w", err)
	}
	return connectors.NewResolver(granted), blocked, nil
}

// ArticlesResult reports one page of category articles.
type ArticlesResult struct {
	Count int
	// Next resumes the listing; empty on the last page.
	Next  string
	Stats connectors.Stats
}

// SyncCategoryArticles syncs one cursor page of the articles of a category.
// A category answering 403 has its articles revoked.
func (s *Syncer) SyncCategoryArticles(ctx context.Context, c *model.Connector, client Client, brandID, categoryID int64, cursor string) (ArticlesResult, error) {
	var res ArticlesResult
	x := ids{c.ID}

	catRow, err := s.db.FindNode(ctx, c.ID, x.category(categoryID))
	if err != nil {
		return res, fmt.Errorf("finding category %d: %w", categoryID, err)
	}
	if catRow == nil || catRow.Permission == model.PermissionNone {
		return res, nil
	}
	brand, err := client.GetBrand(ctx, brandID)
	if err != nil {
		if connectors.IsNotFound(err) {
			return res, nil
		}
		return res, fmt.Errorf("getting brand %d: %w", brandID, err)
	}
	resolver, _, err := s.scope(ctx, c.ID)
	if err != nil {
		return res, err
	}

	page, err := client.ListArticles(ctx, *brand, categoryID, cursor)
	if err != nil {
		if httpclient.IsForbidden(err) {
			s.logger.Warn("category not readable", "connector", c.ID, "category", categoryID)
			_, err := s.revokeArticles(ctx, c, catRow.InternalID)
			return res, err
		}
		if connectors.IsNotFound(err) {
			return res, nil
		}
		return res, fmt.Errorf("listing articles of category %d: %w", categoryID, err)
	}
	res.Next = page.Next

	items := connectors.NewItemSet()
	for _, a := range page.Articles {
		item, ok, err := s.articleItem(x, *brand, catRow, a, resolver)
		if err != nil {
			return res, err
		}
		if ok {
			items.Add(item)
		}
	}
	res.Count = items.Len()
	res.Stats, err = s.engine.Reconcile(ctx, connectors.DataSourceOf(c), c.ID, items.Items())
	if err != nil {
		return res, fmt.Errorf("reconciling articles of category %d: %w", categoryID, err)
	}
	return res, nil
}

func (s *Syncer) articleItem(x ids, brand Brand, catRow *model.Node, a Article, resolver *connectors.Resolver) (connectors.Item, bool, error) {
	if a.Draft {
		return connectors.Item{}, false, nil
	}
	id := x.article(a.ID)
	r, err := resolver.Resolve([]string{id, catRow.InternalID, x.helpCenter(brand.ID), x.brand(brand.ID)})
	if err != nil || !r.InScope {
		return connectors.Item{}, false, err
	}
	body, err := s.markdown.ConvertString(a.Body)
	if err != nil {
		return connectors.Item{}, false, fmt.Errorf("converting article %d: %w", a.ID, err)
	}
	content := "CATEGORY: " + catRow.Title + "\n\n# " + a.Title + "\n\n" + body
	return connectors.Item{
		Kind:             internalid.KindZendeskArticle,
		InternalID:       id,
		ParentInternalID: catRow.InternalID,
		Title:            a.Title,
		SourceURL:        a.HTMLURL,
		Parents:          r.Parents,
		ContentHash:      connectors.ContentHash(a.Title, a.Body, catRow.Title, a.UpdatedAt.UTC().Format(time.RFC3339Nano)),
		RemoteUpdatedAt:  a.UpdatedAt,
		Payload: connectors.Document{
			MimeType:  MimeTypeArticle,
			Content:   content,
			Timestamp: a.UpdatedAt,
			Tags:      []string{"title:" + a.Title, "category:" + catRow.Title},
		},
	}, true, nil
}

// IncrementalStart returns where the incremental article export resumes:
// the stored cursor, but never later than one minute before now. ok is
// false when no cursor exists and a full pass is needed.
func (s *Syncer) IncrementalStart(ctx context.Context, connectorID int64, now time.Time) (time.Time, bool, error) {
	cur, err := s.db.GetCursor(ctx, connectorID, CursorName)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading cursor: %w", err)
	}
	if cur == nil {
		return time.Time{}, false, nil
	}
	ts, err := time.Parse(time.RFC3339, cur.Value)
	if err != nil {
		s.logger.Warn("ignoring malformed cursor", "connector", connectorID, "value", cur.Value)
		return time.Time{}, false, nil
	}
	if limit := now.Add(-cursorLag); ts.After(limit) {
		ts = limit
	}
	return ts, true, nil
}

// CommitCursor records the start of a successful pass.
func (s *Syncer) CommitCursor(ctx context.Context, connectorID int64, syncStart time.Time) error {
	return s.db.SetCursor(ctx, connectorID, CursorName, syncStart.UTC().Format(time.RFC3339))
}

// IncrementalResult reports an incremental article sync of one brand.
type IncrementalResult struct {
	Count int
	Stats connectors.Stats
}

// SyncIncremental syncs the articles of a brand updated since start. Articles
// of categories that are not tracked yet are left to the full listing.
func (s *Syncer) SyncIncremental(ctx context.Context, c *model.Connector, client Client, brandID int64, start time.Time) (IncrementalResult, error) {
	var res IncrementalResult
	x := ids{c.ID}

	brand, err := client.GetBrand(ctx, brandID)
	if err != nil {
		if connectors.IsNotFound(err) {
			return res, nil
		}
		return res, fmt.Errorf("getting brand %d: %w", brandID, err)
	}
	if !brand.HasHelpCenter {
		return res, nil
	}
	resolver, blocked, err := s.scope(ctx, c.ID)
	if err != nil {
		return res, err
	}

	sections := map[int64]int64{}
	categories := map[int64]*model.Node{}
	items := connectors.NewItemSet()
	for {
		page, err := client.IncrementalArticles(ctx, *brand, start)
		if err != nil {
			return res, fmt.Errorf("exporting articles of brand %d: %w", brand.ID, err)
		}
		for _, a := range page.Articles {
			catID, ok := sections[a.SectionID]
			if !ok {
				sec, err := client.GetSection(ctx, *brand, a.SectionID)
				if err != nil && !connectors.IsNotFound(err) {
					return res, fmt.Errorf("getting section %d: %w", a.SectionID, err)
				}
				if sec != nil {
					catID = sec.CategoryID
				}
				sections[a.SectionID] = catID
			}
			if catID == 0 || blocked[x.category(catID)] {
				continue
			}
			catRow, ok := categories[catID]
			if !ok {
				catRow, err = s.db.FindNode(ctx, c.ID, x.category(catID))
				if err != nil {
					return res, fmt.Errorf("finding category %d: %w", catID, err)
				}
				categories[catID] = catRow
			}
			if catRow == nil || !catRow.LastUpsertedAt.Valid {
				continue
			}
			item, ok, err := s.articleItem(x, *brand, catRow, a, resolver)
			if err != nil {
				return res, err
			}
			if ok {
				items.Add(item)
			}
		}
		if !page.HasMore || !page.EndTime.After(start) {
			break
		}
		start = page.EndTime
	}

	res.Count = items.Len()
	res.Stats, err = s.engine.Reconcile(ctx, connectors.DataSourceOf(c), c.ID, items.Items())
	if err != nil {
		return res, fmt.Errorf("reconciling updated articles of brand %d: %w", brand.ID, err)
	}
	return res, nil
}

func brandOfCategory(connectorID int64, catRow *model.Node) (int64, bool) {
	if catRow == nil || catRow.ParentInternalID == "" {
		return 0, false
	}
	id, err := BrandIDOf(connectorID, catRow.ParentInternalID)
	if err != nil {
		return 0, false
	}
	return id, true
}

func articleNativeID(connectorID int64, internalID string) (int64, error) {
	n, err := internalid.ParseZendesk(connectorID, internalID)
	if err != nil {
		return 0, err
	}
	obj := n.(internalid.ZendeskObject)
	if obj.Type != internalid.ZendeskArticle {
		return 0, &internalid.InvalidInternalIDError{ID: internalID, Reason: "not an article: " + strconv.Quote(string(obj.Type))}
	}
	return obj.ID, nil
}
