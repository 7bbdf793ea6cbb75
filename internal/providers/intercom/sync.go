package intercom

import (
	"context"
	"fmt"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"connsync/internal/connectors"
	"connsync/internal/internalid"
	"connsync/internal/model"
)

const (
	DefaultRetentionDays = 90

	MimeTypeHelpCenter   = "application/vnd.connsync.intercom.help-center"
	MimeTypeCollection   = "application/vnd.connsync.intercom.collection"
	MimeTypeTeam         = "application/vnd.connsync.intercom.team"
	MimeTypeArticle      = "text/markdown"
	MimeTypeConversation = "text/markdown"
)

// Kinds are the node kinds owned by Intercom connectors.
var Kinds = []internalid.Kind{
	internalid.KindIntercomHelpCenter, internalid.KindIntercomCollection, internalid.KindIntercomArticle,
	internalid.KindIntercomTeam, internalid.KindIntercomConversation,
}

// Syncer mirrors granted help centers, collections and teams.
type Syncer struct {
	db        connectors.Database
	engine    *connectors.Engine
	collector *connectors.Collector
	logger    connectors.Logger
	clock     connectors.Clock
	markdown  *md.Converter
	retention time.Duration
}

// NewSyncer creates a Syncer. Conversations last updated more than
// retentionDays ago are not synced and are cleaned up; 0 selects
// DefaultRetentionDays.
func NewSyncer(db connectors.Database, store connectors.DocumentStore, logger connectors.Logger, clock connectors.Clock,
	concurrency, retentionDays int) *Syncer {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Syncer{
		db:        db,
		engine:    connectors.NewEngine(db, store, logger, clock, concurrency),
		collector: connectors.NewCollector(db, store, logger),
		logger:    logger,
		clock:     clock,
		markdown:  md.NewConverter("", true, nil),
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

type ids struct{ connectorID int64 }

func (x ids) encode(typ internalid.IntercomType, id ID) string {
	return internalid.Encode(internalid.IntercomObject{Type: typ, ConnectorID: x.connectorID, ID: string(id)})
}

func (x ids) helpCenter(id ID) string   { return x.encode(internalid.IntercomHelpCenter, id) }
func (x ids) collection(id ID) string   { return x.encode(internalid.IntercomCollection, id) }
func (x ids) article(id ID) string      { return x.encode(internalid.IntercomArticle, id) }
func (x ids) team(id ID) string         { return x.encode(internalid.IntercomTeam, id) }
func (x ids) conversation(id ID) string { return x.encode(internalid.IntercomConversation, id) }

// NativeID returns the Intercom id behind an internal id of the given type.
func NativeID(connectorID int64, internalID string, typ internalid.IntercomType) (string, error) {
	n, err := internalid.ParseIntercom(connectorID, internalID)
	if err != nil {
		return "", err
	}
	obj := n.(internalid.IntercomObject)
	if obj.Type != typ {
		return "", &internalid.InvalidInternalIDError{ID: internalID, Reason: fmt.Sprintf("expected %s, got %s", typ, obj.Type)}
	}
	return obj.ID, nil
}

func (s *Syncer) pending(ctx context.Context, c *model.Connector, scopeType string, typ internalid.IntercomType) ([]connectors.ScopeUpdate, error) {
	rows, err := s.db.TakePendingScopes(ctx, c.ID, scopeType)
	if err != nil {
		return nil, fmt.Errorf("taking pending %s scopes: %w", scopeType, err)
	}
	updates := make([]connectors.ScopeUpdate, 0, len(rows))
	for _, p := range rows {
		id, err := NativeID(c.ID, p.ScopeID, typ)
		if err != nil {
			return nil, err
		}
		updates = append(updates, connectors.ScopeUpdate{Type: p.ScopeType, ID: id, Action: connectors.ScopeAction(p.Action)})
	}
	return updates, nil
}

// HelpCentersToSync returns the help centers of the workspace with pending
// help center scopes applied. Pending scopes are consumed.
func (s *Syncer) HelpCentersToSync(ctx context.Context, c *model.Connector, client Client) ([]string, error) {
	hcs, err := client.ListHelpCenters(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing help centers: %w", err)
	}
	out := make([]string, 0, len(hcs))
	for _, hc := range hcs {
		out = append(out, string(hc.ID))
	}
	updates, err := s.pending(ctx, c, connectors.ScopeHelpCenter, internalid.IntercomHelpCenter)
	if err != nil {
		return nil, err
	}
	return connectors.ApplyScopeUpdates(out, updates)
}

// TeamsToSync returns the granted teams with pending team scopes applied.
func (s *Syncer) TeamsToSync(ctx context.Context, c *model.Connector) ([]string, error) {
	var out []string
	err := connectors.ScanNodes(ctx, s.db, connectors.NodeQuery{
		ConnectorID: c.ID,
		Kinds:       []internalid.Kind{internalid.KindIntercomTeam},
		Permissions: []model.Permission{model.PermissionRead, model.PermissionSelected},
	}, func(n *model.Node) error {
		id, err := NativeID(c.ID, n.InternalID, internalid.IntercomTeam)
		if err != nil {
			return err
		}
		out = append(out, id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing granted teams: %w", err)
	}
	updates, err := s.pending(ctx, c, connectors.ScopeTeam, internalid.IntercomTeam)
	if err != nil {
		return nil, err
	}
	return connectors.ApplyScopeUpdates(out, updates)
}

// HelpCenterResult reports the sync of one help center.
type HelpCenterResult struct {
	// Collections lists the in-scope collections whose articles are synced next.
	Collections []string
	Stats       connectors.Stats
}

// SyncHelpCenter syncs the help center and collection folders of one help
// center. Collections nest; each is resolved through its ancestors.
func (s *Syncer) SyncHelpCenter(ctx context.Context, c *model.Connector, client Client, helpCenterID string) (HelpCenterResult, error) {
	var res HelpCenterResult
	x := ids{c.ID}

	hc, err := client.GetHelpCenter(ctx, helpCenterID)
	if err != nil {
		if connectors.IsNotFound(err) {
			s.logger.Info("help center no longer exists", "connector", c.ID, "help_center", helpCenterID)
			return res, nil
		}
		return res, fmt.Errorf("getting help center %s: %w", helpCenterID, err)
	}
	cols, err := client.ListCollections(ctx, helpCenterID)
	if err != nil {
		return res, fmt.Errorf("listing collections of %s: %w", helpCenterID, err)
	}
	granted, err := s.db.GrantedInternalIDs(ctx, c.ID)
	if err != nil {
		return res, fmt.Errorf("loading grants: %w", err)
	}
	resolver := connectors.NewResolver(granted)

	byID := make(map[ID]Collection, len(cols))
	byInternal := make(map[string]Collection, len(cols))
	for _, col := range cols {
		byID[col.ID] = col
		byInternal[x.collection(col.ID)] = col
	}

	items := connectors.NewItemSet()
	hcID := x.helpCenter(hc.ID)
	if resolver.Granted(hcID) {
		items.Add(s.helpCenterItem(*hc, []string{hcID}))
	}
	for _, col := range cols {
		chain := []string{x.collection(col.ID)}
		seen := map[ID]bool{col.ID: true}
		for p := col.ParentID; p != ""; {
			parent, ok := byID[p]
			if !ok {
				break
			}
			chain = append(chain, x.collection(p))
			if seen[p] {
				break
			}
			seen[p] = true
			p = parent.ParentID
		}
		chain = append(chain, hcID)

		r, err := resolver.Resolve(chain)
		if err != nil {
			return res, err
		}
		if !r.InScope {
			continue
		}
		for _, path := range r.AncestorPaths() {
			if path[0] == hcID {
				items.Add(s.helpCenterItem(*hc, path))
			} else {
				items.Add(s.collectionItem(x, hc.ID, byInternal[path[0]], path))
			}
		}
		items.Add(s.collectionItem(x, hc.ID, col, r.Parents))
		res.Collections = append(res.Collections, string(col.ID))
	}

	res.Stats, err = s.engine.Reconcile(ctx, connectors.DataSourceOf(c), c.ID, items.Items())
	if err != nil {
		return res, fmt.Errorf("reconciling help center %s: %w", helpCenterID, err)
	}
	return res, nil
}

func (s *Syncer) helpCenterItem(hc HelpCenter, parents []string) connectors.Item {
	return connectors.Item{
		Kind:        internalid.KindIntercomHelpCenter,
		InternalID:  parents[0],
		Title:       hc.DisplayName,
		Parents:     parents,
		ContentHash: connectors.ContentHash(hc.DisplayName),
		Payload:     connectors.Folder{MimeType: MimeTypeHelpCenter},
	}
}

func (s *Syncer) collectionItem(x ids, hcID ID, col Collection, parents []string) connectors.Item {
	parent := x.helpCenter(hcID)
	if col.ParentID != "" {
		parent = x.collection(col.ParentID)
	}
	return connectors.Item{
		Kind:             internalid.KindIntercomCollection,
		InternalID:       parents[0],
		ParentInternalID: parent,
		Title:            col.Name,
		SourceURL:        col.URL,
		Parents:          parents,
		ContentHash:      connectors.ContentHash(col.Name, col.Description, col.URL),
		Payload:          connectors.Folder{MimeType: MimeTypeCollection},
	}
}

// ArticlesResult reports one page of collection articles.
type ArticlesResult struct {
	Count    int
	NextPage int
	Stats    connectors.Stats
}

// SyncCollectionArticles syncs one page of the published articles directly
// inside a collection synced by SyncHelpCenter.
func (s *Syncer) SyncCollectionArticles(ctx context.Context, c *model.Connector, client Client, helpCenterID, collectionID string, page int) (ArticlesResult, error) {
	var res ArticlesResult
	x := ids{c.ID}

	colRow, err := s.db.FindNode(ctx, c.ID, x.collection(ID(collectionID)))
	if err != nil {
		return res, fmt.Errorf("finding collection %s: %w", collectionID, err)
	}
	if colRow == nil || !colRow.LastUpsertedAt.Valid {
		return res, nil
	}
	hc, err := client.GetHelpCenter(ctx, helpCenterID)
	if err != nil {
		if connectors.IsNotFound(err) {
			return res, nil
		}
		return res, fmt.Errorf("getting help center %s: %w", helpCenterID, err)
	}
	granted, err := s.db.GrantedInternalIDs(ctx, c.ID)
	if err != nil {
		return res, fmt.Errorf("loading grants: %w", err)
	}
	resolver := connectors.NewResolver(granted)

	list, err := client.ListArticles(ctx, collectionID, page)
	if err != nil {
		if connectors.IsNotFound(err) {
			return res, nil
		}
		return res, fmt.Errorf("listing articles of collection %s: %w", collectionID, err)
	}
	res.NextPage = list.NextPage

	items := connectors.NewItemSet()
	for _, a := range list.Articles {
		if !a.Published() || string(a.ParentID) != collectionID {
			continue
		}
		id := x.article(a.ID)
		r, err := resolver.Resolve(append([]string{id}, colRow.Parents...))
		if err != nil {
			return res, err
		}
		if !r.InScope {
			continue
		}
		body, err := s.markdown.ConvertString(a.Body)
		if err != nil {
			return res, fmt.Errorf("converting article %s: %w", a.ID, err)
		}
		link := a.InAppURL()
		if hc.WebsiteTurnedOn && a.URL != "" {
			link = a.URL
		}
		updated := a.UpdatedAt.Time()
		items.Add(connectors.Item{
			Kind:             internalid.KindIntercomArticle,
			InternalID:       id,
			ParentInternalID: colRow.InternalID,
			Title:            a.Title,
			SourceURL:        link,
			Parents:          r.Parents,
			ContentHash:      connectors.ContentHash(a.Title, a.Body, colRow.Title, link, updated.Format(time.RFC3339)),
			RemoteUpdatedAt:  updated,
			Payload: connectors.Document{
				MimeType:  MimeTypeArticle,
				Content:   "CATEGORY: " + colRow.Title + "\n\n# " + a.Title + "\n\n" + body,
				Timestamp: updated,
				Tags:      []string{"title:" + a.Title},
			},
		})
	}
	res.Count = items.Len()
	res.Stats, err = s.engine.Reconcile(ctx, connectors.DataSourceOf(c), c.ID, items.Items())
	if err != nil {
		return res, fmt.Errorf("reconciling articles of collection %s: %w", collectionID, err)
	}
	return res, nil
}

// SyncTeam syncs the folder of a team. It reports false when the team is
// gone or no longer granted; its conversations are then left to the
// collector.
func (s *Syncer) SyncTeam(ctx context.Context, c *model.Connector, client Client, teamID string) (bool, connectors.Stats, error) {
	x := ids{c.ID}
	team, err := client.GetTeam(ctx, teamID)
	if err != nil {
		if connectors.IsNotFound(err) {
			s.logger.Info("team no longer exists", "connector", c.ID, "team", teamID)
			return false, connectors.Stats{}, nil
		}
		return false, connectors.Stats{}, fmt.Errorf("getting team %s: %w", teamID, err)
	}
	granted, err := s.db.GrantedInternalIDs(ctx, c.ID)
	if err != nil {
		return false, connectors.Stats{}, fmt.Errorf("loading grants: %w", err)
	}
	id := x.team(team.ID)
	if !connectors.NewResolver(granted).Granted(id) {
		return false, connectors.Stats{}, nil
	}
	stats, err := s.engine.Reconcile(ctx, connectors.DataSourceOf(c), c.ID, []connectors.Item{{
		Kind:        internalid.KindIntercomTeam,
		InternalID:  id,
		Title:       team.Name,
		Parents:     []string{id},
		ContentHash: connectors.ContentHash(team.Name),
		Payload:     connectors.Folder{MimeType: MimeTypeTeam},
	}})
	if err != nil {
		return false, stats, fmt.Errorf("reconciling team %s: %w", teamID, err)
	}
	return true, stats, nil
}

// ConversationsResult reports one page of team conversations.
type ConversationsResult struct {
	Count int
	Next  string
	Stats connectors.Stats
}

// SyncConversations syncs one page of the conversations assigned to a team
// and updated within the retention window. Full conversations are only
// fetched for rows that have to be written.
func (s *Syncer) SyncConversations(ctx context.Context, c *model.Connector, client Client, teamID, cursor string) (ConversationsResult, error) {
	var res ConversationsResult
	x := ids{c.ID}
	teamInternal := x.team(ID(teamID))

	granted, err := s.db.GrantedInternalIDs(ctx, c.ID)
	if err != nil {
		return res, fmt.Errorf("loading grants: %w", err)
	}
	resolver := connectors.NewResolver(granted)

	page, err := client.SearchConversations(ctx, teamID, s.clock.Now().Add(-s.retention), cursor)
	if err != nil {
		return res, fmt.Errorf("searching conversations of team %s: %w", teamID, err)
	}
	res.Next = page.Next

	items := connectors.NewItemSet()
	for _, conv := range page.Conversations {
		id := x.conversation(conv.ID)
		r, err := resolver.Resolve([]string{id, teamInternal})
		if err != nil {
			return res, err
		}
		if !r.InScope {
			continue
		}
		updated := conv.UpdatedAt.Time()
		title := conv.Title
		if title == "" {
			title = "Conversation " + string(conv.ID)
		}
		item := connectors.Item{
			Kind:             internalid.KindIntercomConversation,
			InternalID:       id,
			ParentInternalID: teamInternal,
			Title:            title,
			SourceURL:        "https://app.intercom.com/a/inbox/_/inbox/conversation/" + string(conv.ID),
			Parents:          r.Parents,
			ContentHash:      connectors.ContentHash(string(conv.ID), updated.Format(time.RFC3339)),
			RemoteUpdatedAt:  updated,
		}

		row, err := s.db.FindNode(ctx, c.ID, id)
		if err != nil {
			return res, fmt.Errorf("finding conversation %s: %w", conv.ID, err)
		}
		if row != nil && !connectors.NeedsUpsert(row, item) {
			item.Payload = connectors.Document{MimeType: MimeTypeConversation}
			items.Add(item)
			continue
		}
		full, err := client.GetConversation(ctx, string(conv.ID))
		if err != nil {
			if connectors.IsNotFound(err) {
				continue
			}
			return res, fmt.Errorf("getting conversation %s: %w", conv.ID, err)
		}
		content, err := s.renderConversation(title, full)
		if err != nil {
			return res, err
		}
		item.Payload = connectors.Document{MimeType: MimeTypeConversation, Content: content, Timestamp: updated}
		items.Add(item)
	}
	res.Count = items.Len()
	res.Stats, err = s.engine.Reconcile(ctx, connectors.DataSourceOf(c), c.ID, items.Items())
	if err != nil {
		return res, fmt.Errorf("reconciling conversations of team %s: %w", teamID, err)
	}
	return res, nil
}

func (s *Syncer) renderConversation(title string, conv *Conversation) (string, error) {
	var b strings.Builder
	b.WriteString("# " + title + "\n\n")
	write := func(author Author, at Timestamp, html string) error {
		if strings.TrimSpace(html) == "" {
			return nil
		}
		text, err := s.markdown.ConvertString(html)
		if err != nil {
			return fmt.Errorf("converting conversation %s: %w", conv.ID, err)
		}
		name := author.Name
		if name == "" {
			name = "Unknown"
		}
		fmt.Fprintf(&b, "**%s** (%s):\n%s\n\n", name, at.Time().Format(time.RFC3339), text)
		return nil
	}
	if err := write(conv.Source.Author, conv.CreatedAt, conv.Source.Body); err != nil {
		return "", err
	}
	for _, p := range conv.ConversationParts.Parts {
		if err := write(p.Author, p.CreatedAt, p.Body); err != nil {
			return "", err
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// RemoveOldConversations removes up to batch conversations last updated
// before the retention window and returns how many were removed. Callers
// loop until it returns 0.
func (s *Syncer) RemoveOldConversations(ctx context.Context, c *model.Connector, batch int) (int, error) {
	if batch <= 0 {
		batch = connectors.DefaultPageSize
	}
	rows, err := s.db.ListNodes(ctx, connectors.NodeQuery{
		ConnectorID:         c.ID,
		Kinds:               []internalid.Kind{internalid.KindIntercomConversation},
		RemoteUpdatedBefore: s.clock.Now().Add(-s.retention),
		Limit:               batch,
	})
	if err != nil {
		return 0, fmt.Errorf("listing old conversations: %w", err)
	}
	ds := connectors.DataSourceOf(c)
	for i, n := range rows {
		if err := s.collector.Remove(ctx, ds, n); err != nil {
			return i, err
		}
	}
	if len(rows) > 0 {
		s.logger.Info("removed old conversations", "connector", c.ID, "count", len(rows))
	}
	return len(rows), nil
}

// GarbageCollect removes rows not seen since syncStart and revokes rows
// whose granting ancestor lost its grant.
func (s *Syncer) GarbageCollect(ctx context.Context, c *model.Connector, syncStart time.Time) (connectors.SweepResult, error) {
	granted, err := s.db.GrantedInternalIDs(ctx, c.ID)
	if err != nil {
		return connectors.SweepResult{}, fmt.Errorf("loading grants: %w", err)
	}
	res, err := s.collector.Sweep(ctx, connectors.DataSourceOf(c), connectors.SweepPolicy{
		ConnectorID: c.ID,
		Kinds:       Kinds,
		SeenBefore:  syncStart,
		Resolver:    connectors.NewResolver(granted),
	})
	if err != nil {
		return res, fmt.Errorf("collecting intercom nodes: %w", err)
	}
	if res.Removed+res.Revoked > 0 {
		s.logger.Info("intercom garbage collected", "connector", c.ID, "removed", res.Removed, "revoked", res.Revoked)
	}
	return res, nil
}
