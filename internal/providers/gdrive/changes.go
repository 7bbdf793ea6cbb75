package gdrive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"connsync/internal/connectors"
	"connsync/internal/filter"
	"connsync/internal/model"
)

// UserDrive names the changes feed of the user's own space: My Drive and
// files shared with the user outside of shared drives.
const UserDrive = ""

// ChangesCursor is the cursor name holding the next change token of a drive.
func ChangesCursor(driveID string) string {
	if driveID == UserDrive {
		return "gdrive-changes-user"
	}
	return "gdrive-changes-" + driveID
}

// DrivesToSync lists the change feeds covering the granted roots: the
// shared drives holding a root, then the user drive.
func (s *Syncer) DrivesToSync(ctx context.Context, c *model.Connector, client Client) ([]string, error) {
	roots, err := s.grantedRoots(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	var drives []string
	seen := map[string]bool{}
	for _, id := range roots {
		f, err := client.GetFile(ctx, id)
		if err != nil {
			if connectors.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("getting root %s: %w", id, err)
		}
		if f.DriveID == UserDrive || seen[f.DriveID] {
			continue
		}
		seen[f.DriveID] = true
		drives = append(drives, f.DriveID)
	}
	return append(drives, UserDrive), nil
}

// PopulateCursors records the current change token of every drive that has
// none yet. A full sync calls it before listing so the changes made during
// the listing are replayed by the next incremental sync.
func (s *Syncer) PopulateCursors(ctx context.Context, c *model.Connector, client Client, drives []string) error {
	for _, d := range drives {
		cur, err := s.db.GetCursor(ctx, c.ID, ChangesCursor(d))
		if err != nil {
			return fmt.Errorf("reading cursor of drive %q: %w", d, err)
		}
		if cur != nil && cur.Value != "" {
			continue
		}
		token, err := client.StartPageToken(ctx, d)
		if err != nil {
			return fmt.Errorf("getting start token of drive %q: %w", d, err)
		}
		if err := s.db.SetCursor(ctx, c.ID, ChangesCursor(d), token); err != nil {
			return fmt.Errorf("saving cursor of drive %q: %w", d, err)
		}
	}
	return nil
}

// ChangesResult reports one page of a changes feed. Folders that entered the
// scope are listed in NewFolders: the feed does not carry their children.
type ChangesResult struct {
	NextPageToken string
	NewFolders    []string
	Removed       int
	Revoked       int
	Stats         connectors.Stats
}

// SyncChanges applies one page of the changes feed of driveID. An empty
// pageToken starts from the drive cursor; a drive without a cursor only gets
// one. The cursor advances once the last page is applied.
func (s *Syncer) SyncChanges(ctx context.Context, c *model.Connector, client Client, driveID string, syncStart time.Time, pageToken string) (ChangesResult, error) {
	var res ChangesResult
	if pageToken == "" {
		cur, err := s.db.GetCursor(ctx, c.ID, ChangesCursor(driveID))
		if err != nil {
			return res, fmt.Errorf("reading cursor of drive %q: %w", driveID, err)
		}
		if cur == nil || cur.Value == "" {
			s.logger.Info("no change cursor, starting from now", "connector", c.ID, "drive", driveID)
			return res, s.PopulateCursors(ctx, c, client, []string{driveID})
		}
		pageToken = cur.Value
	}

	page, err := client.ListChanges(ctx, driveID, pageToken)
	if err != nil {
		return res, fmt.Errorf("listing changes of drive %q: %w", driveID, err)
	}

	granted, err := s.db.GrantedInternalIDs(ctx, c.ID)
	if err != nil {
		return res, fmt.Errorf("loading grants: %w", err)
	}
	resolver := connectors.NewResolver(granted)
	walker := NewParentWalker(client, s.cache, s.cacheTTL, c.ID, syncStart)
	exclude := filter.Parse(c.Setting("exclude", ""))
	ds := connectors.DataSourceOf(c)

	items := connectors.NewItemSet()
	var errs []error
	for _, ch := range page.Changes {
		row, err := s.db.FindNode(ctx, c.ID, ch.FileID)
		if err != nil {
			return res, fmt.Errorf("finding node %s: %w", ch.FileID, err)
		}
		if ch.Removed || ch.File == nil || ch.File.Trashed {
			if err := s.dropFile(ctx, c, ch.FileID, row, true, &res); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		f := *ch.File
		if !syncable(f) || exclude.Excluded(f.Name) {
			continue
		}
		r, err := resolve(ctx, walker, resolver, f)
		if err != nil {
			return res, err
		}
		if !r.InScope {
			if row != nil && row.LastUpsertedAt.Valid {
				if err := s.dropFile(ctx, c, f.ID, row, false, &res); err != nil {
					errs = append(errs, err)
				}
			}
			continue
		}
		if f.IsFolder() && (row == nil || !row.LastUpsertedAt.Valid) {
			res.NewFolders = append(res.NewFolders, f.ID)
		}
		fileItems, err := s.items(ctx, c, client, f, r)
		if err != nil {
			return res, err
		}
		for _, item := range fileItems {
			items.Add(item)
		}
	}

	res.Stats, err = s.engine.Reconcile(ctx, ds, c.ID, items.Items())
	if err != nil {
		return res, fmt.Errorf("reconciling changes of drive %q: %w", driveID, err)
	}
	if err := errors.Join(errs...); err != nil {
		return res, err
	}

	if page.NextPageToken != "" {
		res.NextPageToken = page.NextPageToken
		return res, nil
	}
	if err := s.db.SetCursor(ctx, c.ID, ChangesCursor(driveID), page.NewStartPageToken); err != nil {
		return res, fmt.Errorf("saving cursor of drive %q: %w", driveID, err)
	}
	if res.Removed+res.Revoked+res.Stats.Upserted > 0 {
		s.logger.Info("drive changes applied", "connector", c.ID, "drive", driveID,
			"upserted", res.Stats.Upserted, "removed", res.Removed, "revoked", res.Revoked)
	}
	return res, nil
}

// dropFile removes (deleted upstream) or revokes (moved out of scope) the
// row of a file, together with the sheets of a spreadsheet.
func (s *Syncer) dropFile(ctx context.Context, c *model.Connector, fileID string, row *model.Node, removed bool, res *ChangesResult) error {
	ds := connectors.DataSourceOf(c)
	sheets, err := s.trackedSheets(ctx, c.ID, fileID)
	if err != nil {
		return err
	}
	if row != nil {
		sheets = append(sheets, row)
	}
	var errs []error
	for _, n := range sheets {
		if removed {
			err = s.collector.Remove(ctx, ds, n)
		} else {
			err = s.collector.Revoke(ctx, ds, n)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if removed {
			res.Removed++
		} else {
			res.Revoked++
		}
	}
	return errors.Join(errs...)
}
