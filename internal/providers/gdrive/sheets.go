package gdrive

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"connsync/internal/connectors"
	"connsync/internal/internalid"
	"connsync/internal/model"
)

// MaxSheetRows caps the rows uploaded per sheet, header included.
const MaxSheetRows = 1000

// spreadsheetItems renders a spreadsheet as a folder holding one table per
// grid sheet. The sheets are fetched only when the spreadsheet changed or
// moved; otherwise the tracked sheet rows are replayed so the pass sees them.
// Tracked sheets missing from a fetched spreadsheet are removed.
func (s *Syncer) spreadsheetItems(ctx context.Context, c *model.Connector, client Client, f File, folder connectors.Item) ([]connectors.Item, error) {
	folder.ContentHash = connectors.ContentHash(f.Name, f.MimeType, f.ModifiedTime.UTC().Format(time.RFC3339Nano))
	folder.Payload = connectors.Folder{MimeType: f.MimeType}

	tracked, err := s.trackedSheets(ctx, c.ID, f.ID)
	if err != nil {
		return nil, err
	}
	row, err := s.db.FindNode(ctx, c.ID, folder.InternalID)
	if err != nil {
		return nil, fmt.Errorf("finding node %s: %w", f.ID, err)
	}
	if row != nil && !connectors.NeedsUpsert(row, folder) && allUpserted(tracked) {
		items := []connectors.Item{folder}
		for _, n := range tracked {
			items = append(items, connectors.Item{
				Kind:             internalid.KindDriveSheet,
				InternalID:       n.InternalID,
				ParentInternalID: f.ID,
				Title:            n.Title,
				SourceURL:        n.SourceURL,
				Parents:          append([]string{n.InternalID}, folder.Parents...),
				ContentHash:      n.ContentHash,
				RemoteUpdatedAt:  f.ModifiedTime,
				Payload:          connectors.Table{MimeType: MimeTypeSpreadsheet},
			})
		}
		return items, nil
	}

	spreadsheet, err := client.Spreadsheet(ctx, f.ID)
	if err != nil {
		if connectors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting spreadsheet %s: %w", f.ID, err)
	}
	s.logger.Debug("syncing spreadsheet", "connector", c.ID, "spreadsheet", f.ID, "sheets", len(spreadsheet.Sheets))

	items := []connectors.Item{folder}
	fetched := map[string]bool{}
	for _, sheet := range spreadsheet.Sheets {
		p := sheet.Properties
		if p.SheetType != SheetTypeGrid || p.Title == "" {
			continue
		}
		values, err := client.SheetValues(ctx, f.ID, p.Title)
		if err != nil {
			if connectors.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("reading sheet %d of %s: %w", p.SheetID, f.ID, err)
		}
		if len(values) > MaxSheetRows {
			s.logger.Info("sheet truncated", "connector", c.ID, "spreadsheet", f.ID, "sheet", p.SheetID, "rows", len(values))
		}
		rows := sheetRows(values)
		if len(rows) == 0 {
			continue
		}
		body, err := renderCSV(rows)
		if err != nil {
			return nil, fmt.Errorf("rendering sheet %d of %s: %w", p.SheetID, f.ID, err)
		}

		id := internalid.Encode(internalid.DriveSheet{SpreadsheetID: f.ID, SheetID: p.SheetID})
		title := f.Name + " - " + p.Title
		item := connectors.Item{
			Kind:             internalid.KindDriveSheet,
			InternalID:       id,
			ParentInternalID: f.ID,
			Title:            title,
			Parents:          append([]string{id}, folder.Parents...),
			ContentHash:      connectors.ContentHash(title, body),
			RemoteUpdatedAt:  f.ModifiedTime,
			Payload: connectors.Table{
				MimeType:    MimeTypeSpreadsheet,
				Description: fmt.Sprintf("Structured data from the Google Spreadsheet (%s) and sheet (%s)", f.Name, p.Title),
				CSV:         body,
			},
		}
		if f.WebViewLink != "" {
			item.SourceURL = f.WebViewLink + "#gid=" + strconv.FormatInt(p.SheetID, 10)
		}
		items = append(items, item)
		fetched[id] = true
	}

	ds := connectors.DataSourceOf(c)
	var errs []error
	for _, n := range tracked {
		if fetched[n.InternalID] {
			continue
		}
		if err := s.collector.Remove(ctx, ds, n); err != nil {
			errs = append(errs, err)
		}
	}
	return items, errors.Join(errs...)
}

func (s *Syncer) trackedSheets(ctx context.Context, connectorID int64, spreadsheetID string) ([]*model.Node, error) {
	var rows []*model.Node
	err := connectors.ScanNodes(ctx, s.db, connectors.NodeQuery{
		ConnectorID:       connectorID,
		Kinds:             []internalid.Kind{internalid.KindDriveSheet},
		ParentInternalIDs: []string{spreadsheetID},
	}, func(n *model.Node) error {
		rows = append(rows, n)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing sheets of %s: %w", spreadsheetID, err)
	}
	return rows, nil
}

func allUpserted(rows []*model.Node) bool {
	for _, n := range rows {
		if !n.LastUpsertedAt.Valid {
			return false
		}
	}
	return true
}

// sheetRows treats the first row as the header: header cells are slugged and
// every other row is padded or cut to the header width. Sheets with an empty
// header yield no rows.
func sheetRows(values [][]string) [][]string {
	if len(values) == 0 || len(values[0]) == 0 {
		return nil
	}
	width := len(values[0])
	rows := make([][]string, 0, min(len(values), MaxSheetRows))
	for i, v := range values {
		if i == MaxSheetRows {
			break
		}
		row := make([]string, width)
		if i == 0 {
			for j, h := range v {
				row[j] = slug(h)
			}
		} else {
			copy(row, v)
		}
		rows = append(rows, row)
	}
	return rows
}

// slug lowercases s and joins its letter and digit runs with underscores.
func slug(s string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
			continue
		}
		sep = true
	}
	return b.String()
}

func renderCSV(rows [][]string) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.WriteAll(rows); err != nil {
		return "", err
	}
	return b.String(), nil
}
