package gdrive

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"connsync/internal/connectors"
)

// FakeClient is an in-memory Drive. Every Put and Delete is appended to the
// changes feed; page tokens are offsets into it.
type FakeClient struct {
	mu        sync.Mutex
	files     map[string]File
	content   map[string]string
	sheets    map[string][]fakeSheet
	order     []string
	changes   []fakeChange
	pageSize  int
	gets      int
	sheetGets int
}

type fakeSheet struct {
	props  SheetProperties
	values [][]string
}

type fakeChange struct {
	driveID string
	change  Change
}

var _ Client = (*FakeClient)(nil)

// NewFakeClient creates an empty Drive serving pageSize children per page.
func NewFakeClient(pageSize int) *FakeClient {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &FakeClient{
		files:    map[string]File{},
		content:  map[string]string{},
		sheets:   map[string][]fakeSheet{},
		pageSize: pageSize,
	}
}

// Put adds or replaces a file.
func (f *FakeClient) Put(file File, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[file.ID]; !ok {
		f.order = append(f.order, file.ID)
	}
	f.files[file.ID] = file
	f.content[file.ID] = content
	changed := file
	f.changes = append(f.changes, fakeChange{driveID: file.DriveID, change: Change{FileID: file.ID, File: &changed}})
}

// PutSheet adds or replaces a grid sheet of a spreadsheet. The spreadsheet
// file itself is added with Put.
func (f *FakeClient) PutSheet(spreadsheetID string, sheetID int64, title string, values [][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sheet := fakeSheet{props: SheetProperties{SheetID: sheetID, Title: title, SheetType: SheetTypeGrid}, values: values}
	for i, s := range f.sheets[spreadsheetID] {
		if s.props.SheetID == sheetID {
			f.sheets[spreadsheetID][i] = sheet
			return
		}
	}
	f.sheets[spreadsheetID] = append(f.sheets[spreadsheetID], sheet)
}

// DeleteSheet removes a sheet of a spreadsheet.
func (f *FakeClient) DeleteSheet(spreadsheetID string, sheetID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sheets[spreadsheetID] = slices.DeleteFunc(f.sheets[spreadsheetID], func(s fakeSheet) bool { return s.props.SheetID == sheetID })
}

// SheetGets returns the number of Spreadsheet calls.
func (f *FakeClient) SheetGets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sheetGets
}

// Folder is a shorthand for Put with a folder.
func (f *FakeClient) Folder(id, name, parent string) {
	file := File{ID: id, Name: name, MimeType: MimeTypeFolder}
	if parent != "" {
		file.Parents = []string{parent}
	}
	f.Put(file, "")
}

// Delete removes a file.
func (f *FakeClient) Delete(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if file, ok := f.files[id]; ok {
		f.changes = append(f.changes, fakeChange{driveID: file.DriveID, change: Change{FileID: id, Removed: true}})
	}
	delete(f.files, id)
	delete(f.sheets, id)
	delete(f.content, id)
	for i, o := range f.order {
		if o == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// Gets returns the number of GetFile calls.
func (f *FakeClient) Gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func (f *FakeClient) GetFile(ctx context.Context, id string) (*File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	file, ok := f.files[id]
	if !ok {
		return nil, &connectors.ProviderError{Provider: "google_drive", Kind: connectors.ProviderErrorNotFound, Status: 404}
	}
	return &file, nil
}

func (f *FakeClient) ListChildren(ctx context.Context, folderID, pageToken string) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[folderID]; !ok {
		return Page{}, &connectors.ProviderError{Provider: "google_drive", Kind: connectors.ProviderErrorNotFound, Status: 404}
	}
	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return Page{}, fmt.Errorf("bad page token %q", pageToken)
		}
		offset = n
	}
	var children []File
	for _, id := range f.order {
		if file := f.files[id]; file.Parent() == folderID && !file.Trashed {
			children = append(children, file)
		}
	}
	if offset > len(children) {
		offset = len(children)
	}
	end := min(offset+f.pageSize, len(children))
	page := Page{Files: children[offset:end]}
	if end < len(children) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (f *FakeClient) Content(ctx context.Context, file File) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.content[file.ID]
	if !ok {
		return "", &connectors.ProviderError{Provider: "google_drive", Kind: connectors.ProviderErrorNotFound, Status: 404}
	}
	return c, nil
}

func (f *FakeClient) Spreadsheet(ctx context.Context, id string) (*Spreadsheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sheetGets++
	file, ok := f.files[id]
	if !ok || !file.IsSpreadsheet() {
		return nil, &connectors.ProviderError{Provider: "google_drive", Kind: connectors.ProviderErrorNotFound, Status: 404}
	}
	s := &Spreadsheet{ID: id}
	for _, sheet := range f.sheets[id] {
		s.Sheets = append(s.Sheets, Sheet{Properties: sheet.props})
	}
	return s, nil
}

func (f *FakeClient) SheetValues(ctx context.Context, spreadsheetID, sheetTitle string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sheet := range f.sheets[spreadsheetID] {
		if sheet.props.Title == sheetTitle {
			return sheet.values, nil
		}
	}
	return nil, &connectors.ProviderError{Provider: "google_drive", Kind: connectors.ProviderErrorNotFound, Status: 404}
}

func (f *FakeClient) StartPageToken(ctx context.Context, driveID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strconv.Itoa(len(f.changes)), nil
}

func (f *FakeClient) ListChanges(ctx context.Context, driveID, pageToken string) (ChangePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	offset, err := strconv.Atoi(pageToken)
	if err != nil || offset < 0 || offset > len(f.changes) {
		return ChangePage{}, fmt.Errorf("bad change token %q", pageToken)
	}
	var page ChangePage
	i := offset
	for ; i < len(f.changes) && len(page.Changes) < f.pageSize; i++ {
		if c := f.changes[i]; c.driveID == driveID {
			page.Changes = append(page.Changes, c.change)
		}
	}
	if i < len(f.changes) {
		page.NextPageToken = strconv.Itoa(i)
	} else {
		page.NewStartPageToken = strconv.Itoa(len(f.changes))
	}
	return page, nil
}
