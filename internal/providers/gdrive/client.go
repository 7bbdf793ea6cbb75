// Package gdrive syncs Google Drive folders selected by an admin.
package gdrive

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"connsync/internal/model"
	"connsync/internal/providers/httpclient"
)

const (
	DefaultBaseURL       = "https://www.googleapis.com/drive/v3"
	DefaultSheetsBaseURL = "https://sheets.googleapis.com/v4"

	MimeTypeFolder       = "application/vnd.google-apps.folder"
	MimeTypeDocument     = "application/vnd.google-apps.document"
	MimeTypePresentation = "application/vnd.google-apps.presentation"
	MimeTypeSpreadsheet  = "application/vnd.google-apps.spreadsheet"

	fileFields      = "id,name,mimeType,parents,driveId,webViewLink,modifiedTime,trashed"
	defaultPageSize = 200
)

// File is a Drive file or folder.
type File struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	Parents      []string  `json:"parents"`
	DriveID      string    `json:"driveId"`
	WebViewLink  string    `json:"webViewLink"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Trashed      bool      `json:"trashed"`
}

// Parent returns the first parent id, or "" for a drive root.
func (f File) Parent() string {
	if len(f.Parents) == 0 {
		return ""
	}
	return f.Parents[0]
}

func (f File) IsFolder() bool { return f.MimeType == MimeTypeFolder }

func (f File) IsSpreadsheet() bool { return f.MimeType == MimeTypeSpreadsheet }

// Page is one page of a folder listing.
type Page struct {
	Files         []File `json:"files"`
	NextPageToken string `json:"nextPageToken"`
}

// Change is one entry of the changes feed. File is nil when Removed is set.
type Change struct {
	FileID  string `json:"fileId"`
	Removed bool   `json:"removed"`
	File    *File  `json:"file"`
}

// ChangePage is one page of the changes feed. The last page carries
// NewStartPageToken instead of NextPageToken.
type ChangePage struct {
	Changes           []Change `json:"changes"`
	NextPageToken     string   `json:"nextPageToken"`
	NewStartPageToken string   `json:"newStartPageToken"`
}

// SheetTypeGrid is the only sheet type holding cell values.
const SheetTypeGrid = "GRID"

// SheetProperties describes one sheet of a spreadsheet.
type SheetProperties struct {
	SheetID   int64  `json:"sheetId"`
	Title     string `json:"title"`
	SheetType string `json:"sheetType"`
}

type Sheet struct {
	Properties SheetProperties `json:"properties"`
}

// Spreadsheet lists the sheets of a Google spreadsheet.
type Spreadsheet struct {
	ID     string  `json:"spreadsheetId"`
	Sheets []Sheet `json:"sheets"`
}

// Client is the subset of the Drive and Sheets APIs used by the sync.
type Client interface {
	// GetFile returns a not_found ProviderError when the file is gone.
	GetFile(ctx context.Context, id string) (*File, error)
	ListChildren(ctx context.Context, folderID, pageToken string) (Page, error)
	// Content returns the text of a file, exporting Google documents.
	Content(ctx context.Context, f File) (string, error)

	Spreadsheet(ctx context.Context, id string) (*Spreadsheet, error)
	// SheetValues returns the formatted cell values of a sheet, row by row.
	SheetValues(ctx context.Context, spreadsheetID, sheetTitle string) ([][]string, error)

	// StartPageToken returns the current position of the changes feed of a
	// shared drive, or of the user's own files when driveID is empty.
	StartPageToken(ctx context.Context, driveID string) (string, error)
	ListChanges(ctx context.Context, driveID, pageToken string) (ChangePage, error)
}

// Dialer opens a Client for a connector.
type Dialer func(ctx context.Context, c *model.Connector) (Client, error)

// EnvDialer uses the OAuth access token held in the environment variable
// named by the connector's connection id.
func EnvDialer(ctx context.Context, c *model.Connector) (Client, error) {
	client := NewHTTPClient(c.Setting("base_url", DefaultBaseURL), httpclient.EnvTokenProvider(c.ConnectionID))
	client.sheetsURL = strings.TrimRight(c.Setting("sheets_base_url", DefaultSheetsBaseURL), "/")
	return client, nil
}

// HTTPClient calls the Drive v3 and Sheets v4 REST APIs.
type HTTPClient struct {
	http      *httpclient.Client
	sheetsURL string
	pageSize  int
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL string, token httpclient.TokenProvider) *HTTPClient {
	return &HTTPClient{
		sheetsURL: DefaultSheetsBaseURL,
		http: httpclient.New(httpclient.Options{
			Provider:  string(model.ProviderGoogleDrive),
			BaseURL:   baseURL,
			Token:     token,
			UserAgent: "connsync",
			RateLimit: 10,
			Burst:     10,
		}),
		pageSize: defaultPageSize,
	}
}

func (c *HTTPClient) GetFile(ctx context.Context, id string) (*File, error) {
	var f File
	q := url.Values{"fields": {fileFields}, "supportsAllDrives": {"true"}}
	if err := c.http.Get(ctx, "/files/"+url.PathEscape(id), q, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *HTTPClient) ListChildren(ctx context.Context, folderID, pageToken string) (Page, error) {
	q := url.Values{
		"q":                         {"'" + folderID + "' in parents and trashed = false"},
		"fields":                    {"nextPageToken,files(" + fileFields + ")"},
		"pageSize":                  {strconv.Itoa(c.pageSize)},
		"supportsAllDrives":         {"true"},
		"includeItemsFromAllDrives": {"true"},
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	var page Page
	if err := c.http.Get(ctx, "/files", q, &page); err != nil {
		return Page{}, err
	}
	return page, nil
}

func (c *HTTPClient) Content(ctx context.Context, f File) (string, error) {
	var raw []byte
	var err error
	switch f.MimeType {
	case MimeTypeDocument, MimeTypePresentation:
		err = c.http.Get(ctx, "/files/"+url.PathEscape(f.ID)+"/export", url.Values{"mimeType": {"text/plain"}}, &raw)
	default:
		err = c.http.Get(ctx, "/files/"+url.PathEscape(f.ID), url.Values{"alt": {"media"}, "supportsAllDrives": {"true"}}, &raw)
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (c *HTTPClient) Spreadsheet(ctx context.Context, id string) (*Spreadsheet, error) {
	var s Spreadsheet
	q := url.Values{"fields": {"spreadsheetId,sheets.properties(sheetId,title,sheetType)"}}
	if err := c.http.Get(ctx, c.sheetsURL+"/spreadsheets/"+url.PathEscape(id), q, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) SheetValues(ctx context.Context, spreadsheetID, sheetTitle string) ([][]string, error) {
	// A1 notation: the whole sheet, quoted so titles with spaces parse
	rng := "'" + strings.ReplaceAll(sheetTitle, "'", "''") + "'"
	var out struct {
		Values [][]string `json:"values"`
	}
	q := url.Values{"valueRenderOption": {"FORMATTED_VALUE"}, "majorDimension": {"ROWS"}}
	path := c.sheetsURL + "/spreadsheets/" + url.PathEscape(spreadsheetID) + "/values/" + url.PathEscape(rng)
	if err := c.http.Get(ctx, path, q, &out); err != nil {
		return nil, err
	}
	return out.Values, nil
}

func (c *HTTPClient) StartPageToken(ctx context.Context, driveID string) (string, error) {
	q := url.Values{"supportsAllDrives": {"true"}}
	if driveID != "" {
		q.Set("driveId", driveID)
	}
	var out struct {
		StartPageToken string `json:"startPageToken"`
	}
	if err := c.http.Get(ctx, "/changes/startPageToken", q, &out); err != nil {
		return "", err
	}
	return out.StartPageToken, nil
}

func (c *HTTPClient) ListChanges(ctx context.Context, driveID, pageToken string) (ChangePage, error) {
	q := url.Values{
		"pageToken":         {pageToken},
		"pageSize":          {strconv.Itoa(c.pageSize)},
		"fields":            {"nextPageToken,newStartPageToken,changes(fileId,removed,file(" + fileFields + "))"},
		"supportsAllDrives": {"true"},
	}
	if driveID != "" {
		q.Set("driveId", driveID)
		q.Set("includeItemsFromAllDrives", "true")
	}
	var page ChangePage
	if err := c.http.Get(ctx, "/changes", q, &page); err != nil {
		return ChangePage{}, err
	}
	return page, nil
}

// supported reports whether the text of files of mimeType can be synced.
func supported(mimeType string) bool {
	switch mimeType {
	case MimeTypeDocument, MimeTypePresentation, "text/plain", "text/markdown", "text/csv":
		return true
	}
	return false
}
