// Package internalid maps the native identity of remote entities to the stable
// string ids used as document store keys and permission tree node ids.
package internalid

import (
	"fmt"
	"strconv"
	"strings"

	"connsync/internal/model"
)

// Kind is the node kind of a tracked entity.
type Kind string

const (
	KindDatabase Kind = "database"
	KindSchema   Kind = "schema"
	KindTable    Kind = "table"

	KindDriveFolder Kind = "gdrive_folder"
	KindDriveFile   Kind = "gdrive_file"
	KindDriveSheet  Kind = "gdrive_sheet"

	KindZendeskBrand      Kind = "zendesk_brand"
	KindZendeskHelpCenter Kind = "zendesk_help_center"
	KindZendeskCategory   Kind = "zendesk_category"
	KindZendeskArticle    Kind = "zendesk_article"

	KindIntercomHelpCenter   Kind = "intercom_help_center"
	KindIntercomCollection   Kind = "intercom_collection"
	KindIntercomArticle      Kind = "intercom_article"
	KindIntercomTeam         Kind = "intercom_team"
	KindIntercomConversation Kind = "intercom_conversation"
)

// Kinds lists every node kind.
var Kinds = []Kind{
	KindDatabase, KindSchema, KindTable,
	KindDriveFolder, KindDriveFile, KindDriveSheet,
	KindZendeskBrand, KindZendeskHelpCenter, KindZendeskCategory, KindZendeskArticle,
	KindIntercomHelpCenter, KindIntercomCollection, KindIntercomArticle, KindIntercomTeam, KindIntercomConversation,
}

// ParseKind validates a stored kind string.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown node kind %q", s)
}

// InvalidInternalIDError is returned when an internal id cannot be parsed.
type InvalidInternalIDError struct {
	ID     string
	Reason string
}

func (e *InvalidInternalIDError) Error() string {
	return fmt.Sprintf("invalid internal id %q: %s", e.ID, e.Reason)
}

func invalid(id, format string, args ...any) error {
	return &InvalidInternalIDError{ID: id, Reason: fmt.Sprintf(format, args...)}
}

// Native is the native identity of a remote entity. The set of
// implementations is closed.
type Native interface {
	// Kind is the node kind used when the id is tracked as a grant.
	Kind() Kind
	isNative()
}

// WarehouseDatabase identifies a remote database.
type WarehouseDatabase struct {
	Database string
}

// WarehouseSchema identifies a schema within a remote database.
type WarehouseSchema struct {
	Database string
	Schema   string
}

// WarehouseTable identifies a table within a remote database schema.
type WarehouseTable struct {
	Database string
	Schema   string
	Table    string
}

// DriveObject identifies a Google Drive file or folder.
type DriveObject struct {
	FileID string
}

// DriveSheet identifies one sheet of a Google spreadsheet.
type DriveSheet struct {
	SpreadsheetID string
	SheetID       int64
}

// ZendeskType is the entity type of a Zendesk internal id.
type ZendeskType string

const (
	ZendeskBrand      ZendeskType = "brand"
	ZendeskHelpCenter ZendeskType = "help-center"
	ZendeskCategory   ZendeskType = "category"
	ZendeskArticle    ZendeskType = "article"
)

// ZendeskObject identifies a Zendesk entity. Help centers are keyed by their
// brand id.
type ZendeskObject struct {
	Type        ZendeskType
	ConnectorID int64
	ID          int64
}

// IntercomType is the entity type of an Intercom internal id.
type IntercomType string

const (
	IntercomHelpCenter   IntercomType = "help-center"
	IntercomCollection   IntercomType = "collection"
	IntercomArticle      IntercomType = "article"
	IntercomTeam         IntercomType = "team"
	IntercomConversation IntercomType = "conversation"
)

// IntercomObject identifies an Intercom entity.
type IntercomObject struct {
	Type        IntercomType
	ConnectorID int64
	ID          string
}

func (WarehouseDatabase) Kind() Kind { return KindDatabase }
func (WarehouseSchema) Kind() Kind   { return KindSchema }
func (WarehouseTable) Kind() Kind    { return KindTable }
func (DriveObject) Kind() Kind       { return KindDriveFolder }
func (DriveSheet) Kind() Kind        { return KindDriveSheet }

func (o ZendeskObject) Kind() Kind {
	switch o.Type {
	case ZendeskBrand:
		return KindZendeskBrand
	case ZendeskHelpCenter:
		return KindZendeskHelpCenter
	case ZendeskCategory:
		return KindZendeskCategory
	case ZendeskArticle:
		return KindZendeskArticle
	}
	panic(fmt.Sprintf("unhandled zendesk type %q", o.Type))
}

func (o IntercomObject) Kind() Kind {
	switch o.Type {
	case IntercomHelpCenter:
		return KindIntercomHelpCenter
	case IntercomCollection:
		return KindIntercomCollection
	case IntercomArticle:
		return KindIntercomArticle
	case IntercomTeam:
		return KindIntercomTeam
	case IntercomConversation:
		return KindIntercomConversation
	}
	panic(fmt.Sprintf("unhandled intercom type %q", o.Type))
}

func (WarehouseDatabase) isNative() {}
func (WarehouseSchema) isNative()   {}
func (WarehouseTable) isNative()    {}
func (DriveObject) isNative()       {}
func (DriveSheet) isNative()        {}
func (ZendeskObject) isNative()     {}
func (IntercomObject) isNative()    {}

// SchemaID returns the schema containing t.
func (t WarehouseTable) SchemaID() WarehouseSchema {
	return WarehouseSchema{Database: t.Database, Schema: t.Schema}
}

// DatabaseID returns the database containing s.
func (s WarehouseSchema) DatabaseID() WarehouseDatabase {
	return WarehouseDatabase{Database: s.Database}
}

// Chain returns the internal ids of t, its schema and its database.
func (t WarehouseTable) Chain() []string {
	s := t.SchemaID()
	return []string{Encode(t), Encode(s), Encode(s.DatabaseID())}
}

// Encode returns the internal id of n.
func Encode(n Native) string {
	switch v := n.(type) {
	case WarehouseDatabase:
		return escapeComponent(v.Database)
	case WarehouseSchema:
		return escapeComponent(v.Database) + "." + escapeComponent(v.Schema)
	case WarehouseTable:
		return escapeComponent(v.Database) + "." + escapeComponent(v.Schema) + "." + escapeComponent(v.Table)
	case DriveObject:
		return v.FileID
	case DriveSheet:
		return fmt.Sprintf("%s%s%s%d", sheetPrefix, v.SpreadsheetID, sheetSeparator, v.SheetID)
	case ZendeskObject:
		return fmt.Sprintf("zendesk-%s-%d-%d", v.Type, v.ConnectorID, v.ID)
	case IntercomObject:
		return fmt.Sprintf("intercom-%s-%d-%s", v.Type, v.ConnectorID, v.ID)
	}
	panic(fmt.Sprintf("unhandled native identity %T", n))
}

// Parse decodes an internal id produced by Encode for a connector of the
// given provider.
func Parse(provider model.Provider, connectorID int64, id string) (Native, error) {
	switch provider {
	case model.ProviderSnowflake, model.ProviderPostgres:
		return ParseWarehouse(id)
	case model.ProviderGoogleDrive:
		return ParseDrive(id)
	case model.ProviderZendesk:
		return ParseZendesk(connectorID, id)
	case model.ProviderIntercom:
		return ParseIntercom(connectorID, id)
	}
	return nil, invalid(id, "unknown provider %q", provider)
}

// ParseWarehouse decodes a database, schema or table internal id.
func ParseWarehouse(id string) (Native, error) {
	if id == "" {
		return nil, invalid(id, "empty")
	}
	raw := strings.Split(id, ".")
	parts := make([]string, len(raw))
	for i, r := range raw {
		p, err := unescapeComponent(r)
		if err != nil {
			return nil, invalid(id, "component %d: %v", i, err)
		}
		parts[i] = p
	}
	switch len(parts) {
	case 1:
		return WarehouseDatabase{Database: parts[0]}, nil
	case 2:
		return WarehouseSchema{Database: parts[0], Schema: parts[1]}, nil
	case 3:
		return WarehouseTable{Database: parts[0], Schema: parts[1], Table: parts[2]}, nil
	}
	return nil, invalid(id, "expected 1 to 3 components, got %d", len(parts))
}

const (
	sheetPrefix    = "google-spreadsheet-"
	sheetSeparator = "-sheet-"
)

// ParseDrive decodes a Google Drive file id or a
// google-spreadsheet-<fileId>-sheet-<sheetId> sheet id.
func ParseDrive(id string) (Native, error) {
	if rest, ok := strings.CutPrefix(id, sheetPrefix); ok {
		// file ids may contain the separator; sheet ids are numeric
		i := strings.LastIndex(rest, sheetSeparator)
		if i < 0 {
			return nil, invalid(id, "missing sheet id")
		}
		fileID, sheetPart := rest[:i], rest[i+len(sheetSeparator):]
		if err := checkDriveFileID(fileID); err != nil {
			return nil, invalid(id, "spreadsheet %v", err)
		}
		sheetID, err := strconv.ParseInt(sheetPart, 10, 64)
		if err != nil || sheetID < 0 || strconv.FormatInt(sheetID, 10) != sheetPart {
			return nil, invalid(id, "sheet id %q is not a non-negative integer", sheetPart)
		}
		return DriveSheet{SpreadsheetID: fileID, SheetID: sheetID}, nil
	}
	if err := checkDriveFileID(id); err != nil {
		return nil, invalid(id, "%v", err)
	}
	return DriveObject{FileID: id}, nil
}

func checkDriveFileID(id string) error {
	if id == "" {
		return fmt.Errorf("empty")
	}
	for _, r := range id {
		if !isDriveIDRune(r) {
			return fmt.Errorf("unexpected character %q", r)
		}
	}
	return nil
}

var zendeskTypes = []ZendeskType{ZendeskHelpCenter, ZendeskBrand, ZendeskCategory, ZendeskArticle}

// ParseZendesk decodes a zendesk-<type>-<connectorId>-<id> internal id.
func ParseZendesk(connectorID int64, id string) (Native, error) {
	for _, typ := range zendeskTypes {
		prefix := "zendesk-" + string(typ) + "-"
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		connPart, objPart, ok := strings.Cut(strings.TrimPrefix(id, prefix), "-")
		if !ok {
			return nil, invalid(id, "missing object id")
		}
		if err := checkConnector(connPart, connectorID); err != nil {
			return nil, invalid(id, "%v", err)
		}
		objID, err := strconv.ParseInt(objPart, 10, 64)
		if err != nil || objID <= 0 || strconv.FormatInt(objID, 10) != objPart {
			return nil, invalid(id, "object id %q is not a positive integer", objPart)
		}
		return ZendeskObject{Type: typ, ConnectorID: connectorID, ID: objID}, nil
	}
	return nil, invalid(id, "unknown zendesk prefix")
}

var intercomTypes = []IntercomType{IntercomHelpCenter, IntercomCollection, IntercomArticle, IntercomTeam, IntercomConversation}

// ParseIntercom decodes an intercom-<type>-<connectorId>-<id> internal id.
func ParseIntercom(connectorID int64, id string) (Native, error) {
	for _, typ := range intercomTypes {
		prefix := "intercom-" + string(typ) + "-"
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		connPart, objPart, ok := strings.Cut(strings.TrimPrefix(id, prefix), "-")
		if !ok || objPart == "" {
			return nil, invalid(id, "missing object id")
		}
		if err := checkConnector(connPart, connectorID); err != nil {
			return nil, invalid(id, "%v", err)
		}
		if strings.ContainsAny(objPart, " \t\r\n") {
			return nil, invalid(id, "object id contains whitespace")
		}
		return IntercomObject{Type: typ, ConnectorID: connectorID, ID: objPart}, nil
	}
	return nil, invalid(id, "unknown intercom prefix")
}

func checkConnector(part string, connectorID int64) error {
	got, err := strconv.ParseInt(part, 10, 64)
	if err != nil || strconv.FormatInt(got, 10) != part {
		return fmt.Errorf("connector id %q is not an integer", part)
	}
	if got != connectorID {
		return fmt.Errorf("belongs to connector %d, not %d", got, connectorID)
	}
	return nil
}

func isDriveIDRune(r rune) bool {
	return r == '-' || r == '_' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// escapeComponent protects the separator so names containing dots never
// collide with deeper ids.
func escapeComponent(s string) string {
	if !strings.ContainsAny(s, "%.") {
		return s
	}
	s = strings.ReplaceAll(s, "%", "%25")
	return strings.ReplaceAll(s, ".", "%2E")
}

func unescapeComponent(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty component")
	}
	if !strings.Contains(s, "%") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("truncated escape")
		}
		// Only the uppercase forms written by escapeComponent decode, so each
		// entity has a single encoding.
		switch s[i+1 : i+3] {
		case "25":
			b.WriteByte('%')
		case "2E":
			b.WriteByte('.')
		default:
			return "", fmt.Errorf("unsupported escape %q", s[i:i+3])
		}
		i += 2
	}
	return b.String(), nil
}
