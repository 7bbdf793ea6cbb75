package internalid

import (
	"errors"
	"testing"

	"connsync/internal/model"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name   string
		native Native
		want   string
	}{
		{"database", WarehouseDatabase{Database: "db1"}, "db1"},
		{"schema", WarehouseSchema{Database: "db1", Schema: "s1"}, "db1.s1"},
		{"table", WarehouseTable{Database: "db1", Schema: "s1", Table: "t1"}, "db1.s1.t1"},
		{"table with dotted name", WarehouseTable{Database: "db", Schema: "s", Table: "a.b"}, "db.s.a%2Eb"},
		{"percent in name", WarehouseSchema{Database: "d%", Schema: "s"}, "d%25.s"},
		{"drive", DriveObject{FileID: "f1"}, "f1"},
		{"drive sheet", DriveSheet{SpreadsheetID: "1Ab-c", SheetID: 0}, "google-spreadsheet-1Ab-c-sheet-0"},
		{"zendesk article", ZendeskObject{Type: ZendeskArticle, ConnectorID: 7, ID: 42}, "zendesk-article-7-42"},
		{"zendesk help center", ZendeskObject{Type: ZendeskHelpCenter, ConnectorID: 7, ID: 3}, "zendesk-help-center-7-3"},
		{"intercom team", IntercomObject{Type: IntercomTeam, ConnectorID: 2, ID: "991"}, "intercom-team-2-991"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encode(tt.native)
			if got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
			if again := Encode(tt.native); again != got {
				t.Errorf("Encode() not deterministic: %q then %q", got, again)
			}
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	tests := []struct {
		provider model.Provider
		native   Native
	}{
		{model.ProviderSnowflake, WarehouseDatabase{Database: "db1"}},
		{model.ProviderSnowflake, WarehouseSchema{Database: "db1", Schema: "s1"}},
		{model.ProviderPostgres, WarehouseTable{Database: "db1", Schema: "s.1", Table: "t%1"}},
		{model.ProviderGoogleDrive, DriveObject{FileID: "1AbC_d-e"}},
		{model.ProviderGoogleDrive, DriveSheet{SpreadsheetID: "1AbC_d-e", SheetID: 1520}},
		{model.ProviderGoogleDrive, DriveSheet{SpreadsheetID: "a-sheet-2", SheetID: 7}},
		{model.ProviderZendesk, ZendeskObject{Type: ZendeskBrand, ConnectorID: 5, ID: 10}},
		{model.ProviderZendesk, ZendeskObject{Type: ZendeskCategory, ConnectorID: 5, ID: 11}},
		{model.ProviderZendesk, ZendeskObject{Type: ZendeskHelpCenter, ConnectorID: 5, ID: 10}},
		{model.ProviderIntercom, IntercomObject{Type: IntercomConversation, ConnectorID: 5, ID: "123"}},
		{model.ProviderIntercom, IntercomObject{Type: IntercomHelpCenter, ConnectorID: 5, ID: "9"}},
	}

	for _, tt := range tests {
		id := Encode(tt.native)
		t.Run(id, func(t *testing.T) {
			got, err := Parse(tt.provider, 5, id)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", id, err)
			}
			if got != tt.native {
				t.Errorf("Parse(%q) = %#v, want %#v", id, got, tt.native)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		provider model.Provider
		id       string
	}{
		{"empty warehouse", model.ProviderSnowflake, ""},
		{"too many components", model.ProviderSnowflake, "a.b.c.d"},
		{"empty component", model.ProviderSnowflake, "a..c"},
		{"bad escape", model.ProviderSnowflake, "a%41"},
		{"truncated escape", model.ProviderSnowflake, "a%2"},
		{"lowercase dot escape", model.ProviderSnowflake, "db.s.a%2eb"},
		{"lowercase escape in schema", model.ProviderSnowflake, "db.s%2ex.t"},
		{"drive with slash", model.ProviderGoogleDrive, "a/b"},
		{"sheet without id", model.ProviderGoogleDrive, "google-spreadsheet-abc"},
		{"sheet non numeric", model.ProviderGoogleDrive, "google-spreadsheet-abc-sheet-x"},
		{"sheet negative", model.ProviderGoogleDrive, "google-spreadsheet-abc-sheet--1"},
		{"sheet leading zero", model.ProviderGoogleDrive, "google-spreadsheet-abc-sheet-01"},
		{"sheet empty spreadsheet", model.ProviderGoogleDrive, "google-spreadsheet--sheet-1"},
		{"zendesk other connector", model.ProviderZendesk, "zendesk-article-6-1"},
		{"zendesk non numeric", model.ProviderZendesk, "zendesk-article-5-x"},
		{"zendesk unknown type", model.ProviderZendesk, "zendesk-ticket-5-1"},
		{"zendesk leading zero", model.ProviderZendesk, "zendesk-brand-5-01"},
		{"intercom missing id", model.ProviderIntercom, "intercom-team-5-"},
		{"intercom wrong prefix", model.ProviderIntercom, "zendesk-brand-5-1"},
		{"unknown provider", model.Provider("slack"), "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.provider, 5, tt.id)
			if err == nil {
				t.Fatalf("Parse(%q) expected error", tt.id)
			}
			var invalidErr *InvalidInternalIDError
			if !errors.As(err, &invalidErr) {
				t.Errorf("Parse(%q) error type = %T, want *InvalidInternalIDError", tt.id, err)
			}
		})
	}
}

func TestWarehouseTable_Chain(t *testing.T) {
	table := WarehouseTable{Database: "db1", Schema: "s1", Table: "t1"}
	got := table.Chain()
	want := []string{"db1.s1.t1", "db1.s1", "db1"}
	if len(got) != len(want) {
		t.Fatalf("Chain() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Chain()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseKind("slack_channel"); err == nil {
		t.Error("ParseKind() expected error for unknown kind")
	}
}
