// Package docstore implements connectors.DocumentStore backends.
package docstore

import (
	"time"

	"connsync/internal/connectors"
)

// record is the serialized form of one document store entry.
type record struct {
	Artifact    connectors.Artifact `json:"artifact"`
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Parents     []string            `json:"parents"`
	ParentID    string              `json:"parent_id,omitempty"`
	SourceURL   string              `json:"source_url,omitempty"`
	MimeType    string              `json:"mime_type,omitempty"`
	Tags        []string            `json:"tags,omitempty"`
	Description string              `json:"description,omitempty"`
	RemoteTable string              `json:"remote_database_table_id,omitempty"`
	SecretID    string              `json:"remote_database_secret_id,omitempty"`
	Content     string              `json:"content,omitempty"`
	Encrypted   bool                `json:"encrypted,omitempty"`
	ContentHash string              `json:"content_hash"`
	Timestamp   time.Time           `json:"timestamp,omitzero"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func documentRecord(d connectors.Document, now time.Time) record {
	return record{
		Artifact:    connectors.ArtifactDocument,
		ID:          d.ID,
		Title:       d.Title,
		Parents:     d.Parents,
		ParentID:    d.ParentID,
		SourceURL:   d.SourceURL,
		MimeType:    d.MimeType,
		Tags:        d.Tags,
		Content:     d.Content,
		ContentHash: connectors.ContentHash(d.Title, d.Content),
		Timestamp:   d.Timestamp,
		UpdatedAt:   now,
	}
}

func tableRecord(t connectors.Table, now time.Time) record {
	return record{
		Artifact:    connectors.ArtifactTable,
		ID:          t.ID,
		Title:       t.Title,
		Parents:     t.Parents,
		ParentID:    t.ParentID,
		MimeType:    t.MimeType,
		Description: t.Description,
		RemoteTable: t.RemoteDatabaseTableID,
		SecretID:    t.RemoteSecretID,
		Content:     t.CSV,
		ContentHash: connectors.ContentHash(t.Title, t.RemoteDatabaseTableID, t.CSV),
		UpdatedAt:   now,
	}
}

func folderRecord(f connectors.Folder, now time.Time) record {
	return record{
		Artifact:    connectors.ArtifactFolder,
		ID:          f.ID,
		Title:       f.Title,
		Parents:     f.Parents,
		ParentID:    f.ParentID,
		SourceURL:   f.SourceURL,
		MimeType:    f.MimeType,
		ContentHash: connectors.ContentHash(f.Title),
		UpdatedAt:   now,
	}
}

func (r *record) stored() *connectors.StoredNode {
	return &connectors.StoredNode{
		ID:          r.ID,
		Title:       r.Title,
		Parents:     append([]string(nil), r.Parents...),
		ParentID:    r.ParentID,
		SourceURL:   r.SourceURL,
		ContentHash: r.ContentHash,
		UpdatedAt:   r.UpdatedAt,
	}
}
