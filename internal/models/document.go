package models

import "time"

// DocumentKind separates the three document registers.
type DocumentKind string

const (
	KindDocument    DocumentKind = "document"
	KindMethodology DocumentKind = "methodology"
	KindReference   DocumentKind = "reference"
)

// Valid reports whether k is a known kind.
func (k DocumentKind) Valid() bool {
	return k == KindDocument || k == KindMethodology || k == KindReference
}

// Document is a versioned file record. Renewal archives it instead of overwriting.
type Document struct {
	ID          string       `db:"id" json:"id"`
	Kind        DocumentKind `db:"kind" json:"kind"`
	Title       string       `db:"title" json:"title"`
	Type        string       `db:"type" json:"type"`
	Periodicite *string      `db:"periodicite" json:"periodicite,omitempty"`
	FilePath    string       `db:"file_path" json:"-"`
	FileName    string       `db:"file_name" json:"file_name"`
	MimeType    string       `db:"mime_type" json:"mime_type"`
	SizeBytes   int64        `db:"size_bytes" json:"size_bytes"`
	UploadedBy  string       `db:"uploaded_by" json:"uploaded_by"`
	Archived    bool         `db:"archived" json:"archived"`
	ArchivedAt  *time.Time   `db:"archived_at" json:"archived_at,omitempty"`
	ReplacesID  *string      `db:"replaces_id" json:"replaces_id,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}

// DocumentFilter narrows document listings.
type DocumentFilter struct {
	Kind            DocumentKind
	Type            string
	IncludeArchived bool
}

// DocumentDownload is a signed link to one document.
type DocumentDownload struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
