package index

import "time"

// Document is the current-state row for one (record, template) pair.
// Display fields are copied from the latest payload on every save.
type Document struct {
	ID             int64     `json:"id"`
	RecordID       string    `json:"record_id"`
	TemplateID     string    `json:"template_id"`
	LatestVersion  int       `json:"latest_version"`
	Title          string    `json:"title,omitempty"`
	Status         string    `json:"status,omitempty"`
	ProductName    string    `json:"product_name,omitempty"`
	ComplaintDate  string    `json:"complaint_date,omitempty"`
	DueDate        string    `json:"due_date,omitempty"`
	SourceRecordID string    `json:"source_record_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Fields are the display columns mirrored from a payload.
type Fields struct {
	Title          string
	Status         string
	ProductName    string
	ComplaintDate  string
	DueDate        string
	SourceRecordID string
}

// Version is one row of the version ledger.
type Version struct {
	ID         int64     `json:"id"`
	DocumentID int64     `json:"document_id"`
	Version    int       `json:"version"`
	BlobRef    string    `json:"file_path"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	CreatedBy  string    `json:"created_by"`
}

// ExportAudit is one row of the export-audit ledger.
type ExportAudit struct {
	ID           int64     `json:"id"`
	DocumentID   int64     `json:"document_id"`
	Version      int       `json:"version"`
	ArtifactPath string    `json:"file_path"`
	ExportedAt   time.Time `json:"exported_at"`
	ExportedBy   string    `json:"exported_by"`
	Purpose      string    `json:"purpose,omitempty"`
}

// VersionAppend describes a new ledger row. DocumentID is 0 when the save
// creates the document.
type VersionAppend struct {
	DocumentID int64
	RecordID   string
	TemplateID string
	Version    int
	BlobRef    string
	Author     string
	At         time.Time
	Fields     Fields
}

// ExportAppend describes a new export-audit row.
type ExportAppend struct {
	DocumentID   int64
	Version      int
	ArtifactPath string
	Author       string
	Purpose      string
	At           time.Time
}

// Stats counts rows per table.
type Stats struct {
	Documents int `json:"documents"`
	Versions  int `json:"versions"`
	Exports   int `json:"exports"`
}
