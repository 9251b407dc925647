// Package blob stores the immutable per-version payload files.
//
// Each saved version of a record is written once as a JSON document holding
// a metadata envelope and the full field payload:
//
//	{"meta": {"record_id": ..., "template_id": ..., "version": N, ...},
//	 "data": {...}}
//
// Files live under a per-template directory, one directory per record:
//
//	<root>/<templateDir>/<recordID>/<recordID>_v<N>.json
//
// The ledger stores blob references relative to the root (slash separated),
// so the data directory can move between runs without rewriting the index.
//
// A (record, version) pair maps to exactly one file for the lifetime of the
// store. Writing the same bytes again succeeds (retries are idempotent);
// writing different bytes to an existing reference is a Conflict.
package blob

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/recstore/internal/payload"
	"github.com/roach88/recstore/internal/storeerr"
)

// Meta is the envelope written alongside each payload.
type Meta struct {
	RecordID   string    `json:"record_id"`
	TemplateID string    `json:"template_id"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	UpdatedBy  string    `json:"updated_by"`
}

// Blob is one immutable version payload.
type Blob struct {
	Meta Meta           `json:"meta"`
	Data payload.Object `json:"data"`
}

// templateDirs maps the built-in template ids onto their historical
// directory names. Other templates use their id verbatim.
var templateDirs = map[string]string{
	"complaint_record_v1":  "complaint",
	"corrective_action_v1": "corrective",
}

// TemplateDir returns the directory name used for a template's records.
func TemplateDir(templateID string) string {
	if dir, ok := templateDirs[templateID]; ok {
		return dir
	}
	return templateID
}

// Ref returns the root-relative reference for a version blob.
func Ref(templateID, recordID string, version int) string {
	return TemplateDir(templateID) + "/" + recordID + "/" + fmt.Sprintf("%s_v%d.json", recordID, version)
}

// ValidID checks that an identifier can safely be used as a path element.
func ValidID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("identifier is empty")
	case id == "." || id == "..":
		return fmt.Errorf("identifier %q is reserved", id)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("identifier %q contains a path separator", id)
	case strings.TrimSpace(id) != id:
		return fmt.Errorf("identifier %q has surrounding whitespace", id)
	}
	return nil
}

// Encode serializes a blob. The output is deterministic for equal input:
// object keys are sorted and indentation is fixed.
func Encode(b Blob) ([]byte, error) {
	if b.Data == nil {
		return nil, fmt.Errorf("blob data is nil")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses blob bytes and checks the envelope.
func Decode(data []byte) (Blob, error) {
	var b Blob
	if err := json.Unmarshal(data, &b); err != nil {
		return Blob{}, err
	}
	if b.Data == nil {
		return Blob{}, fmt.Errorf("blob has no data object")
	}
	if b.Meta.RecordID == "" || b.Meta.TemplateID == "" || b.Meta.Version < 1 {
		return Blob{}, fmt.Errorf("blob meta is incomplete")
	}
	return b, nil
}

func validateMeta(op string, m Meta) error {
	if err := ValidID(m.TemplateID); err != nil {
		return storeerr.Validation(op, "template id: %v", err)
	}
	if err := ValidID(m.RecordID); err != nil {
		return storeerr.Validation(op, "record id: %v", err)
	}
	if m.Version < 1 {
		return storeerr.Validation(op, "version must be positive, got %d", m.Version).
			WithRecord(m.TemplateID, m.RecordID, 0)
	}
	return nil
}
