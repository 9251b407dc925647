// Package index holds the in-memory relational index of the record store.
//
// Three tables are kept wholly in memory:
//   - documents: current state, one row per (record id, template id)
//   - versions: the version ledger, one row per saved version
//   - exports: the export-audit ledger, one row per rendered artifact
//
// # Invariants
//
//   - A document's LatestVersion equals the highest version in its ledger.
//   - Version numbers per document are 1, 2, 3, ... with no gaps or repeats.
//   - No document exists without at least one version row.
//   - Every export row references an existing (document, version).
//
// AppendVersion and AppendExportAudit enforce these on every mutation;
// Verify re-checks them wholesale (used after loading a snapshot).
//
// An Index is not safe for concurrent use. The record store serializes all
// access behind its mutation gate and uses Clone to roll back a failed save.
package index

import (
	"cmp"
	"slices"

	"github.com/roach88/recstore/internal/storeerr"
)

type docKey struct {
	recordID   string
	templateID string
}

// Index is the in-memory relational index.
type Index struct {
	docs     map[int64]*Document
	byKey    map[docKey]int64
	versions map[int64][]Version // ascending by version
	exports  map[int64][]ExportAudit

	nextDocID     int64
	nextVersionID int64
	nextExportID  int64
}

// New returns an empty index.
func New() *Index {
	return &Index{
		docs:          make(map[int64]*Document),
		byKey:         make(map[docKey]int64),
		versions:      make(map[int64][]Version),
		exports:       make(map[int64][]ExportAudit),
		nextDocID:     1,
		nextVersionID: 1,
		nextExportID:  1,
	}
}

// FindDocument looks up a document by its natural key.
func (ix *Index) FindDocument(recordID, templateID string) (Document, bool) {
	id, ok := ix.byKey[docKey{recordID, templateID}]
	if !ok {
		return Document{}, false
	}
	return *ix.docs[id], true
}

// DocumentByID looks up a document by surrogate id.
func (ix *Index) DocumentByID(id int64) (Document, bool) {
	d, ok := ix.docs[id]
	if !ok {
		return Document{}, false
	}
	return *d, true
}

// ListDocuments returns the documents of a template, most recently updated
// first. Ties are broken by descending id.
func (ix *Index) ListDocuments(templateID string) []Document {
	out := []Document{}
	for _, d := range ix.docs {
		if d.TemplateID == templateID {
			out = append(out, *d)
		}
	}
	slices.SortFunc(out, func(a, b Document) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}

// TemplateIDs returns the distinct template ids present, sorted.
func (ix *Index) TemplateIDs() []string {
	seen := make(map[string]struct{})
	for _, d := range ix.docs {
		seen[d.TemplateID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// ListVersions returns a document's ledger, highest version first.
func (ix *Index) ListVersions(documentID int64) []Version {
	rows := ix.versions[documentID]
	out := make([]Version, len(rows))
	for i, v := range rows {
		out[len(rows)-1-i] = v
	}
	return out
}

// Version returns one ledger row.
func (ix *Index) Version(documentID int64, version int) (Version, bool) {
	rows := ix.versions[documentID]
	// Versions are contiguous from 1, so the row for N sits at N-1.
	if version < 1 || version > len(rows) {
		return Version{}, false
	}
	return rows[version-1], true
}

// ListExports returns a document's export rows, most recent first. Ties
// are broken by descending id.
func (ix *Index) ListExports(documentID int64) []ExportAudit {
	out := slices.Clone(ix.exports[documentID])
	if out == nil {
		out = []ExportAudit{}
	}
	slices.SortFunc(out, func(a, b ExportAudit) int {
		if c := b.ExportedAt.Compare(a.ExportedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}

// BlobRefs returns the set of blob references held by the version ledger.
func (ix *Index) BlobRefs() map[string]struct{} {
	refs := make(map[string]struct{})
	for _, rows := range ix.versions {
		for _, v := range rows {
			refs[v.BlobRef] = struct{}{}
		}
	}
	return refs
}

// Stats returns row counts.
func (ix *Index) Stats() Stats {
	s := Stats{Documents: len(ix.docs)}
	for _, rows := range ix.versions {
		s.Versions += len(rows)
	}
	for _, rows := range ix.exports {
		s.Exports += len(rows)
	}
	return s
}

// AppendVersion adds a ledger row and updates (or creates) the owning
// document in one step.
//
// The version must be exactly LatestVersion+1 for an existing document, or 1
// for a new one (DocumentID == 0); anything else is a Conflict and leaves the
// index unchanged.
func (ix *Index) AppendVersion(in VersionAppend) (Document, Version, error) {
	const op = "append version"

	if in.DocumentID == 0 {
		if _, exists := ix.byKey[docKey{in.RecordID, in.TemplateID}]; exists {
			return Document{}, Version{}, storeerr.Conflict(op, "document already exists").
				WithRecord(in.TemplateID, in.RecordID, in.Version)
		}
		if in.Version != 1 {
			return Document{}, Version{}, storeerr.Conflict(op, "new document must start at version 1, got %d", in.Version).
				WithRecord(in.TemplateID, in.RecordID, in.Version)
		}

		doc := &Document{
			ID:            ix.nextDocID,
			RecordID:      in.RecordID,
			TemplateID:    in.TemplateID,
			LatestVersion: 1,
			CreatedAt:     in.At,
			UpdatedAt:     in.At,
		}
		doc.apply(in.Fields)
		ver := ix.newVersion(doc.ID, in)

		ix.nextDocID++
		ix.docs[doc.ID] = doc
		ix.byKey[docKey{in.RecordID, in.TemplateID}] = doc.ID
		ix.versions[doc.ID] = []Version{ver}
		return *doc, ver, nil
	}

	doc, ok := ix.docs[in.DocumentID]
	if !ok {
		return Document{}, Version{}, storeerr.NotFound(op, "document %d does not exist", in.DocumentID).
			WithRecord(in.TemplateID, in.RecordID, in.Version)
	}
	if want := doc.LatestVersion + 1; in.Version != want {
		return Document{}, Version{}, storeerr.Conflict(op, "expected version %d, got %d", want, in.Version).
			WithRecord(doc.TemplateID, doc.RecordID, in.Version)
	}

	ver := ix.newVersion(doc.ID, in)
	ix.versions[doc.ID] = append(ix.versions[doc.ID], ver)
	doc.LatestVersion = in.Version
	doc.UpdatedAt = in.At
	doc.apply(in.Fields)
	return *doc, ver, nil
}

// AppendExportAudit adds an export-audit row. The referenced document and
// version must exist.
func (ix *Index) AppendExportAudit(in ExportAppend) (ExportAudit, error) {
	const op = "append export audit"

	doc, ok := ix.docs[in.DocumentID]
	if !ok {
		return ExportAudit{}, storeerr.NotFound(op, "document %d does not exist", in.DocumentID)
	}
	if _, ok := ix.Version(in.DocumentID, in.Version); !ok {
		return ExportAudit{}, storeerr.NotFound(op, "version does not exist").
			WithRecord(doc.TemplateID, doc.RecordID, in.Version)
	}

	row := ExportAudit{
		ID:           ix.nextExportID,
		DocumentID:   in.DocumentID,
		Version:      in.Version,
		ArtifactPath: in.ArtifactPath,
		ExportedAt:   in.At,
		ExportedBy:   in.Author,
		Purpose:      in.Purpose,
	}
	ix.nextExportID++
	ix.exports[in.DocumentID] = append(ix.exports[in.DocumentID], row)
	return row, nil
}

// Clone returns a deep copy of the index.
func (ix *Index) Clone() *Index {
	c := &Index{
		docs:          make(map[int64]*Document, len(ix.docs)),
		byKey:         make(map[docKey]int64, len(ix.byKey)),
		versions:      make(map[int64][]Version, len(ix.versions)),
		exports:       make(map[int64][]ExportAudit, len(ix.exports)),
		nextDocID:     ix.nextDocID,
		nextVersionID: ix.nextVersionID,
		nextExportID:  ix.nextExportID,
	}
	for id, d := range ix.docs {
		dc := *d
		c.docs[id] = &dc
	}
	for k, v := range ix.byKey {
		c.byKey[k] = v
	}
	for id, rows := range ix.versions {
		c.versions[id] = slices.Clone(rows)
	}
	for id, rows := range ix.exports {
		c.exports[id] = slices.Clone(rows)
	}
	return c
}

func (ix *Index) newVersion(documentID int64, in VersionAppend) Version {
	v := Version{
		ID:         ix.nextVersionID,
		DocumentID: documentID,
		Version:    in.Version,
		BlobRef:    in.BlobRef,
		Status:     in.Fields.Status,
		CreatedAt:  in.At,
		CreatedBy:  in.Author,
	}
	ix.nextVersionID++
	return v
}

func (d *Document) apply(f Fields) {
	d.Title = f.Title
	d.Status = f.Status
	d.ProductName = f.ProductName
	d.ComplaintDate = f.ComplaintDate
	d.DueDate = f.DueDate
	d.SourceRecordID = f.SourceRecordID
}
