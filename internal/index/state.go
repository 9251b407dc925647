package index

import (
	"cmp"
	"fmt"
	"slices"
)

// State is the flat, serializable form of an Index: each table as a slice
// ordered by id. Snapshot persistence and the SQLite mirror both work from
// this form.
type State struct {
	Documents []Document    `json:"documents"`
	Versions  []Version     `json:"document_versions"`
	Exports   []ExportAudit `json:"pdf_exports"`
}

// State returns the tables of the index ordered by id.
func (ix *Index) State() State {
	s := State{
		Documents: make([]Document, 0, len(ix.docs)),
		Versions:  []Version{},
		Exports:   []ExportAudit{},
	}
	for _, d := range ix.docs {
		s.Documents = append(s.Documents, *d)
	}
	for _, rows := range ix.versions {
		s.Versions = append(s.Versions, rows...)
	}
	for _, rows := range ix.exports {
		s.Exports = append(s.Exports, rows...)
	}

	slices.SortFunc(s.Documents, func(a, b Document) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(s.Versions, func(a, b Version) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(s.Exports, func(a, b ExportAudit) int { return cmp.Compare(a.ID, b.ID) })
	return s
}

// FromState rebuilds an index from its tables, checking every invariant.
// Row order in s is irrelevant.
func FromState(s State) (*Index, error) {
	ix := New()

	for _, d := range s.Documents {
		if d.ID <= 0 {
			return nil, fmt.Errorf("document has invalid id %d", d.ID)
		}
		if _, dup := ix.docs[d.ID]; dup {
			return nil, fmt.Errorf("duplicate document id %d", d.ID)
		}
		key := docKey{d.RecordID, d.TemplateID}
		if _, dup := ix.byKey[key]; dup {
			return nil, fmt.Errorf("duplicate document for record %q template %q", d.RecordID, d.TemplateID)
		}
		dc := d
		ix.docs[d.ID] = &dc
		ix.byKey[key] = d.ID
		ix.nextDocID = max(ix.nextDocID, d.ID+1)
	}

	versionIDs := make(map[int64]struct{}, len(s.Versions))
	for _, v := range s.Versions {
		if _, ok := ix.docs[v.DocumentID]; !ok {
			return nil, fmt.Errorf("version row %d references missing document %d", v.ID, v.DocumentID)
		}
		if _, dup := versionIDs[v.ID]; dup || v.ID <= 0 {
			return nil, fmt.Errorf("invalid or duplicate version row id %d", v.ID)
		}
		if v.BlobRef == "" {
			return nil, fmt.Errorf("version row %d has no blob reference", v.ID)
		}
		versionIDs[v.ID] = struct{}{}
		ix.versions[v.DocumentID] = append(ix.versions[v.DocumentID], v)
		ix.nextVersionID = max(ix.nextVersionID, v.ID+1)
	}

	for id, d := range ix.docs {
		rows := ix.versions[id]
		if len(rows) == 0 {
			return nil, fmt.Errorf("document %d (%s) has no versions", id, d.RecordID)
		}
		slices.SortFunc(rows, func(a, b Version) int { return cmp.Compare(a.Version, b.Version) })
		for i, v := range rows {
			if v.Version != i+1 {
				return nil, fmt.Errorf("document %d (%s): version sequence broken at position %d (found v%d)", id, d.RecordID, i+1, v.Version)
			}
		}
		if d.LatestVersion != len(rows) {
			return nil, fmt.Errorf("document %d (%s): latest_version %d but ledger ends at %d", id, d.RecordID, d.LatestVersion, len(rows))
		}
	}

	exportIDs := make(map[int64]struct{}, len(s.Exports))
	for _, e := range s.Exports {
		if _, ok := ix.Version(e.DocumentID, e.Version); !ok {
			return nil, fmt.Errorf("export row %d references missing document %d version %d", e.ID, e.DocumentID, e.Version)
		}
		if _, dup := exportIDs[e.ID]; dup || e.ID <= 0 {
			return nil, fmt.Errorf("invalid or duplicate export row id %d", e.ID)
		}
		exportIDs[e.ID] = struct{}{}
		ix.exports[e.DocumentID] = append(ix.exports[e.DocumentID], e)
		ix.nextExportID = max(ix.nextExportID, e.ID+1)
	}

	return ix, nil
}

// Verify re-checks every invariant of the live index.
func (ix *Index) Verify() error {
	_, err := FromState(ix.State())
	return err
}
