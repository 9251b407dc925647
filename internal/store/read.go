package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/recstore/internal/blob"
	"github.com/roach88/recstore/internal/diff"
	"github.com/roach88/recstore/internal/index"
	"github.com/roach88/recstore/internal/storeerr"
)

// UnsetStatus labels documents without a status in Stats.
const UnsetStatus = "（未設定）"

// GetDocument returns the current-state row of a record.
func (s *Store) GetDocument(ctx context.Context, templateID, recordID string) (index.Document, error) {
	const op = "get document"
	if err := checkRead(ctx, op, templateID, recordID); err != nil {
		return index.Document{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.document(op, templateID, recordID)
}

// ListDocuments returns the documents of a template, most recently updated
// first. An unknown template yields an empty list.
func (s *Store) ListDocuments(ctx context.Context, templateID string) ([]index.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ix.ListDocuments(templateID), nil
}

// ListVersions returns the version ledger of a record, highest first.
func (s *Store) ListVersions(ctx context.Context, templateID, recordID string) ([]index.Version, error) {
	const op = "list versions"
	if err := checkRead(ctx, op, templateID, recordID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, err := s.document(op, templateID, recordID)
	if err != nil {
		return nil, err
	}
	return s.ix.ListVersions(doc.ID), nil
}

// GetVersionPayload reads the blob of one version. Version 0 selects the
// latest version.
func (s *Store) GetVersionPayload(ctx context.Context, templateID, recordID string, version int) (blob.Blob, error) {
	const op = "get version payload"
	if err := checkRead(ctx, op, templateID, recordID); err != nil {
		return blob.Blob{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.payload(op, templateID, recordID, version)
}

// DiffVersions compares two versions of a record field by field. Labels
// come from the template catalog and are ordered by the configured
// collation.
func (s *Store) DiffVersions(ctx context.Context, templateID, recordID string, a, b int) ([]diff.FieldDiff, error) {
	const op = "diff versions"
	if err := checkRead(ctx, op, templateID, recordID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	older, err := s.payload(op, templateID, recordID, a)
	if err != nil {
		return nil, err
	}
	newer, err := s.payload(op, templateID, recordID, b)
	if err != nil {
		return nil, err
	}
	return diff.Compare(older.Data, newer.Data,
		diff.WithLabels(s.catalog.LabelFunc(templateID)),
		diff.WithCollation(s.collation),
	), nil
}

// StatusCount is the number of documents in one status.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// TemplateStats summarizes the documents of one template.
type TemplateStats struct {
	TemplateID    string        `json:"template_id"`
	Documents     int           `json:"documents"`
	ByStatus      []StatusCount `json:"by_status"`
	LastUpdatedAt time.Time     `json:"last_updated_at"`
}

// Stats summarizes the whole store.
type Stats struct {
	StoreID   string          `json:"store_id"`
	Totals    index.Stats     `json:"totals"`
	Templates []TemplateStats `json:"templates"`
}

// Stats returns row counts and a per-template status breakdown. Status
// groups are ordered by count, largest first, then by name.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Stats{
		StoreID:   s.snap.StoreID(),
		Totals:    s.ix.Stats(),
		Templates: []TemplateStats{},
	}
	for _, tid := range s.ix.TemplateIDs() {
		docs := s.ix.ListDocuments(tid)
		ts := TemplateStats{TemplateID: tid, Documents: len(docs), ByStatus: []StatusCount{}}
		if len(docs) > 0 {
			ts.LastUpdatedAt = docs[0].UpdatedAt
		}

		counts := make(map[string]int)
		for _, d := range docs {
			status := d.Status
			if status == "" {
				status = UnsetStatus
			}
			counts[status]++
		}
		for status, n := range counts {
			ts.ByStatus = append(ts.ByStatus, StatusCount{Status: status, Count: n})
		}
		slices.SortFunc(ts.ByStatus, func(a, b StatusCount) int {
			if c := cmp.Compare(b.Count, a.Count); c != 0 {
				return c
			}
			return cmp.Compare(a.Status, b.Status)
		})
		out.Templates = append(out.Templates, ts)
	}
	return out, nil
}

// Orphans lists blob files that no version row references. They are left
// by saves that failed after writing the blob and are reported only.
func (s *Store) Orphans(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("orphans: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blobs.Orphans(s.ix.BlobRefs())
}

// document looks up a document. Caller holds the lock.
func (s *Store) document(op, templateID, recordID string) (index.Document, error) {
	doc, ok := s.ix.FindDocument(recordID, templateID)
	if !ok {
		return index.Document{}, storeerr.NotFound(op, "document does not exist").
			WithRecord(templateID, recordID, 0)
	}
	return doc, nil
}

// payload reads a version blob, resolving version 0 to the latest. Caller
// holds the lock.
func (s *Store) payload(op, templateID, recordID string, version int) (blob.Blob, error) {
	doc, err := s.document(op, templateID, recordID)
	if err != nil {
		return blob.Blob{}, err
	}
	if version == 0 {
		version = doc.LatestVersion
	}
	row, ok := s.ix.Version(doc.ID, version)
	if !ok {
		return blob.Blob{}, storeerr.NotFound(op, "version does not exist").
			WithRecord(templateID, recordID, version)
	}

	b, err := s.blobs.Read(row.BlobRef)
	if err != nil {
		return blob.Blob{}, storeerr.Wrap(storeerr.KindOf(err), op, err).WithRecord(templateID, recordID, version)
	}
	if b.Meta.RecordID != recordID || b.Meta.TemplateID != templateID || b.Meta.Version != version {
		return blob.Blob{}, storeerr.Corrupt(op, fmt.Errorf("blob %s describes %s/%s v%d",
			row.BlobRef, b.Meta.TemplateID, b.Meta.RecordID, b.Meta.Version)).
			WithRecord(templateID, recordID, version)
	}
	return b, nil
}

func checkRead(ctx context.Context, op, templateID, recordID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := blob.ValidID(templateID); err != nil {
		return storeerr.Validation(op, "template id: %v", err)
	}
	if err := blob.ValidID(recordID); err != nil {
		return storeerr.Validation(op, "record id: %v", err)
	}
	return nil
}
