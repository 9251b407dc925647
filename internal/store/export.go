package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/recstore/internal/index"
	"github.com/roach88/recstore/internal/snapshot"
	"github.com/roach88/recstore/internal/storeerr"
)

// ExportRequest records that a version was rendered to an artifact.
type ExportRequest struct {
	TemplateID   string `validate:"required,identifier"`
	RecordID     string `validate:"required,identifier"`
	Version      int    `validate:"gte=0"` // 0 selects the latest version
	ArtifactPath string `validate:"required"`
	Author       string `validate:"required"`
	Purpose      string
}

// RecordExport appends an export-audit row and persists it.
//
// The version must exist. Like a save, the row is durable when RecordExport
// returns; a persist failure rolls the index back and returns a retryable
// IO error.
func (s *Store) RecordExport(ctx context.Context, req ExportRequest) (index.ExportAudit, error) {
	const op = "record export"

	if req.Author == "" {
		req.Author = s.cfg.DefaultAuthor
	}
	if err := validateRequest(op, req); err != nil {
		return index.ExportAudit{}, err
	}

	opID := s.ids.Generate()
	log := s.logger.With(
		"operation_id", opID,
		"template_id", req.TemplateID,
		"record_id", req.RecordID,
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return index.ExportAudit{}, fmt.Errorf("%s: %w", op, err)
	}

	row, err := s.recordExport(op, req)
	if err != nil {
		s.metrics.exports.WithLabelValues("failed").Inc()
		log.Error("export record failed", "version", req.Version, "error", err)
		return index.ExportAudit{}, err
	}

	s.metrics.exports.WithLabelValues("ok").Inc()
	log.Info("export recorded", "version", row.Version, "artifact", row.ArtifactPath)
	return row, nil
}

func (s *Store) recordExport(op string, req ExportRequest) (index.ExportAudit, error) {
	doc, err := s.document(op, req.TemplateID, req.RecordID)
	if err != nil {
		return index.ExportAudit{}, err
	}
	version := req.Version
	if version == 0 {
		version = doc.LatestVersion
	}

	rollback := s.ix.Clone()
	row, err := s.ix.AppendExportAudit(index.ExportAppend{
		DocumentID:   doc.ID,
		Version:      version,
		ArtifactPath: req.ArtifactPath,
		Author:       req.Author,
		Purpose:      req.Purpose,
		At:           s.now().UTC(),
	})
	if err != nil {
		return index.ExportAudit{}, storeerr.Wrap(storeerr.KindOf(err), op, err).
			WithRecord(req.TemplateID, req.RecordID, version)
	}

	if err := s.snap.Persist(s.ix); err != nil {
		if !errors.Is(err, snapshot.ErrNotSynced) {
			s.ix = rollback
		}
		return index.ExportAudit{}, storeerr.Wrap(storeerr.KindOf(err), op, err).
			WithRecord(req.TemplateID, req.RecordID, version).
			WithStage(string(StagePersisted))
	}
	return row, nil
}

// ListExports returns the export-audit rows of a record, most recent first.
// An unknown record yields an empty list.
func (s *Store) ListExports(ctx context.Context, templateID, recordID string) ([]index.ExportAudit, error) {
	const op = "list exports"
	if err := checkRead(ctx, op, templateID, recordID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.ix.FindDocument(recordID, templateID)
	if !ok {
		return []index.ExportAudit{}, nil
	}
	return s.ix.ListExports(doc.ID), nil
}
