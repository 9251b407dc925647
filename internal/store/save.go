package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/recstore/internal/blob"
	"github.com/roach88/recstore/internal/index"
	"github.com/roach88/recstore/internal/payload"
	"github.com/roach88/recstore/internal/snapshot"
	"github.com/roach88/recstore/internal/storeerr"
)

// Stage is a step of the save protocol.
type Stage string

const (
	StageStart          Stage = "start"
	StageBlobWritten    Stage = "blob_written"
	StageIndexCommitted Stage = "index_committed"
	StagePersisted      Stage = "persisted"
	StageDone           Stage = "done"
)

// SaveRequest is one edit of a record.
type SaveRequest struct {
	TemplateID string         `validate:"required,identifier"`
	RecordID   string         `validate:"required,identifier"`
	Author     string         `validate:"required"`
	Data       payload.Object `validate:"required"`
}

// SaveResult describes a successful save.
type SaveResult struct {
	DocumentID  int64  `json:"document_id"`
	Version     int    `json:"version"`
	BlobRef     string `json:"file_path"`
	Created     bool   `json:"created"`
	OperationID string `json:"operation_id"`
}

// SaveRecord writes a new version of a record.
//
// The first save of a (record, template) pair creates the document at
// version 1; every later save appends latest+1. An empty Author falls back
// to the configured default author.
func (s *Store) SaveRecord(ctx context.Context, req SaveRequest) (SaveResult, error) {
	const op = "save record"

	if req.Author == "" {
		req.Author = s.cfg.DefaultAuthor
	}
	if err := validateRequest(op, req); err != nil {
		return SaveResult{}, err
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
		return SaveResult{}, fmt.Errorf("%s: %w", op, err)
	}

	sv := &save{s: s, op: op, req: req, log: log, stage: StageStart}
	res, err := sv.run()
	if err != nil {
		s.metrics.saves.WithLabelValues("failed").Inc()
		s.metrics.saveFailures.WithLabelValues(string(sv.failedAt)).Inc()
		s.metrics.observeIndex(s.ix.Stats())
		log.Error("save failed", "version", sv.target, "stage", string(sv.failedAt), "reached", string(sv.stage), "error", err)
		return SaveResult{}, err
	}
	res.OperationID = opID

	s.metrics.saves.WithLabelValues("ok").Inc()
	s.metrics.observeIndex(s.ix.Stats())
	log.Info("record saved", "version", res.Version, "created", res.Created, "stage", string(StageDone))
	return res, nil
}

// save carries one run of the protocol. Caller holds the write lock.
type save struct {
	s   *Store
	op  string
	req SaveRequest
	log *slog.Logger

	stage    Stage
	failedAt Stage
	target   int
}

func (sv *save) run() (SaveResult, error) {
	s, req := sv.s, sv.req

	existing, exists := s.ix.FindDocument(req.RecordID, req.TemplateID)
	now := s.now().UTC()
	createdAt := now
	sv.target = 1
	if exists {
		sv.target = existing.LatestVersion + 1
		createdAt = existing.CreatedAt
	}

	// start → blob_written
	if err := sv.enter(StageBlobWritten); err != nil {
		return SaveResult{}, err
	}
	ref, err := sv.writeBlob(blob.Blob{
		Meta: blob.Meta{
			RecordID:   req.RecordID,
			TemplateID: req.TemplateID,
			Version:    sv.target,
			CreatedAt:  createdAt,
			UpdatedAt:  now,
			UpdatedBy:  req.Author,
		},
		Data: req.Data,
	})
	if err != nil {
		return SaveResult{}, sv.fail(StageBlobWritten, err)
	}
	sv.stage = StageBlobWritten
	sv.log.Debug("blob written", "version", sv.target, "blob", ref)

	// blob_written → index_committed
	if err := sv.enter(StageIndexCommitted); err != nil {
		return SaveResult{}, err
	}
	// The gate is held, so the document cannot have moved; the check
	// still guards the version sequence against a logic error upstream.
	current, ok := s.ix.FindDocument(req.RecordID, req.TemplateID)
	if ok != exists || (ok && current.LatestVersion != sv.target-1) {
		return SaveResult{}, sv.fail(StageIndexCommitted,
			storeerr.Conflict(sv.op, "latest version changed during save"))
	}

	rollback := s.ix.Clone()
	var docID int64
	if exists {
		docID = existing.ID
	}
	doc, _, err := s.ix.AppendVersion(index.VersionAppend{
		DocumentID: docID,
		RecordID:   req.RecordID,
		TemplateID: req.TemplateID,
		Version:    sv.target,
		BlobRef:    ref,
		Author:     req.Author,
		At:         now,
		Fields:     denormalize(req.RecordID, req.Data),
	})
	if err != nil {
		s.ix = rollback
		return SaveResult{}, sv.fail(StageIndexCommitted, err)
	}
	sv.stage = StageIndexCommitted

	// index_committed → persisted
	if err := sv.enter(StagePersisted); err != nil {
		s.ix = rollback
		return SaveResult{}, err
	}
	start := time.Now()
	err = s.snap.Persist(s.ix)
	s.metrics.persistDuration.Observe(time.Since(start).Seconds())
	if errors.Is(err, snapshot.ErrNotSynced) {
		// The new snapshot is already on disk; the index must keep matching it.
		sv.log.Warn("snapshot replaced but not synced; keeping committed index",
			"version", sv.target, "error", err)
		return SaveResult{}, sv.fail(StagePersisted, err)
	}
	if err != nil {
		s.ix = rollback
		return SaveResult{}, sv.fail(StagePersisted, err)
	}
	sv.stage = StagePersisted

	return SaveResult{
		DocumentID: doc.ID,
		Version:    sv.target,
		BlobRef:    ref,
		Created:    !exists,
	}, nil
}

// enter consults the fault hook before a stage is attempted.
func (sv *save) enter(next Stage) error {
	if sv.s.fault == nil {
		return nil
	}
	if err := sv.s.fault(next); err != nil {
		return sv.fail(next, fmt.Errorf("injected fault: %w", err))
	}
	return nil
}

// fail records the failed stage and annotates err with it.
func (sv *save) fail(stage Stage, err error) error {
	sv.failedAt = stage
	kind := storeerr.KindOf(err)
	if kind == "" {
		kind = storeerr.KindIO
	}
	return storeerr.Wrap(kind, sv.op, err).
		WithRecord(sv.req.TemplateID, sv.req.RecordID, sv.target).
		WithStage(string(stage))
}

// writeBlob writes the version blob. A blob already sitting at the target
// reference with different bytes is an orphan from an earlier failed save
// (the index has no row for it); it is moved aside and the write retried.
func (sv *save) writeBlob(b blob.Blob) (string, error) {
	ref, err := sv.s.blobs.Write(b)
	if !errors.Is(err, storeerr.ErrConflict) {
		return ref, err
	}

	target := blob.Ref(b.Meta.TemplateID, b.Meta.RecordID, b.Meta.Version)
	if _, referenced := sv.s.ix.BlobRefs()[target]; referenced {
		return "", err
	}
	moved, qerr := sv.s.blobs.Quarantine(target)
	if qerr != nil {
		return "", qerr
	}
	sv.s.metrics.quarantined.Inc()
	sv.log.Warn("orphan blob moved aside", "blob", target, "moved_to", moved)
	return sv.s.blobs.Write(b)
}

// denormalize extracts the display columns from a payload. The title is
// "<recordID> <product_name>", trimmed.
func denormalize(recordID string, data payload.Object) index.Fields {
	return index.Fields{
		Title:          strings.TrimSpace(recordID + " " + data.Text("product_name")),
		Status:         data.Text("status"),
		ProductName:    data.Text("product_name"),
		ComplaintDate:  data.Text("complaint_date"),
		DueDate:        data.Text("due_date"),
		SourceRecordID: data.Text("source_record_id"),
	}
}
