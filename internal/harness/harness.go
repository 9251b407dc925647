package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/recstore/internal/config"
	"github.com/roach88/recstore/internal/payload"
	"github.com/roach88/recstore/internal/store"
	"github.com/roach88/recstore/internal/storeerr"
	"github.com/roach88/recstore/internal/testutil"
)

// Epoch is the first timestamp handed out by the scenario clock.
var Epoch = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

// ErrInjected is the cause carried by a step's injected fault.
var ErrInjected = errors.New("injected fault")

// Harness executes scenarios against one data directory.
type Harness struct {
	cfg    config.Config
	store  *store.Store
	clock  *testutil.DeterministicClock
	ids    *testutil.SequentialIDs
	logger *slog.Logger

	// fault is the stage armed for the current step.
	fault store.Stage
}

// Run executes a scenario in dataDir, which should be empty.
//
// Store errors are outcomes, recorded in the trace and checked against the
// step's expect clause. Run itself fails only when the scenario cannot be
// executed at all.
func Run(ctx context.Context, scenario *Scenario, dataDir string) (*Result, error) {
	cfg := config.Default()
	cfg.DataDir = dataDir
	if scenario.Codec != "" {
		cfg.SnapshotCodec = scenario.Codec
	}

	h := &Harness{
		cfg:    cfg,
		clock:  testutil.NewDeterministicClock(Epoch, time.Minute),
		ids:    testutil.NewSequentialIDs("op"),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	if err := h.open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
	}

	for _, msg := range EvaluateAssertions(ctx, result, scenario.Assertions, h.store) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) open(ctx context.Context) error {
	st, err := store.Open(ctx, h.cfg,
		store.WithLogger(h.logger),
		store.WithClock(h.clock.Now),
		store.WithIDGenerator(h.ids),
		store.WithFaultHook(h.faultHook),
	)
	if err != nil {
		return err
	}
	h.store = st
	return nil
}

func (h *Harness) faultHook(stage store.Stage) error {
	if h.fault != "" && stage == h.fault {
		return ErrInjected
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, index int, step Step, result *Result) error {
	ev := TraceEvent{Op: step.Op, Template: step.Template, Record: step.Record}

	var err error
	switch step.Op {
	case OpSave:
		ev.Result, err = h.save(ctx, step)
	case OpExport:
		ev.Result, err = h.export(ctx, step)
	case OpDiff:
		ev.Result, err = h.diff(ctx, step)
	case OpReopen:
		if err := h.open(ctx); err != nil {
			return err
		}
		ev.Result = h.reopenSummary(ctx)
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	ev.Outcome = OutcomeOK
	if err != nil {
		ev.Outcome = string(storeerr.KindOf(err))
		if ev.Outcome == "" {
			return err
		}
		var se *storeerr.Error
		if errors.As(err, &se) {
			ev.Stage = se.Stage
		}
		ev.Result = nil
	}
	result.addTrace(ev)

	for _, msg := range checkExpect(index, step.Expect, ev) {
		result.AddError(msg)
	}
	return nil
}

func (h *Harness) save(ctx context.Context, step Step) (map[string]any, error) {
	data, err := payload.ObjectFromMap(step.Data)
	if err != nil {
		return nil, fmt.Errorf("convert data: %w", err)
	}

	h.fault = store.Stage(step.Fault)
	defer func() { h.fault = "" }()

	res, err := h.store.SaveRecord(ctx, store.SaveRequest{
		TemplateID: step.Template,
		RecordID:   step.Record,
		Author:     step.Author,
		Data:       data,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"version":      res.Version,
		"created":      res.Created,
		"file_path":    res.BlobRef,
		"operation_id": res.OperationID,
	}, nil
}

func (h *Harness) export(ctx context.Context, step Step) (map[string]any, error) {
	row, err := h.store.RecordExport(ctx, store.ExportRequest{
		TemplateID:   step.Template,
		RecordID:     step.Record,
		Version:      step.Version,
		ArtifactPath: step.Artifact,
		Author:       step.Author,
		Purpose:      step.Purpose,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"version":   row.Version,
		"file_path": row.ArtifactPath,
	}, nil
}

func (h *Harness) diff(ctx context.Context, step Step) (map[string]any, error) {
	diffs, err := h.store.DiffVersions(ctx, step.Template, step.Record, step.From, step.To)
	if err != nil {
		return nil, err
	}
	changed := []any{}
	for _, d := range diffs {
		if d.Changed {
			changed = append(changed, d.Field)
		}
	}
	return map[string]any{
		"changed": changed,
		"total":   len(diffs),
	}, nil
}

func (h *Harness) reopenSummary(ctx context.Context) map[string]any {
	report := h.store.Recovery()
	summary := map[string]any{"recovery_needed": report.RecoveryNeeded}
	if state, err := h.store.State(ctx); err == nil {
		summary["documents"] = len(state.Documents)
		summary["versions"] = len(state.Versions)
	}
	return summary
}

// checkExpect compares a traced step against its expect clause.
func checkExpect(index int, want *Expect, ev TraceEvent) []string {
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf("steps[%d] %s: ", index, ev.Op)+fmt.Sprintf(format, args...))
	}

	if want == nil || want.Error == "" {
		if ev.Outcome != OutcomeOK {
			fail("expected success, got %s (stage %q)", ev.Outcome, ev.Stage)
			return errs
		}
	} else {
		if ev.Outcome != want.Error {
			fail("expected error %s, got %s", want.Error, ev.Outcome)
		}
		if want.Stage != "" && ev.Stage != want.Stage {
			fail("expected failed stage %q, got %q", want.Stage, ev.Stage)
		}
		return errs
	}
	if want == nil {
		return errs
	}

	if want.Version != 0 && ev.Result["version"] != want.Version {
		fail("expected version %d, got %v", want.Version, ev.Result["version"])
	}
	if want.Created != nil && ev.Result["created"] != *want.Created {
		fail("expected created=%v, got %v", *want.Created, ev.Result["created"])
	}
	if want.Changed != nil {
		var got []string
		for _, f := range asSlice(ev.Result["changed"]) {
			got = append(got, fmt.Sprint(f))
		}
		wantSorted, gotSorted := slices.Sorted(slices.Values(want.Changed)), slices.Sorted(slices.Values(got))
		if !slices.Equal(wantSorted, gotSorted) {
			fail("expected changed fields %v, got %v", want.Changed, got)
		}
	}
	return errs
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}
