package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/recstore/internal/payload"
	"github.com/roach88/recstore/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s/%s → %s\n", event.Seq, event.Op, event.Template, event.Record, event.Outcome)
		}
	}
	return buf.String()
}

// assertDocument checks the document row against the expected fields
// (subset match). Values compare by canonical JSON, so 2 and 2.0 are equal.
func assertDocument(ctx context.Context, st *store.Store, a Assertion, trace []TraceEvent) error {
	doc, err := st.GetDocument(ctx, a.Template, a.Record)
	if err != nil {
		return &AssertionError{
			Type:     AssertDocument,
			Expected: fmt.Sprintf("document %s/%s", a.Template, a.Record),
			Actual:   err.Error(),
			Trace:    trace,
		}
	}

	actual, err := toFields(doc)
	if err != nil {
		return err
	}
	for key, want := range a.Expect {
		wantVal, err := payload.FromAny(want)
		if err != nil {
			return fmt.Errorf("document assertion %q: %w", key, err)
		}
		if !payload.Equal(wantVal, actual[key]) {
			return &AssertionError{
				Type:     AssertDocument,
				Expected: fmt.Sprintf("%s = %s", key, payload.Canonical(wantVal)),
				Actual:   fmt.Sprintf("%s = %s", key, payload.Canonical(actual[key])),
				Trace:    trace,
			}
		}
	}
	return nil
}

// toFields flattens a row into payload values keyed by JSON name.
func toFields(row any) (payload.Object, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return payload.ObjectFromMap(m)
}

func assertCount(kind string, want, got int, trace []TraceEvent) error {
	if want == got {
		return nil
	}
	return &AssertionError{
		Type:     kind,
		Expected: fmt.Sprintf("%d", want),
		Actual:   fmt.Sprintf("%d", got),
		Trace:    trace,
	}
}

// assertTraceCount counts steps of one op, optionally with one outcome.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Op == a.Op && (a.Outcome == "" || ev.Outcome == a.Outcome) {
			n++
		}
	}
	return assertCount(AssertTraceCount, a.Count, n, trace)
}

// EvaluateAssertions evaluates all assertions against the result and the
// final store state. Returns a slice of error messages for failed
// assertions.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, st *store.Store) []string {
	var errs []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertDocument:
			err = assertDocument(ctx, st, a, result.Trace)
		case AssertVersionCount:
			versions, lerr := st.ListVersions(ctx, a.Template, a.Record)
			if lerr != nil {
				err = fmt.Errorf("assertion[%d]: %w", i, lerr)
				break
			}
			err = assertCount(a.Type, a.Count, len(versions), result.Trace)
		case AssertExportCount:
			exports, lerr := st.ListExports(ctx, a.Template, a.Record)
			if lerr != nil {
				err = fmt.Errorf("assertion[%d]: %w", i, lerr)
				break
			}
			err = assertCount(a.Type, a.Count, len(exports), result.Trace)
		case AssertOrphanCount:
			orphans, lerr := st.Orphans(ctx)
			if lerr != nil {
				err = fmt.Errorf("assertion[%d]: %w", i, lerr)
				break
			}
			err = assertCount(a.Type, a.Count, len(orphans), result.Trace)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
