package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/recstore/internal/payload"
)

// TraceSnapshot captures the trace of a scenario execution.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// Canonical renders the snapshot as canonical JSON: sorted keys, no
// whitespace, stable across runs.
func (s *TraceSnapshot) Canonical() (string, error) {
	events := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":     ev.Seq,
			"op":      ev.Op,
			"outcome": ev.Outcome,
		}
		if ev.Template != "" {
			m["template"] = ev.Template
		}
		if ev.Record != "" {
			m["record"] = ev.Record
		}
		if ev.Stage != "" {
			m["stage"] = ev.Stage
		}
		if ev.Result != nil {
			m["result"] = ev.Result
		}
		events[i] = m
	}

	v, err := payload.FromAny(map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         events,
	})
	if err != nil {
		return "", err
	}
	return payload.Canonical(v), nil
}

// RunWithGolden executes a scenario in a temporary directory, fails the
// test on any unmet expectation, and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, t.TempDir())
	if err != nil {
		return nil, err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}

	snapshot := TraceSnapshot{ScenarioName: scenario.Name, Trace: result.Trace}
	traceJSON, err := snapshot.Canonical()
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, []byte(traceJSON))
	return result, nil
}
