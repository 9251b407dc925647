package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_CrashRecovery(t *testing.T) {
	result, err := Run(context.Background(), load(t, "crash_recovery"), t.TempDir())
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))

	require.Len(t, result.Trace, 6)
	assert.Equal(t, "IO", result.Trace[1].Outcome)
	assert.Equal(t, "blob_written", result.Trace[1].Stage)
	assert.Equal(t, "persisted", result.Trace[2].Stage)
	assert.Equal(t, map[string]any{"documents": 1, "versions": 1, "recovery_needed": false}, result.Trace[3].Result,
		"the crashed save left only version 1 in the snapshot")
}

func TestRun_IsDeterministic(t *testing.T) {
	s := load(t, "complaint_lifecycle")

	first, err := Run(context.Background(), s, t.TempDir())
	require.NoError(t, err)
	second, err := Run(context.Background(), s, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_ReportsUnmetExpectations(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong_expectations
description: "Every expectation here is wrong"
steps:
  - op: save
    template: complaint_record_v1
    record: CR-1
    author: a
    data: { status: x }
    expect: { version: 2 }
  - op: export
    template: complaint_record_v1
    record: CR-1
    artifact: a.pdf
    author: a
    expect: { error: NOT_FOUND }
  - op: diff
    template: complaint_record_v1
    record: CR-1
    from: 1
    to: 5
assertions:
  - type: document
    template: complaint_record_v1
    record: CR-1
    expect: { status: y }
  - type: version_count
    template: complaint_record_v1
    record: CR-1
    count: 3
  - type: orphan_count
    count: 1
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s, t.TempDir())
	require.NoError(t, err)
	assert.False(t, result.Pass)

	all := strings.Join(result.Errors, "\n")
	assert.Contains(t, all, "expected version 2, got 1")
	assert.Contains(t, all, "expected error NOT_FOUND, got ok")
	assert.Contains(t, all, "expected success, got NOT_FOUND")
	assert.Contains(t, all, `status = "y"`)
	assert.Contains(t, all, "Assertion failed: version_count")
	assert.Contains(t, all, "Assertion failed: orphan_count")
	assert.Len(t, result.Errors, 6)
}

func TestRun_ValidationFailureIsAnOutcome(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: bad_ids
description: "Path-like record ids are rejected"
steps:
  - op: save
    template: complaint_record_v1
    record: ../escape
    author: a
    data: {}
    expect: { error: VALIDATION }
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s, t.TempDir())
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
	assert.Nil(t, result.Trace[0].Result)
}

func TestAssertionError_Message(t *testing.T) {
	err := &AssertionError{
		Type:     AssertVersionCount,
		Expected: "2",
		Actual:   "1",
		Trace:    []TraceEvent{{Seq: 1, Op: OpSave, Template: "t", Record: "r", Outcome: OutcomeOK}},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: version_count")
	assert.Contains(t, msg, "Expected: 2")
	assert.Contains(t, msg, "[1] save t/r → ok")
}
