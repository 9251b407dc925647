package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessScenarios = "../harness/testdata/scenarios"

func TestTestCommand_PassingScenarios(t *testing.T) {
	res := run(t, t.TempDir(), "", "test", harnessScenarios)
	require.Equal(t, ExitSuccess, res.code, res.stdout+res.stderr)

	assert.Contains(t, res.stdout, "✓ complaint_lifecycle")
	assert.Contains(t, res.stdout, "✓ crash_recovery")
	assert.Contains(t, res.stdout, "2 passed, 0 failed, 2 total")
}

func TestTestCommand_Filter(t *testing.T) {
	res := run(t, t.TempDir(), "", "--format", "json", "test", harnessScenarios, "--filter", "crash*")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "crash_recovery", resp.Data.Scenarios[0].Name)
	assert.Equal(t, 1, resp.Data.Passed)
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(`
name: wrong
description: "Expects a version that is never written"
steps:
  - op: save
    template: complaint_record_v1
    record: CR-1
    author: a
    data: { status: x }
    expect: { version: 3 }
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("name: broken\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	res := run(t, t.TempDir(), "", "test", dir)
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stdout, "✗ wrong")
	assert.Contains(t, res.stdout, "expected version 3, got 1")
	assert.Contains(t, res.stdout, "✗ broken")
	assert.Contains(t, res.stdout, "description is required")
	assert.Contains(t, res.stdout, "0 passed, 2 failed, 2 total")
	assert.Empty(t, res.stderr, "failures are reported once, on stdout")
}

func TestTestCommand_Errors(t *testing.T) {
	res := run(t, t.TempDir(), "", "test", filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, "scenarios directory not found")

	empty := t.TempDir()
	res = run(t, t.TempDir(), "", "test", empty)
	assert.Equal(t, ExitSuccess, res.code)
	assert.Contains(t, res.stdout, "No scenarios found.")

	res = run(t, t.TempDir(), "", "test", harnessScenarios, "--filter", "[")
	assert.Equal(t, ExitCommandError, res.code)
}
