package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_ComplaintLifecycle(t *testing.T) {
	// Regenerate with: go test ./internal/harness -run TestRunWithGolden -update
	result, err := RunWithGolden(t, load(t, "complaint_lifecycle"))
	require.NoError(t, err)
	assert.True(t, result.Pass)
}

func TestTraceSnapshot_CanonicalOmitsEmptyFields(t *testing.T) {
	s := TraceSnapshot{
		ScenarioName: "x",
		Trace:        []TraceEvent{{Seq: 1, Op: OpReopen, Outcome: OutcomeOK}},
	}
	got, err := s.Canonical()
	require.NoError(t, err)
	assert.Equal(t, `{"scenario_name":"x","trace":[{"op":"reopen","outcome":"ok","seq":1}]}`, got)
}
