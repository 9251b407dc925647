package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recstore/internal/lock"
	"github.com/roach88/recstore/internal/storeerr"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONWithOperationID(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.JSON(map[string]int{"version": 2}, "op-0001"))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "op-0001", resp.OperationID)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("E_NOT_FOUND", "document does not exist", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "document does not exist", resp.Error.Message)
}

func TestOutputFormatter_FailureCarriesStoreDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	storeErr := storeerr.IO("save record", errors.New("disk full")).
		WithRecord("complaint_record_v1", "CR-1", 3).
		WithStage("persisted")
	require.NoError(t, formatter.Failure(storeFailure("save failed", storeErr)))

	var resp struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "E_IO", resp.Error.Code)
	assert.Equal(t, "persisted", resp.Error.Details["stage"])
	assert.Equal(t, "CR-1", resp.Error.Details["record_id"])
	assert.Equal(t, float64(3), resp.Error.Details["version"])
	assert.Equal(t, true, resp.Error.Details["retryable"])
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("Snapshot OK")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Snapshot OK")
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("E_CONFLICT", "expected version 3, got 4", map[string]string{"op": "save"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E_CONFLICT]")
	assert.Contains(t, buf.String(), "expected version 3")
	assert.NotContains(t, buf.String(), "Details:")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"op": "save"}
	err := formatter.Error("E_CONFLICT", "conflict", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E_CONFLICT]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			errBuf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    buf,
				ErrWriter: errBuf,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("Processing %s", "CR-1")

			assert.Empty(t, buf.String(), "diagnostics never touch stdout")
			if tt.wantLog {
				assert.Contains(t, errBuf.String(), "Processing CR-1")
			} else {
				assert.Empty(t, errBuf.String())
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{storeerr.NotFound("op", "missing"), "E_NOT_FOUND"},
		{storeerr.Conflict("op", "clash"), "E_CONFLICT"},
		{storeerr.Corrupt("op", errors.New("bad json")), "E_CORRUPT"},
		{storeerr.IO("op", errors.New("eio")), "E_IO"},
		{storeerr.Validation("op", "empty"), "E_VALIDATION"},
		{storeFailure("save failed", storeerr.NotFound("op", "missing")), "E_NOT_FOUND"},
		{fmt.Errorf("data/db/recstore.snapshot.lock: %w", lock.ErrLocked), "E_LOCKED"},
		{NewExitError(ExitCommandError, "bad flag"), "E_USAGE"},
		{errors.New("boom"), "E_INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestStoreFailure_ExitCodes(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(storeFailure("x", storeerr.Validation("op", "bad"))))
	assert.Equal(t, ExitFailure, GetExitCode(storeFailure("x", storeerr.NotFound("op", "missing"))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestExitError_Unwrap(t *testing.T) {
	inner := storeerr.Conflict("op", "clash")
	err := WrapExitError(ExitFailure, "save failed", inner)

	assert.True(t, errors.Is(err, storeerr.ErrConflict))
	assert.Contains(t, err.Error(), "save failed: ")
}
