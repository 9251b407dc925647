package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	code   int
	stdout string
	stderr string
}

// run executes the CLI against dataDir with the given stdin.
func run(t *testing.T, dataDir, stdin string, args ...string) result {
	t.Helper()
	t.Setenv("RECSTORE_DATA_DIR", "")
	t.Setenv("RECSTORE_SNAPSHOT_CODEC", "")
	t.Setenv("RECSTORE_AUTHOR", "")

	var stdout, stderr bytes.Buffer
	full := append([]string{"--data", dataDir}, args...)
	code := Execute(context.Background(), full, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

const (
	tplFlag = "complaint_record_v1"
	recFlag = "CR-2025-0001"
)

func saveVersion(t *testing.T, dataDir, body string) result {
	t.Helper()
	res := run(t, dataDir, body, "save", "-t", tplFlag, "-r", recFlag, "--author", "tanaka")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	return res
}

func seed(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	saveVersion(t, dir, `{"product_name":"ポンプA","complaint_date":"2025-01-10","status":"受付中"}`)
	saveVersion(t, dir, `{"product_name":"ポンプA","complaint_date":"2025-01-10","status":"完了"}`)
	return dir
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "recstore", cmd.Use)
	assert.Contains(t, cmd.Long, "version ledger")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"save", "show", "list", "versions", "payload", "diff", "export", "exports", "mirror", "orphans", "stats", "recovery", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	assert.NotNil(t, cmd.PersistentFlags().Lookup("data"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestSaveCommand_CreatesThenUpdates(t *testing.T) {
	dir := t.TempDir()

	first := saveVersion(t, dir, `{"status":"受付中"}`)
	assert.Equal(t, "Created complaint_record_v1/CR-2025-0001 v1 (complaint/CR-2025-0001/CR-2025-0001_v1.json)\n", first.stdout)

	second := run(t, dir, `{"status":"完了"}`, "--format", "json", "save", "-t", tplFlag, "-r", recFlag, "--author", "tanaka")
	require.Equal(t, ExitSuccess, second.code, second.stderr)

	var resp struct {
		Status      string `json:"status"`
		OperationID string `json:"operation_id"`
		Data        struct {
			Version  int    `json:"version"`
			FilePath string `json:"file_path"`
			Created  bool   `json:"created"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(second.stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.OperationID)
	assert.Equal(t, 2, resp.Data.Version)
	assert.False(t, resp.Data.Created)
	assert.Equal(t, "complaint/CR-2025-0001/CR-2025-0001_v2.json", resp.Data.FilePath)

	assert.FileExists(t, filepath.Join(dir, "records", "complaint", recFlag, "CR-2025-0001_v2.json"))
}

func TestSaveCommand_FromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(t.TempDir(), "record.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"status":"受付中"}`), 0o644))

	res := run(t, dir, "", "save", "-t", tplFlag, "-r", recFlag, "--author", "a", "-f", file)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "v1")
}

func TestSaveCommand_BadInput(t *testing.T) {
	dir := t.TempDir()

	res := run(t, dir, `[1,2]`, "save", "-t", tplFlag, "-r", recFlag, "--author", "a")
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, "failed to read payload")

	res = run(t, dir, `{"a":1}`, "save", "-t", tplFlag, "-r", "../escape", "--author", "a")
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, "Error [E_VALIDATION]")

	res = run(t, dir, `{"a":1}`, "save", "-t", tplFlag, "-r", recFlag)
	assert.Equal(t, ExitCommandError, res.code, "no author and no default author")
}

func TestMissingRequiredFlag(t *testing.T) {
	res := run(t, t.TempDir(), "", "show", "-t", tplFlag)
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, "required flag")
	assert.Contains(t, res.stderr, "record")
}

func TestSession_WarnsWithoutAdvisoryLocking(t *testing.T) {
	dir := t.TempDir()
	res := run(t, dir, "", "stats")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.NotContains(t, res.stderr, "advisory locking is unavailable")

	lockSupported = false
	t.Cleanup(func() { lockSupported = true })

	res = run(t, dir, "", "stats")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stderr, "advisory locking is unavailable")
}

func TestInvalidFormat(t *testing.T) {
	res := run(t, t.TempDir(), "", "--format", "yaml", "stats")
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, "invalid format")
}

func TestShowCommand(t *testing.T) {
	dir := seed(t)

	res := run(t, dir, "", "show", "-t", tplFlag, "-r", recFlag)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Status:     完了")
	assert.Contains(t, res.stdout, "Version:    2")
	assert.Contains(t, res.stdout, "Title:      CR-2025-0001 ポンプA")

	res = run(t, dir, "", "--format", "json", "show", "-t", tplFlag, "-r", "CR-404")
	assert.Equal(t, ExitFailure, res.code)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E_NOT_FOUND", resp.Error.Code)
}

func TestListAndVersionsCommands(t *testing.T) {
	dir := seed(t)

	res := run(t, dir, "", "list", "-t", tplFlag)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, recFlag)
	assert.Contains(t, res.stdout, "完了")

	res = run(t, dir, "", "list", "-t", "corrective_action_v1")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "No records for template corrective_action_v1")

	res = run(t, dir, "", "--format", "json", "versions", "-t", tplFlag, "-r", recFlag)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	var resp struct {
		Data []struct {
			Version int    `json:"version"`
			Status  string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, 2, resp.Data[0].Version)
	assert.Equal(t, "受付中", resp.Data[1].Status)
}

func TestPayloadCommand(t *testing.T) {
	dir := seed(t)

	res := run(t, dir, "", "payload", "-t", tplFlag, "-r", recFlag, "--version", "1", "--data-only")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &data))
	assert.Equal(t, "受付中", data["status"])
	assert.Equal(t, 1, strings.Count(res.stdout, "\n"), "one line when not a terminal")

	res = run(t, dir, "", "payload", "-t", tplFlag, "-r", recFlag)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	var b struct {
		Meta struct {
			Version   int    `json:"version"`
			UpdatedBy string `json:"updated_by"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &b))
	assert.Equal(t, 2, b.Meta.Version)
	assert.Equal(t, "tanaka", b.Meta.UpdatedBy)
}

func TestDiffCommand_Text(t *testing.T) {
	dir := seed(t)

	res := run(t, dir, "", "diff", "-t", tplFlag, "-r", recFlag, "--from", "1", "--to", "2")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "diff_complaint_v1_v2", []byte(res.stdout))
}

func TestDiffCommand_ChangedOnlyJSON(t *testing.T) {
	dir := seed(t)

	res := run(t, dir, "", "--format", "json", "diff", "-t", tplFlag, "-r", recFlag, "--from", "1", "--to", "2", "--changed-only")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	var resp struct {
		Data DiffResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.Equal(t, 1, resp.Data.Stats.Changed)
	assert.Equal(t, 3, resp.Data.Stats.Total)
	require.Len(t, resp.Data.Fields, 1)
	assert.Equal(t, "status", resp.Data.Fields[0].Field)
	assert.Equal(t, "受付中", resp.Data.Fields[0].OldText)
	assert.Equal(t, "完了", resp.Data.Fields[0].NewText)
}

func TestDiffCommand_RejectsVersionZero(t *testing.T) {
	res := run(t, seed(t), "", "diff", "-t", tplFlag, "-r", recFlag, "--from", "0", "--to", "2")
	assert.Equal(t, ExitCommandError, res.code)
}

func TestExportCommands(t *testing.T) {
	dir := seed(t)

	res := run(t, dir, "", "--format", "json", "export", "-t", tplFlag, "-r", recFlag, "--version", "99", "--artifact", "out/x.pdf", "--author", "tanaka")
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stdout, "E_NOT_FOUND")

	res = run(t, dir, "", "exports", "-t", tplFlag, "-r", recFlag)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "No exports")

	res = run(t, dir, "", "export", "-t", tplFlag, "-r", recFlag, "--artifact", "out/CR-2025-0001_v2.pdf", "--author", "tanaka", "--purpose", "顧客提出")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "Recorded export of complaint_record_v1/CR-2025-0001 v2 → out/CR-2025-0001_v2.pdf\n", res.stdout)

	res = run(t, dir, "", "exports", "-t", tplFlag, "-r", recFlag)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "顧客提出")
	assert.Contains(t, res.stdout, "out/CR-2025-0001_v2.pdf")
}

func TestMirrorCommand(t *testing.T) {
	dir := seed(t)
	out := filepath.Join(t.TempDir(), "report.db")

	res := run(t, dir, "", "--format", "json", "mirror", "--out", out)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.FileExists(t, out)

	var resp struct {
		Data MirrorResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.Equal(t, 1, resp.Data.Counts.Documents)
	assert.Equal(t, 2, resp.Data.Counts.Versions)
}

func TestOrphansAndStatsCommands(t *testing.T) {
	dir := seed(t)

	res := run(t, dir, "", "orphans")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "No orphan blobs\n", res.stdout)

	res = run(t, dir, "", "stats")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "1 documents, 2 versions, 0 exports")
	assert.Contains(t, res.stdout, "完了 1")
}

func TestRecoveryCommand(t *testing.T) {
	dir := seed(t)

	res := run(t, dir, "", "recovery")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "Snapshot OK (format 2)\n", res.stdout)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "db", "recstore.snapshot"), []byte("not a snapshot"), 0o644))

	res = run(t, dir, "", "--format", "json", "recovery")
	assert.Equal(t, ExitFailure, res.code)
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			RecoveryNeeded  bool   `json:"recovery_needed"`
			QuarantinedPath string `json:"quarantined_path"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp), "exactly one envelope on stdout")
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.RecoveryNeeded)
	assert.FileExists(t, resp.Data.QuarantinedPath)

	// The quarantined snapshot was moved aside; the next open starts fresh.
	res = run(t, dir, "", "recovery")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "No snapshot yet")
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "recstore.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("default_author: suzuki\nsnapshot_codec: zstd\n"), 0o644))

	res := run(t, dir, `{"status":"受付中"}`, "--config", cfgPath, "save", "-t", tplFlag, "-r", recFlag)
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	res = run(t, dir, "", "--config", cfgPath, "payload", "-t", tplFlag, "-r", recFlag)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"updated_by":"suzuki"`)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("no_such_key: 1\n"), 0o644))
	res = run(t, dir, "", "--config", bad, "stats")
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, "invalid configuration")
}
