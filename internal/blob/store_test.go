package blob

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recstore/internal/payload"
	"github.com/roach88/recstore/internal/storeerr"
)

var testTime = time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC)

func testBlob(version int, data payload.Object) Blob {
	return Blob{
		Meta: Meta{
			RecordID:   "CR-2025-0001",
			TemplateID: "complaint_record_v1",
			Version:    version,
			CreatedAt:  testTime,
			UpdatedAt:  testTime.Add(time.Duration(version) * time.Minute),
			UpdatedBy:  "tanaka",
		},
		Data: data,
	}
}

func TestRef_Layout(t *testing.T) {
	assert.Equal(t, "complaint/CR-1/CR-1_v3.json", Ref("complaint_record_v1", "CR-1", 3))
	assert.Equal(t, "corrective/CA-9/CA-9_v1.json", Ref("corrective_action_v1", "CA-9", 1))
	assert.Equal(t, "custom_tpl/R1/R1_v12.json", Ref("custom_tpl", "R1", 12))
}

func TestWriteRead_RoundTrip(t *testing.T) {
	s := New(t.TempDir())
	b := testBlob(1, payload.Object{
		"status":  payload.String("受付中"),
		"qty":     payload.Number("12"),
		"details": payload.Object{"lot": payload.String("L-7")},
	})

	ref, err := s.Write(b)
	require.NoError(t, err)
	assert.Equal(t, "complaint/CR-2025-0001/CR-2025-0001_v1.json", ref)
	assert.FileExists(t, filepath.Join(s.Root(), "complaint", "CR-2025-0001", "CR-2025-0001_v1.json"))

	got, err := s.Read(ref)
	require.NoError(t, err)
	assert.Equal(t, b.Data, got.Data)
	assert.Equal(t, b.Meta.RecordID, got.Meta.RecordID)
	assert.Equal(t, b.Meta.Version, got.Meta.Version)
	assert.True(t, b.Meta.UpdatedAt.Equal(got.Meta.UpdatedAt))
}

func TestWrite_IdempotentRetry(t *testing.T) {
	s := New(t.TempDir())
	b := testBlob(2, payload.Object{"status": payload.String("完了")})

	ref1, err := s.Write(b)
	require.NoError(t, err)
	before, err := os.ReadFile(s.Resolve(ref1))
	require.NoError(t, err)

	ref2, err := s.Write(b)
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)

	after, err := os.ReadFile(s.Resolve(ref2))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestWrite_NeverOverwrites(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Write(testBlob(1, payload.Object{"status": payload.String("受付中")}))
	require.NoError(t, err)

	_, err = s.Write(testBlob(1, payload.Object{"status": payload.String("完了")}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, storeerr.ErrConflict))

	got, err := s.Read(Ref("complaint_record_v1", "CR-2025-0001", 1))
	require.NoError(t, err)
	assert.Equal(t, payload.String("受付中"), got.Data["status"], "original content must survive")
}

func TestWrite_ValidatesIdentity(t *testing.T) {
	s := New(t.TempDir())

	tests := []struct {
		name string
		mut  func(*Blob)
	}{
		{"empty record", func(b *Blob) { b.Meta.RecordID = "" }},
		{"traversal record", func(b *Blob) { b.Meta.RecordID = "../etc" }},
		{"dotdot record", func(b *Blob) { b.Meta.RecordID = ".." }},
		{"slash template", func(b *Blob) { b.Meta.TemplateID = "a/b" }},
		{"zero version", func(b *Blob) { b.Meta.Version = 0 }},
		{"nil data", func(b *Blob) { b.Data = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBlob(1, payload.Object{})
			tt.mut(&b)
			_, err := s.Write(b)
			require.Error(t, err)
			assert.True(t, errors.Is(err, storeerr.ErrValidation), "got %v", err)
		})
	}
}

func TestRead_NotFound(t *testing.T) {
	s := New(t.TempDir())

	_, err := s.Read("complaint/CR-X/CR-X_v1.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storeerr.ErrNotFound))
}

func TestRead_Corrupt(t *testing.T) {
	s := New(t.TempDir())
	ref := "complaint/CR-X/CR-X_v1.json"
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Resolve(ref)), 0o755))

	for _, content := range []string{`{not json`, `{"meta":{},"data":{}}`, `{"meta":{"record_id":"CR-X","template_id":"t","version":1}}`} {
		require.NoError(t, os.WriteFile(s.Resolve(ref), []byte(content), 0o644))
		_, err := s.Read(ref)
		require.Error(t, err, "content %s", content)
		assert.True(t, errors.Is(err, storeerr.ErrCorrupt), "content %s: %v", content, err)
	}
}

func TestQuarantineAndOrphans(t *testing.T) {
	s := New(t.TempDir())
	ref1, err := s.Write(testBlob(1, payload.Object{"a": payload.Number("1")}))
	require.NoError(t, err)
	ref2, err := s.Write(testBlob(2, payload.Object{"a": payload.Number("2")}))
	require.NoError(t, err)

	orphans, err := s.Orphans(map[string]struct{}{ref1: {}})
	require.NoError(t, err)
	assert.Equal(t, []string{ref2}, orphans)

	moved, err := s.Quarantine(ref2)
	require.NoError(t, err)
	assert.FileExists(t, s.Resolve(moved))

	exists, err := s.Exists(ref2)
	require.NoError(t, err)
	assert.False(t, exists)

	orphans, err = s.Orphans(map[string]struct{}{ref1: {}})
	require.NoError(t, err)
	assert.Empty(t, orphans, "quarantined files are not reported")
}

func TestList_MissingRoot(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "absent"))

	refs, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, refs)
}
