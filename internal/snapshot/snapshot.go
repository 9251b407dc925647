// Package snapshot persists the whole relational index as a single file.
//
// The file is a JSON envelope around the serialized index tables:
//
//	{"format": 2, "store_id": "...", "saved_at": "...",
//	 "codec": "zstd", "checksum": "<xxh3-64 hex>", "body": "<base64>"}
//
// The checksum covers the uncompressed body. Persist replaces the file
// atomically (temp file, fsync, rename, directory fsync), so a crash at any
// point leaves either the previous snapshot or the new one, never a mix.
//
// A snapshot that cannot be decoded or verified is never fatal. LoadOrInit
// moves it aside as <path>.corrupt-<nanos>, starts from an empty index, and
// sets LoadReport.RecoveryNeeded so the caller can surface the condition.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"

	"github.com/roach88/recstore/internal/index"
	"github.com/roach88/recstore/internal/storeerr"
)

// CurrentFormat is the envelope format written by Persist.
//
// Format history:
//   - 1: version rows carry no status column
//   - 2: version rows carry the status hint of their payload
const CurrentFormat = 2

// Codec selects the body compression.
type Codec string

const (
	CodecNone Codec = "none"
	CodecZstd Codec = "zstd"
)

// ParseCodec validates a codec name. The empty string selects CodecNone.
func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case "", CodecNone:
		return CodecNone, nil
	case CodecZstd:
		return CodecZstd, nil
	}
	return "", fmt.Errorf("unknown snapshot codec %q (want none or zstd)", s)
}

// LoadReport describes what LoadOrInit found on disk.
type LoadReport struct {
	// Fresh is true when no snapshot existed.
	Fresh bool `json:"fresh"`

	// RecoveryNeeded is true when a snapshot existed but could not be
	// restored. The index starts empty and the blobs on disk are untouched.
	RecoveryNeeded bool `json:"recovery_needed"`

	// QuarantinedPath is where the unreadable snapshot was moved.
	QuarantinedPath string `json:"quarantined_path,omitempty"`

	// Reason describes the decode or verification failure.
	Reason string `json:"reason,omitempty"`

	// Format is the envelope format that was loaded (0 if none).
	Format int `json:"format,omitempty"`
}

type envelope struct {
	Format   int       `json:"format"`
	StoreID  string    `json:"store_id"`
	SavedAt  time.Time `json:"saved_at"`
	Codec    Codec     `json:"codec"`
	Checksum string    `json:"checksum"`
	Body     []byte    `json:"body"`
}

// Manager loads and persists the snapshot at one path.
//
// Manager is not safe for concurrent use; the record store calls it under
// its mutation gate.
type Manager struct {
	path    string
	codec   Codec
	now     func() time.Time
	storeID string

	// beforeRename runs after the temp file is durable and before it
	// replaces the snapshot. Tests use it to inject failures.
	beforeRename func(tmpPath string) error

	// afterRename runs once the new snapshot is in place, before the
	// directory fsync. A failure there is reported like a failed sync.
	afterRename func(path string) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithCodec sets the body compression used by Persist.
func WithCodec(c Codec) Option {
	return func(m *Manager) { m.codec = c }
}

// WithAfterRename installs a hook that runs after the new snapshot has
// replaced the old one and before the directory is synced.
func WithAfterRename(fn func(path string) error) Option {
	return func(m *Manager) { m.afterRename = fn }
}

// WithClock sets the time source for saved_at.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a manager for the snapshot file at path.
func New(path string, opts ...Option) *Manager {
	m := &Manager{
		path:  path,
		codec: CodecNone,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns the snapshot file path.
func (m *Manager) Path() string {
	return m.path
}

// StoreID returns the identity of the store, assigned when the first
// snapshot is initialized and preserved across persists.
func (m *Manager) StoreID() string {
	return m.storeID
}

// LoadOrInit restores the index from disk.
//
// A missing file yields an empty index. An unreadable or inconsistent file
// yields an empty index and a report with RecoveryNeeded set. Only
// filesystem failures are returned as errors.
func (m *Manager) LoadOrInit() (*index.Index, LoadReport, error) {
	const op = "load snapshot"

	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		m.storeID = uuid.NewString()
		return index.New(), LoadReport{Fresh: true}, nil
	}
	if err != nil {
		return nil, LoadReport{}, storeerr.IO(op, err)
	}

	ix, env, err := decode(data)
	if err == nil {
		m.storeID = env.StoreID
		if m.storeID == "" {
			m.storeID = uuid.NewString()
		}
		return ix, LoadReport{Format: env.Format}, nil
	}

	quarantined := fmt.Sprintf("%s.corrupt-%d", m.path, time.Now().UnixNano())
	if rerr := os.Rename(m.path, quarantined); rerr != nil {
		return nil, LoadReport{}, storeerr.IO(op, fmt.Errorf("quarantine unreadable snapshot: %w", rerr))
	}
	m.storeID = uuid.NewString()
	return index.New(), LoadReport{
		RecoveryNeeded:  true,
		QuarantinedPath: quarantined,
		Reason:          err.Error(),
	}, nil
}

// ErrNotSynced reports that the new snapshot replaced the previous one but
// the directory could not be synced. The file on disk holds the new index;
// the rename itself may not survive a power loss.
var ErrNotSynced = errors.New("snapshot replaced but directory sync failed")

// Persist writes the whole index, replacing the previous snapshot
// atomically. On failure the previous snapshot is untouched, except when
// the error wraps ErrNotSynced: then the new snapshot is already in place.
func (m *Manager) Persist(ix *index.Index) error {
	const op = "persist snapshot"

	if m.storeID == "" {
		m.storeID = uuid.NewString()
	}

	data, err := m.encode(ix)
	if err != nil {
		return storeerr.Corrupt(op, err)
	}
	if err := m.writeAtomic(data); err != nil {
		return storeerr.IO(op, err)
	}
	return nil
}

func (m *Manager) encode(ix *index.Index) ([]byte, error) {
	raw, err := json.Marshal(ix.State())
	if err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}

	env := envelope{
		Format:   CurrentFormat,
		StoreID:  m.storeID,
		SavedAt:  m.now().UTC(),
		Codec:    m.codec,
		Checksum: checksum(raw),
		Body:     raw,
	}
	if m.codec == CodecZstd {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		env.Body = enc.EncodeAll(raw, nil)
		_ = enc.Close()
	}
	return json.MarshalIndent(env, "", "  ")
}

func decode(data []byte) (*index.Index, envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, env, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Format < 1 || env.Format > CurrentFormat {
		return nil, env, fmt.Errorf("unsupported snapshot format %d", env.Format)
	}

	raw := env.Body
	switch env.Codec {
	case "", CodecNone:
	case CodecZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, env, fmt.Errorf("zstd decoder: %w", err)
		}
		defer dec.Close()
		if raw, err = dec.DecodeAll(env.Body, nil); err != nil {
			return nil, env, fmt.Errorf("decompress body: %w", err)
		}
	default:
		return nil, env, fmt.Errorf("unknown codec %q", env.Codec)
	}

	if sum := checksum(raw); sum != env.Checksum {
		return nil, env, fmt.Errorf("checksum mismatch: stored %s, computed %s", env.Checksum, sum)
	}

	var state index.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, env, fmt.Errorf("parse index body: %w", err)
	}
	if env.Format == 1 {
		backfillVersionStatus(&state)
	}

	ix, err := index.FromState(state)
	if err != nil {
		return nil, env, fmt.Errorf("verify index: %w", err)
	}
	return ix, env, nil
}

// backfillVersionStatus upgrades a format 1 body. Only the latest version's
// status is recoverable: it is the document's current status.
func backfillVersionStatus(s *index.State) {
	latest := make(map[int64]index.Document, len(s.Documents))
	for _, d := range s.Documents {
		latest[d.ID] = d
	}
	for i := range s.Versions {
		v := &s.Versions[i]
		if d, ok := latest[v.DocumentID]; ok && v.Status == "" && v.Version == d.LatestVersion {
			v.Status = d.Status
		}
	}
}

func checksum(b []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(b))
}

func (m *Manager) writeAtomic(data []byte) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(m.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if m.beforeRename != nil {
		if err := m.beforeRename(tmpPath); err != nil {
			cleanup()
			return err
		}
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		cleanup()
		return fmt.Errorf("rename into place: %w", err)
	}
	if m.afterRename != nil {
		if err := m.afterRename(m.path); err != nil {
			return fmt.Errorf("%w: %w", ErrNotSynced, err)
		}
	}
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("%w: %w", ErrNotSynced, err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}
