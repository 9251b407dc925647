package blob

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/roach88/recstore/internal/storeerr"
)

// quarantineMarker is inserted into the name of blobs moved aside by
// Quarantine. Quarantined files are ignored by Orphans.
const quarantineMarker = ".orphan-"

// Store reads and writes version blobs beneath a root directory.
//
// Store holds no mutable state; callers serialize writes (the record store's
// mutation gate does this).
type Store struct {
	root string
}

// New creates a blob store rooted at dir. The directory is created lazily on
// first write.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the root directory.
func (s *Store) Root() string {
	return s.root
}

// Resolve turns a blob reference into a filesystem path.
func (s *Store) Resolve(ref string) string {
	return filepath.Join(s.root, filepath.FromSlash(ref))
}

// Write stores the blob and returns its reference.
//
// If a file already exists at the reference with identical bytes, Write
// succeeds without touching it. Different bytes yield a Conflict error: a
// blob is never overwritten.
func (s *Store) Write(b Blob) (string, error) {
	const op = "write blob"
	m := b.Meta

	if err := validateMeta(op, m); err != nil {
		return "", err
	}

	data, err := Encode(b)
	if err != nil {
		return "", storeerr.Validation(op, "encode: %v", err).WithRecord(m.TemplateID, m.RecordID, m.Version)
	}

	ref := Ref(m.TemplateID, m.RecordID, m.Version)
	full := s.Resolve(ref)

	existing, err := os.ReadFile(full)
	switch {
	case err == nil:
		if bytes.Equal(existing, data) {
			return ref, nil
		}
		return "", storeerr.Conflict(op, "blob %s already exists with different content", ref).
			WithRecord(m.TemplateID, m.RecordID, m.Version)
	case !errors.Is(err, fs.ErrNotExist):
		return "", storeerr.IO(op, err).WithRecord(m.TemplateID, m.RecordID, m.Version)
	}

	if err := writeFileAtomic(full, data); err != nil {
		return "", storeerr.IO(op, err).WithRecord(m.TemplateID, m.RecordID, m.Version)
	}
	return ref, nil
}

// Read loads the blob at ref.
func (s *Store) Read(ref string) (Blob, error) {
	const op = "read blob"

	data, err := os.ReadFile(s.Resolve(ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Blob{}, storeerr.NotFound(op, "blob %s does not exist", ref)
		}
		return Blob{}, storeerr.IO(op, err)
	}

	b, err := Decode(data)
	if err != nil {
		return Blob{}, storeerr.Corrupt(op, fmt.Errorf("%s: %w", ref, err))
	}
	return b, nil
}

// Exists reports whether a blob file is present at ref.
func (s *Store) Exists(ref string) (bool, error) {
	_, err := os.Stat(s.Resolve(ref))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, storeerr.IO("stat blob", err)
}

// Quarantine moves an unreferenced blob aside so its reference can be
// written again. The bytes are kept under a new name; nothing is deleted.
// Returns the new reference.
func (s *Store) Quarantine(ref string) (string, error) {
	moved := fmt.Sprintf("%s%s%d", ref, quarantineMarker, time.Now().UnixNano())
	if err := os.Rename(s.Resolve(ref), s.Resolve(moved)); err != nil {
		return "", storeerr.IO("quarantine blob", err)
	}
	return moved, nil
}

// List returns every blob reference under the root, sorted.
// Quarantined and temporary files are skipped.
func (s *Store) List() ([]string, error) {
	var refs []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == s.root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if path.Ext(name) != ".json" || strings.Contains(name, quarantineMarker) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		refs = append(refs, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, storeerr.IO("list blobs", err)
	}
	slices.Sort(refs)
	return refs, nil
}

// Orphans returns blob references that are not in known. These are the
// leftovers of saves that failed after the blob was written; they are
// harmless and reported only.
func (s *Store) Orphans(known map[string]struct{}) ([]string, error) {
	refs, err := s.List()
	if err != nil {
		return nil, err
	}
	orphans := []string{}
	for _, ref := range refs {
		if _, ok := known[ref]; !ok {
			orphans = append(orphans, ref)
		}
	}
	return orphans, nil
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it, and renames it into place. On failure the temp file is removed and the
// target is untouched.
func writeFileAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
