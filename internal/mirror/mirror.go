// Package mirror writes the record index into a SQLite database for
// external reporting tools.
//
// The mirror is read-only output: the snapshot stays the source of truth
// and nothing is ever read back from a mirror into the store. A mirror is
// rebuilt wholesale from an index.State on every export.
//
// # Database Configuration
//
//   - journal_mode=DELETE: the output is a single self-contained file
//   - synchronous=NORMAL
//   - foreign_keys=ON: version and export rows must reference a document
//
// Schema changes are tracked with PRAGMA user_version.
package mirror

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/recstore/internal/index"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (document_versions without status)
// 1 - Added document_versions.status
const currentSchemaVersion = 1

// timeLayout is how timestamps are stored in TEXT columns.
const timeLayout = time.RFC3339Nano

// Mirror is an open mirror database.
type Mirror struct {
	db *sql.DB
}

// Counts holds row counts per table.
type Counts struct {
	Documents int `json:"documents"`
	Versions  int `json:"document_versions"`
	Exports   int `json:"pdf_exports"`
}

// Open creates or opens a mirror database at path, applying pragmas and
// migrations. Safe to call on an existing mirror.
func Open(path string) (*Mirror, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Mirror{db: db}, nil
}

// Close closes the database.
func (m *Mirror) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// DB returns the underlying database for ad-hoc queries.
func (m *Mirror) DB() *sql.DB {
	return m.db
}

// Replace swaps the mirror's contents for s in one transaction.
func (m *Mirror) Replace(ctx context.Context, s index.State) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace mirror: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"pdf_exports", "document_versions", "documents"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("replace mirror: clear %s: %w", table, err)
		}
	}

	if err := insertDocuments(ctx, tx, s.Documents); err != nil {
		return err
	}
	if err := insertVersions(ctx, tx, s.Versions); err != nil {
		return err
	}
	if err := insertExports(ctx, tx, s.Exports); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace mirror: commit: %w", err)
	}
	return nil
}

// Counts returns the row count of each table.
func (m *Mirror) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	row := m.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM document_versions),
			(SELECT COUNT(*) FROM pdf_exports)
	`)
	if err := row.Scan(&c.Documents, &c.Versions, &c.Exports); err != nil {
		return Counts{}, fmt.Errorf("count mirror rows: %w", err)
	}
	return c, nil
}

// Export writes s into a new mirror file at path. The file is built next to
// the target and renamed into place, so readers never see a partial mirror.
func Export(ctx context.Context, path string, s index.State) (Counts, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Counts{}, fmt.Errorf("export mirror: %w", err)
	}
	tmp := fmt.Sprintf("%s.tmp-%d", path, time.Now().UnixNano())

	counts, err := build(ctx, tmp, s)
	if err != nil {
		_ = os.Remove(tmp)
		return Counts{}, fmt.Errorf("export mirror: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return Counts{}, fmt.Errorf("export mirror: %w", err)
	}
	return counts, nil
}

func build(ctx context.Context, path string, s index.State) (Counts, error) {
	m, err := Open(path)
	if err != nil {
		return Counts{}, err
	}
	if err := m.Replace(ctx, s); err != nil {
		m.Close()
		return Counts{}, err
	}
	counts, err := m.Counts(ctx)
	if cerr := m.Close(); err == nil {
		err = cerr
	}
	return counts, err
}

func insertDocuments(ctx context.Context, tx *sql.Tx, docs []index.Document) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents
		(id, record_id, template_id, latest_version, title, status, product_name,
		 complaint_date, source_record_id, due_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write documents: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		_, err := stmt.ExecContext(ctx,
			d.ID, d.RecordID, d.TemplateID, d.LatestVersion,
			nullable(d.Title), nullable(d.Status), nullable(d.ProductName),
			nullable(d.ComplaintDate), nullable(d.SourceRecordID), nullable(d.DueDate),
			d.CreatedAt.UTC().Format(timeLayout), d.UpdatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("write document %d: %w", d.ID, err)
		}
	}
	return nil
}

func insertVersions(ctx context.Context, tx *sql.Tx, versions []index.Version) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_versions
		(id, document_id, version, file_path, status, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write versions: %w", err)
	}
	defer stmt.Close()

	for _, v := range versions {
		_, err := stmt.ExecContext(ctx,
			v.ID, v.DocumentID, v.Version, v.BlobRef, nullable(v.Status),
			v.CreatedAt.UTC().Format(timeLayout), v.CreatedBy,
		)
		if err != nil {
			return fmt.Errorf("write version %d: %w", v.ID, err)
		}
	}
	return nil
}

func insertExports(ctx context.Context, tx *sql.Tx, exports []index.ExportAudit) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pdf_exports
		(id, document_id, version, file_path, exported_at, exported_by, purpose)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write exports: %w", err)
	}
	defer stmt.Close()

	for _, e := range exports {
		_, err := stmt.ExecContext(ctx,
			e.ID, e.DocumentID, e.Version, e.ArtifactPath,
			e.ExportedAt.UTC().Format(timeLayout), e.ExportedBy, nullable(e.Purpose),
		)
		if err != nil {
			return fmt.Errorf("write export %d: %w", e.ID, err)
		}
	}
	return nil
}

// nullable stores empty optional text as NULL, as the application did.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = DELETE",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds document_versions.status. Mirrors written before the
// column existed lack it; the base schema never declares it, so every
// database passes through here exactly once.
func migrateToV1(db *sql.DB) error {
	has, err := hasColumn(db, "document_versions", "status")
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	if has {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE document_versions ADD COLUMN status TEXT`); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
