// Package store persists coverage documents in a local SQLite database,
// one row per run. Documents are stored as their canonical JSON bytes
// together with a content digest that is re-checked on every load, so a
// corrupted database surfaces as an error rather than as silently wrong
// coverage data.
package store

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/blake2b"

	"github.com/mhatzl/embedded-runner/internal/document"
)

// Store errors.
var (
	ErrRunExists      = errors.New("store: run id already stored")
	ErrDigestMismatch = errors.New("store: stored document does not match its digest")
)

// Schema for the run store.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id      TEXT PRIMARY KEY,
    created_at  INTEGER NOT NULL,  -- unix nanoseconds
    binary      TEXT,
    document    BLOB NOT NULL,
    digest      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`

// RunInfo describes one stored run without its document body.
type RunInfo struct {
	RunID     string
	CreatedAt time.Time
	Binary    string
	Digest    string
}

// Store is a SQLite-backed archive of coverage documents.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at the given path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Digest returns the hex blake2b-256 digest of canonical document bytes.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Save stores one document under its run id. The binary name is optional
// context for listings. Storing an already-stored run id fails with
// ErrRunExists; runs are immutable once archived.
func (s *Store) Save(doc *document.Coverage, binary string) error {
	data, err := doc.Encode()
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (run_id, created_at, binary, document, digest)
		VALUES (?, ?, ?, ?, ?)`,
		doc.RunID, time.Now().UnixNano(), binary, data, Digest(data),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrRunExists, doc.RunID)
		}
		return fmt.Errorf("store: insert run: %w", err)
	}

	return nil
}

// Get loads one document by run id, or (nil, nil) when absent.
func (s *Store) Get(runID string) (*document.Coverage, error) {
	var data []byte
	var digest string

	err := s.db.QueryRow(`
		SELECT document, digest FROM runs WHERE run_id = ?`, runID,
	).Scan(&data, &digest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get run: %w", err)
	}

	return decodeChecked(data, digest, runID)
}

// List returns stored run metadata ordered by creation time, oldest first.
func (s *Store) List() ([]RunInfo, error) {
	rows, err := s.db.Query(`
		SELECT run_id, created_at, binary, digest
		FROM runs
		ORDER BY created_at ASC, run_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var infos []RunInfo
	for rows.Next() {
		var info RunInfo
		var createdAt int64
		if err := rows.Scan(&info.RunID, &createdAt, &info.Binary, &info.Digest); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		info.CreatedAt = time.Unix(0, createdAt).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate runs: %w", err)
	}

	return infos, nil
}

// Documents loads every stored document ordered by creation time, oldest
// first, ready to hand to the merger.
func (s *Store) Documents() ([]*document.Coverage, error) {
	rows, err := s.db.Query(`
		SELECT run_id, document, digest
		FROM runs
		ORDER BY created_at ASC, run_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: load documents: %w", err)
	}
	defer rows.Close()

	var docs []*document.Coverage
	for rows.Next() {
		var runID, digest string
		var data []byte
		if err := rows.Scan(&runID, &data, &digest); err != nil {
			return nil, fmt.Errorf("store: scan document: %w", err)
		}
		doc, err := decodeChecked(data, digest, runID)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate documents: %w", err)
	}

	return docs, nil
}

// decodeChecked verifies the digest before decoding.
func decodeChecked(data []byte, digest, runID string) (*document.Coverage, error) {
	if Digest(data) != digest {
		return nil, fmt.Errorf("%w: run %q", ErrDigestMismatch, runID)
	}
	doc, err := document.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("store: run %q: %w", runID, err)
	}
	return doc, nil
}

// isUniqueViolation reports whether an insert failed on the runs primary key.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
