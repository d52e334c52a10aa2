// Package metastore persists per-blob metadata in an embedded SQLite
// database, keyed by the blob's canonical absolute path.
//
// The store is a plain key-value table: one row per blob, the value a
// JSON-serialized cubby.BlobMetadata. Single-key operations are atomic;
// nothing spans the metadata store and the filesystem, so callers order
// their writes to keep the inconsistency window small.
package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/cubbyd/cubby"
	"github.com/cubbyd/cubby/pathsafe"
)

// Store is a SQLite-backed metadata store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the metadata database at the given DSN and
// initializes its schema. The returned Store is safe for concurrent use.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init metadata db: %w", err)
	}
	return s, nil
}

// init applies PRAGMAs and creates the metadata table. Idempotent.
func (s *Store) init(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS blob_metadata (
			path  BLOB PRIMARY KEY,
			value TEXT NOT NULL
		);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the metadata record for the blob, or a default record (fresh
// access key, default content type, no deletion date) when none is stored.
// The default-on-miss behavior is deliberately lenient for reads; the upload
// path treats an existing file whose record cannot be read as inconsistent.
func (s *Store) Get(ctx context.Context, p pathsafe.Blob) (cubby.BlobMetadata, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM blob_metadata WHERE path = ?`, []byte(p.Abs()),
	).Scan(&raw)

	if errors.Is(err, sql.ErrNoRows) {
		return cubby.NewBlobMetadata(""), nil
	}
	if err != nil {
		return cubby.BlobMetadata{}, internalErr("get metadata", err)
	}

	var meta cubby.BlobMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return cubby.BlobMetadata{}, internalErr("decode metadata", err)
	}
	return meta, nil
}

// internalErr tags an opaque store or serialization failure with
// cubby.ErrInternal.
func internalErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, cubby.ErrInternal, err)
}

// CreateOnly inserts a record for a path that must not already have one.
// Returns cubby.ErrConflict if a record exists.
func (s *Store) CreateOnly(ctx context.Context, p pathsafe.NewBlob, meta cubby.BlobMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return internalErr("encode metadata", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO blob_metadata (path, value) VALUES (?, ?)`,
		[]byte(p.Abs()), string(raw))
	if isConstraintErr(err) {
		return fmt.Errorf("create metadata: %w", cubby.ErrConflict)
	}
	if err != nil {
		return internalErr("create metadata", err)
	}
	return nil
}

// Save writes the record unconditionally, replacing any existing one. Used
// for soft-delete marking and download count increments.
func (s *Store) Save(ctx context.Context, p pathsafe.Blob, meta cubby.BlobMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return internalErr("encode metadata", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO blob_metadata (path, value) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET value = excluded.value`,
		[]byte(p.Abs()), string(raw))
	if err != nil {
		return internalErr("save metadata", err)
	}
	return nil
}

// Remove deletes the record entirely. Used only when a soft-deleted path is
// about to be reused.
func (s *Store) Remove(ctx context.Context, p pathsafe.Blob) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM blob_metadata WHERE path = ?`, []byte(p.Abs())); err != nil {
		return internalErr("remove metadata", err)
	}
	return nil
}

// DeletedBefore returns the paths of all records soft-deleted before the
// cutoff. Records that fail to decode are skipped; the caller deals in
// filesystem truth anyway.
func (s *Store) DeletedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, value FROM blob_metadata`)
	if err != nil {
		return nil, internalErr("list metadata", err)
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var path, raw []byte
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, internalErr("scan metadata", err)
		}

		var meta cubby.BlobMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		if meta.Deleted() && meta.DeletionDate.Before(cutoff) {
			paths = append(paths, string(path))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr("list metadata", err)
	}
	return paths, nil
}

// RemovePath deletes a record by its raw key. Used by purge for records
// whose content file is already gone and cannot be re-resolved.
func (s *Store) RemovePath(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM blob_metadata WHERE path = ?`, []byte(path)); err != nil {
		return internalErr("remove metadata", err)
	}
	return nil
}

func isConstraintErr(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	case sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlitelib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
