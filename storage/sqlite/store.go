// Package sqlite keeps media blobs in a SQLite database, split into
// fixed-size chunks so large images never need a single huge row.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/L1ghtError/LimbWorker/errors"
	"github.com/L1ghtError/LimbWorker/storage"
)

const busyTimeout = 5 * time.Second

// ChunkSize is the size of every chunk except the last one of a file.
const ChunkSize = 255 << 10

// Store implements storage.Store on a SQLite database.
type Store struct {
	db        *sql.DB
	chunkSize int
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithChunkSize overrides ChunkSize.
func WithChunkSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// Open opens (and creates if needed) the database at path and ensures the
// media tables exist.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "sqlite", "Open", "database path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &Store{db: db, chunkSize: ChunkSize}
	for _, opt := range opts {
		opt(s)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// dsn carries the pragmas in the connection string so every pooled
// connection gets them, not only the one that happened to run a PRAGMA.
// Write transactions take the lock up front so concurrent Puts queue on
// busy_timeout instead of failing on a lock upgrade.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Set("_txlock", "immediate")
	return "file:" + filepath.ToSlash(path) + "?" + q.Encode()
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS media_files (
  id          TEXT PRIMARY KEY,
  name        TEXT NOT NULL UNIQUE,
  length      INTEGER NOT NULL,
  chunk_size  INTEGER NOT NULL,
  uploaded_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS media_chunks (
  file_id TEXT NOT NULL REFERENCES media_files(id) ON DELETE CASCADE,
  n       INTEGER NOT NULL,
  data    BLOB NOT NULL,
  PRIMARY KEY (file_id, n)
);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

// Get reassembles file id from its chunks.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	if err := storage.ValidateID(id); err != nil {
		return nil, err
	}

	var fileID string
	var length int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, length FROM media_files WHERE name = ?;", id).Scan(&fileID, &length)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFound(id)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "sqlite", "Get", "read file "+id)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT n, data FROM media_chunks WHERE file_id = ? ORDER BY n;", fileID)
	if err != nil {
		return nil, errors.WrapTransient(err, "sqlite", "Get", "read chunks "+id)
	}
	defer rows.Close()

	out := make([]byte, 0, length)
	want := 0
	for rows.Next() {
		var n int
		var chunk []byte
		if err := rows.Scan(&n, &chunk); err != nil {
			return nil, errors.WrapTransient(err, "sqlite", "Get", "scan chunk")
		}
		if n != want {
			return nil, errors.Newf(errors.KindIncomplete, "file %s: missing chunk %d", id, want)
		}
		out = append(out, chunk...)
		want++
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "sqlite", "Get", "iterate chunks")
	}
	if int64(len(out)) != length {
		return nil, errors.Newf(errors.KindIncomplete, "file %s: have %d of %d bytes", id, len(out), length)
	}
	return out, nil
}

// Put replaces file id with data in a single transaction.
func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	if err := storage.ValidateID(id); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransient(err, "sqlite", "Put", "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM media_files WHERE name = ?;", id); err != nil {
		return errors.WrapTransient(err, "sqlite", "Put", "replace file "+id)
	}

	fileID := uuid.NewString()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO media_files (id, name, length, chunk_size, uploaded_at) VALUES (?, ?, ?, ?, ?);",
		fileID, id, len(data), s.chunkSize, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errors.WrapTransient(err, "sqlite", "Put", "insert file "+id)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO media_chunks (file_id, n, data) VALUES (?, ?, ?);")
	if err != nil {
		return errors.WrapTransient(err, "sqlite", "Put", "prepare chunk insert")
	}
	defer stmt.Close()

	for n, off := 0, 0; off < len(data); n++ {
		end := min(off+s.chunkSize, len(data))
		if _, err := stmt.ExecContext(ctx, fileID, n, data[off:end]); err != nil {
			return errors.WrapTransient(err, "sqlite", "Put", fmt.Sprintf("insert chunk %d", n))
		}
		off = end
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapTransient(err, "sqlite", "Put", "commit")
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
