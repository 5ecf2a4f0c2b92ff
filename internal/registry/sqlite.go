// Package registry stores file metadata and drives the status state machine.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS files (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	name   TEXT NOT NULL UNIQUE,
	uid    TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'Uploaded'
);
`

// Store is a SQLite-backed file registry.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the registry database at path and
// applies the schema. Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("registry path required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create registry dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction, committing on nil error and
// rolling back otherwise. The rollback on the error path guarantees a
// failed transition never leaves a half-committed row behind.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Create inserts a new FileRecord with a fresh uid and status Uploaded.
// Returns ErrDuplicateName if a record with the same name exists; no row
// is created in that case.
func (s *Store) Create(ctx context.Context, name string) (string, error) {
	uid := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files(name, uid, status) VALUES(?, ?, ?)`,
		name, uid, StatusUploaded)
	if err != nil {
		if isDuplicateName(err) {
			return "", ErrDuplicateName
		}
		return "", fmt.Errorf("insert file: %w", err)
	}
	return uid, nil
}

// isDuplicateName reports whether err is a uniqueness violation on the
// name column. The driver surfaces constraint failures as wrapped
// strings naming the violated index, so the match is pinned to
// files.name rather than any UNIQUE failure.
func isDuplicateName(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: files.name")
}

// Get returns the record with the given uid, or ErrNotFound.
func (s *Store) Get(ctx context.Context, uid string) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, uid, status FROM files WHERE uid = ?`, uid)
	return scanFile(row)
}

// List returns all records in insertion order.
func (s *Store) List(ctx context.Context) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, uid, status FROM files ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		var f FileRecord
		if err := rows.Scan(&f.ID, &f.Name, &f.UID, &f.Status); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// FirstByStatus returns the oldest record (lowest id, i.e. earliest
// insertion) with the given status, or nil when none exists. Oldest-first
// is the documented selection policy for the scheduler's claim.
func (s *Store) FirstByStatus(ctx context.Context, status Status) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, uid, status FROM files WHERE status = ? ORDER BY id ASC LIMIT 1`,
		status)
	f, err := scanFile(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return f, err
}

// SetStatus commits a status transition in its own transaction. The
// commit completes before SetStatus returns, so the caller may rely on
// the new status being durable before starting the next pipeline stage.
func (s *Store) SetStatus(ctx context.Context, id int64, status Status) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE files SET status = ? WHERE id = ?`, status, id)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Delete removes the record with the given uid. Cleanup of file bytes
// and the vector collection is orchestrated by the caller.
func (s *Store) Delete(ctx context.Context, uid string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE uid = ?`, uid)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns all users in insertion order.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// AddUser inserts a user row. Used by seeding and tests.
func (s *Store) AddUser(ctx context.Context, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO users(name) VALUES(?)`, name)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return res.LastInsertId()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*FileRecord, error) {
	var f FileRecord
	err := row.Scan(&f.ID, &f.Name, &f.UID, &f.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return &f, nil
}
