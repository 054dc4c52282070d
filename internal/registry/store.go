// Package registry persists the collection registry: which collections exist,
// where they are stored and whether they are enabled for default queries.
//
// The registry is a SQLite database (pure Go, modernc.org/sqlite) opened in
// WAL mode with a busy timeout so concurrent CLI invocations can share it.
// Schema changes ship as embedded, versioned migrations.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fyrsmithlabs/corpora/internal/config"
	"github.com/fyrsmithlabs/corpora/internal/registry/migrations"
)

var (
	// ErrNotFound indicates no registry row for the name.
	ErrNotFound = errors.New("collection not registered")

	// ErrAlreadyRegistered indicates a row already exists for the name.
	ErrAlreadyRegistered = errors.New("collection already registered")
)

// Entry is one registered collection.
type Entry struct {
	Name           string    `json:"name"`
	StorageLocator string    `json:"storage_locator"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store is the SQLite-backed registry.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the registry database at path. "~" is
// expanded and parent directories are created.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("registry path required")
	}
	path, err := config.ExpandPath(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening registry database: %w", err)
	}

	s := &Store{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate applies every embedded NNN_name.up.sql newer than the recorded version.
func (s *Store) migrate(fsys fs.FS) error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
	}
	return nil
}

// Register inserts a new entry with CreatedAt and UpdatedAt set to now.
func (s *Store) Register(ctx context.Context, e Entry) error {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (name, storage_locator, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.Name, e.StorageLocator, boolToInt(e.Enabled), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, e.Name)
		}
		return fmt.Errorf("registering %s: %w", e.Name, err)
	}
	return nil
}

// Get returns the entry for name or ErrNotFound.
func (s *Store) Get(ctx context.Context, name string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, storage_locator, enabled, created_at, updated_at
		FROM collections WHERE name = ?
	`, name)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", name, err)
	}
	return e, nil
}

// List returns every entry in name order.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	return s.query(ctx, `
		SELECT name, storage_locator, enabled, created_at, updated_at
		FROM collections ORDER BY name
	`)
}

// ListEnabled returns the enabled entries in name order.
func (s *Store) ListEnabled(ctx context.Context) ([]Entry, error) {
	return s.query(ctx, `
		SELECT name, storage_locator, enabled, created_at, updated_at
		FROM collections WHERE enabled = 1 ORDER BY name
	`)
}

// SetEnabled flips the enabled flag.
func (s *Store) SetEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE collections SET enabled = ?, updated_at = ? WHERE name = ?
	`, boolToInt(enabled), formatTime(s.now()), name)
	if err != nil {
		return fmt.Errorf("updating %s: %w", name, err)
	}
	return requireRow(res, name)
}

// Touch bumps updated_at, recording a write to the collection.
func (s *Store) Touch(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE collections SET updated_at = ? WHERE name = ?
	`, formatTime(s.now()), name)
	if err != nil {
		return fmt.Errorf("touching %s: %w", name, err)
	}
	return requireRow(res, name)
}

// Remove deletes the entry and reports whether it existed.
func (s *Store) Remove(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("removing %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) query(ctx context.Context, q string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var (
		e                Entry
		enabled          int
		created, updated string
	)
	if err := sc.Scan(&e.Name, &e.StorageLocator, &enabled, &created, &updated); err != nil {
		return nil, err
	}
	e.Enabled = enabled != 0
	var err error
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at of %s: %w", e.Name, err)
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at of %s: %w", e.Name, err)
	}
	return &e, nil
}

func requireRow(res sql.Result, name string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// isUniqueViolation matches SQLITE_CONSTRAINT_PRIMARYKEY / _UNIQUE messages.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
