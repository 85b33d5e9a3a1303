// ABOUTME: SQLite Backend keeping each whole document as one row using modernc.org/sqlite
// ABOUTME: Alternative to the flat-file layout for hosts that prefer a single database file

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend implements Backend on a single-table SQLite database
type SQLiteBackend struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteBackend opens (or creates) the database at path.
// Parent directories are created if needed.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			name       TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			version    TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite backend initialized", "path", path)
	return &SQLiteBackend{db: db, logger: logger}, nil
}

// Read implements Backend
func (b *SQLiteBackend) Read(ctx context.Context, name string) ([]byte, string, error) {
	var data []byte
	var version string

	err := b.db.QueryRowContext(ctx,
		`SELECT data, version FROM documents WHERE name = ?`, name,
	).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNoDocument
	}
	if err != nil {
		return nil, "", fmt.Errorf("querying document %s: %w", name, err)
	}
	return data, version, nil
}

// Write implements Backend
func (b *SQLiteBackend) Write(ctx context.Context, name string, data []byte) (string, error) {
	version := Fingerprint(data)

	query := `
		INSERT INTO documents (name, data, version, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			data = excluded.data,
			version = excluded.version,
			updated_at = excluded.updated_at
	`
	_, err := b.db.ExecContext(ctx, query, name, data, version, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("writing document %s: %w", name, err)
	}

	b.logger.Debug("wrote document", "name", name, "bytes", len(data))
	return version, nil
}

// Close implements Backend
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

var _ Backend = (*SQLiteBackend)(nil)
