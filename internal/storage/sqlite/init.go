package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'QUEUED',
	progress INTEGER NOT NULL DEFAULT 0,
	eta INTEGER,
	size_bytes INTEGER,
	downloaded_bytes INTEGER NOT NULL DEFAULT 0,
	save_path TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	result_id TEXT NOT NULL DEFAULT '',
	magnet_uri TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	engine_hash TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_downloads_status ON downloads(status);
CREATE INDEX IF NOT EXISTS idx_downloads_created_at ON downloads(created_at);

CREATE TABLE IF NOT EXISTS library_files (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	path TEXT NOT NULL UNIQUE,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
	download_id TEXT REFERENCES downloads(id),
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_library_files_name ON library_files(name);

CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	action TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT '{}',
	ip_address TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at);
`

// InitDB opens (or creates) the SQLite database at path and applies the schema.
func InitDB(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// a single connection serializes writers, reads stay cheap under WAL
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return db, nil
}
