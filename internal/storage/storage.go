// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package storage opens the review SQLite database and owns its schema.
// All stores share one *sql.DB; foreign keys and WAL are always on.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const dbFile = "review.db"

// Open creates or opens the review database under workspaceDir. It creates
// the workspace directory and the schema when they do not exist.
func Open(workspaceDir string) (*sql.DB, error) {
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace directory: %w", err)
	}

	dbPath := filepath.Join(workspaceDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Record writes serialize on per-record transactions; a single writer
	// connection keeps SQLITE_BUSY out of the hot path.
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS file_asset (
			file_hash TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			source_url TEXT,
			size_bytes INTEGER NOT NULL,
			local_path TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS model_item (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_number TEXT NOT NULL UNIQUE,
			input_voltage_range TEXT,
			output_voltage TEXT,
			output_power TEXT,
			package TEXT,
			isolation TEXT,
			insulation TEXT,
			dimension TEXT,
			verify_status TEXT NOT NULL DEFAULT 'unverified'
				CHECK (verify_status IN ('unverified','verified')),
			reviewer TEXT,
			reviewed_at TEXT,
			notes TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_model_item_status ON model_item(verify_status)`,
		`CREATE TABLE IF NOT EXISTS model_application_tag (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_number TEXT NOT NULL
				REFERENCES model_item(model_number) ON DELETE CASCADE ON UPDATE CASCADE,
			app_tag TEXT NOT NULL,
			app_tag_canon TEXT NOT NULL,
			UNIQUE (model_number, app_tag_canon)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_app_tag_model ON model_application_tag(app_tag_canon, model_number)`,
		`CREATE TABLE IF NOT EXISTS file_model_appearance (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_hash TEXT NOT NULL
				REFERENCES file_asset(file_hash) ON DELETE CASCADE,
			model_number TEXT NOT NULL
				REFERENCES model_item(model_number) ON DELETE CASCADE ON UPDATE CASCADE,
			UNIQUE (file_hash, model_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_appearance_model ON file_model_appearance(model_number)`,
		`CREATE TABLE IF NOT EXISTS field_evidence (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_number TEXT NOT NULL
				REFERENCES model_item(model_number) ON DELETE CASCADE ON UPDATE CASCADE,
			file_hash TEXT NOT NULL
				REFERENCES file_asset(file_hash) ON DELETE CASCADE,
			field_path TEXT NOT NULL,
			snippet TEXT NOT NULL,
			UNIQUE (model_number, file_hash, field_path)
		)`,
		`CREATE TABLE IF NOT EXISTS download_task (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_url TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'queued'
				CHECK (status IN ('queued','running','success','failed')),
			file_hash TEXT,
			error TEXT,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_download_status ON download_task(status)`,
		`CREATE TABLE IF NOT EXISTS extraction_task (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_hash TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'queued'
				CHECK (status IN ('queued','submitted','running','succeeded','failed','canceled')),
			mode TEXT NOT NULL DEFAULT 'sync',
			force_rerun INTEGER NOT NULL DEFAULT 0,
			model TEXT,
			prompt_tokens INTEGER,
			completion_tokens INTEGER,
			cost_usd REAL,
			output_path TEXT,
			error TEXT,
			created_at TEXT NOT NULL,
			submitted_at TEXT,
			started_at TEXT,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_extraction_status ON extraction_task(status)`,
		`CREATE INDEX IF NOT EXISTS idx_extraction_file ON extraction_task(file_hash)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// FormatTime renders a timestamp for storage: UTC RFC 3339 with nanoseconds.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// FormatNullTime renders an optional timestamp, mapping nil to SQL NULL.
func FormatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTime(*t), Valid: true}
}

// ParseTime reads a stored timestamp back. Zero time on empty input.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored timestamp %q: %w", s, err)
	}
	return t, nil
}

// ParseNullTime reads an optional stored timestamp, mapping NULL to nil.
func ParseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := ParseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
