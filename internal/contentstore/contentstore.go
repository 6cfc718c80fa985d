// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package contentstore provides content-addressed storage of source files.
// Identity is the SHA-256 hex digest of the bytes; filenames are advisory
// and never participate in identity. Ingesting the same content twice is a
// no-op that returns the existing identity.
package contentstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pdiddy/datasheet-review/internal/storage"
	"github.com/pdiddy/datasheet-review/pkg/types"
)

const storeDir = "store"

// ErrNotFound reports an unknown content hash.
var ErrNotFound = errors.New("file not found")

// ErrCorrupt reports a committed FileAsset whose bytes are missing on disk.
// This is a data-integrity alarm, not a recoverable condition.
var ErrCorrupt = errors.New("content store corrupt: bytes missing for committed record")

// Store is the content-addressed file store backed by a directory of
// hash-named files and the file_asset table.
type Store struct {
	db  *sql.DB
	dir string
}

// New creates a Store rooted at workspaceDir/store.
func New(db *sql.DB, workspaceDir string) (*Store, error) {
	dir := filepath.Join(workspaceDir, storeDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &Store{db: db, dir: dir}, nil
}

// Hash computes the content identity of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put ingests data under its content hash. The bytes are written to disk
// before the record commits, so readers that see the record can assume the
// bytes exist. A duplicate hash returns the existing asset with
// created=false and changes nothing.
func (s *Store) Put(ctx context.Context, data []byte, filename, sourceURL string) (asset types.FileAsset, created bool, err error) {
	if filename == "" {
		filename = "datasheet.pdf"
	}
	hash := Hash(data)

	existing, err := s.Stat(ctx, hash)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return types.FileAsset{}, false, err
	}

	path := s.path(hash)
	if err := writeAtomic(path, data); err != nil {
		return types.FileAsset{}, false, fmt.Errorf("writing content %s: %w", hash, err)
	}

	asset = types.FileAsset{
		FileHash:  hash,
		Filename:  filename,
		SourceURL: sourceURL,
		SizeBytes: int64(len(data)),
		LocalPath: path,
		CreatedAt: time.Now().UTC(),
	}

	// INSERT OR IGNORE converges concurrent puts of the same content onto
	// one row; the bytes they wrote are identical by construction.
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO file_asset (file_hash, filename, source_url, size_bytes, local_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		asset.FileHash, asset.Filename, nullable(asset.SourceURL), asset.SizeBytes,
		asset.LocalPath, storage.FormatTime(asset.CreatedAt),
	)
	if err != nil {
		return types.FileAsset{}, false, fmt.Errorf("inserting file asset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := s.Stat(ctx, hash)
		if err != nil {
			return types.FileAsset{}, false, err
		}
		return existing, false, nil
	}
	return asset, true, nil
}

// Exists reports whether a FileAsset with the given hash is committed.
func (s *Store) Exists(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM file_asset WHERE file_hash = ?`, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking file asset: %w", err)
	}
	return true, nil
}

// Get returns the stored bytes for hash. A committed record with missing
// bytes returns ErrCorrupt.
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	asset, err := s.Stat(ctx, hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(asset.LocalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCorrupt, hash)
		}
		return nil, fmt.Errorf("reading content %s: %w", hash, err)
	}
	return data, nil
}

// Stat returns the FileAsset record for hash.
func (s *Store) Stat(ctx context.Context, hash string) (types.FileAsset, error) {
	var (
		a         types.FileAsset
		sourceURL sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT file_hash, filename, source_url, size_bytes, local_path, created_at
		 FROM file_asset WHERE file_hash = ?`, hash,
	).Scan(&a.FileHash, &a.Filename, &sourceURL, &a.SizeBytes, &a.LocalPath, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.FileAsset{}, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return types.FileAsset{}, fmt.Errorf("reading file asset: %w", err)
	}
	a.SourceURL = sourceURL.String
	if a.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return types.FileAsset{}, err
	}
	return a, nil
}

// List returns FileAssets newest first, paged.
func (s *Store) List(ctx context.Context, page, pageSize int) ([]types.FileAsset, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM file_asset`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting file assets: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT file_hash, filename, source_url, size_bytes, local_path, created_at
		 FROM file_asset ORDER BY created_at DESC, file_hash LIMIT ? OFFSET ?`,
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("listing file assets: %w", err)
	}
	defer rows.Close()

	var assets []types.FileAsset
	for rows.Next() {
		var (
			a         types.FileAsset
			sourceURL sql.NullString
			createdAt string
		)
		if err := rows.Scan(&a.FileHash, &a.Filename, &sourceURL, &a.SizeBytes, &a.LocalPath, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("scanning file asset: %w", err)
		}
		a.SourceURL = sourceURL.String
		if a.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
			return nil, 0, err
		}
		assets = append(assets, a)
	}
	return assets, total, rows.Err()
}

// Delete removes a FileAsset and its stored bytes. Model links and evidence
// rows cascade through foreign keys. Administrative action only.
func (s *Store) Delete(ctx context.Context, hash string) error {
	asset, err := s.Stat(ctx, hash)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM file_asset WHERE file_hash = ?`, hash); err != nil {
		return fmt.Errorf("deleting file asset: %w", err)
	}
	if err := os.Remove(asset.LocalPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing content %s: %w", hash, err)
	}
	return nil
}

// Path returns the on-disk location for a hash without consulting the database.
func (s *Store) Path(hash string) string {
	return s.path(hash)
}

func (s *Store) path(hash string) string {
	return filepath.Join(s.dir, hash+".pdf")
}

// writeAtomic writes data to path via a temp file and rename, so a crash
// mid-write never leaves a partial file under the final name.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ingest-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
