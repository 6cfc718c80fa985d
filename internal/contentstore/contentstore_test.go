package contentstore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/pdiddy/datasheet-review/internal/storage"
)

func testStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := New(db, dir)
	if err != nil {
		t.Fatal(err)
	}
	return store, db
}

func TestPutIsIdempotent(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	data := []byte("%PDF-1.7 fake datasheet")

	first, created, err := store.Put(ctx, data, "a.pdf", "")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("first put should create the asset")
	}

	// Same bytes under a different name and source collapse to one asset.
	second, created, err := store.Put(ctx, data, "b.pdf", "https://example.com/b.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("duplicate put must not create a second asset")
	}
	if second.FileHash != first.FileHash {
		t.Errorf("hash mismatch: %s vs %s", second.FileHash, first.FileHash)
	}
	if second.Filename != "a.pdf" {
		t.Errorf("duplicate put must keep original filename, got %q", second.Filename)
	}

	_, total, err := store.List(ctx, 1, 50)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("want exactly one asset, got %d", total)
	}
}

func TestPutDistinctContent(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	a, _, err := store.Put(ctx, []byte("content A"), "a.pdf", "")
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := store.Put(ctx, []byte("content B"), "b.pdf", "")
	if err != nil {
		t.Fatal(err)
	}
	if a.FileHash == b.FileHash {
		t.Error("distinct content must yield distinct hashes")
	}
}

func TestGetRoundTrip(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	data := []byte("round trip bytes")

	asset, _, err := store.Put(ctx, data, "x.pdf", "")
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, asset.FileHash)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Errorf("content mismatch: %q", got)
	}

	ok, err := store.Exists(ctx, asset.FileHash)
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v; want true, nil", ok, err)
	}
}

func TestGetUnknownHash(t *testing.T) {
	store, _ := testStore(t)
	_, err := store.Get(context.Background(), "deadbeef")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestGetCorruptStore(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	asset, _, err := store.Put(ctx, []byte("doomed"), "x.pdf", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(asset.LocalPath); err != nil {
		t.Fatal(err)
	}

	_, err = store.Get(ctx, asset.FileHash)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("want ErrCorrupt for committed record with missing bytes, got %v", err)
	}
}

func TestDeleteRemovesRecordAndBytes(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	asset, _, err := store.Put(ctx, []byte("short lived"), "x.pdf", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, asset.FileHash); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Stat(ctx, asset.FileHash); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound after delete, got %v", err)
	}
	if _, err := os.Stat(asset.LocalPath); !os.IsNotExist(err) {
		t.Errorf("bytes should be gone, stat err = %v", err)
	}
}
