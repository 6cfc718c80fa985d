package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pdiddy/datasheet-review/internal/contentstore"
	"github.com/pdiddy/datasheet-review/internal/storage"
	"github.com/pdiddy/datasheet-review/internal/taskqueue"
	"github.com/pdiddy/datasheet-review/pkg/types"
)

// --- filename guessing ---

func TestGuessFilename(t *testing.T) {
	tests := []struct {
		name        string
		disposition string
		contentType string
		url         string
		want        string
	}{
		{
			name:        "quoted disposition",
			disposition: `attachment; filename="TRACO_TEN-8.pdf"`,
			url:         "https://example.com/dl?id=9",
			want:        "TRACO_TEN-8.pdf",
		},
		{
			name:        "rfc5987 extended disposition",
			disposition: "attachment; filename*=UTF-8''datasheet%20v2.pdf",
			url:         "https://example.com/dl",
			want:        "datasheet v2.pdf",
		},
		{
			name: "query parameter",
			url:  "https://example.com/get?filename=REC5-0505.pdf",
			want: "REC5-0505.pdf",
		},
		{
			name: "url path basename",
			url:  "https://example.com/files/PDQE10-Q24-S12.pdf",
			want: "PDQE10-Q24-S12.pdf",
		},
		{
			name:        "pdf extension appended from content type",
			contentType: "application/pdf",
			url:         "https://example.com/files/PDQE10",
			want:        "PDQE10.pdf",
		},
		{
			name:        "traversal stripped",
			disposition: `attachment; filename="../../etc/passwd"`,
			url:         "https://example.com/x",
			want:        "passwd",
		},
		{
			name: "bare host falls back to default",
			url:  "https://example.com/",
			want: "datasheet",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tt.disposition != "" {
				resp.Header.Set("Content-Disposition", tt.disposition)
			}
			if tt.contentType != "" {
				resp.Header.Set("Content-Type", tt.contentType)
			}
			if got := guessFilename(resp, tt.url); got != tt.want {
				t.Errorf("guessFilename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeFilenameLength(t *testing.T) {
	long := strings.Repeat("a", 300) + ".pdf"
	got := sanitizeFilename(long, "")
	if len(got) > 180 {
		t.Errorf("sanitized length %d exceeds bound", len(got))
	}
	if !strings.HasSuffix(got, ".pdf") {
		t.Errorf("extension lost: %q", got)
	}
}

// --- worker ---

func testWorker(t *testing.T, client *http.Client) (*Worker, *taskqueue.Queue, *contentstore.Store) {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := contentstore.New(db, dir)
	if err != nil {
		t.Fatal(err)
	}
	queue := taskqueue.New(db)
	worker := NewWorker(queue, store, client, types.DownloadConfig{
		HTTPConfig: types.HTTPConfig{Timeout: 5 * time.Second},
		MaxRetries: 1,
	})
	return worker, queue, store
}

func TestWorkerStoresFetchedFile(t *testing.T) {
	content := []byte("%PDF-1.7 pretend datasheet")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="ten8-2411.pdf"`)
		w.Write(content)
	}))
	defer srv.Close()

	worker, queue, store := testWorker(t, srv.Client())
	ctx := context.Background()

	ids, err := queue.EnqueueDownloads(ctx, []string{srv.URL + "/ten8"})
	if err != nil {
		t.Fatal(err)
	}

	claimed, err := worker.HandleOne(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !claimed {
		t.Fatal("worker should have claimed the queued task")
	}

	task, err := queue.GetDownload(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != types.DownloadSuccess {
		t.Fatalf("task = %+v", task)
	}

	asset, err := store.Stat(ctx, task.FileHash)
	if err != nil {
		t.Fatal(err)
	}
	if asset.Filename != "ten8-2411.pdf" {
		t.Errorf("filename = %q", asset.Filename)
	}
	if asset.SourceURL == "" {
		t.Error("source URL not recorded on asset")
	}

	data, err := store.Get(ctx, task.FileHash)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(content) {
		t.Error("stored bytes differ from served bytes")
	}
}

func TestWorkerFailsOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	worker, queue, _ := testWorker(t, srv.Client())
	ctx := context.Background()

	ids, _ := queue.EnqueueDownloads(ctx, []string{srv.URL + "/missing"})
	if _, err := worker.HandleOne(ctx); err != nil {
		t.Fatal(err)
	}

	task, _ := queue.GetDownload(ctx, ids[0])
	if task.Status != types.DownloadFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
	if !strings.Contains(task.Error, "404") {
		t.Errorf("error should name the HTTP status: %q", task.Error)
	}
}

func TestWorkerFailsOnEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	worker, queue, _ := testWorker(t, srv.Client())
	ctx := context.Background()

	ids, _ := queue.EnqueueDownloads(ctx, []string{srv.URL + "/empty"})
	if _, err := worker.HandleOne(ctx); err != nil {
		t.Fatal(err)
	}

	task, _ := queue.GetDownload(ctx, ids[0])
	if task.Status != types.DownloadFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
}

func TestWorkerDeduplicatesIdenticalContent(t *testing.T) {
	content := []byte("%PDF-1.7 one true datasheet")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer srv.Close()

	worker, queue, store := testWorker(t, srv.Client())
	ctx := context.Background()

	// Two URLs serving the same bytes must converge on one FileAsset.
	queue.EnqueueDownloads(ctx, []string{srv.URL + "/a", srv.URL + "/b"})
	worker.HandleOne(ctx)
	worker.HandleOne(ctx)

	_, total, err := store.List(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("stored %d assets, want 1", total)
	}
}
