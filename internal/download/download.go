// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package download fetches remote datasheets into the content store under
// task queue supervision. A worker suspends only on network I/O; success
// records the content hash on the task, failure records a human-readable
// cause and leaves the task retryable.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pdiddy/datasheet-review/internal/contentstore"
	"github.com/pdiddy/datasheet-review/internal/taskqueue"
	"github.com/pdiddy/datasheet-review/pkg/types"
)

// maxDownloadSize caps a single fetch at 256 MiB; datasheets are small and
// an unbounded read is a memory hazard.
const maxDownloadSize = 256 << 20

// Worker processes download tasks: fetch, hash, persist, report.
type Worker struct {
	queue  *taskqueue.Queue
	store  *contentstore.Store
	client *http.Client
	cfg    types.DownloadConfig
}

// NewWorker builds a download worker. A nil client gets a default one with
// the configured timeout.
func NewWorker(queue *taskqueue.Queue, store *contentstore.Store, client *http.Client, cfg types.DownloadConfig) *Worker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "datasheet-review/0.1"
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Worker{queue: queue, store: store, client: client, cfg: cfg}
}

// HandleOne claims and processes one download task. It satisfies
// taskqueue.Handler; fetch failures land on the task row, not in the
// returned error.
func (w *Worker) HandleOne(ctx context.Context) (bool, error) {
	task, err := w.queue.ClaimDownload(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	hash, fetchErr := w.fetchWithRetry(ctx, task.SourceURL)
	if fetchErr != nil {
		if err := w.queue.FailDownload(ctx, task.ID, fetchErr.Error()); err != nil {
			return true, err
		}
		return true, nil
	}
	return true, w.queue.CompleteDownload(ctx, task.ID, hash)
}

// fetchWithRetry attempts the fetch up to MaxRetries+1 times with a short
// linear backoff, mirroring the retry-in-task policy of the downloader the
// explicit retry endpoint complements.
func (w *Worker) fetchWithRetry(ctx context.Context, sourceURL string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 600 * time.Millisecond):
			}
		}
		hash, err := w.fetchOnce(ctx, sourceURL)
		if err == nil {
			return hash, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("after %d attempts: %w", w.cfg.MaxRetries+1, lastErr)
}

func (w *Worker) fetchOnce(ctx context.Context, sourceURL string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", w.cfg.UserAgent)
	req.Header.Set("Accept", "application/pdf")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, sourceURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return "", fmt.Errorf("reading response body: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty response body from %s", sourceURL)
	}
	if len(data) > maxDownloadSize {
		return "", fmt.Errorf("response from %s exceeds %d bytes", sourceURL, maxDownloadSize)
	}

	filename := guessFilename(resp, sourceURL)
	asset, _, err := w.store.Put(ctx, data, filename, sourceURL)
	if err != nil {
		return "", fmt.Errorf("storing download: %w", err)
	}
	return asset.FileHash, nil
}
