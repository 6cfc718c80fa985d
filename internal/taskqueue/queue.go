// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package taskqueue owns the download and extraction task tables and their
// status state machines. Tasks are claimed atomically inside transactions;
// every enqueue stays visible with a pending or terminal status, and failed
// tasks remain inspectable and retryable.
package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/datasheet-review/internal/storage"
	"github.com/pdiddy/datasheet-review/pkg/types"
)

// ErrNotFound reports an unknown task id.
var ErrNotFound = errors.New("task not found")

// ErrBadTransition reports a status change the state machine forbids,
// e.g. retrying a task that has not failed.
var ErrBadTransition = errors.New("invalid task status transition")

// Queue provides enqueue/claim/complete operations over the shared database.
type Queue struct {
	db *sql.DB
}

// New wraps db in a Queue. The schema is owned by the storage package.
func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// --- download tasks ---

// EnqueueDownloads creates one queued DownloadTask per URL and returns the
// task ids in input order.
func (q *Queue) EnqueueDownloads(ctx context.Context, urls []string) ([]int64, error) {
	now := storage.FormatTime(time.Now())
	ids := make([]int64, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		res, err := q.db.ExecContext(ctx,
			`INSERT INTO download_task (source_url, status, created_at) VALUES (?, 'queued', ?)`,
			u, now)
		if err != nil {
			return ids, fmt.Errorf("inserting download task: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return ids, fmt.Errorf("reading task id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ClaimDownload atomically takes the oldest queued download task, marks it
// running, and records started_at. Returns nil when the queue is empty.
func (q *Queue) ClaimDownload(ctx context.Context) (*types.DownloadTask, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM download_task WHERE status = 'queued' ORDER BY id ASC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting queued download: %w", err)
	}

	now := storage.FormatTime(time.Now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE download_task SET status = 'running', started_at = ?, error = NULL WHERE id = ?`,
		now, id); err != nil {
		return nil, fmt.Errorf("claiming download %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return q.GetDownload(ctx, id)
}

// CompleteDownload records a successful fetch.
func (q *Queue) CompleteDownload(ctx context.Context, id int64, fileHash string) error {
	return q.finishDownload(ctx, id, "success", fileHash, "")
}

// FailDownload records a failed fetch with a human-readable cause.
func (q *Queue) FailDownload(ctx context.Context, id int64, cause string) error {
	return q.finishDownload(ctx, id, "failed", "", cause)
}

func (q *Queue) finishDownload(ctx context.Context, id int64, status, fileHash, cause string) error {
	now := storage.FormatTime(time.Now())
	res, err := q.db.ExecContext(ctx,
		`UPDATE download_task SET status = ?, file_hash = ?, error = ?, completed_at = ?
		 WHERE id = ? AND status = 'running'`,
		status, nullable(fileHash), nullable(cause), now, id)
	if err != nil {
		return fmt.Errorf("finishing download %d: %w", id, err)
	}
	return requireRow(res, id)
}

// RetryDownload resets a failed download to queued, clearing its error and
// timestamps. The task keeps its identity.
func (q *Queue) RetryDownload(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE download_task
		 SET status = 'queued', error = NULL, file_hash = NULL, started_at = NULL, completed_at = NULL
		 WHERE id = ? AND status = 'failed'`, id)
	if err != nil {
		return fmt.Errorf("retrying download %d: %w", id, err)
	}
	return requireRow(res, id)
}

// GetDownload returns one download task by id.
func (q *Queue) GetDownload(ctx context.Context, id int64) (*types.DownloadTask, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, source_url, status, file_hash, error, created_at, started_at, completed_at
		 FROM download_task WHERE id = ?`, id)
	t, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: download %d", ErrNotFound, id)
	}
	return t, err
}

// ListDownloads returns recent download tasks, newest first, optionally
// filtered by status.
func (q *Queue) ListDownloads(ctx context.Context, status types.DownloadStatus, limit int) ([]types.DownloadTask, error) {
	if limit <= 0 {
		limit = 200
	}
	where, args := "", []any{}
	if status != "" {
		where = "WHERE status = ?"
		args = append(args, string(status))
	}
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, source_url, status, file_hash, error, created_at, started_at, completed_at
		 FROM download_task %s ORDER BY id DESC LIMIT ?`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("listing downloads: %w", err)
	}
	defer rows.Close()

	var tasks []types.DownloadTask
	for rows.Next() {
		t, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// --- extraction tasks ---

// BatchOutcome reconciles a batch extraction enqueue: every input hash lands
// in exactly one bucket, so a caller needs no follow-up query to learn what
// happened to each of them.
type BatchOutcome struct {
	Queued            int      `json:"queued"`
	SkippedExisting   int      `json:"skipped_existing"`
	NotFound          int      `json:"not_found"`
	DuplicatesIgnored int      `json:"duplicates_ignored"`
	TotalInput        int      `json:"total_input"`
	QueuedHashes      []string `json:"queued_hashes"`
	SkippedHashes     []string `json:"skipped_hashes"`
	NotFoundHashes    []string `json:"not_found_hashes"`
}

// EnqueueExtractions queues extraction tasks for a batch of file hashes.
// Repeated hashes within the batch count as duplicates_ignored; unknown
// hashes as not_found. Without forceRerun a hash is skipped when a
// succeeded task already exists for it, or when an active task already
// occupies the per-file gate — both protect against duplicate billing.
func (q *Queue) EnqueueExtractions(ctx context.Context, hashes []string, mode types.ExtractionMode, forceRerun bool) (BatchOutcome, error) {
	outcome := BatchOutcome{TotalInput: len(hashes)}
	if mode == "" {
		mode = types.ModeSync
	}

	seen := make(map[string]bool)
	now := storage.FormatTime(time.Now())

	for _, h := range hashes {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if seen[h] {
			outcome.DuplicatesIgnored++
			continue
		}
		seen[h] = true

		var known int
		err := q.db.QueryRowContext(ctx,
			`SELECT 1 FROM file_asset WHERE file_hash = ?`, h).Scan(&known)
		if errors.Is(err, sql.ErrNoRows) {
			outcome.NotFound++
			outcome.NotFoundHashes = append(outcome.NotFoundHashes, h)
			continue
		}
		if err != nil {
			return outcome, fmt.Errorf("checking file asset %s: %w", h, err)
		}

		if !forceRerun {
			var blocked int
			err := q.db.QueryRowContext(ctx,
				`SELECT 1 FROM extraction_task
				 WHERE file_hash = ? AND status IN ('succeeded','queued','submitted','running')
				 LIMIT 1`, h).Scan(&blocked)
			if err == nil {
				outcome.SkippedExisting++
				outcome.SkippedHashes = append(outcome.SkippedHashes, h)
				continue
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return outcome, fmt.Errorf("checking prior extraction for %s: %w", h, err)
			}
		}

		if _, err := q.db.ExecContext(ctx,
			`INSERT INTO extraction_task (file_hash, status, mode, force_rerun, created_at)
			 VALUES (?, 'queued', ?, ?, ?)`,
			h, string(mode), boolInt(forceRerun), now); err != nil {
			return outcome, fmt.Errorf("inserting extraction task: %w", err)
		}
		outcome.Queued++
		outcome.QueuedHashes = append(outcome.QueuedHashes, h)
	}
	return outcome, nil
}

// ClaimExtraction atomically takes the oldest queued extraction task and
// marks it submitted, the first half of the two-phase handshake with the
// external service. Returns nil when the queue is empty.
func (q *Queue) ClaimExtraction(ctx context.Context) (*types.ExtractionTask, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM extraction_task WHERE status = 'queued' ORDER BY id ASC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting queued extraction: %w", err)
	}

	now := storage.FormatTime(time.Now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE extraction_task SET status = 'submitted', submitted_at = ? WHERE id = ?`,
		now, id); err != nil {
		return nil, fmt.Errorf("claiming extraction %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return q.GetExtraction(ctx, id)
}

// MarkExtractionRunning records that the external service accepted the
// document and work has actually started.
func (q *Queue) MarkExtractionRunning(ctx context.Context, id int64) error {
	now := storage.FormatTime(time.Now())
	res, err := q.db.ExecContext(ctx,
		`UPDATE extraction_task SET status = 'running', started_at = ?
		 WHERE id = ? AND status = 'submitted'`, now, id)
	if err != nil {
		return fmt.Errorf("marking extraction %d running: %w", id, err)
	}
	return requireRow(res, id)
}

// ExtractionResultFields carries the fields written back on completion.
type ExtractionResultFields struct {
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          float64
	OutputPath       string

	// PartialNote records per-model schema failures when the task still
	// succeeded overall. Empty for a clean run.
	PartialNote string
}

// CompleteExtraction records a successful extraction. A task that races a
// shutdown cancellation keeps its canceled status.
func (q *Queue) CompleteExtraction(ctx context.Context, id int64, r ExtractionResultFields) error {
	now := storage.FormatTime(time.Now())
	res, err := q.db.ExecContext(ctx,
		`UPDATE extraction_task
		 SET status = 'succeeded', model = ?, prompt_tokens = ?, completion_tokens = ?,
		     cost_usd = ?, output_path = ?, error = ?, completed_at = ?
		 WHERE id = ? AND status IN ('submitted','running')`,
		nullable(r.Model), r.PromptTokens, r.CompletionTokens, r.CostUSD,
		nullable(r.OutputPath), nullable(r.PartialNote), now, id)
	if err != nil {
		return fmt.Errorf("completing extraction %d: %w", id, err)
	}
	return requireRow(res, id)
}

// FailExtraction records a failed extraction with a human-readable cause.
func (q *Queue) FailExtraction(ctx context.Context, id int64, cause string) error {
	now := storage.FormatTime(time.Now())
	res, err := q.db.ExecContext(ctx,
		`UPDATE extraction_task SET status = 'failed', error = ?, completed_at = ?
		 WHERE id = ? AND status IN ('queued','submitted','running')`,
		cause, now, id)
	if err != nil {
		return fmt.Errorf("failing extraction %d: %w", id, err)
	}
	return requireRow(res, id)
}

// RetryExtraction resets a failed extraction to queued. Permitted only from
// failed; the task keeps its identity.
func (q *Queue) RetryExtraction(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE extraction_task
		 SET status = 'queued', error = NULL, submitted_at = NULL, started_at = NULL, completed_at = NULL
		 WHERE id = ? AND status = 'failed'`, id)
	if err != nil {
		return fmt.Errorf("retrying extraction %d: %w", id, err)
	}
	return requireRow(res, id)
}

// CancelExtraction cancels a task no worker has claimed yet. Cancellation of
// submitted or running tasks is cooperative: the worker observes the status
// after its current external call and stops.
func (q *Queue) CancelExtraction(ctx context.Context, id int64, cause string) error {
	now := storage.FormatTime(time.Now())
	res, err := q.db.ExecContext(ctx,
		`UPDATE extraction_task SET status = 'canceled', error = ?, completed_at = ?
		 WHERE id = ? AND status = 'queued'`,
		nullable(cause), now, id)
	if err != nil {
		return fmt.Errorf("canceling extraction %d: %w", id, err)
	}
	return requireRow(res, id)
}

// CancelQueuedExtractions marks every still-queued extraction canceled,
// used during shutdown so no enqueue silently disappears.
func (q *Queue) CancelQueuedExtractions(ctx context.Context, cause string) (int64, error) {
	now := storage.FormatTime(time.Now())
	res, err := q.db.ExecContext(ctx,
		`UPDATE extraction_task SET status = 'canceled', error = ?, completed_at = ?
		 WHERE status = 'queued'`, cause, now)
	if err != nil {
		return 0, fmt.Errorf("canceling queued extractions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AbortExtraction marks a claimed task canceled after the shutdown grace
// period expired. Completed tasks are left untouched.
func (q *Queue) AbortExtraction(ctx context.Context, id int64, cause string) error {
	now := storage.FormatTime(time.Now())
	_, err := q.db.ExecContext(ctx,
		`UPDATE extraction_task SET status = 'canceled', error = ?, completed_at = ?
		 WHERE id = ? AND status IN ('submitted','running')`, cause, now, id)
	if err != nil {
		return fmt.Errorf("aborting extraction %d: %w", id, err)
	}
	return nil
}

// GetExtraction returns one extraction task by id.
func (q *Queue) GetExtraction(ctx context.Context, id int64) (*types.ExtractionTask, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, file_hash, status, mode, force_rerun, model, prompt_tokens,
		        completion_tokens, cost_usd, output_path, error,
		        created_at, submitted_at, started_at, completed_at
		 FROM extraction_task WHERE id = ?`, id)
	t, err := scanExtraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: extraction %d", ErrNotFound, id)
	}
	return t, err
}

// ListExtractions returns recent extraction tasks, newest first, optionally
// filtered by status and mode.
func (q *Queue) ListExtractions(ctx context.Context, status types.ExtractionStatus, mode types.ExtractionMode, limit int) ([]types.ExtractionTask, error) {
	if limit <= 0 {
		limit = 200
	}
	var conds []string
	var args []any
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(status))
	}
	if mode != "" {
		conds = append(conds, "mode = ?")
		args = append(args, string(mode))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, file_hash, status, mode, force_rerun, model, prompt_tokens,
		        completion_tokens, cost_usd, output_path, error,
		        created_at, submitted_at, started_at, completed_at
		 FROM extraction_task %s ORDER BY id DESC LIMIT ?`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("listing extractions: %w", err)
	}
	defer rows.Close()

	var tasks []types.ExtractionTask
	for rows.Next() {
		t, err := scanExtraction(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDownload(row rowScanner) (*types.DownloadTask, error) {
	var (
		t                 types.DownloadTask
		fileHash, errMsg  sql.NullString
		createdAt         string
		startedAt, doneAt sql.NullString
	)
	if err := row.Scan(&t.ID, &t.SourceURL, &t.Status, &fileHash, &errMsg,
		&createdAt, &startedAt, &doneAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning download task: %w", err)
	}
	t.FileHash = fileHash.String
	t.Error = errMsg.String

	var err error
	if t.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if t.StartedAt, err = storage.ParseNullTime(startedAt); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = storage.ParseNullTime(doneAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanExtraction(row rowScanner) (*types.ExtractionTask, error) {
	var (
		t                      types.ExtractionTask
		force                  int
		model, outPath, errMsg sql.NullString
		prompt, completion     sql.NullInt64
		cost                   sql.NullFloat64
		createdAt              string
		submittedAt, startedAt sql.NullString
		completedAt            sql.NullString
	)
	if err := row.Scan(&t.ID, &t.FileHash, &t.Status, &t.Mode, &force, &model,
		&prompt, &completion, &cost, &outPath, &errMsg,
		&createdAt, &submittedAt, &startedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning extraction task: %w", err)
	}
	t.ForceRerun = force != 0
	t.Model = model.String
	t.PromptTokens = prompt.Int64
	t.CompletionTokens = completion.Int64
	t.CostUSD = cost.Float64
	t.OutputPath = outPath.String
	t.Error = errMsg.String

	var err error
	if t.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if t.SubmittedAt, err = storage.ParseNullTime(submittedAt); err != nil {
		return nil, err
	}
	if t.StartedAt, err = storage.ParseNullTime(startedAt); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = storage.ParseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: task %d", ErrBadTransition, id)
	}
	return nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
