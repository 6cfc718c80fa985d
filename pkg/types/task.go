// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// DownloadStatus is the state machine for a DownloadTask.
type DownloadStatus string

const (
	DownloadQueued  DownloadStatus = "queued"
	DownloadRunning DownloadStatus = "running"
	DownloadSuccess DownloadStatus = "success"
	DownloadFailed  DownloadStatus = "failed"
)

// DownloadTask is one requested URL fetch. The task queue owns it; only the
// download worker and explicit retry requests mutate it.
type DownloadTask struct {
	ID        int64          `json:"id" yaml:"id"`
	SourceURL string         `json:"source_url" yaml:"source_url"`
	Status    DownloadStatus `json:"status" yaml:"status"`

	// FileHash is set when the fetch succeeds and the bytes are stored.
	FileHash string `json:"file_hash,omitempty" yaml:"file_hash,omitempty"`

	// Error holds a human-readable cause when the task failed.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// ExtractionStatus is the state machine for an ExtractionTask. The submitted
// state covers the window between handing the document to the external
// service and the first structured response.
type ExtractionStatus string

const (
	ExtractionQueued    ExtractionStatus = "queued"
	ExtractionSubmitted ExtractionStatus = "submitted"
	ExtractionRunning   ExtractionStatus = "running"
	ExtractionSucceeded ExtractionStatus = "succeeded"
	ExtractionFailed    ExtractionStatus = "failed"
	ExtractionCanceled  ExtractionStatus = "canceled"
)

// ExtractionMode selects how the external service is driven.
type ExtractionMode string

const (
	ModeSync       ExtractionMode = "sync"
	ModeBatch      ExtractionMode = "batch"
	ModeBackground ExtractionMode = "background"
)

// ExtractionTask is one extraction attempt against a stored file.
type ExtractionTask struct {
	ID       int64            `json:"id" yaml:"id"`
	FileHash string           `json:"file_hash" yaml:"file_hash"`
	Status   ExtractionStatus `json:"status" yaml:"status"`
	Mode     ExtractionMode   `json:"mode" yaml:"mode"`

	// ForceRerun bypasses the existing-output skip gate for this attempt.
	ForceRerun bool `json:"force_rerun" yaml:"force_rerun"`

	// Model is the AI model identifier actually used, as reported by the service.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Token usage summed across both protocol stages.
	PromptTokens     int64 `json:"prompt_tokens" yaml:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens" yaml:"completion_tokens"`

	// CostUSD is the computed spend for this task.
	CostUSD float64 `json:"cost_usd" yaml:"cost_usd"`

	// OutputPath is where the aggregated extraction JSON was written.
	OutputPath string `json:"output_path,omitempty" yaml:"output_path,omitempty"`

	// Error holds a human-readable cause on failure, or a partial-success
	// note when some model numbers failed schema validation.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty" yaml:"submitted_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// Active reports whether the task still occupies the per-file dedup gate.
func (s ExtractionStatus) Active() bool {
	return s == ExtractionQueued || s == ExtractionSubmitted || s == ExtractionRunning
}
