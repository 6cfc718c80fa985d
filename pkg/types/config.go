package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "datasheet-review/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// WorkspaceConfig locates the on-disk workspace: the SQLite database, the
// content-addressed store directory, and extraction output files.
type WorkspaceConfig struct {
	// Dir is the workspace root (contains store/, extractions/, review.db).
	Dir string `json:"dir" yaml:"dir"`
}

// DownloadConfig holds settings for the download worker.
type DownloadConfig struct {
	HTTPConfig `yaml:",inline"`

	// Concurrency is the number of parallel download workers (default 3).
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// MaxRetries is the number of in-task fetch attempts before the task
	// fails (default 2). Failed tasks remain retryable explicitly.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// AIConfig holds shared settings for stages that call the extraction service.
type AIConfig struct {
	// Model is the AI model identifier (e.g. "gpt-5").
	Model string `json:"model" yaml:"model"`

	// APIKey is the authentication key for the extraction service.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// ServiceTier selects provider-side scheduling: auto, default, flex,
	// priority, or scale. Empty leaves the provider default.
	ServiceTier string `json:"service_tier,omitempty" yaml:"service_tier,omitempty"`

	// Timeout bounds each external-service call (default 15m).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxRetries is the number of retry attempts for rate-limited calls (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// ExtractionConfig holds settings for the extraction engine.
type ExtractionConfig struct {
	AIConfig `yaml:",inline"`

	// Concurrency bounds in-flight extraction tasks, independent of queue
	// depth (default 1).
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// FieldBatchSize is the number of model numbers sent per field-stage
	// call (default 10).
	FieldBatchSize int `json:"field_batch_size" yaml:"field_batch_size"`

	// Mode drives pricing multipliers and the submission protocol.
	Mode ExtractionMode `json:"mode" yaml:"mode"`
}

// ExportConfig holds settings for the export engine.
type ExportConfig struct {
	// ChunkSize caps the number of bound parameters per IN() clause when
	// filtering by an explicit model-number list (default 900, below the
	// SQLite host-parameter limit).
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`
}

// PipelineConfig groups all stage configurations.
type PipelineConfig struct {
	Workspace  WorkspaceConfig  `json:"workspace" yaml:"workspace"`
	Download   DownloadConfig   `json:"download" yaml:"download"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
	Export     ExportConfig     `json:"export" yaml:"export"`
}
