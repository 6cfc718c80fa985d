// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// VerifyStatus indicates whether a model record carries a live human certification.
type VerifyStatus string

const (
	Unverified VerifyStatus = "unverified"
	Verified   VerifyStatus = "verified"
)

// FileAsset is one ingested source file, identified by the SHA-256 hex digest
// of its content. Two ingestions of byte-identical content collapse to one
// FileAsset; the filename is advisory metadata only.
type FileAsset struct {
	// FileHash is the SHA-256 hex digest of the file bytes.
	FileHash string `json:"file_hash" yaml:"file_hash"`

	// Filename is the advisory display name recorded at first ingestion.
	Filename string `json:"filename" yaml:"filename"`

	// SourceURL is the URL the file was downloaded from, empty for direct uploads.
	SourceURL string `json:"source_url,omitempty" yaml:"source_url,omitempty"`

	// SizeBytes is the content length in bytes.
	SizeBytes int64 `json:"size_bytes" yaml:"size_bytes"`

	// LocalPath is the filesystem path of the stored bytes.
	LocalPath string `json:"local_path" yaml:"local_path"`

	// CreatedAt is the UTC time of first ingestion.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// SpecFields is the fixed set of specification fields carried by a model
// record. Every field is free text; the empty string means "not specified".
type SpecFields struct {
	InputVoltageRange string `json:"input_voltage_range" yaml:"input_voltage_range"`
	OutputVoltage     string `json:"output_voltage" yaml:"output_voltage"`
	OutputPower       string `json:"output_power" yaml:"output_power"`
	Package           string `json:"package" yaml:"package"`
	Isolation         string `json:"isolation" yaml:"isolation"`
	Insulation        string `json:"insulation" yaml:"insulation"`
	Dimension         string `json:"dimension" yaml:"dimension"`
}

// ModelRecord is one distinct model/part number with its specification
// fields and review state, independent of which files mention it.
type ModelRecord struct {
	// ModelNumber is the primary identity, matched case-sensitively.
	ModelNumber string `json:"model_number" yaml:"model_number"`

	// Fields holds the extracted or reviewer-corrected specification values.
	Fields SpecFields `json:"fields" yaml:"fields"`

	// Applications is an unordered collection of free-text tags, replaced
	// wholesale on every specification update.
	Applications []string `json:"applications" yaml:"applications"`

	// VerifyStatus is unverified or verified.
	VerifyStatus VerifyStatus `json:"verify_status" yaml:"verify_status"`

	// Reviewer identifies who certified the record; empty when unverified.
	Reviewer string `json:"reviewer,omitempty" yaml:"reviewer,omitempty"`

	// ReviewedAt is the UTC certification time; nil when unverified.
	ReviewedAt *time.Time `json:"reviewed_at,omitempty" yaml:"reviewed_at,omitempty"`

	// Notes is free-form reviewer commentary.
	Notes string `json:"notes,omitempty" yaml:"notes,omitempty"`

	// Files lists the assets this model number appears in, newest first.
	Files []FileRef `json:"files,omitempty" yaml:"files,omitempty"`
}

// FileRef is a lightweight reference to a FileAsset from a model record.
type FileRef struct {
	FileHash string `json:"file_hash" yaml:"file_hash"`
	Filename string `json:"filename" yaml:"filename"`
}

// FieldEvidence records the literal document snippet the extraction service
// based a field value on. Evidence is keyed by the schema path of the field,
// so a reviewer can audit a value without re-invoking the service.
type FieldEvidence struct {
	ModelNumber string `json:"model_number" yaml:"model_number"`
	FileHash    string `json:"file_hash" yaml:"file_hash"`
	FieldPath   string `json:"field_path" yaml:"field_path"`
	Snippet     string `json:"snippet" yaml:"snippet"`
}
