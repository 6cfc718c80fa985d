// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package export streams model records out of the review database as
// CSV, JSON or YAML. Exports run either over the whole corpus, ordered
// by model number, or over an explicit model-number list with optional
// input-order preservation. Rows are written as they are produced so an
// export never holds the whole corpus in memory.
package export

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/datasheet-review/internal/storage"
	"github.com/pdiddy/datasheet-review/pkg/types"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// defaultChunkSize stays below SQLite's bound-parameter limit.
const defaultChunkSize = 900

// Options controls one export run.
type Options struct {
	Format Format

	// Status restricts the export to one verify status; nil exports
	// everything. Applies to both full-corpus and list exports.
	Status *types.VerifyStatus

	// Models, when non-empty, exports exactly these model numbers instead
	// of the whole corpus. Blank entries are dropped; unknown numbers are
	// silently omitted.
	Models []string

	// PreserveOrder emits list-export rows in input order, repeats
	// included. Without it rows sort by model number with duplicates
	// collapsed.
	PreserveOrder bool

	// ChunkSize caps bound parameters per IN() clause (default 900).
	ChunkSize int
}

// Exporter reads the review database and writes export documents.
type Exporter struct {
	db *sql.DB
}

// New builds an Exporter over an open review database.
func New(db *sql.DB) *Exporter {
	return &Exporter{db: db}
}

// row is one export record. Applications stay a list for JSON/YAML and
// join with "; " for CSV.
type row struct {
	ModelNumber       string   `json:"model_number" yaml:"model_number"`
	InputVoltageRange string   `json:"input_voltage_range" yaml:"input_voltage_range"`
	OutputVoltage     string   `json:"output_voltage" yaml:"output_voltage"`
	OutputPower       string   `json:"output_power" yaml:"output_power"`
	Package           string   `json:"package" yaml:"package"`
	Isolation         string   `json:"isolation" yaml:"isolation"`
	Insulation        string   `json:"insulation" yaml:"insulation"`
	Dimension         string   `json:"dimension" yaml:"dimension"`
	Applications      []string `json:"applications" yaml:"applications"`
	VerifyStatus      string   `json:"verify_status" yaml:"verify_status"`
	Reviewer          string   `json:"reviewer,omitempty" yaml:"reviewer,omitempty"`
	ReviewedAt        string   `json:"reviewed_at,omitempty" yaml:"reviewed_at,omitempty"`
	Notes             string   `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Export writes records matching opts to w and returns the row count.
func (e *Exporter) Export(ctx context.Context, w io.Writer, opts Options) (int, error) {
	enc, err := newEncoder(opts.Format, w)
	if err != nil {
		return 0, err
	}

	var count int
	emit := func(r *row) error {
		count++
		return enc.write(r)
	}

	if len(opts.Models) > 0 {
		err = e.exportList(ctx, opts, emit)
	} else {
		err = e.exportAll(ctx, opts.Status, emit)
	}
	if err != nil {
		return count, err
	}
	return count, enc.close()
}

// exportAll streams the corpus in model-number order.
func (e *Exporter) exportAll(ctx context.Context, status *types.VerifyStatus, emit func(*row) error) error {
	query := selectRow + " FROM model_item m"
	var args []any
	if status != nil {
		query += " WHERE m.verify_status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY m.model_number ASC"

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying export rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return err
		}
		if err := emit(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// exportList exports an explicit model-number list. The list is cleaned
// and looked up in bounded IN() chunks; emission order follows
// PreserveOrder.
func (e *Exporter) exportList(ctx context.Context, opts Options, emit func(*row) error) error {
	cleaned := cleanList(opts.Models)
	if len(cleaned) == 0 {
		return nil
	}

	distinct := dedupe(cleaned)
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	// found buffers only the rows matching the requested list, so it is
	// bounded by len(distinct), not the corpus size. Full exports stream
	// through exportAll and never take this path.
	found := make(map[string]*row, len(distinct))
	for start := 0; start < len(distinct); start += chunkSize {
		end := start + chunkSize
		if end > len(distinct) {
			end = len(distinct)
		}
		chunk := distinct[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		query := selectRow + " FROM model_item m WHERE m.model_number IN (" + placeholders + ")"
		args := make([]any, len(chunk))
		for i, m := range chunk {
			args[i] = m
		}
		if opts.Status != nil {
			query += " AND m.verify_status = ?"
			args = append(args, string(*opts.Status))
		}

		rows, err := e.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying export chunk: %w", err)
		}
		for rows.Next() {
			r, err := scanRow(rows)
			if err != nil {
				rows.Close()
				return err
			}
			found[r.ModelNumber] = r
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
	}

	order := distinct
	if opts.PreserveOrder {
		order = cleaned
	} else {
		sort.Strings(order)
	}
	for _, m := range order {
		r, ok := found[m]
		if !ok {
			continue
		}
		if err := emit(r); err != nil {
			return err
		}
	}
	return nil
}

const selectRow = `SELECT
	m.model_number,
	COALESCE(m.input_voltage_range, ''), COALESCE(m.output_voltage, ''),
	COALESCE(m.output_power, ''), COALESCE(m.package, ''),
	COALESCE(m.isolation, ''), COALESCE(m.insulation, ''),
	COALESCE(m.dimension, ''),
	COALESCE((SELECT GROUP_CONCAT(app_tag, '|') FROM model_application_tag a
	          WHERE a.model_number = m.model_number), ''),
	m.verify_status, COALESCE(m.reviewer, ''), m.reviewed_at, COALESCE(m.notes, '')`

func scanRow(rows *sql.Rows) (*row, error) {
	var r row
	var apps string
	var reviewedAt sql.NullString
	err := rows.Scan(
		&r.ModelNumber,
		&r.InputVoltageRange, &r.OutputVoltage, &r.OutputPower, &r.Package,
		&r.Isolation, &r.Insulation, &r.Dimension,
		&apps, &r.VerifyStatus, &r.Reviewer, &reviewedAt, &r.Notes)
	if err != nil {
		return nil, fmt.Errorf("scanning export row: %w", err)
	}
	if apps != "" {
		r.Applications = strings.Split(apps, "|")
	}
	t, err := storage.ParseNullTime(reviewedAt)
	if err != nil {
		return nil, err
	}
	if t != nil {
		r.ReviewedAt = storage.FormatTime(*t)
	}
	return &r, nil
}

func cleanList(models []string) []string {
	var out []string
	for _, m := range models {
		if t := strings.TrimSpace(m); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func dedupe(models []string) []string {
	seen := make(map[string]bool, len(models))
	var out []string
	for _, m := range models {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// --- encoders ---

type encoder interface {
	write(*row) error
	close() error
}

func newEncoder(f Format, w io.Writer) (encoder, error) {
	switch f {
	case FormatCSV, "":
		return newCSVEncoder(w), nil
	case FormatJSON:
		return &jsonEncoder{w: w}, nil
	case FormatYAML:
		return &yamlEncoder{w: w}, nil
	}
	return nil, fmt.Errorf("unsupported export format %q", f)
}

var csvHeader = []string{
	"model_number", "input_voltage_range", "output_voltage", "output_power",
	"package", "isolation", "insulation", "dimension", "applications",
	"verify_status", "reviewer", "reviewed_at", "notes",
}

type csvEncoder struct {
	cw         *csv.Writer
	headerDone bool
}

func newCSVEncoder(w io.Writer) *csvEncoder {
	return &csvEncoder{cw: csv.NewWriter(w)}
}

func (e *csvEncoder) write(r *row) error {
	if !e.headerDone {
		if err := e.cw.Write(csvHeader); err != nil {
			return err
		}
		e.headerDone = true
	}
	record := []string{
		r.ModelNumber, r.InputVoltageRange, r.OutputVoltage, r.OutputPower,
		r.Package, r.Isolation, r.Insulation, r.Dimension,
		strings.Join(r.Applications, "; "),
		r.VerifyStatus, r.Reviewer, r.ReviewedAt, r.Notes,
	}
	if err := e.cw.Write(record); err != nil {
		return err
	}
	// Flush per row so the writer streams.
	e.cw.Flush()
	return e.cw.Error()
}

func (e *csvEncoder) close() error {
	if !e.headerDone {
		if err := e.cw.Write(csvHeader); err != nil {
			return err
		}
	}
	e.cw.Flush()
	return e.cw.Error()
}

type jsonEncoder struct {
	w     io.Writer
	count int
}

func (e *jsonEncoder) write(r *row) error {
	prefix := ",\n  "
	if e.count == 0 {
		prefix = "[\n  "
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(e.w, prefix); err != nil {
		return err
	}
	if _, err := e.w.Write(data); err != nil {
		return err
	}
	e.count++
	return nil
}

func (e *jsonEncoder) close() error {
	if e.count == 0 {
		_, err := io.WriteString(e.w, "[]\n")
		return err
	}
	_, err := io.WriteString(e.w, "\n]\n")
	return err
}

type yamlEncoder struct {
	w io.Writer
}

func (e *yamlEncoder) write(r *row) error {
	data, err := yaml.Marshal([]*row{r})
	if err != nil {
		return err
	}
	_, err = e.w.Write(data)
	return err
}

func (e *yamlEncoder) close() error { return nil }
