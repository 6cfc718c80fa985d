// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package review persists model records, their application tags, their
// file appearances and field evidence, and applies every write through
// the verification governance rules.
package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/datasheet-review/internal/governance"
	"github.com/pdiddy/datasheet-review/internal/storage"
	"github.com/pdiddy/datasheet-review/pkg/types"
)

var (
	// ErrNotFound is returned when no record carries the given model number.
	ErrNotFound = errors.New("model record not found")

	// ErrExists is returned when creating a model number that is already taken.
	ErrExists = errors.New("model record already exists")
)

// Store reads and writes model records.
type Store struct {
	db *sql.DB
}

// New builds a Store over an open review database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Patch is a partial reviewer edit. Nil pointers leave the stored value
// untouched; non-nil pointers replace it, with the empty string clearing
// a field. Applications, when present, replace the whole collection.
type Patch struct {
	InputVoltageRange *string
	OutputVoltage     *string
	OutputPower       *string
	Package           *string
	Isolation         *string
	Insulation        *string
	Dimension         *string
	Applications      *[]string
	Notes             *string

	Intent governance.Intent
}

// ListFilter narrows List output. Zero values mean "no constraint".
type ListFilter struct {
	Status   *types.VerifyStatus
	Search   string // substring match on model_number
	AppTag   string // canonical application tag match
	FileHash string // only models appearing in this file
	HasFiles *bool  // true: linked to at least one file; false: orphans
	Limit    int
	Offset   int
}

// Create inserts a new model record supplied by a reviewer. The record is
// stored as given; a verify intent in the caller's hands goes through
// ApplyPatch afterwards.
func (s *Store) Create(ctx context.Context, rec *types.ModelRecord) error {
	model := strings.TrimSpace(rec.ModelNumber)
	if model == "" {
		return errors.New("model number must not be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO model_item (
			model_number, input_voltage_range, output_voltage, output_power,
			package, isolation, insulation, dimension,
			verify_status, reviewer, reviewed_at, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'unverified', NULL, NULL, ?)`,
		model,
		nullable(rec.Fields.InputVoltageRange), nullable(rec.Fields.OutputVoltage),
		nullable(rec.Fields.OutputPower), nullable(rec.Fields.Package),
		nullable(rec.Fields.Isolation), nullable(rec.Fields.Insulation),
		nullable(rec.Fields.Dimension), nullable(rec.Notes))
	if err != nil {
		return fmt.Errorf("inserting model record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("model %q: %w", model, ErrExists)
	}

	if err := replaceApplications(ctx, tx, model, rec.Applications); err != nil {
		return err
	}
	return tx.Commit()
}

// Get loads one model record with its applications and file appearances.
func (s *Store) Get(ctx context.Context, modelNumber string) (*types.ModelRecord, error) {
	rec, err := s.getRecord(ctx, s.db, modelNumber)
	if err != nil {
		return nil, err
	}
	if err := s.attachRelations(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns records matching filter ordered by model number ascending,
// along with the total match count before paging.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]types.ModelRecord, int, error) {
	where, args := filterClause(filter)

	var total int
	countQuery := "SELECT COUNT(*) FROM model_item m" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting model records: %w", err)
	}

	query := selectRecord + " FROM model_item m" + where + " ORDER BY m.model_number ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing model records: %w", err)
	}
	defer rows.Close()

	var out []types.ModelRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating model records: %w", err)
	}
	for i := range out {
		if err := s.attachRelations(ctx, &out[i]); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

// ApplyPatch applies a reviewer edit in one transaction. The incoming
// state is resolved against the stored record, the governance decision is
// computed from whether anything observable changes plus the explicit
// intent, and both are committed together.
func (s *Store) ApplyPatch(ctx context.Context, modelNumber string, patch Patch, now time.Time) (*types.ModelRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	old, err := s.getRecord(ctx, tx, modelNumber)
	if err != nil {
		return nil, err
	}
	oldApps, err := loadApplications(ctx, tx, old.ModelNumber)
	if err != nil {
		return nil, err
	}

	fields := old.Fields
	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&fields.InputVoltageRange, patch.InputVoltageRange)
	apply(&fields.OutputVoltage, patch.OutputVoltage)
	apply(&fields.OutputPower, patch.OutputPower)
	apply(&fields.Package, patch.Package)
	apply(&fields.Isolation, patch.Isolation)
	apply(&fields.Insulation, patch.Insulation)
	apply(&fields.Dimension, patch.Dimension)

	apps := oldApps
	if patch.Applications != nil {
		apps = *patch.Applications
	}

	changed := governance.FieldsChanged(old.Fields, fields) || governance.AppsChanged(oldApps, apps)
	decision := governance.Decide(old, changed, patch.Intent, now)

	notes := old.Notes
	if patch.Notes != nil {
		notes = *patch.Notes
	}

	if err := writeRecord(ctx, tx, old.ModelNumber, fields, notes, decision); err != nil {
		return nil, err
	}
	if patch.Applications != nil {
		if err := replaceApplications(ctx, tx, old.ModelNumber, apps); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing patch: %w", err)
	}
	return s.Get(ctx, old.ModelNumber)
}

// MergedField is one extracted value plus the document snippet it came from.
type MergedField struct {
	Path    string
	Snippet string
}

// MergeExtraction folds one extraction result for one file into the corpus.
// Missing records are created unverified; existing records take the
// incoming values through the same governance path a reviewer edit takes,
// so an extraction that changes a verified record demotes it. Empty
// incoming values never clobber stored ones. The file appearance link and
// the per-field evidence for this file are refreshed atomically with the
// record write.
func (s *Store) MergeExtraction(ctx context.Context, modelNumber, fileHash string, fields types.SpecFields, apps []string, evidence []MergedField, now time.Time) error {
	model := strings.TrimSpace(modelNumber)
	if model == "" {
		return errors.New("model number must not be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	old, err := s.getRecord(ctx, tx, model)
	switch {
	case errors.Is(err, ErrNotFound):
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO model_item (
				model_number, input_voltage_range, output_voltage, output_power,
				package, isolation, insulation, dimension, verify_status
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'unverified')`,
			model,
			nullable(fields.InputVoltageRange), nullable(fields.OutputVoltage),
			nullable(fields.OutputPower), nullable(fields.Package),
			nullable(fields.Isolation), nullable(fields.Insulation),
			nullable(fields.Dimension)); err != nil {
			return fmt.Errorf("inserting model record: %w", err)
		}
		if err := replaceApplications(ctx, tx, model, apps); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		oldApps, err := loadApplications(ctx, tx, model)
		if err != nil {
			return err
		}
		merged := mergeFields(old.Fields, fields)
		mergedApps := oldApps
		if len(governance.DedupeTags(apps)) > 0 {
			mergedApps = apps
		}
		changed := governance.FieldsChanged(old.Fields, merged) || governance.AppsChanged(oldApps, mergedApps)
		decision := governance.Decide(old, changed, governance.Intent{}, now)
		if err := writeRecord(ctx, tx, model, merged, old.Notes, decision); err != nil {
			return err
		}
		if err := replaceApplications(ctx, tx, model, mergedApps); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO file_model_appearance (file_hash, model_number) VALUES (?, ?)`,
		fileHash, model); err != nil {
		return fmt.Errorf("linking file appearance: %w", err)
	}

	// A merge with no evidence (a replayed output, or a service reply
	// without snippets) must not erase the audit trail already stored
	// for this (model, file) pair.
	if len(evidence) > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM field_evidence WHERE model_number = ? AND file_hash = ?`,
			model, fileHash); err != nil {
			return fmt.Errorf("clearing stale evidence: %w", err)
		}
		for _, ev := range evidence {
			if strings.TrimSpace(ev.Snippet) == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO field_evidence (model_number, file_hash, field_path, snippet) VALUES (?, ?, ?, ?)`,
				model, fileHash, ev.Path, ev.Snippet); err != nil {
				return fmt.Errorf("inserting field evidence: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Delete removes a model record; tags, appearances and evidence cascade.
func (s *Store) Delete(ctx context.Context, modelNumber string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM model_item WHERE model_number = ?`, modelNumber)
	if err != nil {
		return fmt.Errorf("deleting model record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("model %q: %w", modelNumber, ErrNotFound)
	}
	return nil
}

// UnlinkFile removes one file appearance and the evidence tied to it. The
// model record itself is untouched.
func (s *Store) UnlinkFile(ctx context.Context, fileHash, modelNumber string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM file_model_appearance WHERE file_hash = ? AND model_number = ?`,
		fileHash, modelNumber)
	if err != nil {
		return fmt.Errorf("unlinking file appearance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("appearance %s in %s: %w", modelNumber, fileHash, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM field_evidence WHERE file_hash = ? AND model_number = ?`,
		fileHash, modelNumber); err != nil {
		return fmt.Errorf("removing file evidence: %w", err)
	}
	return tx.Commit()
}

// Evidence lists stored field evidence for one model, every source file.
func (s *Store) Evidence(ctx context.Context, modelNumber string) ([]types.FieldEvidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model_number, file_hash, field_path, snippet
		FROM field_evidence WHERE model_number = ?
		ORDER BY file_hash, field_path`, modelNumber)
	if err != nil {
		return nil, fmt.Errorf("querying evidence: %w", err)
	}
	defer rows.Close()

	var out []types.FieldEvidence
	for rows.Next() {
		var ev types.FieldEvidence
		if err := rows.Scan(&ev.ModelNumber, &ev.FileHash, &ev.FieldPath, &ev.Snippet); err != nil {
			return nil, fmt.Errorf("scanning evidence: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ModelsInFile lists the model numbers linked to one file asset.
func (s *Store) ModelsInFile(ctx context.Context, fileHash string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_number FROM file_model_appearance WHERE file_hash = ? ORDER BY model_number`,
		fileHash)
	if err != nil {
		return nil, fmt.Errorf("querying file appearances: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scanning appearance: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const selectRecord = `SELECT
	m.model_number,
	COALESCE(m.input_voltage_range, ''), COALESCE(m.output_voltage, ''),
	COALESCE(m.output_power, ''), COALESCE(m.package, ''),
	COALESCE(m.isolation, ''), COALESCE(m.insulation, ''),
	COALESCE(m.dimension, ''),
	m.verify_status, COALESCE(m.reviewer, ''), m.reviewed_at, COALESCE(m.notes, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.ModelRecord, error) {
	var rec types.ModelRecord
	var reviewedAt sql.NullString
	err := row.Scan(
		&rec.ModelNumber,
		&rec.Fields.InputVoltageRange, &rec.Fields.OutputVoltage,
		&rec.Fields.OutputPower, &rec.Fields.Package,
		&rec.Fields.Isolation, &rec.Fields.Insulation,
		&rec.Fields.Dimension,
		&rec.VerifyStatus, &rec.Reviewer, &reviewedAt, &rec.Notes)
	if err != nil {
		return nil, fmt.Errorf("scanning model record: %w", err)
	}
	if rec.ReviewedAt, err = storage.ParseNullTime(reviewedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) getRecord(ctx context.Context, q querier, modelNumber string) (*types.ModelRecord, error) {
	row := q.QueryRowContext(ctx, selectRecord+` FROM model_item m WHERE m.model_number = ?`, modelNumber)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("model %q: %w", modelNumber, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) attachRelations(ctx context.Context, rec *types.ModelRecord) error {
	apps, err := loadApplications(ctx, s.db, rec.ModelNumber)
	if err != nil {
		return err
	}
	rec.Applications = apps

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.file_hash, f.filename
		FROM file_model_appearance a
		JOIN file_asset f ON f.file_hash = a.file_hash
		WHERE a.model_number = ?
		ORDER BY f.created_at DESC, a.file_hash`, rec.ModelNumber)
	if err != nil {
		return fmt.Errorf("querying file appearances: %w", err)
	}
	defer rows.Close()

	rec.Files = nil
	for rows.Next() {
		var ref types.FileRef
		if err := rows.Scan(&ref.FileHash, &ref.Filename); err != nil {
			return fmt.Errorf("scanning file appearance: %w", err)
		}
		rec.Files = append(rec.Files, ref)
	}
	return rows.Err()
}

func loadApplications(ctx context.Context, q querier, modelNumber string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT app_tag FROM model_application_tag WHERE model_number = ? ORDER BY id`,
		modelNumber)
	if err != nil {
		return nil, fmt.Errorf("querying applications: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scanning application tag: %w", err)
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

func replaceApplications(ctx context.Context, q querier, modelNumber string, apps []string) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM model_application_tag WHERE model_number = ?`, modelNumber); err != nil {
		return fmt.Errorf("clearing applications: %w", err)
	}
	for _, tag := range governance.DedupeTags(apps) {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO model_application_tag (model_number, app_tag, app_tag_canon) VALUES (?, ?, ?)`,
			modelNumber, tag, governance.CanonTag(tag)); err != nil {
			return fmt.Errorf("inserting application tag: %w", err)
		}
	}
	return nil
}

func writeRecord(ctx context.Context, q querier, modelNumber string, fields types.SpecFields, notes string, d governance.Decision) error {
	_, err := q.ExecContext(ctx, `
		UPDATE model_item SET
			input_voltage_range = ?, output_voltage = ?, output_power = ?,
			package = ?, isolation = ?, insulation = ?, dimension = ?,
			verify_status = ?, reviewer = ?, reviewed_at = ?, notes = ?
		WHERE model_number = ?`,
		nullable(fields.InputVoltageRange), nullable(fields.OutputVoltage),
		nullable(fields.OutputPower), nullable(fields.Package),
		nullable(fields.Isolation), nullable(fields.Insulation),
		nullable(fields.Dimension),
		string(d.Status), nullable(d.Reviewer), storage.FormatNullTime(d.ReviewedAt),
		nullable(notes), modelNumber)
	if err != nil {
		return fmt.Errorf("updating model record: %w", err)
	}
	return nil
}

// mergeFields overlays incoming extraction values on stored ones; an empty
// incoming value keeps what is already there.
func mergeFields(old, incoming types.SpecFields) types.SpecFields {
	pick := func(stored, extracted string) string {
		if strings.TrimSpace(extracted) != "" {
			return extracted
		}
		return stored
	}
	return types.SpecFields{
		InputVoltageRange: pick(old.InputVoltageRange, incoming.InputVoltageRange),
		OutputVoltage:     pick(old.OutputVoltage, incoming.OutputVoltage),
		OutputPower:       pick(old.OutputPower, incoming.OutputPower),
		Package:           pick(old.Package, incoming.Package),
		Isolation:         pick(old.Isolation, incoming.Isolation),
		Insulation:        pick(old.Insulation, incoming.Insulation),
		Dimension:         pick(old.Dimension, incoming.Dimension),
	}
}

func filterClause(f ListFilter) (string, []any) {
	var conds []string
	var args []any
	if f.Status != nil {
		conds = append(conds, "m.verify_status = ?")
		args = append(args, string(*f.Status))
	}
	if f.Search != "" {
		conds = append(conds, "m.model_number LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}
	if f.AppTag != "" {
		conds = append(conds, "m.model_number IN (SELECT model_number FROM model_application_tag WHERE app_tag_canon = ?)")
		args = append(args, governance.CanonTag(f.AppTag))
	}
	if f.FileHash != "" {
		conds = append(conds, "m.model_number IN (SELECT model_number FROM file_model_appearance WHERE file_hash = ?)")
		args = append(args, f.FileHash)
	}
	if f.HasFiles != nil {
		op := "IN"
		if !*f.HasFiles {
			op = "NOT IN"
		}
		conds = append(conds, "m.model_number "+op+" (SELECT DISTINCT model_number FROM file_model_appearance)")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullable(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
