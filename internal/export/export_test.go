// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package export

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/datasheet-review/internal/governance"
	"github.com/pdiddy/datasheet-review/internal/review"
	"github.com/pdiddy/datasheet-review/internal/storage"
	"github.com/pdiddy/datasheet-review/pkg/types"
)

func testExporter(t *testing.T) (*Exporter, *review.Store, *sql.DB) {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), review.New(db), db
}

func seedCorpus(t *testing.T, records *review.Store) {
	t.Helper()
	ctx := context.Background()
	for _, rec := range []*types.ModelRecord{
		{
			ModelNumber:  "B-200",
			Fields:       types.SpecFields{OutputPower: "6 W", Package: "DIP-24"},
			Applications: []string{"Railway", "Industrial"},
		},
		{ModelNumber: "A-100", Fields: types.SpecFields{OutputPower: "3 W"}},
		{ModelNumber: "C-300"},
	} {
		if err := records.Create(ctx, rec); err != nil {
			t.Fatalf("seeding %s: %v", rec.ModelNumber, err)
		}
	}
	if _, err := records.ApplyPatch(ctx, "C-300", review.Patch{Intent: governance.VerifyIntent("alice")}, time.Now()); err != nil {
		t.Fatalf("verifying C-300: %v", err)
	}
}

func csvRows(t *testing.T, data []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parsing CSV: %v", err)
	}
	return rows
}

func firstColumn(rows [][]string) []string {
	var out []string
	for _, r := range rows[1:] {
		out = append(out, r[0])
	}
	return out
}

func TestExportAllSortsByModelNumber(t *testing.T) {
	exp, records, _ := testExporter(t)
	seedCorpus(t, records)

	var buf bytes.Buffer
	n, err := exp.Export(context.Background(), &buf, Options{Format: FormatCSV})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 3 {
		t.Fatalf("rows = %d, want 3", n)
	}

	rows := csvRows(t, buf.Bytes())
	got := firstColumn(rows)
	want := []string{"A-100", "B-200", "C-300"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	// Applications join with "; " in CSV.
	if rows[2][8] != "Railway; Industrial" {
		t.Errorf("applications cell = %q", rows[2][8])
	}
}

func TestExportStatusFilter(t *testing.T) {
	exp, records, _ := testExporter(t)
	seedCorpus(t, records)

	verified := types.Verified
	var buf bytes.Buffer
	n, err := exp.Export(context.Background(), &buf, Options{Format: FormatCSV, Status: &verified})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
	rows := csvRows(t, buf.Bytes())
	if rows[1][0] != "C-300" || rows[1][9] != "verified" || rows[1][10] != "alice" {
		t.Fatalf("verified row = %v", rows[1])
	}
}

func TestExportListPreservesOrderAndRepeats(t *testing.T) {
	exp, records, _ := testExporter(t)
	seedCorpus(t, records)

	var buf bytes.Buffer
	n, err := exp.Export(context.Background(), &buf, Options{
		Format:        FormatCSV,
		Models:        []string{"B-200", "A-100", "B-200"},
		PreserveOrder: true,
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 3 {
		t.Fatalf("rows = %d, want 3 (repeats preserved)", n)
	}
	got := firstColumn(csvRows(t, buf.Bytes()))
	want := []string{"B-200", "A-100", "B-200"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestExportListDefaultSortsAndDedups(t *testing.T) {
	exp, records, _ := testExporter(t)
	seedCorpus(t, records)

	var buf bytes.Buffer
	n, err := exp.Export(context.Background(), &buf, Options{
		Format: FormatCSV,
		Models: []string{"B-200", " A-100 ", "B-200", "", "UNKNOWN-1"},
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows = %d, want 2 (dedup, unknown omitted)", n)
	}
	got := firstColumn(csvRows(t, buf.Bytes()))
	if got[0] != "A-100" || got[1] != "B-200" {
		t.Fatalf("order = %v", got)
	}
}

func TestExportListHonorsStatusFilter(t *testing.T) {
	exp, records, _ := testExporter(t)
	seedCorpus(t, records)

	verified := types.Verified
	var buf bytes.Buffer
	n, err := exp.Export(context.Background(), &buf, Options{
		Format: FormatCSV,
		Models: []string{"A-100", "C-300"},
		Status: &verified,
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows = %d, want 1 (A-100 fails the status filter)", n)
	}
	if got := firstColumn(csvRows(t, buf.Bytes())); got[0] != "C-300" {
		t.Fatalf("rows = %v", got)
	}
}

func TestExportListChunksLargeInputs(t *testing.T) {
	exp, records, _ := testExporter(t)
	seedCorpus(t, records)

	// A chunk size of 1 forces one IN() query per model.
	var buf bytes.Buffer
	n, err := exp.Export(context.Background(), &buf, Options{
		Format:        FormatCSV,
		Models:        []string{"C-300", "A-100", "B-200"},
		PreserveOrder: true,
		ChunkSize:     1,
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 3 {
		t.Fatalf("rows = %d, want 3", n)
	}
	got := firstColumn(csvRows(t, buf.Bytes()))
	if got[0] != "C-300" || got[1] != "A-100" || got[2] != "B-200" {
		t.Fatalf("order = %v", got)
	}
}

func TestExportJSON(t *testing.T) {
	exp, records, _ := testExporter(t)
	seedCorpus(t, records)

	var buf bytes.Buffer
	if _, err := exp.Export(context.Background(), &buf, Options{Format: FormatJSON}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	var rows []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatalf("output is not a JSON array: %v", err)
	}
	if len(rows) != 3 || rows[0]["model_number"] != "A-100" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestExportJSONEmptyCorpus(t *testing.T) {
	exp, _, _ := testExporter(t)

	var buf bytes.Buffer
	n, err := exp.Export(context.Background(), &buf, Options{Format: FormatJSON})
	if err != nil || n != 0 {
		t.Fatalf("Export = %d, %v", n, err)
	}
	var rows []any
	if err := json.Unmarshal(buf.Bytes(), &rows); err != nil || len(rows) != 0 {
		t.Fatalf("empty export = %q", buf.String())
	}
}

func TestExportYAML(t *testing.T) {
	exp, records, _ := testExporter(t)
	seedCorpus(t, records)

	var buf bytes.Buffer
	if _, err := exp.Export(context.Background(), &buf, Options{Format: FormatYAML}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	var rows []map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatalf("output is not a YAML sequence: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	exp, _, _ := testExporter(t)
	var buf bytes.Buffer
	if _, err := exp.Export(context.Background(), &buf, Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestCSVHeaderAlwaysPresent(t *testing.T) {
	exp, _, _ := testExporter(t)
	var buf bytes.Buffer
	if _, err := exp.Export(context.Background(), &buf, Options{Format: FormatCSV}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "model_number,") {
		t.Fatalf("header missing: %q", buf.String())
	}
}
