// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package review

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/pdiddy/datasheet-review/internal/governance"
	"github.com/pdiddy/datasheet-review/internal/storage"
	"github.com/pdiddy/datasheet-review/pkg/types"
)

func testStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), db
}

func insertAsset(t *testing.T, db *sql.DB, hash, filename string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO file_asset (file_hash, filename, size_bytes, local_path, created_at)
		VALUES (?, ?, 100, ?, ?)`,
		hash, filename, "/tmp/"+hash+".pdf", storage.FormatTime(time.Now()))
	if err != nil {
		t.Fatalf("inserting file asset: %v", err)
	}
}

func strptr(s string) *string { return &s }

func TestCreateAndGet(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	rec := &types.ModelRecord{
		ModelNumber: "THB 3-2411",
		Fields: types.SpecFields{
			InputVoltageRange: "9~36 VDC",
			OutputPower:       "3 W",
		},
		Applications: []string{"Railway", "Industrial"},
	}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "THB 3-2411")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.VerifyStatus != types.Unverified {
		t.Errorf("new record status = %q, want unverified", got.VerifyStatus)
	}
	if got.Fields.InputVoltageRange != "9~36 VDC" {
		t.Errorf("input voltage = %q", got.Fields.InputVoltageRange)
	}
	if !reflect.DeepEqual(got.Applications, []string{"Railway", "Industrial"}) {
		t.Errorf("applications = %v", got.Applications)
	}

	if err := store.Create(ctx, rec); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate Create error = %v, want ErrExists", err)
	}
}

func TestGetUnknownModel(t *testing.T) {
	store, _ := testStore(t)
	if _, err := store.Get(context.Background(), "NOPE-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestPatchDemotesVerifiedRecord(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	now := time.Now()

	rec := &types.ModelRecord{ModelNumber: "TEN 20-2412", Fields: types.SpecFields{Package: "DIP-24"}}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.ApplyPatch(ctx, "TEN 20-2412", Patch{Intent: governance.VerifyIntent("alice")}, now); err != nil {
		t.Fatalf("verify patch: %v", err)
	}

	got, err := store.ApplyPatch(ctx, "TEN 20-2412", Patch{Package: strptr("SMD")}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("edit patch: %v", err)
	}
	if got.VerifyStatus != types.Unverified {
		t.Errorf("status after silent edit = %q, want unverified", got.VerifyStatus)
	}
	if got.Reviewer != "" || got.ReviewedAt != nil {
		t.Errorf("review metadata not cleared: %q %v", got.Reviewer, got.ReviewedAt)
	}
	if got.Fields.Package != "SMD" {
		t.Errorf("package = %q, want SMD", got.Fields.Package)
	}
}

func TestNoopPatchKeepsVerification(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	now := time.Now()

	rec := &types.ModelRecord{
		ModelNumber:  "THB 3-2411",
		Fields:       types.SpecFields{Package: "DIP-24"},
		Applications: []string{"Railway"},
	}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.ApplyPatch(ctx, "THB 3-2411", Patch{Intent: governance.VerifyIntent("alice")}, now); err != nil {
		t.Fatalf("verify patch: %v", err)
	}

	// Same values, different spelling of the tag set.
	got, err := store.ApplyPatch(ctx, "THB 3-2411", Patch{
		Package:      strptr("DIP-24"),
		Applications: &[]string{" RAILWAY "},
	}, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("no-op patch: %v", err)
	}
	if got.VerifyStatus != types.Verified {
		t.Errorf("status after no-op edit = %q, want verified", got.VerifyStatus)
	}
	if got.Reviewer != "alice" {
		t.Errorf("reviewer = %q, want alice", got.Reviewer)
	}
}

func TestVerifyIntentSetsReviewMetadata(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, &types.ModelRecord{ModelNumber: "X-1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := store.ApplyPatch(ctx, "X-1", Patch{
		Package: strptr("DIP-24"),
		Intent:  governance.VerifyIntent("bob"),
	}, now)
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if got.VerifyStatus != types.Verified || got.Reviewer != "bob" {
		t.Fatalf("verification not applied: %+v", got)
	}
	if got.ReviewedAt == nil || !got.ReviewedAt.Equal(now) {
		t.Fatalf("reviewed_at = %v, want %v", got.ReviewedAt, now)
	}
}

func TestApplicationsReplacedWholesale(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	rec := &types.ModelRecord{ModelNumber: "A-1", Applications: []string{"Railway", "Medical"}}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := store.ApplyPatch(ctx, "A-1", Patch{
		Applications: &[]string{"Industrial", " industrial ", "Telecom"},
	}, time.Now())
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if !reflect.DeepEqual(got.Applications, []string{"Industrial", "Telecom"}) {
		t.Fatalf("applications = %v, want wholesale replacement with dedup", got.Applications)
	}
}

func TestMergeExtractionCreatesRecordAndLinks(t *testing.T) {
	store, db := testStore(t)
	ctx := context.Background()
	insertAsset(t, db, "hash-1", "thb3.pdf")

	err := store.MergeExtraction(ctx, "THB 3-2411", "hash-1",
		types.SpecFields{OutputPower: "3 W"},
		[]string{"Railway"},
		[]MergedField{{Path: "Output Power.value", Snippet: "3 W max"}},
		time.Now())
	if err != nil {
		t.Fatalf("MergeExtraction: %v", err)
	}

	got, err := store.Get(ctx, "THB 3-2411")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Fields.OutputPower != "3 W" || got.VerifyStatus != types.Unverified {
		t.Fatalf("merged record wrong: %+v", got)
	}
	if len(got.Files) != 1 || got.Files[0].FileHash != "hash-1" {
		t.Fatalf("file appearance missing: %+v", got.Files)
	}

	evs, err := store.Evidence(ctx, "THB 3-2411")
	if err != nil {
		t.Fatalf("Evidence: %v", err)
	}
	if len(evs) != 1 || evs[0].Snippet != "3 W max" {
		t.Fatalf("evidence = %+v", evs)
	}
}

func TestMergeExtractionWithoutEvidenceKeepsStored(t *testing.T) {
	store, db := testStore(t)
	ctx := context.Background()
	insertAsset(t, db, "hash-1", "thb3.pdf")

	err := store.MergeExtraction(ctx, "THB 3-2411", "hash-1",
		types.SpecFields{OutputPower: "3 W"}, nil,
		[]MergedField{{Path: "Output Power.value", Snippet: "3 W max"}},
		time.Now())
	if err != nil {
		t.Fatalf("MergeExtraction: %v", err)
	}

	// A second merge carrying no evidence must leave the audit trail alone.
	err = store.MergeExtraction(ctx, "THB 3-2411", "hash-1",
		types.SpecFields{OutputPower: "3 W"}, nil, nil, time.Now())
	if err != nil {
		t.Fatalf("second MergeExtraction: %v", err)
	}

	evs, err := store.Evidence(ctx, "THB 3-2411")
	if err != nil {
		t.Fatalf("Evidence: %v", err)
	}
	if len(evs) != 1 || evs[0].Snippet != "3 W max" {
		t.Fatalf("evidence = %+v, want the original row preserved", evs)
	}

	// A merge with fresh evidence still replaces the stored set.
	err = store.MergeExtraction(ctx, "THB 3-2411", "hash-1",
		types.SpecFields{OutputPower: "3 W"}, nil,
		[]MergedField{{Path: "Output Power.value", Snippet: "rated 3.0 W"}},
		time.Now())
	if err != nil {
		t.Fatalf("third MergeExtraction: %v", err)
	}
	evs, _ = store.Evidence(ctx, "THB 3-2411")
	if len(evs) != 1 || evs[0].Snippet != "rated 3.0 W" {
		t.Fatalf("evidence = %+v, want the replaced row", evs)
	}
}

func TestMergeExtractionDemotesChangedVerified(t *testing.T) {
	store, db := testStore(t)
	ctx := context.Background()
	insertAsset(t, db, "hash-1", "a.pdf")

	if err := store.Create(ctx, &types.ModelRecord{
		ModelNumber: "M-1",
		Fields:      types.SpecFields{OutputPower: "3 W"},
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.ApplyPatch(ctx, "M-1", Patch{Intent: governance.VerifyIntent("alice")}, time.Now()); err != nil {
		t.Fatalf("verify: %v", err)
	}

	err := store.MergeExtraction(ctx, "M-1", "hash-1",
		types.SpecFields{OutputPower: "6 W"}, nil, nil, time.Now())
	if err != nil {
		t.Fatalf("MergeExtraction: %v", err)
	}
	got, _ := store.Get(ctx, "M-1")
	if got.VerifyStatus != types.Unverified {
		t.Errorf("changed verified record not demoted")
	}
	if got.Fields.OutputPower != "6 W" {
		t.Errorf("output power = %q, want 6 W", got.Fields.OutputPower)
	}
}

func TestMergeExtractionEmptyValuesDoNotClobber(t *testing.T) {
	store, db := testStore(t)
	ctx := context.Background()
	insertAsset(t, db, "hash-1", "a.pdf")

	if err := store.Create(ctx, &types.ModelRecord{
		ModelNumber: "M-2",
		Fields:      types.SpecFields{Package: "DIP-24", OutputPower: "3 W"},
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := store.MergeExtraction(ctx, "M-2", "hash-1",
		types.SpecFields{OutputPower: "3 W"}, nil, nil, time.Now())
	if err != nil {
		t.Fatalf("MergeExtraction: %v", err)
	}
	got, _ := store.Get(ctx, "M-2")
	if got.Fields.Package != "DIP-24" {
		t.Fatalf("empty incoming value clobbered package: %q", got.Fields.Package)
	}
}

func TestListFilters(t *testing.T) {
	store, db := testStore(t)
	ctx := context.Background()
	insertAsset(t, db, "hash-1", "a.pdf")

	for _, m := range []*types.ModelRecord{
		{ModelNumber: "B-200", Applications: []string{"Railway"}},
		{ModelNumber: "A-100"},
		{ModelNumber: "C-300"},
	} {
		if err := store.Create(ctx, m); err != nil {
			t.Fatalf("Create %s: %v", m.ModelNumber, err)
		}
	}
	if _, err := store.ApplyPatch(ctx, "C-300", Patch{Intent: governance.VerifyIntent("alice")}, time.Now()); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := store.MergeExtraction(ctx, "A-100", "hash-1", types.SpecFields{}, nil, nil, time.Now()); err != nil {
		t.Fatalf("merge: %v", err)
	}

	all, total, err := store.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Fatalf("total = %d, len = %d, want 3", total, len(all))
	}
	if all[0].ModelNumber != "A-100" || all[2].ModelNumber != "C-300" {
		t.Fatalf("listing not ordered by model number: %+v", all)
	}

	verified := types.Verified
	got, _, err := store.List(ctx, ListFilter{Status: &verified})
	if err != nil || len(got) != 1 || got[0].ModelNumber != "C-300" {
		t.Fatalf("status filter: got %+v err %v", got, err)
	}

	got, _, err = store.List(ctx, ListFilter{AppTag: " RAILWAY "})
	if err != nil || len(got) != 1 || got[0].ModelNumber != "B-200" {
		t.Fatalf("app tag filter: got %+v err %v", got, err)
	}

	got, _, err = store.List(ctx, ListFilter{FileHash: "hash-1"})
	if err != nil || len(got) != 1 || got[0].ModelNumber != "A-100" {
		t.Fatalf("file filter: got %+v err %v", got, err)
	}

	got, total, err = store.List(ctx, ListFilter{Limit: 2})
	if err != nil || total != 3 || len(got) != 2 {
		t.Fatalf("paging: total %d len %d err %v", total, len(got), err)
	}

	hasFiles := true
	got, _, err = store.List(ctx, ListFilter{HasFiles: &hasFiles})
	if err != nil || len(got) != 1 || got[0].ModelNumber != "A-100" {
		t.Fatalf("has-files filter: got %+v err %v", got, err)
	}
	hasFiles = false
	got, _, err = store.List(ctx, ListFilter{HasFiles: &hasFiles})
	if err != nil || len(got) != 2 {
		t.Fatalf("orphan filter: got %+v err %v", got, err)
	}
}

func TestDeleteCascades(t *testing.T) {
	store, db := testStore(t)
	ctx := context.Background()
	insertAsset(t, db, "hash-1", "a.pdf")

	err := store.MergeExtraction(ctx, "D-1", "hash-1",
		types.SpecFields{}, []string{"Railway"},
		[]MergedField{{Path: "Package", Snippet: "DIP"}}, time.Now())
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := store.Delete(ctx, "D-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "D-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record survived delete: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM field_evidence`).Scan(&n); err != nil || n != 0 {
		t.Fatalf("evidence rows after delete = %d (err %v)", n, err)
	}
	if err := store.Delete(ctx, "D-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete error = %v, want ErrNotFound", err)
	}
}

func TestUnlinkFileRemovesAppearanceAndEvidence(t *testing.T) {
	store, db := testStore(t)
	ctx := context.Background()
	insertAsset(t, db, "hash-1", "a.pdf")

	err := store.MergeExtraction(ctx, "U-1", "hash-1",
		types.SpecFields{}, nil,
		[]MergedField{{Path: "Package", Snippet: "DIP"}}, time.Now())
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := store.UnlinkFile(ctx, "hash-1", "U-1"); err != nil {
		t.Fatalf("UnlinkFile: %v", err)
	}
	got, err := store.Get(ctx, "U-1")
	if err != nil {
		t.Fatalf("record must survive unlink: %v", err)
	}
	if len(got.Files) != 0 {
		t.Fatalf("appearance survived unlink: %+v", got.Files)
	}
	evs, _ := store.Evidence(ctx, "U-1")
	if len(evs) != 0 {
		t.Fatalf("evidence survived unlink: %+v", evs)
	}
}
