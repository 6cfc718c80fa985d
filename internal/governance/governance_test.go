// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package governance

import (
	"reflect"
	"testing"
	"time"

	"github.com/pdiddy/datasheet-review/pkg/types"
)

func verifiedRecord() *types.ModelRecord {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &types.ModelRecord{
		ModelNumber:  "THB 3-2411",
		VerifyStatus: types.Verified,
		Reviewer:     "alice",
		ReviewedAt:   &at,
	}
}

func TestChangeDemotesVerified(t *testing.T) {
	now := time.Now()
	d := Decide(verifiedRecord(), true, Intent{}, now)
	if d.Status != types.Unverified {
		t.Fatalf("status = %q, want unverified", d.Status)
	}
	if d.Reviewer != "" || d.ReviewedAt != nil {
		t.Fatalf("demotion must clear reviewer and reviewed_at, got %q %v", d.Reviewer, d.ReviewedAt)
	}
}

func TestNoopWriteKeepsVerified(t *testing.T) {
	old := verifiedRecord()
	d := Decide(old, false, Intent{}, time.Now())
	if d.Status != types.Verified {
		t.Fatalf("status = %q, want verified", d.Status)
	}
	if d.Reviewer != "alice" || d.ReviewedAt == nil || !d.ReviewedAt.Equal(*old.ReviewedAt) {
		t.Fatalf("no-op write must not touch review metadata")
	}
}

func TestVerifyIntentWinsOverChange(t *testing.T) {
	now := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	d := Decide(verifiedRecord(), true, VerifyIntent("bob"), now)
	if d.Status != types.Verified {
		t.Fatalf("status = %q, want verified", d.Status)
	}
	if d.Reviewer != "bob" {
		t.Fatalf("reviewer = %q, want bob", d.Reviewer)
	}
	if d.ReviewedAt == nil || !d.ReviewedAt.Equal(now) {
		t.Fatalf("reviewed_at = %v, want %v", d.ReviewedAt, now)
	}
}

func TestVerifyWithoutReviewerKeepsPrevious(t *testing.T) {
	d := Decide(verifiedRecord(), false, VerifyIntent(""), time.Now())
	if d.Reviewer != "alice" {
		t.Fatalf("reviewer = %q, want previous reviewer retained", d.Reviewer)
	}
}

func TestVerifyUnverifiedRecord(t *testing.T) {
	old := &types.ModelRecord{ModelNumber: "TEN 20-2412", VerifyStatus: types.Unverified}
	now := time.Now()
	d := Decide(old, true, VerifyIntent("carol"), now)
	if d.Status != types.Verified || d.Reviewer != "carol" || d.ReviewedAt == nil {
		t.Fatalf("verify intent on unverified record not honored: %+v", d)
	}
}

func TestExplicitUnverifyClears(t *testing.T) {
	d := Decide(verifiedRecord(), false, UnverifyIntent(), time.Now())
	if d.Status != types.Unverified || d.Reviewer != "" || d.ReviewedAt != nil {
		t.Fatalf("explicit unverify must clear certification: %+v", d)
	}
}

func TestUnverifiedStaysUnverified(t *testing.T) {
	old := &types.ModelRecord{ModelNumber: "X", VerifyStatus: types.Unverified}
	d := Decide(old, true, Intent{}, time.Now())
	if d.Status != types.Unverified {
		t.Fatalf("status = %q, want unverified", d.Status)
	}
}

func TestScalarChanged(t *testing.T) {
	cases := []struct {
		old, incoming string
		want          bool
	}{
		{"DIP-24", "DIP-24", false},
		{"  DIP-24 ", "DIP-24", false},
		{"", "", false},
		{"   ", "", false},
		{"DIP-24", "SMD", true},
		{"", "SMD", true},
		{"DIP-24", "", true},
	}
	for _, c := range cases {
		if got := ScalarChanged(c.old, c.incoming); got != c.want {
			t.Errorf("ScalarChanged(%q, %q) = %v, want %v", c.old, c.incoming, got, c.want)
		}
	}
}

func TestFieldsChanged(t *testing.T) {
	base := types.SpecFields{Package: "DIP-24", OutputPower: "3 W"}
	if FieldsChanged(base, base) {
		t.Fatal("identical field sets reported as changed")
	}
	other := base
	other.Isolation = "1500 VDC"
	if !FieldsChanged(base, other) {
		t.Fatal("isolation change not detected")
	}
}

func TestAppsChangedIsSetEquivalence(t *testing.T) {
	old := []string{"Railway", "Industrial"}
	cases := []struct {
		incoming []string
		want     bool
	}{
		{[]string{"industrial", "RAILWAY"}, false},
		{[]string{"Industrial", "Railway", " railway "}, false},
		{[]string{"Railway"}, true},
		{[]string{"Railway", "Industrial", "Medical"}, true},
		{nil, true},
	}
	for _, c := range cases {
		if got := AppsChanged(old, c.incoming); got != c.want {
			t.Errorf("AppsChanged(%v, %v) = %v, want %v", old, c.incoming, got, c.want)
		}
	}
	if AppsChanged(nil, []string{" ", ""}) {
		t.Error("blank-only incoming list should equal the empty set")
	}
}

func TestDedupeTags(t *testing.T) {
	got := DedupeTags([]string{" Railway ", "railway", "", "Industrial", "INDUSTRIAL", "Medical"})
	want := []string{"Railway", "Industrial", "Medical"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DedupeTags = %v, want %v", got, want)
	}
}
