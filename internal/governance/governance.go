// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package governance decides verified/unverified transitions for model
// records. Every write path — reviewer edits and extraction merges alike —
// funnels through Decide, so stale human certification can never survive
// silent data drift. The function is pure; storage applies its outcome.
package governance

import (
	"sort"
	"strings"
	"time"

	"github.com/pdiddy/datasheet-review/pkg/types"
)

// Intent carries the caller's explicit wishes for a write. A nil Requested
// status means the caller expressed no opinion and the demote-on-change
// rule governs.
type Intent struct {
	// Requested is the explicitly requested verify status, if any.
	Requested *types.VerifyStatus

	// Reviewer is the caller-supplied identity, used only when verifying.
	Reviewer string
}

// VerifyIntent builds an Intent that requests verification.
func VerifyIntent(reviewer string) Intent {
	v := types.Verified
	return Intent{Requested: &v, Reviewer: reviewer}
}

// UnverifyIntent builds an Intent that explicitly revokes verification.
func UnverifyIntent() Intent {
	u := types.Unverified
	return Intent{Requested: &u}
}

// Decision is the resolved review state to commit with a write.
type Decision struct {
	Status     types.VerifyStatus
	Reviewer   string
	ReviewedAt *time.Time
}

// Decide resolves the review state for a write against old given whether
// the write changes any observable field or application value.
//
// Explicit verify intent always wins: the record is (re)certified at now,
// with the supplied reviewer or, absent one, whoever certified it before.
// Explicit unverify clears the certification. Without intent, a change to
// a verified record demotes it and clears reviewer and reviewed_at; a
// no-op write leaves everything untouched.
func Decide(old *types.ModelRecord, changed bool, intent Intent, now time.Time) Decision {
	if intent.Requested != nil {
		if *intent.Requested == types.Verified {
			reviewer := strings.TrimSpace(intent.Reviewer)
			if reviewer == "" {
				reviewer = old.Reviewer
			}
			at := now.UTC()
			return Decision{Status: types.Verified, Reviewer: reviewer, ReviewedAt: &at}
		}
		return Decision{Status: types.Unverified}
	}

	if old.VerifyStatus == types.Verified && changed {
		return Decision{Status: types.Unverified}
	}
	return Decision{Status: old.VerifyStatus, Reviewer: old.Reviewer, ReviewedAt: old.ReviewedAt}
}

// NormalizeScalar maps a field value to its comparable form: surrounding
// whitespace trimmed, with the empty string standing in for null.
func NormalizeScalar(v string) string {
	return strings.TrimSpace(v)
}

// ScalarChanged reports whether a scalar field write is observable.
func ScalarChanged(old, incoming string) bool {
	return NormalizeScalar(old) != NormalizeScalar(incoming)
}

// FieldsChanged reports whether any specification field write is observable.
func FieldsChanged(old, incoming types.SpecFields) bool {
	pairs := [][2]string{
		{old.InputVoltageRange, incoming.InputVoltageRange},
		{old.OutputVoltage, incoming.OutputVoltage},
		{old.OutputPower, incoming.OutputPower},
		{old.Package, incoming.Package},
		{old.Isolation, incoming.Isolation},
		{old.Insulation, incoming.Insulation},
		{old.Dimension, incoming.Dimension},
	}
	for _, p := range pairs {
		if ScalarChanged(p[0], p[1]) {
			return true
		}
	}
	return false
}

// CanonTag maps an application tag to its canonical identity: trimmed and
// lowercased. Tags that canonicalize equal are the same tag.
func CanonTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// CanonTagSet canonicalizes and deduplicates a tag list into a sorted set.
func CanonTagSet(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		c := CanonTag(t)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// AppsChanged reports whether an applications replacement is observable.
// Comparison is set equivalence: case-insensitive, order-insensitive,
// deduplicated.
func AppsChanged(old, incoming []string) bool {
	a, b := CanonTagSet(old), CanonTagSet(incoming)
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}

// DedupeTags returns incoming with blank entries dropped and canonical
// duplicates removed, preserving first-seen original spelling and order.
// This is the form stored when applications are replaced wholesale.
func DedupeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		trimmed := strings.TrimSpace(t)
		c := CanonTag(t)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, trimmed)
	}
	return out
}
