// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extraction

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/pdiddy/datasheet-review/pkg/types"
)

// ErrUnknownModel is returned when a model name maps to no priced family.
var ErrUnknownModel = errors.New("no pricing for model")

// rates are USD per one million tokens.
type rates struct {
	Input       float64
	CachedInput float64
	Output      float64
}

// pricingPer1M is keyed by model family. Dated model versions normalize
// onto their family before lookup.
var pricingPer1M = map[string]rates{
	"gpt-5":   {Input: 1.25, CachedInput: 0.125, Output: 10.00},
	"gpt-4.1": {Input: 2.00, CachedInput: 0.50, Output: 8.00},
	"gpt-4o":  {Input: 2.50, CachedInput: 1.25, Output: 10.00},
}

// datedVersionRe matches a -YYYY-MM-DD version suffix, with or without
// trailing segments after the date.
var datedVersionRe = regexp.MustCompile(`-\d{4}-\d{2}-\d{2}(-.*)?$`)

// Usage is the token accounting reported by the extraction service for
// one call. CachedTokens counts the portion of PromptTokens served from
// the provider's prompt cache at the discounted rate.
type Usage struct {
	PromptTokens     int
	CachedTokens     int
	CompletionTokens int
}

// Add accumulates another call's usage.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CachedTokens += other.CachedTokens
	u.CompletionTokens += other.CompletionTokens
}

// normalizeModel maps a concrete model name onto its pricing family key:
// lowercase, then an exact match or a dated version of a priced family
// (gpt-5-2025-10-03 → gpt-5). Only dated versions normalize; distinct
// variants like gpt-4o-mini are different products with their own rates
// and must not silently bill at the base family's price.
func normalizeModel(model string) (string, bool) {
	m := strings.ToLower(strings.TrimSpace(model))
	if _, ok := pricingPer1M[m]; ok {
		return m, true
	}
	stripped := datedVersionRe.ReplaceAllString(m, "")
	if stripped != m {
		if _, ok := pricingPer1M[stripped]; ok {
			return stripped, true
		}
	}
	return "", false
}

// tierMultiplier maps service tier and mode onto a price multiplier.
// Priority and scale tiers cost double; the flex tier and batch mode cost
// half. The discounts do not stack.
func tierMultiplier(serviceTier string, mode types.ExtractionMode) float64 {
	switch strings.ToLower(strings.TrimSpace(serviceTier)) {
	case "priority", "scale":
		return 2.0
	case "flex":
		return 0.5
	}
	if mode == types.ModeBatch {
		return 0.5
	}
	return 1.0
}

// Cost computes the USD cost of usage under a model, service tier and
// mode. Cached prompt tokens are billed at the cached input rate; the
// remaining prompt tokens at the full input rate.
func Cost(model, serviceTier string, mode types.ExtractionMode, u Usage) (float64, error) {
	family, ok := normalizeModel(model)
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknownModel, model)
	}
	r := pricingPer1M[family]

	uncached := u.PromptTokens - u.CachedTokens
	if uncached < 0 {
		uncached = 0
	}
	cost := float64(uncached)/1e6*r.Input +
		float64(u.CachedTokens)/1e6*r.CachedInput +
		float64(u.CompletionTokens)/1e6*r.Output
	return cost * tierMultiplier(serviceTier, mode), nil
}
