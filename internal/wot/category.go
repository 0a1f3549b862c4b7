package wot

import (
	"fmt"
	"strings"
)

// Category names recognised by CategoryScore. A bare attestation type
// name is also accepted as a category selecting exactly that type.
const (
	CategoryCommerce = "commerce"
	CategoryIdentity = "identity"
	CategoryCode     = "code"
	CategoryGeneral  = "general"
)

// Categories returns the named category projections, in presentation
// order.
func Categories() []string {
	return []string{CategoryCommerce, CategoryIdentity, CategoryCode, CategoryGeneral}
}

// categoryFilter returns the attestation predicate for a category.
func categoryFilter(category string) (func(Attestation) bool, error) {
	switch category {
	case CategoryCommerce:
		return typeIn(TypeServiceQuality, TypeWorkCompleted), nil
	case CategoryIdentity:
		return typeIn(TypeIdentityContinuity), nil
	case CategoryCode:
		// Service-quality attestations that talk about code.
		return func(a Attestation) bool {
			t, err := TypeFromTags(a.Tags)
			if err != nil || t != TypeServiceQuality {
				return false
			}
			return strings.Contains(strings.ToLower(a.Content), "code")
		}, nil
	case CategoryGeneral:
		return func(Attestation) bool { return true }, nil
	}
	if t := Type(category); t.Known() {
		return typeIn(t), nil
	}
	return nil, fmt.Errorf("unknown category %q", category)
}

// typeIn builds a predicate matching attestations whose parsed type is
// one of want.
func typeIn(want ...Type) func(Attestation) bool {
	return func(a Attestation) bool {
		t, err := TypeFromTags(a.Tags)
		if err != nil {
			return false
		}
		for _, w := range want {
			if t == w {
				return true
			}
		}
		return false
	}
}

// CategoryScore scores only the attestations belonging to the named
// category. The category may be one of Categories() or a bare type name.
func CategoryScore(attestations []Attestation, zapTotals map[string]int64, category string, opts Options) (Result, error) {
	match, err := categoryFilter(category)
	if err != nil {
		return Result{}, err
	}
	filtered := make([]Attestation, 0, len(attestations))
	for _, a := range attestations {
		if match(a) {
			filtered = append(filtered, a)
		}
	}
	return Score(filtered, zapTotals, opts), nil
}

// AllCategoryScores scores the bag once per named category.
func AllCategoryScores(attestations []Attestation, zapTotals map[string]int64, opts Options) map[string]Result {
	out := make(map[string]Result, len(Categories()))
	for _, cat := range Categories() {
		res, err := CategoryScore(attestations, zapTotals, cat, opts)
		if err != nil {
			continue
		}
		out[cat] = res
	}
	return out
}
