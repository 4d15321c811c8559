package query

import (
	"testing"

	"heksher/internal/features"
)

func TestContextFiltersAllows_TopLevelWildcard(t *testing.T) {
	cf := ContextFilters{Wildcard: true}
	if !cf.Allows("theme", "dark") {
		t.Fatal("top-level wildcard must allow any feature/value")
	}
}

func TestContextFiltersAllows_AbsentFeatureForbidden(t *testing.T) {
	cf := ContextFilters{Features: map[string]FeatureFilter{
		"account": {Values: map[string]bool{"john": true}},
	}}
	if cf.Allows("theme", "dark") {
		t.Fatal("a feature absent from a non-wildcard filter must forbid an exact-match rule on it")
	}
}

func TestContextFiltersAllows_PerFeatureWildcard(t *testing.T) {
	cf := ContextFilters{Features: map[string]FeatureFilter{
		"user": {Wildcard: true},
	}}
	if !cf.Allows("user", "guest") {
		t.Fatal("a per-feature wildcard entry must allow any value")
	}
}

func TestContextFiltersAllows_ValueList(t *testing.T) {
	cf := ContextFilters{Features: map[string]FeatureFilter{
		"account": {Values: map[string]bool{"john": true, "jim": true}},
	}}
	if !cf.Allows("account", "john") {
		t.Fatal("listed value must be allowed")
	}
	if cf.Allows("account", "alice") {
		t.Fatal("unlisted value must be rejected")
	}
}

func TestMatches_NoConditionNeverRejected(t *testing.T) {
	cf := ContextFilters{Features: map[string]FeatureFilter{
		"account": {Values: map[string]bool{"john": true}},
	}}
	if !matches(map[string]string{}, cf) {
		t.Fatal("a rule with no conditions is never rejected by any filter")
	}
}

// Scenario 2 from the end-to-end filter test: context_filters=account:(john,jim),user:*
// admits rules conditioned only on account/user but rejects any rule that
// also conditions on theme, since theme is absent from the filter.
func TestMatches_ScenarioTwo(t *testing.T) {
	cf := ContextFilters{Features: map[string]FeatureFilter{
		"account": {Values: map[string]bool{"john": true, "jim": true}},
		"user":     {Wildcard: true},
	}}

	cases := []struct {
		name string
		fv   map[string]string
		want bool
	}{
		{"john", map[string]string{"account": "john"}, true},
		{"jim", map[string]string{"account": "jim"}, true},
		{"jim+admin", map[string]string{"account": "jim", "user": "admin"}, true},
		{"guest", map[string]string{"user": "guest"}, true},
		{"guest+dark", map[string]string{"user": "guest", "theme": "dark"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := matches(c.fv, cf); got != c.want {
				t.Fatalf("matches(%v) = %v, want %v", c.fv, got, c.want)
			}
		})
	}
}

func TestComputeETag_StableForSameInputsChangesOnReorder(t *testing.T) {
	order := []features.Feature{{Name: "account", Index: 0}, {Name: "user", Index: 1}}
	reordered := []features.Feature{{Name: "user", Index: 0}, {Name: "account", Index: 1}}

	a := computeETag(1, 2, order)
	b := computeETag(1, 2, order)
	if a != b {
		t.Fatalf("computeETag must be deterministic: %q != %q", a, b)
	}
	if c := computeETag(1, 2, reordered); c == a {
		t.Fatal("a reorder of the context-feature order must change the ETag")
	}
	if d := computeETag(2, 2, order); d == a {
		t.Fatal("a version stamp change must change the ETag")
	}
}
