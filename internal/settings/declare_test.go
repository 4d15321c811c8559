package settings

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heksher/internal/typesys"
)

func rawJSON(t *testing.T, v string) *json.RawMessage {
	t.Helper()
	r := json.RawMessage(v)
	return &r
}

func mustType(t *testing.T, s string) typesys.Type {
	t.Helper()
	typ, err := typesys.Parse(s)
	require.NoError(t, err)
	return typ
}

func TestResolveDeclare_NewSettingCreated(t *testing.T) {
	req := DeclareRequest{
		Name:         "my.setting",
		Type:         mustType(t, "int"),
		DefaultValue: rawJSON(t, "1"),
		VersionMajor: 1,
		VersionMinor: 0,
	}
	res, err := resolveDeclare(nil, req, declareContext{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, Version{1, 0}, res.LatestVersion)
}

func TestResolveDeclare_NewSettingWrongFirstVersionIsMismatch(t *testing.T) {
	req := DeclareRequest{
		Name:         "my.setting",
		Type:         mustType(t, "int"),
		DefaultValue: rawJSON(t, "1"),
		VersionMajor: 2,
		VersionMinor: 0,
	}
	res, err := resolveDeclare(nil, req, declareContext{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeMismatch, res.Outcome)
}

func TestResolveDeclare_SameVersionSameAttributesIsUpToDate(t *testing.T) {
	cur := &Setting{
		CanonicalName: "my.setting",
		Type:          mustType(t, "int"),
		DefaultValue:  rawJSON(t, "1"),
		LatestVersion: Version{1, 0},
	}
	req := DeclareRequest{
		Name:         "my.setting",
		Type:         mustType(t, "int"),
		DefaultValue: rawJSON(t, "1"),
		VersionMajor: 1,
		VersionMinor: 0,
	}
	res, err := resolveDeclare(cur, req, declareContext{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpToDate, res.Outcome)
}

func TestResolveDeclare_SameVersionDifferentAttributesIsMismatch(t *testing.T) {
	cur := &Setting{
		CanonicalName: "my.setting",
		Type:          mustType(t, "int"),
		DefaultValue:  rawJSON(t, "1"),
		LatestVersion: Version{1, 0},
	}
	req := DeclareRequest{
		Name:         "my.setting",
		Type:         mustType(t, "int"),
		DefaultValue: rawJSON(t, "2"),
		VersionMajor: 1,
		VersionMinor: 0,
	}
	res, err := resolveDeclare(cur, req, declareContext{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeMismatch, res.Outcome)
	require.Len(t, res.Differences, 1)
	assert.Equal(t, LevelMismatch, res.Differences[0].Level)
}

func TestResolveDeclare_LowerVersionIsOutdated(t *testing.T) {
	cur := &Setting{
		CanonicalName: "my.setting",
		Type:          mustType(t, "int"),
		DefaultValue:  rawJSON(t, "1"),
		LatestVersion: Version{1, 2},
	}
	req := DeclareRequest{
		Name:         "my.setting",
		Type:         mustType(t, "int"),
		DefaultValue: rawJSON(t, "1"),
		VersionMajor: 1,
		VersionMinor: 1,
	}
	res, err := resolveDeclare(cur, req, declareContext{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOutdated, res.Outcome)
	assert.Equal(t, Version{1, 2}, res.LatestVersion)
}

// Scenario 3 from the declare lifecycle: int -> float is a subtype widening
// (minor), so a minor version bump (1.0 -> 1.1) upgrades cleanly.
func TestResolveDeclare_SubtypeWideningMinorBumpUpgrades(t *testing.T) {
	cur := &Setting{
		CanonicalName: "my.setting",
		Type:          mustType(t, "int"),
		DefaultValue:  rawJSON(t, "1"),
		LatestVersion: Version{1, 0},
	}
	req := DeclareRequest{
		Name:         "my.setting",
		Type:         mustType(t, "float"),
		DefaultValue: rawJSON(t, "1"),
		VersionMajor: 1,
		VersionMinor: 1,
	}
	res, err := resolveDeclare(cur, req, declareContext{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpgraded, res.Outcome)
	assert.Equal(t, Version{1, 1}, res.LatestVersion)
}

// A non-subtype type change that stays compatible with existing rule/default
// values is major, so it is rejected on a minor bump but upgrades on a major
// bump.
func TestResolveDeclare_MajorTypeChangeNeedsMajorBump(t *testing.T) {
	cur := &Setting{
		CanonicalName: "my.setting",
		Type:          mustType(t, `Enum["a","b"]`),
		DefaultValue:  rawJSON(t, `"a"`),
		LatestVersion: Version{1, 0},
	}
	req := DeclareRequest{
		Name:         "my.setting",
		Type:         mustType(t, `Enum["a","c"]`),
		DefaultValue: rawJSON(t, `"a"`),
		VersionMajor: 1,
		VersionMinor: 1,
	}

	resMinor, err := resolveDeclare(cur, req, declareContext{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, resMinor.Outcome)

	req.VersionMajor, req.VersionMinor = 2, 0
	resMajor, err := resolveDeclare(cur, req, declareContext{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpgraded, resMajor.Outcome)
	assert.Equal(t, Version{2, 0}, resMajor.LatestVersion)
}

// A type change that invalidates an existing rule's value is a mismatch
// regardless of the version bump.
func TestResolveDeclare_TypeChangeBreakingExistingRuleIsRejected(t *testing.T) {
	cur := &Setting{
		CanonicalName: "my.setting",
		Type:          mustType(t, `Enum["a","b"]`),
		DefaultValue:  rawJSON(t, `"a"`),
		LatestVersion: Version{1, 0},
	}
	req := DeclareRequest{
		Name:         "my.setting",
		Type:         mustType(t, `Enum["a"]`),
		DefaultValue: rawJSON(t, `"a"`),
		VersionMajor: 2,
		VersionMinor: 0,
	}
	dctx := declareContext{ruleValues: []json.RawMessage{json.RawMessage(`"b"`)}}
	res, err := resolveDeclare(cur, req, dctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
}

func TestResolveDeclare_RenameCollisionIsRejected(t *testing.T) {
	cur := &Setting{
		CanonicalName: "old.name",
		Type:          mustType(t, "int"),
		DefaultValue:  rawJSON(t, "1"),
		LatestVersion: Version{1, 0},
	}
	req := DeclareRequest{
		Name:         "new.name",
		Type:         mustType(t, "int"),
		DefaultValue: rawJSON(t, "1"),
		VersionMajor: 1,
		VersionMinor: 1,
	}
	res, err := resolveDeclare(cur, req, declareContext{nameCollision: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
}

func TestResolveDeclare_RenameWithoutCollisionIsMinorUpgrade(t *testing.T) {
	cur := &Setting{
		CanonicalName: "old.name",
		Type:          mustType(t, "int"),
		DefaultValue:  rawJSON(t, "1"),
		LatestVersion: Version{1, 0},
	}
	req := DeclareRequest{
		Name:         "new.name",
		Type:         mustType(t, "int"),
		DefaultValue: rawJSON(t, "1"),
		VersionMajor: 1,
		VersionMinor: 1,
	}
	res, err := resolveDeclare(cur, req, declareContext{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpgraded, res.Outcome)
}

func TestDiffConfigurableFeatures_RemovingInUseFeatureIsMismatch(t *testing.T) {
	cur := Setting{ConfigurableFeatures: map[string]bool{"trust": true}}
	req := DeclareRequest{ConfigurableFeatures: nil}
	dctx := declareContext{ruleConditionFeatures: map[string]bool{"trust": true}}
	diffs := diffConfigurableFeatures(cur, req, dctx)
	require.Len(t, diffs, 1)
	assert.Equal(t, LevelMismatch, diffs[0].Level)
}

func TestDiffConfigurableFeatures_RemovingUnusedFeatureIsMinor(t *testing.T) {
	cur := Setting{ConfigurableFeatures: map[string]bool{"trust": true}}
	req := DeclareRequest{ConfigurableFeatures: nil}
	diffs := diffConfigurableFeatures(cur, req, declareContext{})
	require.Len(t, diffs, 1)
	assert.Equal(t, LevelMinor, diffs[0].Level)
}

func TestDiffConfigurableFeatures_AddingFeatureIsMajor(t *testing.T) {
	cur := Setting{ConfigurableFeatures: map[string]bool{}}
	req := DeclareRequest{ConfigurableFeatures: []string{"trust"}}
	diffs := diffConfigurableFeatures(cur, req, declareContext{})
	require.Len(t, diffs, 1)
	assert.Equal(t, LevelMajor, diffs[0].Level)
}

func TestMaxLevel(t *testing.T) {
	assert.Equal(t, LevelNone, maxLevel(nil))
	assert.Equal(t, LevelMajor, maxLevel([]AttributeDiff{{Level: LevelMinor}, {Level: LevelMajor}}))
	assert.Equal(t, LevelMismatch, maxLevel([]AttributeDiff{{Level: LevelMismatch}, {Level: LevelMajor}}))
}
