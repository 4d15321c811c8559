package settings

import (
	"encoding/json"
	"sort"

	"heksher/internal/typesys"
)

// Level classifies how disruptive an attribute change is, per spec.md
// §4.4's compatibility table. Ordered so the zero value sorts lowest.
type Level int

const (
	LevelNone Level = iota
	LevelMinor
	LevelMajor
	LevelMismatch
)

func (l Level) String() string {
	switch l {
	case LevelMinor:
		return "minor"
	case LevelMajor:
		return "major"
	case LevelMismatch:
		return "mismatch"
	default:
		return "none"
	}
}

// AttributeDiff is one entry in a declaration's diff against the current
// setting, modeled directly on the teacher's diff.BreakingChangeAnalyzer
// pattern: one typed change per attribute, folded into a single
// maxLevel() afterward.
type AttributeDiff struct {
	Attribute string
	Level     Level
	Old       string
	New       string
}

func maxLevel(diffs []AttributeDiff) Level {
	max := LevelNone
	for _, d := range diffs {
		if d.Level > max {
			max = d.Level
		}
	}
	return max
}

// Outcome is spec.md §4.4's DeclarationOutcome tagged variant.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeUpToDate Outcome = "uptodate"
	OutcomeUpgraded Outcome = "upgraded"
	OutcomeOutdated Outcome = "outdated"
	OutcomeRejected Outcome = "rejected"
	OutcomeMismatch Outcome = "mismatch"
)

// DeclareRequest is spec.md §4.4's declare(...) input.
type DeclareRequest struct {
	Name                 string
	ConfigurableFeatures []string
	Type                 typesys.Type
	DefaultValue         *json.RawMessage
	Metadata             map[string]json.RawMessage
	Alias                string // identifies the setting's prior identity for a rename, per §4.4
	VersionMajor         int
	VersionMinor         int
}

// DeclareResult is the response shape spec.md §4.4 describes: the
// outcome tag, the setting's current (latest) version, and — for
// outdated/mismatch/rejected — the classified differences.
type DeclareResult struct {
	Outcome       Outcome
	LatestVersion Version
	Differences   []AttributeDiff
}

// declareContext carries the parts of current state that require a
// database read (rule conditions, rule values) so the pure
// classification functions below don't need store access.
type declareContext struct {
	ruleConditionFeatures map[string]bool     // features referenced by at least one existing rule
	ruleValues            []json.RawMessage   // every existing rule's value, for type-compatibility checks
	nameCollision         bool                // req.Name already belongs to a *different* setting
}

// declareDiff computes the attribute-level diff between the current
// setting and a declare request, classifying each per spec.md §4.4's
// table. It never mutates cur.
func declareDiff(cur Setting, req DeclareRequest, dctx declareContext) []AttributeDiff {
	var diffs []AttributeDiff

	if !equalJSONMaps(cur.Metadata, req.Metadata) {
		diffs = append(diffs, AttributeDiff{Attribute: "metadata", Level: LevelMinor})
	}

	diffs = append(diffs, diffDefaultValue(cur, req)...)
	diffs = append(diffs, diffRename(cur, req, dctx)...)
	diffs = append(diffs, diffType(cur, req, dctx)...)
	diffs = append(diffs, diffConfigurableFeatures(cur, req, dctx)...)

	return diffs
}

func diffDefaultValue(cur Setting, req DeclareRequest) []AttributeDiff {
	curHas := cur.DefaultValue != nil
	reqHas := req.DefaultValue != nil
	switch {
	case !curHas && !reqHas:
		return nil
	case curHas != reqHas:
		return []AttributeDiff{{Attribute: "default_value", Level: LevelMinor, Old: rawOrAbsent(cur.DefaultValue), New: rawOrAbsent(req.DefaultValue)}}
	case string(*cur.DefaultValue) == string(*req.DefaultValue):
		return nil
	default:
		return []AttributeDiff{{Attribute: "default_value", Level: LevelMinor, Old: string(*cur.DefaultValue), New: string(*req.DefaultValue)}}
	}
}

func diffRename(cur Setting, req DeclareRequest, dctx declareContext) []AttributeDiff {
	if req.Name == cur.CanonicalName {
		return nil
	}
	if dctx.nameCollision {
		return []AttributeDiff{{Attribute: "name", Level: LevelMismatch, Old: cur.CanonicalName, New: req.Name}}
	}
	return []AttributeDiff{{Attribute: "name", Level: LevelMinor, Old: cur.CanonicalName, New: req.Name}}
}

// diffType classifies a type change: if the default value (the requested
// one, else the current one) or any existing rule value does not conform
// to the new type, it is a mismatch; otherwise a move to a subtype or a
// supertype of the current type is minor, and any other move is major.
func diffType(cur Setting, req DeclareRequest, dctx declareContext) []AttributeDiff {
	if cur.Type.Equal(req.Type) {
		return nil
	}
	oldFmt, newFmt := cur.Type.Format(), req.Type.Format()

	// Every existing default and rule value must still conform.
	if req.DefaultValue != nil {
		var v any
		if err := json.Unmarshal(*req.DefaultValue, &v); err != nil || !req.Type.Validate(v) {
			return []AttributeDiff{{Attribute: "type", Level: LevelMismatch, Old: oldFmt, New: newFmt}}
		}
	} else if cur.DefaultValue != nil {
		var v any
		if err := json.Unmarshal(*cur.DefaultValue, &v); err != nil || !req.Type.Validate(v) {
			return []AttributeDiff{{Attribute: "type", Level: LevelMismatch, Old: oldFmt, New: newFmt}}
		}
	}
	for _, rv := range dctx.ruleValues {
		var v any
		if err := json.Unmarshal(rv, &v); err != nil || !req.Type.Validate(v) {
			return []AttributeDiff{{Attribute: "type", Level: LevelMismatch, Old: oldFmt, New: newFmt}}
		}
	}
	if req.Type.IsSubtype(cur.Type) || cur.Type.IsSubtype(req.Type) {
		return []AttributeDiff{{Attribute: "type", Level: LevelMinor, Old: oldFmt, New: newFmt}}
	}
	return []AttributeDiff{{Attribute: "type", Level: LevelMajor, Old: oldFmt, New: newFmt}}
}

func diffConfigurableFeatures(cur Setting, req DeclareRequest, dctx declareContext) []AttributeDiff {
	var diffs []AttributeDiff
	curSet := cur.ConfigurableFeatures
	reqSet := make(map[string]bool, len(req.ConfigurableFeatures))
	for _, f := range req.ConfigurableFeatures {
		reqSet[f] = true
	}

	var added, removed []string
	for f := range reqSet {
		if !curSet[f] {
			added = append(added, f)
		}
	}
	for f := range curSet {
		if !reqSet[f] {
			removed = append(removed, f)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)

	for _, f := range added {
		diffs = append(diffs, AttributeDiff{Attribute: "configurable_features", Level: LevelMajor, New: f})
	}
	for _, f := range removed {
		if dctx.ruleConditionFeatures[f] {
			diffs = append(diffs, AttributeDiff{Attribute: "configurable_features", Level: LevelMismatch, Old: f})
		} else {
			diffs = append(diffs, AttributeDiff{Attribute: "configurable_features", Level: LevelMinor, Old: f})
		}
	}
	return diffs
}

// resolveDeclare runs spec.md §4.4's declare resolution+classification ladder
// given the already-loaded current setting (nil if not found) and
// database-derived context. It is pure: applying the result (persisting
// the new state) is the caller's responsibility, gated on
// Outcome == created || upgraded.
func resolveDeclare(cur *Setting, req DeclareRequest, dctx declareContext) (DeclareResult, error) {
	if req.VersionMajor == 0 && req.VersionMinor == 0 {
		req.VersionMajor, req.VersionMinor = 1, 0
	}
	reqVersion := Version{Major: req.VersionMajor, Minor: req.VersionMinor}

	if cur == nil {
		if reqVersion != (Version{Major: 1, Minor: 0}) {
			return DeclareResult{Outcome: OutcomeMismatch}, nil
		}
		return DeclareResult{Outcome: OutcomeCreated, LatestVersion: reqVersion}, nil
	}

	curVersion := cur.LatestVersion
	switch {
	case reqVersion.Less(curVersion):
		diffs := declareDiff(*cur, req, dctx)
		return DeclareResult{Outcome: OutcomeOutdated, LatestVersion: curVersion, Differences: diffs}, nil

	case reqVersion == curVersion:
		diffs := declareDiff(*cur, req, dctx)
		if len(diffs) == 0 {
			return DeclareResult{Outcome: OutcomeUpToDate, LatestVersion: curVersion}, nil
		}
		for i := range diffs {
			diffs[i].Level = LevelMismatch
		}
		return DeclareResult{Outcome: OutcomeMismatch, LatestVersion: curVersion, Differences: diffs}, nil

	default: // reqVersion > curVersion
		diffs := declareDiff(*cur, req, dctx)
		max := maxLevel(diffs)
		if max == LevelMismatch {
			return DeclareResult{Outcome: OutcomeRejected, LatestVersion: curVersion, Differences: diffs}, nil
		}
		switch {
		case reqVersion.Major == curVersion.Major && max <= LevelMinor:
			return DeclareResult{Outcome: OutcomeUpgraded, LatestVersion: reqVersion, Differences: diffs}, nil
		case reqVersion.Major > curVersion.Major && max <= LevelMajor:
			return DeclareResult{Outcome: OutcomeUpgraded, LatestVersion: reqVersion, Differences: diffs}, nil
		default:
			return DeclareResult{Outcome: OutcomeRejected, LatestVersion: curVersion, Differences: diffs}, nil
		}
	}
}

func rawOrAbsent(v *json.RawMessage) string {
	if v == nil {
		return "<absent>"
	}
	return string(*v)
}

func equalJSONMaps(a, b map[string]json.RawMessage) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || string(av) != string(bv) {
			return false
		}
	}
	return true
}
