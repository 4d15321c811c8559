// Package query implements Heksher's query engine (spec.md §4.5,
// component E): filtering rules by context_filters and computing the
// response's caching ETag over a single read-committed snapshot.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"hash/fnv"
	"sort"
	"strconv"

	"heksher/internal/apperr"
	"heksher/internal/dbstore"
	"heksher/internal/features"
	"heksher/internal/rules"
)

// ContextFilters is spec.md §4.5's context_filters input: either the
// top-level wildcard (Wildcard true, Features nil) or a per-feature
// map where an absent entry forbids any rule with an exact-match
// condition on that feature, and a present entry with Wildcard true or
// a Values list admits matching rules.
type ContextFilters struct {
	Wildcard bool
	Features map[string]FeatureFilter
}

// FeatureFilter is one entry of a non-wildcard ContextFilters map.
type FeatureFilter struct {
	Wildcard bool
	Values   map[string]bool
}

// Allows reports whether filter f admits a rule condition of
// feature=value, per spec.md §4.5's rule: absent from a non-wildcard
// filter only forbids rules that carry an exact-match condition on
// that feature in the first place — callers only call Allows for
// features the rule actually conditions on.
func (cf ContextFilters) Allows(feature, value string) bool {
	if cf.Wildcard {
		return true
	}
	ff, ok := cf.Features[feature]
	if !ok {
		return false
	}
	if ff.Wildcard {
		return true
	}
	return ff.Values[value]
}

// Request is the query engine's input.
type Request struct {
	Settings        []string // empty means "all settings"
	ContextFilters  ContextFilters
	IncludeMetadata bool
}

// RuleView is one matched rule in the response shape.
type RuleView struct {
	ID            string                     `json:"-"`
	Value         json.RawMessage            `json:"value"`
	FeatureValues [][2]string                `json:"feature_values"`
	Metadata      map[string]json.RawMessage `json:"metadata,omitempty"`
}

// SettingView is one setting's entry in the response.
type SettingView struct {
	Rules        []RuleView      `json:"rules"`
	DefaultValue json.RawMessage `json:"default_value,omitempty"`
}

// Result is the full query response plus its caching ETag.
type Result struct {
	Settings map[string]SettingView `json:"settings"`
	ETag     string                 `json:"-"`
}

// Engine runs queries over a single read-committed snapshot
// transaction, so the rule rows and the feature order it joins against
// never straddle a concurrent write (spec.md §5).
type Engine struct {
	db       *dbstore.DB
	features *features.Registry
}

func New(db *dbstore.DB, features *features.Registry) *Engine {
	return &Engine{db: db, features: features}
}

// Run executes req against the current database snapshot.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	var result Result
	err := e.db.WithReadCommittedTx(ctx, func(tx *sql.Tx) error {
		order, err := loadOrder(ctx, tx)
		if err != nil {
			return err
		}

		settingNames, err := resolveSettingNames(ctx, tx, req.Settings)
		if err != nil {
			return err
		}

		out := make(map[string]SettingView, len(settingNames))
		var maxStamp int64
		for _, name := range settingNames {
			sv, stamp, err := e.loadSetting(ctx, tx, name, order, req)
			if err != nil {
				return err
			}
			out[name] = sv
			if stamp > maxStamp {
				maxStamp = stamp
			}
		}

		reorderCounter, err := loadReorderCounter(ctx, tx)
		if err != nil {
			return err
		}

		result = Result{
			Settings: out,
			ETag:     computeETag(maxStamp, reorderCounter, order),
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func (e *Engine) loadSetting(ctx context.Context, tx *sql.Tx, name string, order []features.Feature, req Request) (SettingView, int64, error) {
	var (
		rawType      string
		defaultValue sql.NullString
		versionMajor int
		versionMinor int
	)
	row := tx.QueryRowContext(ctx, `SELECT type, default_value, version_major, version_minor FROM settings WHERE name = ?`, name)
	if err := row.Scan(&rawType, &defaultValue, &versionMajor, &versionMinor); err != nil {
		if err == sql.ErrNoRows {
			return SettingView{}, 0, apperr.NotFound("setting", name, "no such setting")
		}
		return SettingView{}, 0, apperr.Fatal("query: load setting", err)
	}

	sv := SettingView{}
	if defaultValue.Valid {
		sv.DefaultValue = json.RawMessage(defaultValue.String)
	}

	ruleRows, err := tx.QueryContext(ctx, `SELECT id, value FROM rules WHERE setting = ?`, name)
	if err != nil {
		return SettingView{}, 0, apperr.Fatal("query: load rules", err)
	}
	defer ruleRows.Close()

	type ruleRow struct {
		id    string
		value string
	}
	var candidates []ruleRow
	for ruleRows.Next() {
		var r ruleRow
		if err := ruleRows.Scan(&r.id, &r.value); err != nil {
			return SettingView{}, 0, apperr.Fatal("query: scan rule", err)
		}
		candidates = append(candidates, r)
	}
	if err := ruleRows.Err(); err != nil {
		return SettingView{}, 0, apperr.Fatal("query: rule rows", err)
	}

	for _, r := range candidates {
		fv, err := loadConditions(ctx, tx, r.id)
		if err != nil {
			return SettingView{}, 0, err
		}
		if !matches(fv, req.ContextFilters) {
			continue
		}
		view := RuleView{
			ID:            r.id,
			Value:         json.RawMessage(r.value),
			FeatureValues: rules.OrderedPairs(order, fv),
		}
		if req.IncludeMetadata {
			meta, err := loadMetadata(ctx, tx, r.id)
			if err != nil {
				return SettingView{}, 0, err
			}
			view.Metadata = meta
		}
		sv.Rules = append(sv.Rules, view)
	}
	sort.Slice(sv.Rules, func(i, j int) bool { return sv.Rules[i].ID < sv.Rules[j].ID })

	stamp := int64(versionMajor)*1_000_000 + int64(versionMinor)
	return sv, stamp, nil
}

// matches implements spec.md §4.5's filtering rule: a rule is rejected
// iff some feature it conditions on is absent from a non-wildcard
// filter, or present with a value the filter's list excludes.
func matches(fv map[string]string, cf ContextFilters) bool {
	for feature, value := range fv {
		if !cf.Allows(feature, value) {
			return false
		}
	}
	return true
}

func loadConditions(ctx context.Context, tx *sql.Tx, ruleID string) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT feature, value FROM rule_conditions WHERE rule_id = ?`, ruleID)
	if err != nil {
		return nil, apperr.Fatal("query: load conditions", err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var f, v string
		if err := rows.Scan(&f, &v); err != nil {
			return nil, apperr.Fatal("query: scan condition", err)
		}
		out[f] = v
	}
	return out, rows.Err()
}

func loadMetadata(ctx context.Context, tx *sql.Tx, ruleID string) (map[string]json.RawMessage, error) {
	rows, err := tx.QueryContext(ctx, "SELECT `key`, value FROM rule_metadata WHERE rule_id = ?", ruleID)
	if err != nil {
		return nil, apperr.Fatal("query: load metadata", err)
	}
	defer rows.Close()
	out := map[string]json.RawMessage{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, apperr.Fatal("query: scan metadata", err)
		}
		out[k] = json.RawMessage(v)
	}
	return out, rows.Err()
}

func loadOrder(ctx context.Context, tx *sql.Tx) ([]features.Feature, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name, idx FROM context_features ORDER BY idx ASC`)
	if err != nil {
		return nil, apperr.Fatal("query: load order", err)
	}
	defer rows.Close()
	var out []features.Feature
	for rows.Next() {
		var f features.Feature
		if err := rows.Scan(&f.Name, &f.Index); err != nil {
			return nil, apperr.Fatal("query: scan order", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func loadReorderCounter(ctx context.Context, tx *sql.Tx) (int64, error) {
	var count int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM context_features`).Scan(&count); err != nil {
		return 0, apperr.Fatal("query: reorder counter", err)
	}
	return count, nil
}

func resolveSettingNames(ctx context.Context, tx *sql.Tx, requested []string) ([]string, error) {
	if len(requested) == 0 {
		rows, err := tx.QueryContext(ctx, `SELECT name FROM settings ORDER BY name ASC`)
		if err != nil {
			return nil, apperr.Fatal("query: list all settings", err)
		}
		defer rows.Close()
		var out []string
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				return nil, apperr.Fatal("query: scan setting name", err)
			}
			out = append(out, n)
		}
		return out, rows.Err()
	}

	out := make([]string, 0, len(requested))
	for _, nameOrAlias := range requested {
		var canonical string
		row := tx.QueryRowContext(ctx, `SELECT name FROM settings WHERE name = ? UNION SELECT setting FROM setting_aliases WHERE alias = ? LIMIT 1`, nameOrAlias, nameOrAlias)
		if err := row.Scan(&canonical); err != nil {
			if err == sql.ErrNoRows {
				return nil, apperr.NotFound("setting", nameOrAlias, "no such setting")
			}
			return nil, apperr.Fatal("query: resolve setting", err)
		}
		out = append(out, canonical)
	}
	return out, nil
}

// computeETag hashes the version stamp, the reorderCounter value (Run
// passes the number of registered context features), and the feature
// order itself (a reorder changes the
// feature-value array shape clients see even with unchanged rules).
func computeETag(stamp int64, reorderCounter int64, order []features.Feature) string {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatInt(stamp, 36)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(reorderCounter, 36)))
	for _, f := range order {
		h.Write([]byte{0})
		h.Write([]byte(f.Name))
	}
	return `"` + strconv.FormatUint(h.Sum64(), 16) + `"`
}
