// Package rules implements Heksher's rule store (spec.md §4.3, component
// B): CRUD over rules, canonical feature_values keys for uniqueness and
// search, value updates, and the rule metadata sub-store.
package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"heksher/internal/apperr"
	"heksher/internal/dbstore"
	"heksher/internal/features"
	"heksher/internal/idgen"
	"heksher/internal/typesys"
)

// SettingRef is the slice of setting state the rule store needs in order
// to validate a rule without importing internal/settings (which itself
// imports internal/rules for cascade delete and type-change checks).
type SettingRef struct {
	Name                 string
	Type                 typesys.Type
	ConfigurableFeatures map[string]bool
}

// SettingResolver looks up the setting a rule belongs to, by its
// canonical name. Aliases are not resolved: the HTTP layer passes the
// request's setting name through as given, so a rule created against an
// alias is reported as not found.
type SettingResolver interface {
	ResolveForRule(ctx context.Context, tx *sql.Tx, settingName string) (SettingRef, error)
}

// Rule is a single binding of a setting to a value for a context
// condition (spec.md §3).
type Rule struct {
	ID            string
	Setting       string
	FeatureValues map[string]string
	Value         json.RawMessage
	Metadata      map[string]json.RawMessage
}

// Store is the rule CRUD + metadata store, backed by the single
// relational database.
type Store struct {
	db       *dbstore.DB
	features *features.Registry
	settings SettingResolver
}

func New(db *dbstore.DB, features *features.Registry, settings SettingResolver) *Store {
	return &Store{db: db, features: features, settings: settings}
}

// CanonicalKey serializes feature_values deterministically by sorting
// keys in the registry's current feature order (spec.md §4.3), so two
// requests naming the same condition in different map-iteration orders
// collide on the same stored row. Missing features are not present in
// the string at all — they are wildcards, never a literal "*".
func CanonicalKey(order []features.Feature, fv map[string]string) string {
	idx := make(map[string]int, len(order))
	for _, f := range order {
		idx[f.Name] = f.Index
	}
	names := make([]string, 0, len(fv))
	for n := range fv {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		ai, aok := idx[names[i]]
		bi, bok := idx[names[j]]
		if aok && bok {
			return ai < bi
		}
		if aok != bok {
			return aok
		}
		return names[i] < names[j]
	})
	var b strings.Builder
	for i, n := range names {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(fv[n])
	}
	return b.String()
}

// OrderedPairs renders feature_values as [[feature, value], ...] pairs in
// the registry's current order, the shape spec.md §4.5 returns to
// clients so they can apply last-feature-first priority locally.
func OrderedPairs(order []features.Feature, fv map[string]string) [][2]string {
	out := make([][2]string, 0, len(fv))
	for _, f := range order {
		if v, ok := fv[f.Name]; ok {
			out = append(out, [2]string{f.Name, v})
		}
	}
	return out
}

// Create validates and inserts a new rule, returning its opaque id.
func (s *Store) Create(ctx context.Context, settingName string, fv map[string]string, value json.RawMessage, metadata map[string]json.RawMessage) (string, error) {
	if len(fv) == 0 {
		return "", apperr.Validation("rule", "", "feature_values", "must be non-empty")
	}
	for k, v := range fv {
		if v == "" {
			return "", apperr.Validation("rule", "", "feature_values", fmt.Sprintf("value for feature %q must be a non-empty string", k))
		}
	}

	var id string
	err := s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		setting, err := s.settings.ResolveForRule(ctx, tx, settingName)
		if err != nil {
			return err
		}
		for k := range fv {
			if !setting.ConfigurableFeatures[k] {
				return apperr.Validation("rule", "", "feature_values", fmt.Sprintf("feature %q is not configurable for setting %q", k, setting.Name))
			}
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return apperr.Validation("rule", "", "value", "not valid JSON")
		}
		if !setting.Type.Validate(v) {
			return apperr.Validation("rule", "", "value", fmt.Sprintf("does not conform to type %s", setting.Type.Format()))
		}

		order, err := s.orderTx(ctx, tx)
		if err != nil {
			return err
		}
		key := CanonicalKey(order, fv)

		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM rules WHERE setting = ? AND condition_key = ?`, setting.Name, key).Scan(&count); err != nil {
			return apperr.Fatal("rules: conflict lookup", err)
		}
		if count > 0 {
			return apperr.Conflict("rule", "", "a rule with this setting and feature_values already exists")
		}

		newID := newRuleID()
		if _, err := tx.ExecContext(ctx, `INSERT INTO rules (id, setting, value, condition_key) VALUES (?, ?, ?, ?)`, newID, setting.Name, string(value), key); err != nil {
			return apperr.Fatal("rules: insert", err)
		}
		for feat, fval := range fv {
			if _, err := tx.ExecContext(ctx, `INSERT INTO rule_conditions (rule_id, feature, value) VALUES (?, ?, ?)`, newID, feat, fval); err != nil {
				return apperr.Fatal("rules: insert condition", err)
			}
		}
		for k, mv := range metadata {
			if err := validateMetadataKey(k); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO rule_metadata (rule_id, `+"`key`"+`, value) VALUES (?, ?, ?)`, newID, k, string(mv)); err != nil {
				return apperr.Fatal("rules: insert metadata", err)
			}
		}
		id = newID
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Get loads a single rule by id, including its metadata.
func (s *Store) Get(ctx context.Context, id string) (Rule, error) {
	var r Rule
	var value string
	row := s.db.QueryRowContext(ctx, `SELECT id, setting, value FROM rules WHERE id = ?`, id)
	if err := row.Scan(&r.ID, &r.Setting, &value); err != nil {
		if err == sql.ErrNoRows {
			return Rule{}, apperr.NotFound("rule", id, "no such rule")
		}
		return Rule{}, apperr.Fatal("rules: get", err)
	}
	r.Value = json.RawMessage(value)

	condRows, err := s.db.QueryContext(ctx, `SELECT feature, value FROM rule_conditions WHERE rule_id = ?`, id)
	if err != nil {
		return Rule{}, apperr.Fatal("rules: get conditions", err)
	}
	defer condRows.Close()
	r.FeatureValues = map[string]string{}
	for condRows.Next() {
		var f, v string
		if err := condRows.Scan(&f, &v); err != nil {
			return Rule{}, apperr.Fatal("rules: scan condition", err)
		}
		r.FeatureValues[f] = v
	}
	if err := condRows.Err(); err != nil {
		return Rule{}, apperr.Fatal("rules: conditions rows", err)
	}

	meta, err := s.getMetadataTx(ctx, nil, id)
	if err != nil {
		return Rule{}, err
	}
	r.Metadata = meta
	return r, nil
}

// Delete removes a rule and its owned conditions/metadata rows. The
// schema carries no foreign keys, so the cascade is done in application
// code rather than by the database.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		return deleteRuleTx(ctx, tx, id)
	})
}

// deleteRuleTx removes a rule and its owned conditions/metadata rows.
// Shared by Store.Delete and internal/settings' cascade-delete-on-
// setting-removal path, which calls it once per rule inside its own
// transaction rather than going through Store.Delete's own.
func deleteRuleTx(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_conditions WHERE rule_id = ?`, id); err != nil {
		return apperr.Fatal("rules: delete conditions", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_metadata WHERE rule_id = ?`, id); err != nil {
		return apperr.Fatal("rules: delete metadata", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return apperr.Fatal("rules: delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Fatal("rules: rows affected", err)
	}
	if n == 0 {
		return apperr.NotFound("rule", id, "no such rule")
	}
	return nil
}

// DeleteAllForSettingTx removes every rule (and its conditions/metadata)
// belonging to settingName, inside the caller's own transaction. It is
// internal/settings' hook for cascading a setting delete to its rules
// (spec.md §3's ownership rule) without internal/rules needing to know
// anything about settings.
func DeleteAllForSettingTx(ctx context.Context, tx *sql.Tx, settingName string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM rules WHERE setting = ?`, settingName)
	if err != nil {
		return apperr.Fatal("rules: cascade lookup", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return apperr.Fatal("rules: cascade scan", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return apperr.Fatal("rules: cascade rows", err)
	}
	_ = rows.Close()

	for _, id := range ids {
		if err := deleteRuleTx(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

// Search finds the rule (if any) matching setting and an exact
// feature_values condition.
func (s *Store) Search(ctx context.Context, settingName string, fv map[string]string) (string, error) {
	order, err := s.order(ctx)
	if err != nil {
		return "", err
	}
	key := CanonicalKey(order, fv)
	var id string
	row := s.db.QueryRowContext(ctx, `SELECT id FROM rules WHERE setting = ? AND condition_key = ?`, settingName, key)
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", apperr.NotFound("rule", "", "no rule matches that setting and feature_values")
		}
		return "", apperr.Fatal("rules: search", err)
	}
	return id, nil
}

// SetValue validates and replaces a rule's value. Patch (spec.md §4.3,
// §6) is a deprecated alias that calls this directly.
func (s *Store) SetValue(ctx context.Context, id string, value json.RawMessage) error {
	return s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		var settingName string
		if err := tx.QueryRowContext(ctx, `SELECT setting FROM rules WHERE id = ?`, id).Scan(&settingName); err != nil {
			if err == sql.ErrNoRows {
				return apperr.NotFound("rule", id, "no such rule")
			}
			return apperr.Fatal("rules: setvalue lookup", err)
		}
		setting, err := s.settings.ResolveForRule(ctx, tx, settingName)
		if err != nil {
			return err
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return apperr.Validation("rule", id, "value", "not valid JSON")
		}
		if !setting.Type.Validate(v) {
			return apperr.Validation("rule", id, "value", fmt.Sprintf("does not conform to type %s", setting.Type.Format()))
		}
		if _, err := tx.ExecContext(ctx, `UPDATE rules SET value = ? WHERE id = ?`, string(value), id); err != nil {
			return apperr.Fatal("rules: update value", err)
		}
		return nil
	})
}

// Patch is the deprecated alias for SetValue (spec.md §4.3, §6).
func (s *Store) Patch(ctx context.Context, id string, value json.RawMessage) error {
	return s.SetValue(ctx, id, value)
}

func (s *Store) order(ctx context.Context) ([]features.Feature, error) {
	return s.features.List(ctx)
}

func (s *Store) orderTx(ctx context.Context, tx *sql.Tx) ([]features.Feature, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name, idx FROM context_features ORDER BY idx ASC`)
	if err != nil {
		return nil, apperr.Fatal("rules: order", err)
	}
	defer rows.Close()
	var out []features.Feature
	for rows.Next() {
		var f features.Feature
		if err := rows.Scan(&f.Name, &f.Index); err != nil {
			return nil, apperr.Fatal("rules: scan order", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func newRuleID() string {
	return fmt.Sprintf("r_%s", idgen.Hex(16))
}
