// Package settings implements Heksher's setting catalog and declaration
// state machine (spec.md §4.4, component D): canonical settings,
// aliases, versions, and the declare(...) outcome decision.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"heksher/internal/apperr"
	"heksher/internal/dbstore"
	"heksher/internal/features"
	"heksher/internal/rules"
	"heksher/internal/typesys"
)

// Version is spec.md §3's (major, minor) pair, ordered lexicographically.
type Version struct {
	Major int
	Minor int
}

// Less reports whether v sorts before other.
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	return v.Minor < other.Minor
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// Setting is spec.md §3's Setting entity.
type Setting struct {
	CanonicalName        string
	Type                 typesys.Type
	DefaultValue         *json.RawMessage
	ConfigurableFeatures map[string]bool
	Metadata             map[string]json.RawMessage
	Aliases              []string
	LatestVersion        Version
}

// Store is the setting catalog, backed by the single relational
// database and cooperating with internal/features (configurable
// features) and internal/rules (cascade delete, rule-value
// compatibility checks).
type Store struct {
	db       *dbstore.DB
	features *features.Registry
	rules    *rules.Store
}

func New(db *dbstore.DB, features *features.Registry, rulesStore *rules.Store) *Store {
	return &Store{db: db, features: features, rules: rulesStore}
}

// ResolveForRule implements rules.SettingResolver: it loads the minimal
// state the rule store needs to validate a rule against its setting.
func (s *Store) ResolveForRule(ctx context.Context, tx *sql.Tx, settingName string) (rules.SettingRef, error) {
	setting, err := s.getTx(ctx, tx, settingName)
	if err != nil {
		return rules.SettingRef{}, err
	}
	return rules.SettingRef{Name: setting.CanonicalName, Type: setting.Type, ConfigurableFeatures: setting.ConfigurableFeatures}, nil
}

// FeatureInUse implements features.InUseChecker: it reports whether any
// setting's configurable_features still references name.
func (s *Store) FeatureInUse(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM setting_configurable_features WHERE feature = ?`, name).Scan(&count); err != nil {
		return false, apperr.Fatal("settings: feature in-use check", err)
	}
	return count > 0, nil
}

// Resolve finds a setting by its canonical name or any of its aliases
// (spec.md §4.4's "global uniqueness index over names ∪ aliases").
func (s *Store) Resolve(ctx context.Context, nameOrAlias string) (Setting, error) {
	canonical, err := s.resolveCanonicalName(ctx, nil, nameOrAlias)
	if err != nil {
		return Setting{}, err
	}
	return s.getTx(ctx, nil, canonical)
}

func (s *Store) resolveCanonicalName(ctx context.Context, tx *sql.Tx, nameOrAlias string) (string, error) {
	query := `SELECT name FROM settings WHERE name = ? UNION SELECT setting FROM setting_aliases WHERE alias = ? LIMIT 1`
	row := s.queryRow(ctx, tx, query, nameOrAlias, nameOrAlias)
	var canonical string
	if err := row.Scan(&canonical); err != nil {
		if err == sql.ErrNoRows {
			return "", apperr.NotFound("setting", nameOrAlias, "no such setting")
		}
		return "", apperr.Fatal("settings: resolve", err)
	}
	return canonical, nil
}

// Get loads a setting by canonical name (not alias-resolved).
func (s *Store) Get(ctx context.Context, name string) (Setting, error) {
	return s.getTx(ctx, nil, name)
}

func (s *Store) getTx(ctx context.Context, tx *sql.Tx, name string) (Setting, error) {
	var (
		setting              Setting
		rawType              string
		defaultValue         sql.NullString
		major, minor         int
	)
	row := s.queryRow(ctx, tx, `SELECT name, type, default_value, version_major, version_minor FROM settings WHERE name = ?`, name)
	if err := row.Scan(&setting.CanonicalName, &rawType, &defaultValue, &major, &minor); err != nil {
		if err == sql.ErrNoRows {
			return Setting{}, apperr.NotFound("setting", name, "no such setting")
		}
		return Setting{}, apperr.Fatal("settings: get", err)
	}
	typ, err := typesys.Parse(rawType)
	if err != nil {
		return Setting{}, apperr.Fatal("settings: stored type is malformed", err)
	}
	setting.Type = typ
	setting.LatestVersion = Version{Major: major, Minor: minor}
	if defaultValue.Valid {
		raw := json.RawMessage(defaultValue.String)
		setting.DefaultValue = &raw
	}

	setting.ConfigurableFeatures = map[string]bool{}
	cfRows, err := s.query(ctx, tx, `SELECT feature FROM setting_configurable_features WHERE setting = ?`, name)
	if err != nil {
		return Setting{}, err
	}
	defer cfRows.Close()
	for cfRows.Next() {
		var f string
		if err := cfRows.Scan(&f); err != nil {
			return Setting{}, apperr.Fatal("settings: scan configurable feature", err)
		}
		setting.ConfigurableFeatures[f] = true
	}

	setting.Metadata = map[string]json.RawMessage{}
	metaRows, err := s.query(ctx, tx, "SELECT `key`, value FROM setting_metadata WHERE setting = ?", name)
	if err != nil {
		return Setting{}, err
	}
	defer metaRows.Close()
	for metaRows.Next() {
		var k, v string
		if err := metaRows.Scan(&k, &v); err != nil {
			return Setting{}, apperr.Fatal("settings: scan metadata", err)
		}
		setting.Metadata[k] = json.RawMessage(v)
	}

	aliasRows, err := s.query(ctx, tx, `SELECT alias FROM setting_aliases WHERE setting = ?`, name)
	if err != nil {
		return Setting{}, err
	}
	defer aliasRows.Close()
	for aliasRows.Next() {
		var a string
		if err := aliasRows.Scan(&a); err != nil {
			return Setting{}, apperr.Fatal("settings: scan alias", err)
		}
		setting.Aliases = append(setting.Aliases, a)
	}
	sort.Strings(setting.Aliases)

	return setting, nil
}

// List returns every setting's canonical name, ordered alphabetically.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM settings ORDER BY name ASC`)
	if err != nil {
		return nil, apperr.Fatal("settings: list", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, apperr.Fatal("settings: scan list", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Delete cascades to the setting's rules (and their conditions/
// metadata), aliases, configurable-feature bindings, and its own
// metadata (spec.md §3's ownership rule).
func (s *Store) Delete(ctx context.Context, name string) error {
	return s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		if err := rules.DeleteAllForSettingTx(ctx, tx, name); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM setting_aliases WHERE setting = ?`, name); err != nil {
			return apperr.Fatal("settings: delete aliases", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM setting_configurable_features WHERE setting = ?`, name); err != nil {
			return apperr.Fatal("settings: delete configurable features", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM setting_metadata WHERE setting = ?`, name); err != nil {
			return apperr.Fatal("settings: delete metadata", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE name = ?`, name)
		if err != nil {
			return apperr.Fatal("settings: delete", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperr.Fatal("settings: rows affected", err)
		}
		if n == 0 {
			return apperr.NotFound("setting", name, "no such setting")
		}
		return nil
	})
}

func (s *Store) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...any) *sql.Row {
	if tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *Store) query(ctx context.Context, tx *sql.Tx, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, args...)
	} else {
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, apperr.Fatal("settings: query", err)
	}
	return rows, nil
}

func newConditionFeatureSet(ctx context.Context, tx *sql.Tx, settingName string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT rc.feature FROM rule_conditions rc
		JOIN rules r ON r.id = rc.rule_id
		WHERE r.setting = ?`, settingName)
	if err != nil {
		return nil, apperr.Fatal("settings: rule condition features", err)
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, apperr.Fatal("settings: scan rule condition feature", err)
		}
		out[f] = true
	}
	return out, rows.Err()
}

func ruleValuesFor(ctx context.Context, tx *sql.Tx, settingName string) ([]json.RawMessage, error) {
	rows, err := tx.QueryContext(ctx, `SELECT value FROM rules WHERE setting = ?`, settingName)
	if err != nil {
		return nil, apperr.Fatal("settings: rule values", err)
	}
	defer rows.Close()
	var out []json.RawMessage
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, apperr.Fatal("settings: scan rule value", err)
		}
		out = append(out, json.RawMessage(v))
	}
	return out, rows.Err()
}
