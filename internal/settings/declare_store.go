package settings

import (
	"context"
	"database/sql"
	"encoding/json"

	"heksher/internal/apperr"
	"heksher/internal/typesys"
)

// Declare runs spec.md §4.4's full declare(...) resolution ladder
// against the database, applying the new state when the outcome is
// created or upgraded, and never mutating otherwise.
func (s *Store) Declare(ctx context.Context, req DeclareRequest) (DeclareResult, error) {
	if req.VersionMajor == 0 && req.VersionMinor == 0 {
		req.VersionMajor, req.VersionMinor = 1, 0
	}

	var result DeclareResult
	err := s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		canonical, found, err := s.tryResolveForDeclare(ctx, tx, req)
		if err != nil {
			return err
		}

		var cur *Setting
		if found {
			loaded, err := s.getTx(ctx, tx, canonical)
			if err != nil {
				return err
			}
			cur = &loaded
		} else if canonical == "" && req.Name == "" {
			return apperr.Validation("setting", "", "name", "name is required")
		}

		if cur == nil && req.DefaultValue == nil {
			return apperr.Validation("setting", req.Name, "default_value", "new settings must declare a default_value")
		}

		dctx := declareContext{}
		if cur != nil {
			dctx.ruleConditionFeatures, err = newConditionFeatureSet(ctx, tx, cur.CanonicalName)
			if err != nil {
				return err
			}
			dctx.ruleValues, err = ruleValuesFor(ctx, tx, cur.CanonicalName)
			if err != nil {
				return err
			}
			if req.Name != cur.CanonicalName {
				collides, err := s.nameOrAliasTakenByOther(ctx, tx, req.Name, cur.CanonicalName)
				if err != nil {
					return err
				}
				dctx.nameCollision = collides
			}
		}

		res, err := resolveDeclare(cur, req, dctx)
		if err != nil {
			return err
		}

		if res.Outcome == OutcomeCreated {
			if err := s.insertSetting(ctx, tx, req); err != nil {
				return err
			}
		} else if res.Outcome == OutcomeUpgraded {
			if err := s.applyUpgrade(ctx, tx, *cur, req, res.LatestVersion); err != nil {
				return err
			}
		}

		result = res
		return nil
	})
	if err != nil {
		return DeclareResult{}, err
	}
	return result, nil
}

// tryResolveForDeclare implements spec.md §4.4 resolution step 1: look
// up by name; if absent, look up by the request's alias field (the
// setting's prior identity, for a rename-on-redeclare).
func (s *Store) tryResolveForDeclare(ctx context.Context, tx *sql.Tx, req DeclareRequest) (canonical string, found bool, err error) {
	canonical, err = s.resolveCanonicalName(ctx, tx, req.Name)
	if err == nil {
		return canonical, true, nil
	}
	if appErr, ok := apperr.As(err); !ok || appErr.Kind != apperr.KindNotFound {
		return "", false, err
	}
	if req.Alias == "" {
		return "", false, nil
	}
	canonical, err = s.resolveCanonicalName(ctx, tx, req.Alias)
	if err != nil {
		if appErr, ok := apperr.As(err); ok && appErr.Kind == apperr.KindNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	return canonical, true, nil
}

// nameOrAliasTakenByOther reports whether newName already belongs to
// the names∪aliases index under a setting other than exclude.
func (s *Store) nameOrAliasTakenByOther(ctx context.Context, tx *sql.Tx, newName, exclude string) (bool, error) {
	var owner string
	row := tx.QueryRowContext(ctx, `SELECT name FROM settings WHERE name = ? UNION SELECT setting FROM setting_aliases WHERE alias = ? LIMIT 1`, newName, newName)
	if err := row.Scan(&owner); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, apperr.Fatal("settings: collision check", err)
	}
	return owner != exclude, nil
}

func (s *Store) insertSetting(ctx context.Context, tx *sql.Tx, req DeclareRequest) error {
	var defaultValue any
	if req.DefaultValue != nil {
		defaultValue = string(*req.DefaultValue)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO settings (name, type, default_value, version_major, version_minor) VALUES (?, ?, ?, ?, ?)`,
		req.Name, req.Type.Format(), defaultValue, req.VersionMajor, req.VersionMinor); err != nil {
		return apperr.Fatal("settings: insert", err)
	}
	for _, f := range req.ConfigurableFeatures {
		if _, err := tx.ExecContext(ctx, `INSERT INTO setting_configurable_features (setting, feature) VALUES (?, ?)`, req.Name, f); err != nil {
			return apperr.Fatal("settings: insert configurable feature", err)
		}
	}
	for k, v := range req.Metadata {
		if err := validateMetadataKey(k); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO setting_metadata (setting, `key`, value) VALUES (?, ?, ?)", req.Name, k, string(v)); err != nil {
			return apperr.Fatal("settings: insert metadata", err)
		}
	}
	return nil
}

// applyUpgrade persists an accepted upgrade: the new attributes replace
// the current ones, the version bumps to newVersion, and (on rename)
// the old canonical name becomes an alias.
func (s *Store) applyUpgrade(ctx context.Context, tx *sql.Tx, cur Setting, req DeclareRequest, newVersion Version) error {
	var defaultValue any
	if req.DefaultValue != nil {
		defaultValue = string(*req.DefaultValue)
	} else if cur.DefaultValue != nil {
		defaultValue = string(*cur.DefaultValue)
	}

	if req.Name != cur.CanonicalName {
		if err := s.renameTx(ctx, tx, cur.CanonicalName, req.Name); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE settings SET type = ?, default_value = ?, version_major = ?, version_minor = ? WHERE name = ?`,
		req.Type.Format(), defaultValue, newVersion.Major, newVersion.Minor, req.Name); err != nil {
		return apperr.Fatal("settings: apply upgrade", err)
	}

	if req.ConfigurableFeatures != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM setting_configurable_features WHERE setting = ?`, req.Name); err != nil {
			return apperr.Fatal("settings: clear configurable features", err)
		}
		for _, f := range req.ConfigurableFeatures {
			if _, err := tx.ExecContext(ctx, `INSERT INTO setting_configurable_features (setting, feature) VALUES (?, ?)`, req.Name, f); err != nil {
				return apperr.Fatal("settings: insert configurable feature", err)
			}
		}
	}

	if req.Metadata != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM setting_metadata WHERE setting = ?`, req.Name); err != nil {
			return apperr.Fatal("settings: clear metadata", err)
		}
		for k, v := range req.Metadata {
			if err := validateMetadataKey(k); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO setting_metadata (setting, `key`, value) VALUES (?, ?, ?)", req.Name, k, string(v)); err != nil {
				return apperr.Fatal("settings: insert metadata", err)
			}
		}
	}
	return nil
}

// renameTx renames a setting in place: it rewrites the settings row's
// name and the setting column of its aliases, configurable features,
// metadata and rules (the schema has no foreign keys to cascade), then
// records oldName as a new alias.
func (s *Store) renameTx(ctx context.Context, tx *sql.Tx, oldName, newName string) error {
	for _, stmt := range []string{
		`UPDATE settings SET name = ? WHERE name = ?`,
		`UPDATE setting_aliases SET setting = ? WHERE setting = ?`,
		`UPDATE setting_configurable_features SET setting = ? WHERE setting = ?`,
		`UPDATE setting_metadata SET setting = ? WHERE setting = ?`,
		`UPDATE rules SET setting = ? WHERE setting = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, newName, oldName); err != nil {
			return apperr.Fatal("settings: rename", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO setting_aliases (alias, setting) VALUES (?, ?)`, oldName, newName); err != nil {
		return apperr.Fatal("settings: insert rename alias", err)
	}
	return nil
}

// ExplicitConflict is one offending id/value reported by the explicit
// PUT endpoints (spec.md §4.4), as opposed to the declare outcome
// taxonomy.
type ExplicitConflict struct {
	RuleID  string
	Message string
}

// PutType implements PUT /settings/{n}/type: every existing rule value,
// then the default value, is checked against newType, and offending
// values are reported as an explicit list (with rule ids) rather than an
// outcome; nothing is changed when there is a conflict. Otherwise the
// type and the given version are stored. The given version is not
// compared with the current one, and Declare's subtype-based minor/major
// classification is not applied here.
func (s *Store) PutType(ctx context.Context, name string, newType typesys.Type, version Version) ([]ExplicitConflict, error) {
	var conflicts []ExplicitConflict
	err := s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		cur, err := s.getTx(ctx, tx, name)
		if err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, `SELECT id, value FROM rules WHERE setting = ?`, name)
		if err != nil {
			return apperr.Fatal("settings: put type rule scan", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id, val string
			if err := rows.Scan(&id, &val); err != nil {
				return apperr.Fatal("settings: scan rule value", err)
			}
			var v any
			if err := json.Unmarshal([]byte(val), &v); err != nil || !newType.Validate(v) {
				conflicts = append(conflicts, ExplicitConflict{RuleID: id, Message: "value " + val + " not in " + newType.Format()})
			}
		}
		if err := rows.Err(); err != nil {
			return apperr.Fatal("settings: rule rows", err)
		}
		if len(conflicts) > 0 {
			return nil
		}
		if cur.DefaultValue != nil {
			var v any
			if err := json.Unmarshal(*cur.DefaultValue, &v); err != nil || !newType.Validate(v) {
				conflicts = append(conflicts, ExplicitConflict{Message: "default value not in " + newType.Format()})
				return nil
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE settings SET type = ?, version_major = ?, version_minor = ? WHERE name = ?`,
			newType.Format(), version.Major, version.Minor, name); err != nil {
			return apperr.Fatal("settings: put type", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conflicts, nil
}
