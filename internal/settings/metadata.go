package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"heksher/internal/apperr"
)

var metaKeyChars = func() [256]bool {
	var ok [256]bool
	for c := 'a'; c <= 'z'; c++ {
		ok[c] = true
	}
	for c := 'A'; c <= 'Z'; c++ {
		ok[c] = true
	}
	for c := '0'; c <= '9'; c++ {
		ok[c] = true
	}
	ok['_'] = true
	ok['-'] = true
	return ok
}()

func validateMetadataKey(key string) error {
	if key == "" {
		return apperr.Validation("setting", "", "metadata", "metadata key must be non-empty")
	}
	for i := 0; i < len(key); i++ {
		if !metaKeyChars[key[i]] {
			return apperr.Validation("setting", "", "metadata", fmt.Sprintf("metadata key %q must match [A-Za-z0-9_-]+", key))
		}
	}
	return nil
}

// GetMetadata returns a setting's full metadata map.
func (s *Store) GetMetadata(ctx context.Context, name string) (map[string]json.RawMessage, error) {
	setting, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return setting.Metadata, nil
}

// MergeMetadata implements the metadata POST contract.
func (s *Store) MergeMetadata(ctx context.Context, name string, patch map[string]json.RawMessage) error {
	return s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireSetting(ctx, tx, name); err != nil {
			return err
		}
		for k, v := range patch {
			if err := validateMetadataKey(k); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO setting_metadata (setting, `key`, value) VALUES (?, ?, ?) "+
					"ON DUPLICATE KEY UPDATE value = VALUES(value)", name, k, string(v)); err != nil {
				return apperr.Fatal("settings: merge metadata", err)
			}
		}
		return nil
	})
}

// ReplaceMetadata implements the metadata PUT contract.
func (s *Store) ReplaceMetadata(ctx context.Context, name string, meta map[string]json.RawMessage) error {
	return s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireSetting(ctx, tx, name); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM setting_metadata WHERE setting = ?`, name); err != nil {
			return apperr.Fatal("settings: clear metadata", err)
		}
		for k, v := range meta {
			if err := validateMetadataKey(k); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO setting_metadata (setting, `key`, value) VALUES (?, ?, ?)", name, k, string(v)); err != nil {
				return apperr.Fatal("settings: replace metadata", err)
			}
		}
		return nil
	})
}

// ClearMetadata deletes every metadata key for a setting.
func (s *Store) ClearMetadata(ctx context.Context, name string) error {
	return s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireSetting(ctx, tx, name); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM setting_metadata WHERE setting = ?`, name); err != nil {
			return apperr.Fatal("settings: clear metadata", err)
		}
		return nil
	})
}

// SetMetadataKey sets a single metadata key.
func (s *Store) SetMetadataKey(ctx context.Context, name, key string, value json.RawMessage) error {
	if err := validateMetadataKey(key); err != nil {
		return err
	}
	return s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireSetting(ctx, tx, name); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO setting_metadata (setting, `key`, value) VALUES (?, ?, ?) "+
				"ON DUPLICATE KEY UPDATE value = VALUES(value)", name, key, string(value)); err != nil {
			return apperr.Fatal("settings: set metadata key", err)
		}
		return nil
	})
}

// GetMetadataKey returns a single metadata value.
func (s *Store) GetMetadataKey(ctx context.Context, name, key string) (json.RawMessage, error) {
	if _, err := s.Get(ctx, name); err != nil {
		return nil, err
	}
	var v string
	row := s.db.QueryRowContext(ctx, "SELECT value FROM setting_metadata WHERE setting = ? AND `key` = ?", name, key)
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("setting_metadata", key, "no such metadata key")
		}
		return nil, apperr.Fatal("settings: get metadata key", err)
	}
	return json.RawMessage(v), nil
}

// DeleteMetadataKey removes a single metadata key.
func (s *Store) DeleteMetadataKey(ctx context.Context, name, key string) error {
	return s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM setting_metadata WHERE setting = ? AND `key` = ?", name, key)
		if err != nil {
			return apperr.Fatal("settings: delete metadata key", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperr.Fatal("settings: rows affected", err)
		}
		if n == 0 {
			return apperr.NotFound("setting_metadata", key, "no such metadata key")
		}
		return nil
	})
}

func (s *Store) requireSetting(ctx context.Context, tx *sql.Tx, name string) error {
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM settings WHERE name = ?`, name).Scan(&count); err != nil {
		return apperr.Fatal("settings: require lookup", err)
	}
	if count == 0 {
		return apperr.NotFound("setting", name, "no such setting")
	}
	return nil
}

// PutName implements PUT /settings/{n}/name: an explicit rename with
// conflicts surfaced directly rather than via the declare taxonomy.
func (s *Store) PutName(ctx context.Context, name, newName string, version Version) error {
	return s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		cur, err := s.getTx(ctx, tx, name)
		if err != nil {
			return err
		}
		if newName == cur.CanonicalName {
			return nil
		}
		collides, err := s.nameOrAliasTakenByOther(ctx, tx, newName, cur.CanonicalName)
		if err != nil {
			return err
		}
		if collides {
			return apperr.Conflict("setting", newName, "name or alias already in use")
		}
		if err := s.renameTx(ctx, tx, cur.CanonicalName, newName); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE settings SET version_major = ?, version_minor = ? WHERE name = ?`, version.Major, version.Minor, newName); err != nil {
			return apperr.Fatal("settings: put name bump version", err)
		}
		return nil
	})
}

// PutConfigurableFeatures implements PUT /settings/{n}/configurable_features:
// removals referenced by an existing rule are reported as conflicts
// rather than applied.
func (s *Store) PutConfigurableFeatures(ctx context.Context, name string, newFeatures []string, version Version) ([]ExplicitConflict, error) {
	var conflicts []ExplicitConflict
	err := s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		cur, err := s.getTx(ctx, tx, name)
		if err != nil {
			return err
		}
		want := make(map[string]bool, len(newFeatures))
		for _, f := range newFeatures {
			want[f] = true
		}
		inUse, err := newConditionFeatureSet(ctx, tx, cur.CanonicalName)
		if err != nil {
			return err
		}
		for f := range cur.ConfigurableFeatures {
			if !want[f] && inUse[f] {
				conflicts = append(conflicts, ExplicitConflict{Message: fmt.Sprintf("feature %q is still referenced by an existing rule", f)})
			}
		}
		if len(conflicts) > 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM setting_configurable_features WHERE setting = ?`, name); err != nil {
			return apperr.Fatal("settings: clear configurable features", err)
		}
		for _, f := range newFeatures {
			if _, err := tx.ExecContext(ctx, `INSERT INTO setting_configurable_features (setting, feature) VALUES (?, ?)`, name, f); err != nil {
				return apperr.Fatal("settings: insert configurable feature", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE settings SET version_major = ?, version_minor = ? WHERE name = ?`, version.Major, version.Minor, name); err != nil {
			return apperr.Fatal("settings: put configurable features bump version", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conflicts, nil
}
