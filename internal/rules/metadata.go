package rules

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
		return apperr.Validation("rule", "", "metadata", "metadata key must be non-empty")
	}
	for i := 0; i < len(key); i++ {
		if !metaKeyChars[key[i]] {
			return apperr.Validation("rule", "", "metadata", fmt.Sprintf("metadata key %q must match [A-Za-z0-9_-]+", key))
		}
	}
	return nil
}

// GetMetadata returns a rule's full metadata map.
func (s *Store) GetMetadata(ctx context.Context, id string) (map[string]json.RawMessage, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.getMetadataTx(ctx, nil, id)
}

func (s *Store) getMetadataTx(ctx context.Context, tx *sql.Tx, id string) (map[string]json.RawMessage, error) {
	query := `SELECT `+"`key`"+`, value FROM rule_metadata WHERE rule_id = ?`
	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, id)
	} else {
		rows, err = s.db.QueryContext(ctx, query, id)
	}
	if err != nil {
		return nil, apperr.Fatal("rules: get metadata", err)
	}
	defer rows.Close()
	out := map[string]json.RawMessage{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, apperr.Fatal("rules: scan metadata", err)
		}
		out[k] = json.RawMessage(v)
	}
	return out, rows.Err()
}

// MergeMetadata implements the metadata POST contract: merge the given
// keys into the existing map, leaving other keys untouched.
func (s *Store) MergeMetadata(ctx context.Context, id string, patch map[string]json.RawMessage) error {
	return s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireRule(ctx, tx, id); err != nil {
			return err
		}
		for k, v := range patch {
			if err := validateMetadataKey(k); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO rule_metadata (rule_id, `key`, value) VALUES (?, ?, ?) "+
					"ON DUPLICATE KEY UPDATE value = VALUES(value)", id, k, string(v)); err != nil {
				return apperr.Fatal("rules: merge metadata", err)
			}
		}
		return nil
	})
}

// ReplaceMetadata implements the metadata PUT contract: the given map
// becomes the entire metadata set.
func (s *Store) ReplaceMetadata(ctx context.Context, id string, meta map[string]json.RawMessage) error {
	return s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireRule(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM rule_metadata WHERE rule_id = ?`, id); err != nil {
			return apperr.Fatal("rules: clear metadata", err)
		}
		for k, v := range meta {
			if err := validateMetadataKey(k); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO rule_metadata (rule_id, `key`, value) VALUES (?, ?, ?)", id, k, string(v)); err != nil {
				return apperr.Fatal("rules: replace metadata", err)
			}
		}
		return nil
	})
}

// ClearMetadata deletes every metadata key for a rule.
func (s *Store) ClearMetadata(ctx context.Context, id string) error {
	return s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireRule(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM rule_metadata WHERE rule_id = ?`, id); err != nil {
			return apperr.Fatal("rules: clear metadata", err)
		}
		return nil
	})
}

// SetMetadataKey sets a single metadata key.
func (s *Store) SetMetadataKey(ctx context.Context, id, key string, value json.RawMessage) error {
	if err := validateMetadataKey(key); err != nil {
		return err
	}
	return s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireRule(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rule_metadata (rule_id, `key`, value) VALUES (?, ?, ?) "+
				"ON DUPLICATE KEY UPDATE value = VALUES(value)", id, key, string(value)); err != nil {
			return apperr.Fatal("rules: set metadata key", err)
		}
		return nil
	})
}

// GetMetadataKey returns a single metadata value.
func (s *Store) GetMetadataKey(ctx context.Context, id, key string) (json.RawMessage, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	var v string
	row := s.db.QueryRowContext(ctx, "SELECT value FROM rule_metadata WHERE rule_id = ? AND `key` = ?", id, key)
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("rule_metadata", key, "no such metadata key")
		}
		return nil, apperr.Fatal("rules: get metadata key", err)
	}
	return json.RawMessage(v), nil
}

// DeleteMetadataKey removes a single metadata key.
func (s *Store) DeleteMetadataKey(ctx context.Context, id, key string) error {
	return s.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM rule_metadata WHERE rule_id = ? AND `key` = ?", id, key)
		if err != nil {
			return apperr.Fatal("rules: delete metadata key", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperr.Fatal("rules: rows affected", err)
		}
		if n == 0 {
			return apperr.NotFound("rule_metadata", key, "no such metadata key")
		}
		return nil
	})
}

func (s *Store) requireRule(ctx context.Context, tx *sql.Tx, id string) error {
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM rules WHERE id = ?`, id).Scan(&count); err != nil {
		return apperr.Fatal("rules: require lookup", err)
	}
	if count == 0 {
		return apperr.NotFound("rule", id, "no such rule")
	}
	return nil
}
