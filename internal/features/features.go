// Package features implements Heksher's context-feature registry
// (spec.md §4.2): the ordered list of context-feature names rules and
// settings are keyed by, plus add/delete/move operations and the
// referential "in-use" invariant against settings.
package features

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"heksher/internal/apperr"
	"heksher/internal/dbstore"
)

// Feature is a single context dimension, carrying its position in the
// registry's total order.
type Feature struct {
	Name  string
	Index int
}

// InUseChecker reports whether name is still referenced by any setting's
// configurable_features, so Delete can enforce spec.md §4.2's "in-use"
// invariant. internal/settings implements this without internal/features
// importing internal/settings back.
type InUseChecker interface {
	FeatureInUse(ctx context.Context, tx *sql.Tx, name string) (bool, error)
}

// Registry is the context-feature store, backed by the single relational
// database (spec.md §5). All mutating operations run inside a
// serializable transaction via db.WithSerializableTx.
type Registry struct {
	db    *dbstore.DB
	inUse InUseChecker
}

// New constructs a Registry. inUse is consulted by Delete.
func New(db *dbstore.DB, inUse InUseChecker) *Registry {
	return &Registry{db: db, inUse: inUse}
}

var nameChars = func() [256]bool {
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

// ValidName reports whether name matches spec.md §3's
// `[A-Za-z0-9_-]+` identifier grammar.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !nameChars[name[i]] {
			return false
		}
	}
	return true
}

// List returns every feature in registry order.
func (r *Registry) List(ctx context.Context) ([]Feature, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, idx FROM context_features ORDER BY idx ASC`)
	if err != nil {
		return nil, apperr.Fatal("features: list", err)
	}
	defer rows.Close()

	var out []Feature
	for rows.Next() {
		var f Feature
		if err := rows.Scan(&f.Name, &f.Index); err != nil {
			return nil, apperr.Fatal("features: scan", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Get looks up a single feature by name.
func (r *Registry) Get(ctx context.Context, name string) (Feature, error) {
	var f Feature
	row := r.db.QueryRowContext(ctx, `SELECT name, idx FROM context_features WHERE name = ?`, name)
	if err := row.Scan(&f.Name, &f.Index); err != nil {
		if err == sql.ErrNoRows {
			return Feature{}, apperr.NotFound("context_feature", name, "no such context feature")
		}
		return Feature{}, apperr.Fatal("features: get", err)
	}
	return f, nil
}

// Add appends a new feature at the end of the order.
func (r *Registry) Add(ctx context.Context, name string) error {
	if !ValidName(name) {
		return apperr.Validation("context_feature", name, "name", "must match [A-Za-z0-9_-]+")
	}
	return r.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM context_features WHERE name = ?`, name).Scan(&count); err != nil {
			return apperr.Fatal("features: add lookup", err)
		}
		if count > 0 {
			return apperr.Conflict("context_feature", name, "context feature already exists")
		}
		var next int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM context_features`).Scan(&next); err != nil {
			return apperr.Fatal("features: add count", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO context_features (name, idx) VALUES (?, ?)`, name, next); err != nil {
			return apperr.Fatal("features: insert", err)
		}
		return nil
	})
}

// Delete removes name, refusing with *conflict* if any setting still
// configures by it (spec.md §4.2). Remaining indices are compacted.
func (r *Registry) Delete(ctx context.Context, name string) error {
	return r.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		var removedIdx int
		err := tx.QueryRowContext(ctx, `SELECT idx FROM context_features WHERE name = ?`, name).Scan(&removedIdx)
		if err == sql.ErrNoRows {
			return apperr.NotFound("context_feature", name, "no such context feature")
		}
		if err != nil {
			return apperr.Fatal("features: delete lookup", err)
		}

		if r.inUse != nil {
			inUse, err := r.inUse.FeatureInUse(ctx, tx, name)
			if err != nil {
				return err
			}
			if inUse {
				return apperr.Conflict("context_feature", name, "context feature is configurable by at least one setting")
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM context_features WHERE name = ?`, name); err != nil {
			return apperr.Fatal("features: delete", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE context_features SET idx = idx - 1 WHERE idx > ?`, removedIdx); err != nil {
			return apperr.Fatal("features: compact", err)
		}
		return nil
	})
}

// MovePivot selects before/after semantics for Move.
type MovePivot int

const (
	Before MovePivot = iota
	After
)

// Move repositions name so it sits immediately before (Before) or after
// (After) pivot. The pivot index is computed after name is removed from
// the order, per spec.md §4.2 — so move(a, Before, a) and
// move(a, After, a) are no-ops (spec.md §8).
func (r *Registry) Move(ctx context.Context, name string, which MovePivot, pivot string) error {
	return r.db.WithSerializableTx(ctx, func(tx *sql.Tx) error {
		names, err := loadOrderForUpdate(ctx, tx)
		if err != nil {
			return err
		}

		if indexOf(names, name) < 0 {
			return apperr.NotFound("context_feature", name, "no such context feature")
		}
		if indexOf(names, pivot) < 0 {
			return apperr.NotFound("context_feature", pivot, "no such pivot context feature")
		}

		reordered := computeMove(names, name, which, pivot)

		for i, n := range reordered {
			if _, err := tx.ExecContext(ctx, `UPDATE context_features SET idx = ? WHERE name = ?`, i, n); err != nil {
				return apperr.Fatal("features: reorder", err)
			}
		}
		return nil
	})
}

func loadOrderForUpdate(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM context_features ORDER BY idx ASC FOR UPDATE`)
	if err != nil {
		return nil, apperr.Fatal("features: load order", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, apperr.Fatal("features: scan order", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// computeMove is the pure "remove, then insert at the pivot position"
// algorithm from spec.md §4.2: the pivot index is computed AFTER name is
// removed. move(a, Before, a) and move(a, After, a) are no-ops (spec.md
// §8) because a self-pivot is special-cased to reinsert a at its
// original index.
func computeMove(names []string, name string, which MovePivot, pivot string) []string {
	from := indexOf(names, name)
	if from < 0 {
		return names
	}
	removed := append(append([]string{}, names[:from]...), names[from+1:]...)

	var insertAt int
	if name == pivot {
		insertAt = from
	} else {
		pivotIdx := indexOf(removed, pivot)
		if which == Before {
			insertAt = pivotIdx
		} else {
			insertAt = pivotIdx + 1
		}
	}
	if insertAt > len(removed) {
		insertAt = len(removed)
	}

	out := make([]string, 0, len(names))
	out = append(out, removed[:insertAt]...)
	out = append(out, name)
	out = append(out, removed[insertAt:]...)
	return out
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// Reconcile is run once at startup (spec.md §6): it appends any feature
// named in startupFeatures that isn't already registered, in the order
// given, leaving the position of already-registered features untouched.
// Registered features absent from startupFeatures are kept. When
// configuredFeatures is non-nil, it returns an error (and the caller
// should abort startup) if a feature some setting is configurable by is
// neither in startupFeatures nor already registered; when it is nil, no
// such check is made.
func Reconcile(ctx context.Context, r *Registry, startupFeatures []string, configuredFeatures func(ctx context.Context) (map[string]bool, error)) error {
	existing, err := r.List(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, f := range existing {
		have[f.Name] = true
	}

	want := make(map[string]bool, len(startupFeatures))
	for _, n := range startupFeatures {
		want[n] = true
	}

	if configuredFeatures != nil {
		configured, err := configuredFeatures(ctx)
		if err != nil {
			return err
		}
		var missing []string
		for name := range configured {
			if !want[name] && !have[name] {
				missing = append(missing, name)
			} else if !want[name] && have[name] {
				// already registered and in use: fine, reconciliation leaves it.
				continue
			}
		}
		sort.Strings(missing)
		if len(missing) > 0 {
			return fmt.Errorf("features: startup context features omit %s, still configurable by existing settings", strings.Join(missing, ", "))
		}
	}

	for _, n := range startupFeatures {
		if have[n] {
			continue
		}
		if err := r.Add(ctx, n); err != nil {
			return fmt.Errorf("features: reconcile add %q: %w", n, err)
		}
		have[n] = true
	}
	return nil
}
