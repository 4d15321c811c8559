// Package schemabootstrap stands up spec.md §6's persisted schema on a
// fresh database. It is not a named component of the specification,
// but something has to create the eight tables before the service can
// serve a single request against a brand-new database. The schema is
// fixed and known at compile time, so this is a thin adapter — an
// embedded DDL string run through database/sql — not a migration tool.
package schemabootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"io"
)

// Plan reports which of spec.md §6's eight tables don't exist yet in
// db, by name. A table with a divergent column set from what this
// package expects is left untouched and out of scope — an operator's
// migration-tool concern, not schemabootstrap's.
func Plan(ctx context.Context, db *sql.DB) ([]string, error) {
	existing, err := existingTables(ctx, db)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, name := range tableNames {
		if !existing[name] {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// Bootstrap creates any of spec.md §6's eight tables that don't already
// exist in dsn's database. Each CREATE TABLE IF NOT EXISTS runs as its
// own statement — MySQL's DDL implicitly commits per statement, so
// there is no multi-statement transaction to wrap them in. out receives
// a line per table created (io.Discard for silent startup use).
func Bootstrap(ctx context.Context, dsn string, out io.Writer) error {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("schemabootstrap: open: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("schemabootstrap: ping: %w", err)
	}

	missing, err := Plan(ctx, db)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	want := make(map[string]bool, len(missing))
	for _, name := range missing {
		want[name] = true
	}

	for i, name := range tableNames {
		if !want[name] {
			continue
		}
		if _, err := db.ExecContext(ctx, statements[i]); err != nil {
			return fmt.Errorf("schemabootstrap: create %s: %w", name, err)
		}
		fmt.Fprintf(out, "created table %s\n", name)
	}
	return nil
}

func existingTables(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SHOW TABLES`)
	if err != nil {
		return nil, fmt.Errorf("schemabootstrap: show tables: %w", err)
	}
	defer rows.Close()

	existing := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("schemabootstrap: scan table name: %w", err)
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schemabootstrap: table rows: %w", err)
	}
	return existing, nil
}
