package schemabootstrap

import (
	"strings"
	"testing"
)

func TestStatements_DeclareAllEightTables(t *testing.T) {
	if len(statements) != len(tableNames) {
		t.Fatalf("got %d statements, want %d (one per table name)", len(statements), len(tableNames))
	}
	for i, name := range tableNames {
		if !strings.Contains(statements[i], "CREATE TABLE IF NOT EXISTS "+name+" ") {
			t.Fatalf("statements[%d] does not declare table %q: %s", i, name, statements[i])
		}
	}
}

func TestTableNames_HasEightEntries(t *testing.T) {
	if len(tableNames) != 8 {
		t.Fatalf("expected 8 tables, got %d", len(tableNames))
	}
}
