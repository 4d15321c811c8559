package schemabootstrap

// statements is spec.md §6's eight persisted tables, as literal CREATE
// TABLE text executed directly via database/sql. The schema is fixed
// and known at compile time, so there is no diffing or generation step
// — IF NOT EXISTS alone makes Bootstrap idempotent against a database
// that already has some or all of these tables.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS context_features (
		name VARCHAR(255) NOT NULL,
		idx INT NOT NULL,
		PRIMARY KEY (name)
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		name VARCHAR(255) NOT NULL,
		type TEXT NOT NULL,
		default_value JSON,
		version_major INT NOT NULL,
		version_minor INT NOT NULL,
		PRIMARY KEY (name)
	)`,
	`CREATE TABLE IF NOT EXISTS setting_aliases (
		alias VARCHAR(255) NOT NULL,
		setting VARCHAR(255) NOT NULL,
		PRIMARY KEY (alias)
	)`,
	`CREATE TABLE IF NOT EXISTS setting_configurable_features (
		setting VARCHAR(255) NOT NULL,
		feature VARCHAR(255) NOT NULL,
		PRIMARY KEY (setting, feature)
	)`,
	"CREATE TABLE IF NOT EXISTS setting_metadata (\n" +
		"\tsetting VARCHAR(255) NOT NULL,\n" +
		"\t`key` VARCHAR(255) NOT NULL,\n" +
		"\tvalue JSON NOT NULL,\n" +
		"\tPRIMARY KEY (setting, `key`)\n" +
		")",
	`CREATE TABLE IF NOT EXISTS rules (
		id VARCHAR(64) NOT NULL,
		setting VARCHAR(255) NOT NULL,
		value JSON NOT NULL,
		condition_key VARCHAR(1024) NOT NULL,
		PRIMARY KEY (id)
	)`,
	`CREATE TABLE IF NOT EXISTS rule_conditions (
		rule_id VARCHAR(64) NOT NULL,
		feature VARCHAR(255) NOT NULL,
		value VARCHAR(255) NOT NULL,
		PRIMARY KEY (rule_id, feature)
	)`,
	"CREATE TABLE IF NOT EXISTS rule_metadata (\n" +
		"\trule_id VARCHAR(64) NOT NULL,\n" +
		"\t`key` VARCHAR(255) NOT NULL,\n" +
		"\tvalue JSON NOT NULL,\n" +
		"\tPRIMARY KEY (rule_id, `key`)\n" +
		")",
}

// tableNames lists the tables statements declares, in the same order,
// for Plan's "which of these don't exist yet" introspection.
var tableNames = []string{
	"context_features",
	"settings",
	"setting_aliases",
	"setting_configurable_features",
	"setting_metadata",
	"rules",
	"rule_conditions",
	"rule_metadata",
}
