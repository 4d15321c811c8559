package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"heksher/internal/dbstore"
	"heksher/internal/features"
	"heksher/internal/rules"
	"heksher/internal/schemabootstrap"
	"heksher/internal/typesys"
)

// settingsBackedInUse/settingsBackedResolver break the same
// features<->rules<->settings construction cycle cmd/heksherd's main.go
// resolves with holder types, scaled down for a single test file.
type settingsBackedInUse struct{ s *Store }

func (h *settingsBackedInUse) FeatureInUse(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	return h.s.FeatureInUse(ctx, tx, name)
}

type settingsBackedResolver struct{ s *Store }

func (h *settingsBackedResolver) ResolveForRule(ctx context.Context, tx *sql.Tx, name string) (rules.SettingRef, error) {
	return h.s.ResolveForRule(ctx, tx, name)
}

type wiredStores struct {
	db       *dbstore.DB
	features *features.Registry
	rules    *rules.Store
	settings *Store
}

func setupSettingsStack(t *testing.T) wiredStores {
	t.Helper()
	ctx := context.Background()

	container, err := mysql.Run(ctx, "mysql:8.0",
		mysql.WithDatabase("heksher"),
		mysql.WithUsername("root"),
		mysql.WithPassword("testpass"),
	)
	require.NoError(t, err, "failed to start MySQL container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err, "failed to get connection string")
	require.NoError(t, schemabootstrap.Bootstrap(ctx, dsn, io.Discard))

	db, err := dbstore.Open(ctx, dsn)
	require.NoError(t, err, "failed to open dbstore")
	t.Cleanup(func() { _ = db.Close() })

	inUse := &settingsBackedInUse{}
	featuresRegistry := features.New(db, inUse)
	resolver := &settingsBackedResolver{}
	rulesStore := rules.New(db, featuresRegistry, resolver)
	settingsStore := New(db, featuresRegistry, rulesStore)
	inUse.s = settingsStore
	resolver.s = settingsStore

	return wiredStores{db: db, features: featuresRegistry, rules: rulesStore, settings: settingsStore}
}

func TestDeclareCreateThenUpgradeIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	stack := setupSettingsStack(t)
	ctx := context.Background()

	require.NoError(t, stack.features.Add(ctx, "account"))

	intType, err := typesys.Parse("int")
	require.NoError(t, err)
	def := json.RawMessage(`5`)

	res, err := stack.settings.Declare(ctx, DeclareRequest{
		Name:                 "timeout",
		ConfigurableFeatures: []string{"account"},
		Type:                 intType,
		DefaultValue:         &def,
		VersionMajor:         1,
		VersionMinor:         0,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, res.Outcome)
	require.Equal(t, Version{Major: 1, Minor: 0}, res.LatestVersion)

	floatType, err := typesys.Parse("float")
	require.NoError(t, err)
	res, err = stack.settings.Declare(ctx, DeclareRequest{
		Name:                 "timeout",
		ConfigurableFeatures: []string{"account"},
		Type:                 floatType,
		DefaultValue:         &def,
		VersionMajor:         1,
		VersionMinor:         1,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeUpgraded, res.Outcome)
	require.Equal(t, Version{Major: 1, Minor: 1}, res.LatestVersion)

	got, err := stack.settings.Get(ctx, "timeout")
	require.NoError(t, err)
	require.True(t, got.Type.Equal(floatType))
}

func TestDeleteSettingCascadesRulesIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	stack := setupSettingsStack(t)
	ctx := context.Background()

	require.NoError(t, stack.features.Add(ctx, "account"))

	intType, err := typesys.Parse("int")
	require.NoError(t, err)
	def := json.RawMessage(`5`)
	_, err = stack.settings.Declare(ctx, DeclareRequest{
		Name:                 "timeout",
		ConfigurableFeatures: []string{"account"},
		Type:                 intType,
		DefaultValue:         &def,
		VersionMajor:         1,
		VersionMinor:         0,
	})
	require.NoError(t, err)

	id, err := stack.rules.Create(ctx, "timeout", map[string]string{"account": "jim"}, json.RawMessage(`7`), nil)
	require.NoError(t, err)

	require.NoError(t, stack.settings.Delete(ctx, "timeout"))

	_, err = stack.rules.Get(ctx, id)
	require.Error(t, err)
}

func TestFeatureDeleteRejectedWhileConfigurableIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	stack := setupSettingsStack(t)
	ctx := context.Background()

	require.NoError(t, stack.features.Add(ctx, "account"))

	intType, err := typesys.Parse("int")
	require.NoError(t, err)
	def := json.RawMessage(`5`)
	_, err = stack.settings.Declare(ctx, DeclareRequest{
		Name:                 "timeout",
		ConfigurableFeatures: []string{"account"},
		Type:                 intType,
		DefaultValue:         &def,
		VersionMajor:         1,
		VersionMinor:         0,
	})
	require.NoError(t, err)

	err = stack.features.Delete(ctx, "account")
	require.Error(t, err)
}
