package features

import (
	"context"
	"database/sql"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"heksher/internal/dbstore"
	"heksher/internal/schemabootstrap"
)

type noopInUse struct{}

func (noopInUse) FeatureInUse(context.Context, *sql.Tx, string) (bool, error) { return false, nil }

func setupFeaturesDB(t *testing.T) *dbstore.DB {
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
	return db
}

func TestRegistryAddListDeleteIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := setupFeaturesDB(t)
	r := New(db, noopInUse{})
	ctx := context.Background()

	require.NoError(t, r.Add(ctx, "account"))
	require.NoError(t, r.Add(ctx, "user"))
	require.NoError(t, r.Add(ctx, "theme"))

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, Feature{Name: "account", Index: 0}, list[0])
	require.Equal(t, Feature{Name: "theme", Index: 2}, list[2])

	require.NoError(t, r.Delete(ctx, "user"))
	list, err = r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, Feature{Name: "theme", Index: 1}, list[1])
}

func TestRegistryMoveIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := setupFeaturesDB(t)
	r := New(db, noopInUse{})
	ctx := context.Background()

	require.NoError(t, r.Add(ctx, "account"))
	require.NoError(t, r.Add(ctx, "user"))
	require.NoError(t, r.Add(ctx, "theme"))

	require.NoError(t, r.Move(ctx, "theme", Before, "user"))
	list, err := r.List(ctx)
	require.NoError(t, err)

	names := make([]string, len(list))
	for i, f := range list {
		names[i] = f.Name
	}
	require.Equal(t, []string{"account", "theme", "user"}, names)
}

func TestRegistryDeleteInUseIsRejectedIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := setupFeaturesDB(t)
	r := New(db, inUseAlways{})
	ctx := context.Background()

	require.NoError(t, r.Add(ctx, "account"))
	err := r.Delete(ctx, "account")
	require.Error(t, err)
}

type inUseAlways struct{}

func (inUseAlways) FeatureInUse(context.Context, *sql.Tx, string) (bool, error) { return true, nil }
