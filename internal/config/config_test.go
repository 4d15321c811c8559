package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvOverlaysDefaults(t *testing.T) {
	t.Setenv("HEKSHER_DB_CONNECTION_STRING", "user:pass@tcp(localhost:3306)/heksher")
	t.Setenv("HEKSHER_STARTUP_CONTEXT_FEATURES", "account; user ;theme")
	t.Setenv("DOC_ONLY", "true")

	cfg, err := LoadEnv(Default())
	require.NoError(t, err)
	assert.Equal(t, "user:pass@tcp(localhost:3306)/heksher", cfg.DBConnectionString)
	assert.Equal(t, []string{"account", "user", "theme"}, cfg.StartupContextFeatures)
	assert.True(t, cfg.DocOnly)
	assert.Equal(t, ":8000", cfg.ListenAddr)
}

func TestValidateRequiresConnectionStringUnlessDocOnly(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())

	cfg.DocOnly = true
	assert.NoError(t, cfg.Validate())

	cfg.DocOnly = false
	cfg.DBConnectionString = "dsn"
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/heksher.toml"
	contents := `
listen_addr = ":9000"
request_timeout_seconds = 15
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadFile(Default(), path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 15, cfg.RequestTimeoutSeconds)
}
