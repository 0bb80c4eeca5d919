package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DevProfile(t *testing.T) {
	cfg, err := Load("dev", "")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "config/catalog.yaml", cfg.Filing.CatalogPath)
	assert.Equal(t, time.Hour, cfg.Filing.Lookahead())
	assert.Zero(t, cfg.Server.WriteTimeout)
	assert.NotEmpty(t, cfg.Filing.RemarksPolicy)
}

func TestLoad_DefaultsAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte("filing:\n  warning_lookahead: 30m\n"), 0o600))
	t.Setenv("APP_SERVER_PORT", "9090")
	t.Setenv("APP_AUTH_ISSUER", "registry")

	cfg, err := Load("test", path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "registry", cfg.Auth.Issuer)
	assert.Equal(t, 20, cfg.Server.RateLimitBurst)
	assert.Equal(t, []string{"email"}, cfg.Filing.Channels)
	assert.Equal(t, 30*time.Minute, cfg.Filing.Lookahead())
}

func TestLookahead_FallsBack(t *testing.T) {
	for _, raw := range []string{"", "soon", "-5m", "0s"} {
		c := FilingConfig{WarningLookahead: raw}
		assert.Equal(t, time.Hour, c.Lookahead(), raw)
	}
}

func TestGetDSN(t *testing.T) {
	assert.Equal(t, "file::memory:?cache=shared", (&DatabaseConfig{Driver: "sqlite"}).GetDSN())
	assert.Equal(t, "./x.db", (&DatabaseConfig{Driver: "sqlite", Path: "./x.db"}).GetDSN())
	assert.Contains(t, (&DatabaseConfig{Host: "db", Port: 5432, DBName: "efiling"}).GetDSN(), "host=db port=5432")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("test", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
