package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig([]string{"--db-dsn", "postgres://localhost/approvals"})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "postgres", cfg.DBType)
	assert.Equal(t, "roles", cfg.AuthzMode)
	assert.Equal(t, "header", cfg.IdentityMode)
	assert.Equal(t, 30*time.Second, cfg.AuthzCacheTTL)
	assert.True(t, cfg.WatchDirectory)
	assert.Equal(t, "sub", cfg.JWTUserClaim)
	assert.False(t, cfg.JWTTrustHeaders)
}

func TestLoadConfig_RequiresDSN(t *testing.T) {
	t.Setenv("APPROVALS_DB_DSN", "")
	t.Setenv("DATABASE_DSN", "")
	_, err := loadConfig(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSN is required")
}

func TestLoadConfig_EnvOverridesDefault(t *testing.T) {
	t.Setenv("APPROVALS_DB_TYPE", "mysql")
	t.Setenv("APPROVALS_DB_DSN", "user:pw@tcp(db:3306)/approvals")
	t.Setenv("APPROVALS_AUTHZ_CACHE_TTL", "5s")

	cfg, err := loadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.DBType)
	assert.Equal(t, "user:pw@tcp(db:3306)/approvals", cfg.DBDSN)
	assert.Equal(t, 5*time.Second, cfg.AuthzCacheTTL)
}

func TestLoadConfig_LegacyDSNVariable(t *testing.T) {
	t.Setenv("DATABASE_DSN", "file::memory:")
	cfg, err := loadConfig([]string{"--db-type", "sqlite"})
	require.NoError(t, err)
	assert.Equal(t, "file::memory:", cfg.DBDSN)
}

func TestLoadConfig_FlagBeatsEnvAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":9000\"\nlog-format: json\ndb-dsn: from-file\n"), 0o600))
	t.Setenv("APPROVALS_LISTEN", ":9100")

	cfg, err := loadConfig([]string{"--config", path, "--listen", ":9200"})
	require.NoError(t, err)
	assert.Equal(t, ":9200", cfg.Listen)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "from-file", cfg.DBDSN)
}

func TestLoadConfig_UnknownIdentityMode(t *testing.T) {
	_, err := loadConfig([]string{"--db-dsn", "x", "--identity", "kerberos"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown identity mode")
}

func TestLoadConfig_MissingConfigFile(t *testing.T) {
	_, err := loadConfig([]string{"--db-dsn", "x", "--config", "/does/not/exist.yaml"})
	assert.Error(t, err)
}
