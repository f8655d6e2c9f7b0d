package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.True(t, cfg.EnableScenarios)
	assert.False(t, cfg.AuthEnabled())
	assert.Len(t, cfg.CORSOrigins, 2)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("BILLING_PORT", "9090")
	t.Setenv("BILLING_DB_DRIVER", "postgres")
	t.Setenv("BILLING_JWT_SECRET", "s3cret")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.True(t, cfg.AuthEnabled())
	assert.False(t, cfg.EnableScenarios)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ENV", "test")
	t.Setenv("BILLING_LOG_LEVEL", "")
	os.Unsetenv("BILLING_LOG_LEVEL")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.test"), []byte("BILLING_LOG_LEVEL=debug\n"), 0o600))

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate_RejectsUnknownDriver(t *testing.T) {
	cfg := Config{Port: 8080, DBDriver: "oracle"}

	assert.Error(t, cfg.Validate())
}
