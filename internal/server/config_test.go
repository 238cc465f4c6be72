package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elskow/ditzler/internal/config"
)

const testConfigFile = `
[server]
host = "0.0.0.0"
port = "9000"

[server.testing]
host = "127.0.0.1"
port = "9100"

[database]
driver = "sqlite"
path = "test.db"

[auth]
jwt_secret = "file-secret"

[auth.lockout]
threshold = 3
window = "5m"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o600))
	return dir
}

func TestLoadConfigFrom(t *testing.T) {
	t.Setenv("APP_ENV", EnvDevelopment)
	dir := writeConfig(t, testConfigFile)

	cfg, err := LoadConfigFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, config.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "file-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 3, cfg.Auth.Lockout.Threshold)
	assert.Equal(t, 5*time.Minute, cfg.Auth.Lockout.Window)

	// Defaults fill what the file leaves out.
	assert.True(t, cfg.Auth.Lockout.Enabled)
	assert.Equal(t, "auth_token", cfg.Auth.Cookie.Name)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, time.Hour, cfg.Reset.TokenTTL)
	assert.True(t, cfg.Anomaly.FailOpen)
	assert.Equal(t, 30*24*time.Hour, cfg.Dashboard.OverdueAfter)
}

func TestLoadConfigFrom_EnvironmentTable(t *testing.T) {
	t.Setenv("APP_ENV", EnvTesting)
	dir := writeConfig(t, testConfigFile)

	cfg, err := LoadConfigFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "9100", cfg.Server.Port)
}

func TestLoadConfigFrom_EnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", EnvDevelopment)
	t.Setenv("DITZLER_AUTH_JWT_SECRET", "env-secret")
	t.Setenv("DITZLER_ANOMALY_FAIL_OPEN", "false")
	t.Setenv("DITZLER_ANOMALY_ENDPOINT", "http://anomaly:8000/check")
	t.Setenv("DITZLER_REDIS_ENABLED", "true")
	dir := writeConfig(t, testConfigFile)

	cfg, err := LoadConfigFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.False(t, cfg.Anomaly.FailOpen)
	assert.Equal(t, "http://anomaly:8000/check", cfg.Anomaly.Endpoint)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadConfigFrom_NoFile(t *testing.T) {
	t.Setenv("APP_ENV", EnvDevelopment)
	t.Setenv("DITZLER_AUTH_JWT_SECRET", "env-secret")

	cfg, err := LoadConfigFrom(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, config.DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoadConfigFrom_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		content string
	}{
		{
			name:    "missing secret",
			env:     EnvDevelopment,
			content: "[database]\ndriver = \"sqlite\"\n",
		},
		{
			name:    "short secret in production",
			env:     EnvProduction,
			content: "[auth]\njwt_secret = \"short\"\n",
		},
		{
			name:    "unknown driver",
			env:     EnvDevelopment,
			content: "[auth]\njwt_secret = \"s\"\n[database]\ndriver = \"oracle\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("APP_ENV", tt.env)
			_, err := LoadConfigFrom(writeConfig(t, tt.content))
			require.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestLoadConfigFrom_Malformed(t *testing.T) {
	t.Setenv("APP_ENV", EnvDevelopment)
	_, err := LoadConfigFrom(writeConfig(t, "[server\nport = "))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	for _, env := range []string{EnvDevelopment, EnvProduction, EnvTesting} {
		t.Run(env, func(t *testing.T) {
			logger, err := NewLogger(env)
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}
