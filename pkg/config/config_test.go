package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pnocera/accounts/pkg/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:3000", cfg.Server.Addr())
	assert.Equal(t, time.Hour, cfg.API.Auth.Token.Expiration)
	assert.Equal(t, 30*time.Minute, cfg.API.RecoveryTTL)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.AuthBypassed())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad env", func(c *Config) { c.Server.Env = "staging" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"short token secret", func(c *Config) { c.API.Auth.Token.Secret = "short" }},
		{"bad api uri", func(c *Config) { c.API.URI = "not a uri" }},
		{"low password cost", func(c *Config) { c.API.Auth.PasswordCost = 2 }},
		{"nats without url", func(c *Config) { c.Notifications.Backend = "nats"; c.Notifications.NATSURL = "" }},
		{"redis without addr", func(c *Config) { c.Revocation.Backend = "redis"; c.Revocation.RedisAddr = "" }},
		{"zero recovery ttl", func(c *Config) { c.API.RecoveryTTL = 0 }},
		{"bad trusted proxy", func(c *Config) { c.Server.TrustedProxies = []string{"not-an-ip"} }},
		{"production with default secrets", func(c *Config) { c.Server.Env = EnvProduction }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConfigInvalid))
		})
	}
}

func TestConfig_AuthBypassed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.Auth.Disabled = true
	assert.True(t, cfg.AuthBypassed())

	cfg.Server.Env = EnvTest
	assert.False(t, cfg.AuthBypassed())
}

func TestManager_LoadDefaults(t *testing.T) {
	cfg, err := NewManager("").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestManager_LoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	content := `
server:
  port: 8081
  cors_origins:
    - https://app.example.com
api:
  name: Example
  auth:
    token:
      expiration: 15m
database:
  path: /tmp/example.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	m := NewManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "Example", cfg.API.Name)
	assert.Equal(t, 15*time.Minute, cfg.API.Auth.Token.Expiration)
	assert.Equal(t, "/tmp/example.db", cfg.Database.Path)
	assert.Equal(t, "accounts-api", cfg.API.Alias)
	assert.Same(t, cfg, m.Current())
}

func TestManager_EnvOverrides(t *testing.T) {
	t.Setenv("ACCOUNTS_SERVER_PORT", "9090")
	t.Setenv("ACCOUNTS_API_AUTH_TOKEN_EXPIRATION", "2h")
	t.Setenv("ACCOUNTS_LOG_LEVEL", "debug")

	cfg, err := NewManager("").Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Hour, cfg.API.Auth.Token.Expiration)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestManager_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: oracle\n"), 0600))

	_, err := NewManager(path).Load()
	assert.Error(t, err)

	_, err = NewManager(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	assert.Error(t, err)
}

func TestConfig_WriteYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "accounts.yaml")

	original := DefaultConfig()
	original.Server.Port = 4000
	original.API.RecoveryTTL = 45 * time.Minute
	require.NoError(t, original.WriteYAML(path))

	loaded, err := NewManager(path).Load()
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}
