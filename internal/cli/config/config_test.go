package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/objgraph/internal/auth"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldWd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "localhost:3000", cfg.Server.Address())
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 4, cfg.Serialization.Parallelism)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "objgraph:commits", cfg.Redis.Channel)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	content := `
server:
  port: 8080
  host: 0.0.0.0
  api_prefix: /api
  shutdown_timeout: 5s
database:
  driver: sqlite3
  url: file:test.db
auth:
  jwt_secret: shh
  token_ttl: 1h
  users:
    - name: alice
      password_hash: $2a$10$abcdefghijklmnopqrstuv
      roles: [admin]
redis:
  addr: localhost:6379
serialization:
  parallelism: 8
schema:
  file: schema.yaml
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "objgraph.yaml"), []byte(content), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, "/api", cfg.Server.APIPrefix)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	require.Len(t, cfg.Auth.Users, 1)
	assert.Equal(t, "alice", cfg.Auth.Users[0].Name)
	assert.Equal(t, []string{"admin"}, cfg.Auth.Users[0].Roles)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 8, cfg.Serialization.Parallelism)
	assert.Equal(t, "schema.yaml", cfg.Schema.File)
}

func TestLoadEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("OBJGRAPH_SERVER_PORT", "9090")
	t.Setenv("OBJGRAPH_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadExplicitPathMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:        ServerConfig{Port: 3000},
			Database:      DatabaseConfig{Driver: DriverMemory},
			Auth:          AuthConfig{TokenTTL: time.Hour},
			Serialization: SerializationConfig{Parallelism: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"valid", func(c *Config) {}, ""},
		{"prefix without slash", func(c *Config) { c.Server.APIPrefix = "api" }, "must start with '/'"},
		{"prefix trailing slash", func(c *Config) { c.Server.APIPrefix = "/api/" }, "must not end with '/'"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "out of range"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"sql without url", func(c *Config) { c.Database.Driver = "pgx" }, "database.url"},
		{"zero parallelism", func(c *Config) { c.Serialization.Parallelism = 0 }, "parallelism"},
		{"zero ttl", func(c *Config) { c.Auth.TokenTTL = 0 }, "token_ttl"},
		{"user without hash", func(c *Config) { c.Auth.Users = []auth.User{{Name: "x"}} }, "auth.users[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
