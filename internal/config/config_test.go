package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "server:\n  port: 9696\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Server, cfg.Server)
	assert.Equal(t, def.Health, cfg.Health)
	assert.Equal(t, def.Search, cfg.Search)
	assert.Equal(t, def.Scheduler, cfg.Scheduler)
	assert.Equal(t, "0.0.0.0:9696", cfg.Server.Address())
	assert.False(t, cfg.Server.TrustProxy, "forwarded headers are ignored by default")
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
server:
  port: 8000
  urlBase: /hub
search:
  maxPages: 2
  timeout: 10s
health:
  failureThreshold: 5
links:
  secret: from-file
`)
	t.Setenv("INDEXHUB_SERVER_PORT", "9000")
	t.Setenv("INDEXHUB_LINKS_SECRET", "from-env")
	t.Setenv("INDEXHUB_SERVER_TRUSTPROXY", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/hub", cfg.Server.URLBase)
	assert.True(t, cfg.Server.TrustProxy)
	assert.Equal(t, 2, cfg.Search.MaxPages)
	assert.Equal(t, 10*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 5, cfg.Health.FailureThreshold)
	assert.Equal(t, "from-env", cfg.Links.Secret)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "{}\n")
	envFile := writeFile(t, dir, "test.env", "INDEXHUB_DATABASE_PATH=/tmp/from-dotenv.db\n")
	t.Cleanup(func() { os.Unsetenv("INDEXHUB_DATABASE_PATH") })

	cfg, err := Load(path, envFile)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-dotenv.db", cfg.Database.Path)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"relative url base", "server:\n  urlBase: hub\n"},
		{"bad health window", "health:\n  initialBackoff: 1h\n  maxBackoff: 1m\n"},
		{"malformed yaml", "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tt.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
