package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefault tests the built-in configuration
func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "0.0.0.0:8000", cfg.ListenAddr())
	assert.Equal(t, "coordinator.db", cfg.DBPath)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
	assert.Equal(t, 15*time.Second, cfg.StaleAfter())
	assert.Equal(t, 60*time.Second, cfg.OfflineAfter())
	assert.Equal(t, 30*time.Second, cfg.LeaseDuration())
	assert.Equal(t, 5*time.Second, cfg.StaleScanInterval())
	assert.Equal(t, 3*time.Second, cfg.RecoveryScanInterval())
	assert.NoError(t, cfg.Validate())
}

// TestFromEnv tests environment variable overrides
func TestFromEnv(t *testing.T) {
	t.Setenv("COORDINATOR_HOST", "127.0.0.1")
	t.Setenv("COORDINATOR_PORT", "9000")
	t.Setenv("COORDINATOR_CORS_ORIGINS", "http://a.local, http://b.local")
	t.Setenv("EDGE_MESH_SHARED_SECRET", "hunter2")
	t.Setenv("TASK_LEASE_SECONDS", "45")

	cfg := Default()
	require.NoError(t, cfg.FromEnv())

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr())
	assert.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.CORSOrigins)
	assert.Equal(t, "hunter2", cfg.SharedSecret)
	assert.Equal(t, 45*time.Second, cfg.LeaseDuration())
}

// TestFromEnvInvalidInt tests rejection of malformed numeric variables
func TestFromEnvInvalidInt(t *testing.T) {
	t.Setenv("COORDINATOR_PORT", "eight thousand")
	cfg := Default()
	assert.Error(t, cfg.FromEnv())
}

// TestLoadYAML tests the YAML overlay
func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coordinator.yaml")
	data := []byte("port: 8100\ndb_path: /tmp/mesh.db\nlog_json: true\nnode_stale_seconds: 20\nheartbeat_ttl_seconds: 90\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8100, cfg.Port)
	assert.Equal(t, "/tmp/mesh.db", cfg.DBPath)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, 20*time.Second, cfg.StaleAfter())
	// untouched fields keep defaults
	assert.Equal(t, "0.0.0.0", cfg.Host)
}

// TestLoadEnvWinsOverYAML tests precedence of env over file values
func TestLoadEnvWinsOverYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coordinator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 8100\n"), 0644))

	t.Setenv("COORDINATOR_PORT", "8200")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8200, cfg.Port)
}

// TestValidate tests rejection of unusable configurations
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "port out of range", mutate: func(c *Config) { c.Port = 0 }},
		{name: "empty db path", mutate: func(c *Config) { c.DBPath = "" }},
		{name: "zero lease", mutate: func(c *Config) { c.TaskLeaseSeconds = 0 }},
		{name: "negative scan", mutate: func(c *Config) { c.StaleScanSeconds = -1 }},
		{name: "ttl below stale threshold", mutate: func(c *Config) { c.HeartbeatTTLSeconds = 10 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// TestLoadMissingFile tests the error for an unreadable config path
func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/coordinator.yaml")
	assert.Error(t, err)
}
