package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "0.0.0.0:50052", cfg.ListenAddress)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, int64(100*1024*1024), cfg.MaxRequestBytes)
	assert.False(t, cfg.SkipSnapshotLoad)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("VEXDB_LISTEN_ADDRESS", "127.0.0.1:6000")
	t.Setenv("VEXDB_DATA_DIR", "/tmp/vexdb-test")
	t.Setenv("VEXDB_LOG_LEVEL", "debug")
	t.Setenv("VEXDB_SKIP_SNAPSHOT_LOAD", "true")
	t.Setenv("VEXDB_STRICT_SNAPSHOT_LOAD", "1")
	t.Setenv("VEXDB_MAX_REQUEST_BYTES", "1048576")
	t.Setenv("VEXDB_ENABLE_CORS", "false")

	cfg := Default()
	cfg.LoadFromEnv()

	assert.Equal(t, "127.0.0.1:6000", cfg.ListenAddress)
	assert.Equal(t, "/tmp/vexdb-test", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.SkipSnapshotLoad)
	assert.True(t, cfg.StrictSnapshotLoad)
	assert.Equal(t, int64(1048576), cfg.MaxRequestBytes)
	assert.False(t, cfg.EnableCORS)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("VEXDB_SKIP_SNAPSHOT_LOAD", "banana")
	t.Setenv("VEXDB_MAX_REQUEST_BYTES", "-5")

	cfg := Default()
	cfg.LoadFromEnv()

	assert.False(t, cfg.SkipSnapshotLoad, "unparseable bool keeps the default")
	assert.Equal(t, int64(100*1024*1024), cfg.MaxRequestBytes, "non-positive size keeps the default")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vexdb.yaml")
	content := `listen_address: 0.0.0.0:7000
data_dir: /var/lib/vexdb
log_level: warn
strict_snapshot_load: true
max_request_bytes: 2097152
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, "0.0.0.0:7000", cfg.ListenAddress)
	assert.Equal(t, "/var/lib/vexdb", cfg.DataDir)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.StrictSnapshotLoad)
	assert.Equal(t, int64(2097152), cfg.MaxRequestBytes)

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("VEXDB_LOG_LEVEL", "error")
		cfg.LoadFromEnv()
		assert.Equal(t, "error", cfg.LogLevel)
	})

	t.Run("missing file", func(t *testing.T) {
		fresh := Default()
		assert.Error(t, fresh.LoadFile(filepath.Join(dir, "nope.yaml")))
	})

	t.Run("malformed yaml", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("listen_address: [oops"), 0o644))
		fresh := Default()
		assert.Error(t, fresh.LoadFile(bad))
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen address", func(c *Config) { c.ListenAddress = "" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"non-positive request size", func(c *Config) { c.MaxRequestBytes = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
