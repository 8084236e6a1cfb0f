// Package config handles VexDB configuration via environment variables and
// an optional YAML file.
//
// Configuration is resolved in three layers, lowest precedence first:
// defaults, the YAML config file (if one is passed to the CLI), and
// VEXDB_-prefixed environment variables. Command-line flags override all
// three.
//
// Example Usage:
//
//	cfg := config.Default()
//	if err := cfg.LoadFile("vexdb.yaml"); err != nil {
//		log.Fatal(err)
//	}
//	cfg.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables:
//   - VEXDB_LISTEN_ADDRESS=0.0.0.0:50052
//   - VEXDB_DATA_DIR=./data
//   - VEXDB_LOG_LEVEL=info          (debug|info|warn|error)
//   - VEXDB_SKIP_SNAPSHOT_LOAD=true (start empty, ignore snapshots)
//   - VEXDB_STRICT_SNAPSHOT_LOAD=true (fail startup on corrupt snapshots)
//   - VEXDB_MAX_REQUEST_BYTES=104857600
//   - VEXDB_ENABLE_CORS=true
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all VexDB settings.
type Config struct {
	// ListenAddress is the host:port the RPC server binds.
	ListenAddress string `yaml:"listen_address"`

	// DataDir is the persistence root: one snapshot per collection plus
	// collections.json.
	DataDir string `yaml:"data_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// SkipSnapshotLoad starts the server empty without reading snapshots.
	SkipSnapshotLoad bool `yaml:"skip_snapshot_load"`

	// StrictSnapshotLoad turns a corrupt snapshot into a startup failure
	// instead of a skipped collection.
	StrictSnapshotLoad bool `yaml:"strict_snapshot_load"`

	// MaxRequestBytes caps request payload sizes. Batch inserts can be
	// large; keep this generous.
	MaxRequestBytes int64 `yaml:"max_request_bytes"`

	// EnableCORS allows cross-origin browser requests.
	EnableCORS bool `yaml:"enable_cors"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		ListenAddress:   "0.0.0.0:50052",
		DataDir:         "./data",
		LogLevel:        "info",
		MaxRequestBytes: 100 * 1024 * 1024,
		EnableCORS:      true,
	}
}

// LoadFile merges settings from a YAML file over the current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// LoadFromEnv merges VEXDB_* environment variables over the current values.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("VEXDB_LISTEN_ADDRESS"); v != "" {
		c.ListenAddress = v
	}
	if v := os.Getenv("VEXDB_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("VEXDB_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("VEXDB_SKIP_SNAPSHOT_LOAD"); v != "" {
		c.SkipSnapshotLoad = parseBool(v, c.SkipSnapshotLoad)
	}
	if v := os.Getenv("VEXDB_STRICT_SNAPSHOT_LOAD"); v != "" {
		c.StrictSnapshotLoad = parseBool(v, c.StrictSnapshotLoad)
	}
	if v := os.Getenv("VEXDB_MAX_REQUEST_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.MaxRequestBytes = n
		}
	}
	if v := os.Getenv("VEXDB_ENABLE_CORS"); v != "" {
		c.EnableCORS = parseBool(v, c.EnableCORS)
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen address required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.MaxRequestBytes <= 0 {
		return fmt.Errorf("max request bytes must be positive, got %d", c.MaxRequestBytes)
	}
	return nil
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
