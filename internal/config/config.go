package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Config holds application configuration.
type Config struct {
	// TelemetryRoot is the folder the export tool writes into. It is
	// scanned recursively and never written to. Empty disables the
	// ingestion loop.
	TelemetryRoot string `json:"telemetry_root,omitempty"`

	// CacheDir is the exclusively-owned directory source files are
	// mirrored into before parsing. Defaults to baseDir/cache.
	CacheDir string `json:"cache_dir,omitempty"`

	// UDPEnabled controls the live telemetry listener. Unset means enabled.
	UDPEnabled *bool `json:"udp_enabled,omitempty"`

	// UDPPort is the listen port for simulator datagrams.
	UDPPort int `json:"udp_port,omitempty"`

	// ScanIntervalMS is the folder polling interval in milliseconds.
	ScanIntervalMS int `json:"scan_interval_ms,omitempty"`

	// CacheKeepVersions is how many content versions per source path are
	// retained after successful persistence. Older copies are pruned.
	CacheKeepVersions int `json:"cache_keep_versions,omitempty"`

	// IngestWorkers is the number of goroutines draining change events
	// through copy/parse/persist.
	IngestWorkers int `json:"ingest_workers,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default. Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		UDPPort:           20777,
		ScanIntervalMS:    3000,
		CacheKeepVersions: 1,
		IngestWorkers:     2,
	}
}

// ScanInterval returns the polling interval as a duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMS) * time.Millisecond
}

// UDPListenerEnabled reports whether the live listener should run.
// Absent udp_enabled means enabled.
func (c *Config) UDPListenerEnabled() bool {
	return c.UDPEnabled == nil || *c.UDPEnabled
}

// Load loads configuration from baseDir/config.json and fills defaults,
// including CacheDir under baseDir when unset. Returns defaults if the
// file doesn't exist. The baseDir parameter allows tests to use
// t.TempDir() instead of ~/.pitwall.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}

	cfg = Merge(DefaultConfig(), cfg)
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(baseDir, "cache")
	}
	return cfg, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to baseDir/config.json.
func Save(baseDir string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(baseDir, "config.json"), data, 0600)
}

// Merge combines base and overlay configs.
// Overlay values take precedence for non-zero scalars.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.TelemetryRoot = overlay.TelemetryRoot
	if result.TelemetryRoot == "" {
		result.TelemetryRoot = base.TelemetryRoot
	}

	result.CacheDir = overlay.CacheDir
	if result.CacheDir == "" {
		result.CacheDir = base.CacheDir
	}

	result.UDPPort = overlay.UDPPort
	if result.UDPPort == 0 {
		result.UDPPort = base.UDPPort
	}

	result.ScanIntervalMS = overlay.ScanIntervalMS
	if result.ScanIntervalMS == 0 {
		result.ScanIntervalMS = base.ScanIntervalMS
	}

	result.CacheKeepVersions = overlay.CacheKeepVersions
	if result.CacheKeepVersions == 0 {
		result.CacheKeepVersions = base.CacheKeepVersions
	}

	result.IngestWorkers = overlay.IngestWorkers
	if result.IngestWorkers == 0 {
		result.IngestWorkers = base.IngestWorkers
	}

	result.DBMaxOpenConns = overlay.DBMaxOpenConns
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}

	result.DBMaxIdleConns = overlay.DBMaxIdleConns
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	// Nullable booleans: overlay wins when set
	result.UDPEnabled = overlay.UDPEnabled
	if result.UDPEnabled == nil {
		result.UDPEnabled = base.UDPEnabled
	}

	return result
}
