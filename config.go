package tsdb

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tsdb-io/tsdb/container"
)

// Config collects the store's tuning knobs. The zero value normalizes to the
// defaults; CLI tools load it from a YAML file.
type Config struct {
	// IndexStep is the target spacing between sparse index points.
	IndexStep uint64 `yaml:"index_step"`

	// SplitIndexGT is the series size above which the index is materialised.
	SplitIndexGT uint64 `yaml:"split_index_gt"`

	// Container tunes the underlying container file.
	Container ContainerConfig `yaml:"container"`

	// Backup configures snapshot backups of the container file.
	Backup BackupConfig `yaml:"backup"`
}

// ContainerConfig mirrors the container's connection tuning.
type ContainerConfig struct {
	CacheKB     int    `yaml:"cache_kb"`
	JournalMode string `yaml:"journal_mode"`
	Synchronous string `yaml:"synchronous"`
	BusyTimeout int    `yaml:"busy_timeout_ms"`
	Passphrase  string `yaml:"passphrase"`
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.normalize()
	return cfg
}

func (c *Config) normalize() {
	if c.IndexStep == 0 {
		c.IndexStep = DefaultIndexStep
	}
	if c.SplitIndexGT == 0 {
		c.SplitIndexGT = DefaultSplitIndexGT
	}
	if c.Backup.RetentionCount <= 0 {
		c.Backup.RetentionCount = 10
	}
}

// ContainerConfig returns the container-level configuration with defaults
// applied.
func (c Config) ContainerConfig() container.Config {
	cc := container.DefaultConfig()
	if c.Container.CacheKB > 0 {
		cc.CacheKB = c.Container.CacheKB
	}
	if c.Container.JournalMode != "" {
		cc.JournalMode = c.Container.JournalMode
	}
	if c.Container.Synchronous != "" {
		cc.Synchronous = c.Container.Synchronous
	}
	if c.Container.BusyTimeout > 0 {
		cc.BusyTimeout = c.Container.BusyTimeout
	}
	cc.Passphrase = c.Container.Passphrase
	return cc
}

// Apply sets the per-series knobs on a series. It must run before the first
// append.
func (c Config) Apply(s *Timeseries) {
	s.SetIndexStep(c.IndexStep)
	s.SetSplitIndexGT(c.SplitIndexGT)
}

// LoadConfig reads a YAML configuration file and applies defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}
