// Package config loads the server's runtime configuration from YAML.
// An empty path yields the built-in defaults; missing fields in a
// loaded file fall back to the same defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"riftsync.gg/internal/payload"
	"riftsync.gg/internal/replication"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`

	TickIntervalMs    int `yaml:"tick_interval_ms"`
	AutoSaveIntervalS int `yaml:"auto_save_interval_s"`
	UpdateThresholdMs int `yaml:"update_threshold_ms"`

	// PositionChangeThreshold is in world length units.
	PositionChangeThreshold float64 `yaml:"position_change_threshold"`

	// Normalizer knobs.
	PositionPrecision float64 `yaml:"position_precision"`
	VelocityEpsilon   float64 `yaml:"velocity_epsilon"`

	SQLitePath string        `yaml:"sqlite_path"`
	Journal    JournalConfig `yaml:"journal"`
}

type JournalConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Dir            string `yaml:"dir"`
	MaxLinesPerSeg int    `yaml:"max_lines_per_seg"`
}

func Defaults() Config {
	var c Config
	c.applyDefaults()
	return c
}

// Load reads the YAML file at path. An empty path returns Defaults().
func Load(path string) (Config, error) {
	var c Config
	if strings.TrimSpace(path) == "" {
		c.applyDefaults()
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("config: %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8777"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.TickIntervalMs <= 0 {
		c.TickIntervalMs = 50
	}
	if c.AutoSaveIntervalS <= 0 {
		c.AutoSaveIntervalS = 60
	}
	if c.UpdateThresholdMs <= 0 {
		c.UpdateThresholdMs = 100
	}
	if c.PositionChangeThreshold <= 0 {
		c.PositionChangeThreshold = 0.5
	}
	if c.PositionPrecision <= 0 {
		c.PositionPrecision = payload.DefaultPositionPrecision
	}
	if c.VelocityEpsilon <= 0 {
		c.VelocityEpsilon = payload.DefaultVelocityEpsilon
	}
	if c.SQLitePath == "" {
		c.SQLitePath = filepath.Join(c.DataDir, "riftsync.db")
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = filepath.Join(c.DataDir, "journal")
	}
	if c.Journal.MaxLinesPerSeg <= 0 {
		c.Journal.MaxLinesPerSeg = 100_000
	}
}

func (c Config) Validate() error {
	if c.TickIntervalMs > c.UpdateThresholdMs {
		return fmt.Errorf("tick_interval_ms (%d) must not exceed update_threshold_ms (%d)", c.TickIntervalMs, c.UpdateThresholdMs)
	}
	if c.PositionPrecision >= 1 {
		return fmt.Errorf("position_precision %v too coarse, must be < 1", c.PositionPrecision)
	}
	return nil
}

// Replication maps the file-level knobs onto the coordinator's config.
func (c Config) Replication() replication.Config {
	return replication.Config{
		TickInterval:            time.Duration(c.TickIntervalMs) * time.Millisecond,
		AutoSaveInterval:        time.Duration(c.AutoSaveIntervalS) * time.Second,
		UpdateThreshold:         time.Duration(c.UpdateThresholdMs) * time.Millisecond,
		PositionChangeThreshold: c.PositionChangeThreshold,
	}
}

func (c Config) Normalizer() payload.Normalizer {
	return payload.Normalizer{
		PositionPrecision: c.PositionPrecision,
		VelocityEpsilon:   c.VelocityEpsilon,
	}
}
