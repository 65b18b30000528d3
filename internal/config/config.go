// Package config loads the translator/cache sizing knobs from an optional
// TOML file, falling back to DefaultConfig when none is present — the same
// shape lookbusy1344-arm_emulator/config/config.go uses for its emulator.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config bundles every tunable internal/translator, internal/cache, and
// internal/dispatch accept as a parameter rather than a compile-time
// constant.
type Config struct {
	Execution struct {
		MaxInstructionsPerBlock int  `toml:"max_instructions_per_block"`
		LivenessLookahead       int  `toml:"liveness_lookahead"`
		StatsEnabled            bool `toml:"stats_enabled"`
	} `toml:"execution"`

	Cache struct {
		Capacity           int  `toml:"capacity"`
		CacheBuckets       int  `toml:"cache_buckets"`
		MaxTuBytes         int  `toml:"max_tu_bytes"`
		SoftFlush          bool `toml:"soft_flush"`
		SoftFlushThreshold int  `toml:"soft_flush_threshold"`
	} `toml:"cache"`

	Host struct {
		BigEndianHost bool `toml:"big_endian_host"`
	} `toml:"host"`
}

// DefaultConfig returns the configuration the engine runs with when no TOML
// file is supplied: translator.MaxInsns, translator.DefaultLookahead, and a
// 1024-entry cache sized for a seed scenario's working set.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Execution.MaxInstructionsPerBlock = 256
	cfg.Execution.LivenessLookahead = 200
	cfg.Execution.StatsEnabled = false

	cfg.Cache.Capacity = 1024
	cfg.Cache.CacheBuckets = 65536
	cfg.Cache.MaxTuBytes = 4096
	cfg.Cache.SoftFlush = true
	cfg.Cache.SoftFlushThreshold = 768

	cfg.Host.BigEndianHost = false

	return cfg
}

// Load reads and decodes the TOML file at path, overlaying it on top of
// DefaultConfig's values (BurntSushi/toml leaves fields absent from the file
// untouched, so defaulting first and decoding second gives partial config
// files their expected behavior). A missing file is not an error: it yields
// the defaults unchanged, matching LoadFrom's teacher-grounded shape.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}
