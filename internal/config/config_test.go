package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Execution.MaxInstructionsPerBlock != 256 {
		t.Errorf("Expected MaxInstructionsPerBlock=256, got %d", cfg.Execution.MaxInstructionsPerBlock)
	}
	if cfg.Execution.LivenessLookahead != 200 {
		t.Errorf("Expected LivenessLookahead=200, got %d", cfg.Execution.LivenessLookahead)
	}
	if cfg.Execution.StatsEnabled {
		t.Error("Expected StatsEnabled=false")
	}

	if cfg.Cache.Capacity != 1024 {
		t.Errorf("Expected Capacity=1024, got %d", cfg.Cache.Capacity)
	}
	if cfg.Cache.CacheBuckets != 65536 {
		t.Errorf("Expected CacheBuckets=65536, got %d", cfg.Cache.CacheBuckets)
	}
	if !cfg.Cache.SoftFlush {
		t.Error("Expected SoftFlush=true")
	}
	if cfg.Cache.SoftFlushThreshold != 768 {
		t.Errorf("Expected SoftFlushThreshold=768, got %d", cfg.Cache.SoftFlushThreshold)
	}

	if cfg.Host.BigEndianHost {
		t.Error("Expected BigEndianHost=false")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := DefaultConfig()
	if *cfg != *want {
		t.Errorf("Load on a missing file = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadOverlaysPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	const body = `
[execution]
max_instructions_per_block = 64

[cache]
capacity = 16
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Execution.MaxInstructionsPerBlock != 64 {
		t.Errorf("MaxInstructionsPerBlock = %d, want 64", cfg.Execution.MaxInstructionsPerBlock)
	}
	if cfg.Cache.Capacity != 16 {
		t.Errorf("Capacity = %d, want 16", cfg.Cache.Capacity)
	}
	// Fields absent from the file keep their DefaultConfig values.
	if cfg.Execution.LivenessLookahead != 200 {
		t.Errorf("LivenessLookahead = %d, want untouched default 200", cfg.Execution.LivenessLookahead)
	}
	if cfg.Cache.CacheBuckets != 65536 {
		t.Errorf("CacheBuckets = %d, want untouched default 65536", cfg.Cache.CacheBuckets)
	}
}

func TestLoadRejectsMalformedToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("this is not [valid toml"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error decoding malformed TOML")
	}
}
