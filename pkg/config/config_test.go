package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg != want {
		t.Fatalf("got %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hummock.yaml")
	contents := "sstable_size: 1048576\ncompaction_concurrency: 8\nchecksum_algorithm: crc32c\ncompression_algorithm: lz4\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SSTableSize != 1048576 {
		t.Fatalf("SSTableSize = %d, want 1048576", cfg.SSTableSize)
	}
	if cfg.CompactionConcurrency != 8 {
		t.Fatalf("CompactionConcurrency = %d, want 8", cfg.CompactionConcurrency)
	}
	if cfg.ChecksumAlgorithm != ChecksumCRC32C {
		t.Fatalf("ChecksumAlgorithm = %q, want crc32c", cfg.ChecksumAlgorithm)
	}
	if cfg.CompressionAlgorithm != CompressionLZ4 {
		t.Fatalf("CompressionAlgorithm = %q, want lz4", cfg.CompressionAlgorithm)
	}
	// Untouched keys still carry defaults.
	if cfg.BlockSize != Default().BlockSize {
		t.Fatalf("BlockSize should remain at its default when unset in the file")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hummock.yaml")
	if err := os.WriteFile(path, []byte("compaction_concurrency: 2\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("HUMMOCK_COMPACTION_CONCURRENCY", "16")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CompactionConcurrency != 16 {
		t.Fatalf("CompactionConcurrency = %d, want 16 (env override)", cfg.CompactionConcurrency)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		fn   func(*Config)
	}{
		{"sstable_size", func(c *Config) { c.SSTableSize = 0 }},
		{"block_size", func(c *Config) { c.BlockSize = -1 }},
		{"bloom_false_positive", func(c *Config) { c.BloomFalsePositive = 1.5 }},
		{"checksum_algorithm", func(c *Config) { c.ChecksumAlgorithm = "sha256" }},
		{"compression_algorithm", func(c *Config) { c.CompressionAlgorithm = "zstd" }},
		{"restart_interval", func(c *Config) { c.RestartInterval = 0 }},
		{"compaction_concurrency", func(c *Config) { c.CompactionConcurrency = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.fn(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate should reject an invalid %s", tc.name)
			}
		})
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if cfg.VacuumInterval != 30*time.Second {
		t.Fatalf("VacuumInterval = %v, want 30s", cfg.VacuumInterval)
	}
	if cfg.SSTRetention != 3*24*time.Hour {
		t.Fatalf("SSTRetention = %v, want 72h", cfg.SSTRetention)
	}
}
