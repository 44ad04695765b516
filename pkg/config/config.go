// Package config loads Hummock's configuration: a YAML file plus
// HUMMOCK_-prefixed environment overrides, validated into Config.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// ChecksumAlgorithm selects the per-block checksum used by the SST
// codec.
type ChecksumAlgorithm string

const (
	ChecksumCRC32C   ChecksumAlgorithm = "crc32c"
	ChecksumXXHash64 ChecksumAlgorithm = "xxhash64"
)

// CompressionAlgorithm selects the per-block compression used by the
// SST codec.
type CompressionAlgorithm string

const (
	CompressionNone CompressionAlgorithm = "none"
	CompressionLZ4  CompressionAlgorithm = "lz4"
)

// Config is every tunable the storage engine's components accept,
// with the same defaults every caller can rely on when a key is
// absent from both the file and the environment.
type Config struct {
	SSTableSize          int64             `mapstructure:"sstable_size"`
	BlockSize             int64             `mapstructure:"block_size"`
	BloomFalsePositive   float64           `mapstructure:"bloom_false_positive"`
	ChecksumAlgorithm    ChecksumAlgorithm `mapstructure:"checksum_algorithm"`
	CompressionAlgorithm CompressionAlgorithm `mapstructure:"compression_algorithm"`
	RestartInterval       int               `mapstructure:"restart_interval"`
	BlockCacheCapacity    int               `mapstructure:"block_cache_capacity"`
	SharedBufferCapacity int64             `mapstructure:"shared_buffer_capacity"`
	CompactionConcurrency int               `mapstructure:"compaction_concurrency"`
	VacuumInterval        time.Duration     `mapstructure:"vacuum_interval"`
	SSTRetention          time.Duration     `mapstructure:"sst_retention"`

	// ObjectStoreRoot is the prefix every SST path is written under
	// ("<root>/<sst_id>.data"), required to construct the object-store
	// backends the rest of Config assumes exist.
	ObjectStoreRoot string `mapstructure:"object_store_root"`

	// GCBatchSize is how many deletes one full-GC pass groups into each
	// batch, matching the batched list/delete discipline vacuum.rs uses.
	GCBatchSize int `mapstructure:"gc_batch_size"`
}

// Default returns the documented defaults for every key.
func Default() Config {
	return Config{
		SSTableSize:           256 << 20,
		BlockSize:             64 << 10,
		BloomFalsePositive:    0.1,
		ChecksumAlgorithm:     ChecksumXXHash64,
		CompressionAlgorithm:  CompressionNone,
		RestartInterval:       16,
		BlockCacheCapacity:    65536,
		SharedBufferCapacity:  64 << 20,
		CompactionConcurrency: 4,
		VacuumInterval:        30 * time.Second,
		SSTRetention:          3 * 24 * time.Hour,
		ObjectStoreRoot:       "hummock",
		GCBatchSize:           1000,
	}
}

// Load reads configuration from path (a YAML file; empty skips
// reading a file entirely) layered under HUMMOCK_-prefixed
// environment overrides (e.g. HUMMOCK_SSTABLE_SIZE), both layered
// over Default().
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HUMMOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("sstable_size", def.SSTableSize)
	v.SetDefault("block_size", def.BlockSize)
	v.SetDefault("bloom_false_positive", def.BloomFalsePositive)
	v.SetDefault("checksum_algorithm", string(def.ChecksumAlgorithm))
	v.SetDefault("compression_algorithm", string(def.CompressionAlgorithm))
	v.SetDefault("restart_interval", def.RestartInterval)
	v.SetDefault("block_cache_capacity", def.BlockCacheCapacity)
	v.SetDefault("shared_buffer_capacity", def.SharedBufferCapacity)
	v.SetDefault("compaction_concurrency", def.CompactionConcurrency)
	v.SetDefault("vacuum_interval", def.VacuumInterval)
	v.SetDefault("sst_retention", def.SSTRetention)
	v.SetDefault("object_store_root", def.ObjectStoreRoot)
	v.SetDefault("gc_batch_size", def.GCBatchSize)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "config: read %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: unmarshal")
	}

	return cfg, cfg.Validate()
}

// Validate rejects out-of-range tunables before they reach the
// components that assume them well-formed.
func (c Config) Validate() error {
	if c.SSTableSize <= 0 {
		return errors.New("config: sstable_size must be positive")
	}
	if c.BlockSize <= 0 {
		return errors.New("config: block_size must be positive")
	}
	if c.BloomFalsePositive < 0 || c.BloomFalsePositive > 1 {
		return errors.New("config: bloom_false_positive must be in [0, 1]")
	}
	if c.ChecksumAlgorithm != ChecksumCRC32C && c.ChecksumAlgorithm != ChecksumXXHash64 {
		return errors.Newf("config: unknown checksum_algorithm %q", c.ChecksumAlgorithm)
	}
	if c.CompressionAlgorithm != CompressionNone && c.CompressionAlgorithm != CompressionLZ4 {
		return errors.Newf("config: unknown compression_algorithm %q", c.CompressionAlgorithm)
	}
	if c.RestartInterval <= 0 {
		return errors.New("config: restart_interval must be positive")
	}
	if c.CompactionConcurrency <= 0 {
		return errors.New("config: compaction_concurrency must be positive")
	}
	return nil
}
