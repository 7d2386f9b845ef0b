// Package config loads dbcore's engine configuration. Grounded on
// untoldecay/BeadsLog's viper-backed config loading: defaults set in
// code, overridable by a config file and DBCORE_-prefixed environment
// variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// FsyncMode controls when the WAL is forced to stable storage (spec §6:
// wal_fsync_mode ∈ {always, group, periodic}).
type FsyncMode string

const (
	FsyncAlways   FsyncMode = "always"
	FsyncGroup    FsyncMode = "group"
	FsyncPeriodic FsyncMode = "periodic"
)

// Config holds every recognized configuration key from spec §6.
type Config struct {
	DataDir string

	PageSize            int
	BufferPoolFrames    int
	BufferPoolLRURatio  float64
	WALSegmentSize      int64
	WALFsyncMode        FsyncMode
	CheckpointIntervalMS int

	DeadlockCheckIntervalMS int
	LockTimeoutMS           int

	StatementTimeoutMS int
	MaxParallelPerQuery int

	HistogramBins   int
	PlanCacheSize   int
	ResultCacheSize int
	JoinEnumThreshold int
}

// Defaults mirrors the teacher's DefaultConfig pattern (btree.DefaultConfig),
// generalized to the whole engine.
func Defaults(dataDir string) Config {
	return Config{
		DataDir:                 dataDir,
		PageSize:                8192,
		BufferPoolFrames:        50000,
		BufferPoolLRURatio:      0.7,
		WALSegmentSize:          64 * 1024 * 1024,
		WALFsyncMode:            FsyncGroup,
		CheckpointIntervalMS:    5000,
		DeadlockCheckIntervalMS: 1000,
		LockTimeoutMS:           10000,
		StatementTimeoutMS:      0, // unbounded
		MaxParallelPerQuery:     4,
		HistogramBins:           100,
		PlanCacheSize:           512,
		ResultCacheSize:         256,
		JoinEnumThreshold:       12,
	}
}

// Load reads configuration from file (if non-empty) and DBCORE_-prefixed
// environment variables, layered over Defaults(dataDir).
func Load(dataDir, file string) (Config, error) {
	d := Defaults(dataDir)

	v := viper.New()
	v.SetEnvPrefix("DBCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("page_size", d.PageSize)
	v.SetDefault("buffer_pool_frames", d.BufferPoolFrames)
	v.SetDefault("buffer_pool_lru_ratio", d.BufferPoolLRURatio)
	v.SetDefault("wal_segment_size", d.WALSegmentSize)
	v.SetDefault("wal_fsync_mode", string(d.WALFsyncMode))
	v.SetDefault("checkpoint_interval_ms", d.CheckpointIntervalMS)
	v.SetDefault("deadlock_check_interval_ms", d.DeadlockCheckIntervalMS)
	v.SetDefault("lock_timeout_ms", d.LockTimeoutMS)
	v.SetDefault("statement_timeout_ms", d.StatementTimeoutMS)
	v.SetDefault("max_parallel_per_query", d.MaxParallelPerQuery)
	v.SetDefault("histogram_bins", d.HistogramBins)
	v.SetDefault("plan_cache_size", d.PlanCacheSize)
	v.SetDefault("result_cache_size", d.ResultCacheSize)
	v.SetDefault("join_enum_threshold", d.JoinEnumThreshold)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", file, err)
		}
	}

	cfg := Config{
		DataDir:                 dataDir,
		PageSize:                v.GetInt("page_size"),
		BufferPoolFrames:        v.GetInt("buffer_pool_frames"),
		BufferPoolLRURatio:      v.GetFloat64("buffer_pool_lru_ratio"),
		WALSegmentSize:          v.GetInt64("wal_segment_size"),
		WALFsyncMode:            FsyncMode(v.GetString("wal_fsync_mode")),
		CheckpointIntervalMS:    v.GetInt("checkpoint_interval_ms"),
		DeadlockCheckIntervalMS: v.GetInt("deadlock_check_interval_ms"),
		LockTimeoutMS:           v.GetInt("lock_timeout_ms"),
		StatementTimeoutMS:      v.GetInt("statement_timeout_ms"),
		MaxParallelPerQuery:     v.GetInt("max_parallel_per_query"),
		HistogramBins:           v.GetInt("histogram_bins"),
		PlanCacheSize:           v.GetInt("plan_cache_size"),
		ResultCacheSize:         v.GetInt("result_cache_size"),
		JoinEnumThreshold:       v.GetInt("join_enum_threshold"),
	}

	return cfg, cfg.Validate()
}

// Validate rejects out-of-range values before the engine opens.
func (c Config) Validate() error {
	if c.PageSize < 512 {
		return fmt.Errorf("config: page_size must be >= 512, got %d", c.PageSize)
	}
	if c.BufferPoolFrames <= 0 {
		return fmt.Errorf("config: buffer_pool_frames must be > 0, got %d", c.BufferPoolFrames)
	}
	if c.BufferPoolLRURatio < 0 || c.BufferPoolLRURatio > 1 {
		return fmt.Errorf("config: buffer_pool_lru_ratio must be in [0,1], got %f", c.BufferPoolLRURatio)
	}
	switch c.WALFsyncMode {
	case FsyncAlways, FsyncGroup, FsyncPeriodic:
	default:
		return fmt.Errorf("config: wal_fsync_mode must be one of always|group|periodic, got %q", c.WALFsyncMode)
	}
	if c.JoinEnumThreshold <= 0 {
		return fmt.Errorf("config: join_enum_threshold must be > 0, got %d", c.JoinEnumThreshold)
	}
	return nil
}
