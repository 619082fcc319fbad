// Package config loads metastore process configuration the way the
// teacher's internal/config package does: a YAML file with environment
// overrides layered on top via spf13/viper, read once at startup before
// the KV store is opened.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything needed to open and run one metastore process.
type Config struct {
	// DataDir is the local directory holding the embedded KV store file.
	DataDir string `mapstructure:"data_dir"`

	// RemoteKind selects the RemoteFS backend: "local", "s3", "azblob",
	// "gcs". RemoteURI is backend-specific (bucket name, container URL,
	// or local directory path).
	RemoteKind string `mapstructure:"remote_kind"`
	RemoteURI  string `mapstructure:"remote_uri"`

	// CheckpointPrefix names the family of remote checkpoint objects
	// ("metastore" by default, producing metastore-current,
	// metastore-<epoch_ms>, metastore-<epoch_ms>-logs/...).
	CheckpointPrefix string `mapstructure:"checkpoint_prefix"`

	// ReplicationEnabled gates whether the replication worker loop runs
	// at all; when false, wait_for_current_seq_to_sync always fails.
	ReplicationEnabled bool `mapstructure:"replication_enabled"`
	// ReplicationInterval is how often the replication worker wakes to
	// check for new batches to upload and whether a checkpoint is due.
	ReplicationInterval time.Duration `mapstructure:"replication_interval"`
	// SnapshotInterval is the minimum time between full checkpoints.
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	// CheckpointRetention is how long old checkpoint/log prefixes are
	// kept before garbage collection; deliberately larger than maximum
	// in-flight replication latency.
	CheckpointRetention time.Duration `mapstructure:"checkpoint_retention"`

	// WaitForSyncPollInterval is loaded with the rest of the
	// configuration; cmd/metastored does not pass it on, and
	// Replicator.WaitForCurrentSeqToSync takes its poll interval as an
	// argument.
	WaitForSyncPollInterval time.Duration `mapstructure:"wait_for_sync_poll_interval"`
}

// Defaults returns the baseline configuration before file/env overrides
// are applied.
func Defaults() Config {
	return Config{
		DataDir:                 "./data/metastore",
		RemoteKind:              "local",
		RemoteURI:               "./data/metastore-remote",
		CheckpointPrefix:        "metastore",
		ReplicationEnabled:      true,
		ReplicationInterval:     5 * time.Second,
		SnapshotInterval:        10 * time.Minute,
		CheckpointRetention:     3 * time.Minute,
		WaitForSyncPollInterval: 30 * time.Second,
	}
}

// Load reads configuration from an optional YAML file at path, then
// applies METASTORE_-prefixed environment variable overrides, matching
// the layering order of the teacher's yaml+viper config loader.
func Load(path string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("METASTORE")
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("remote_kind", cfg.RemoteKind)
	v.SetDefault("remote_uri", cfg.RemoteURI)
	v.SetDefault("checkpoint_prefix", cfg.CheckpointPrefix)
	v.SetDefault("replication_enabled", cfg.ReplicationEnabled)
	v.SetDefault("replication_interval", cfg.ReplicationInterval)
	v.SetDefault("snapshot_interval", cfg.SnapshotInterval)
	v.SetDefault("checkpoint_retention", cfg.CheckpointRetention)
	v.SetDefault("wait_for_sync_poll_interval", cfg.WaitForSyncPollInterval)
}
