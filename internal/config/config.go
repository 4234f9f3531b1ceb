package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the daemon configuration file (chatvault.toml).
type Config struct {
	// DataDir is the root directory for the database, stored media,
	// staged uploads and logs. Defaults to ~/.chatvault.
	DataDir string `toml:"data_dir"`

	// PreviewTTLMinutes bounds how long an unconfirmed upload preview
	// is kept before its staged bundle is released.
	PreviewTTLMinutes int `toml:"preview_ttl_minutes"`

	// SweepIntervalSeconds is the interval of the background sweeps
	// (preview expiry, job record purge).
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`

	// JobRetentionMinutes bounds how long finished import job records
	// remain queryable.
	JobRetentionMinutes int `toml:"job_retention_minutes"`

	// SpillThresholdBytes is the per-entry size above which extracted
	// media is staged on disk instead of held in memory.
	SpillThresholdBytes int64 `toml:"spill_threshold_bytes"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:              filepath.Join(home, ".chatvault"),
		PreviewTTLMinutes:    20,
		SweepIntervalSeconds: 60,
		JobRetentionMinutes:  60,
		SpillThresholdBytes:  4 << 20,
	}
}

// Load reads config from the given path and fills unset fields with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.PreviewTTLMinutes <= 0 {
		c.PreviewTTLMinutes = d.PreviewTTLMinutes
	}
	if c.SweepIntervalSeconds <= 0 {
		c.SweepIntervalSeconds = d.SweepIntervalSeconds
	}
	if c.JobRetentionMinutes <= 0 {
		c.JobRetentionMinutes = d.JobRetentionMinutes
	}
	if c.SpillThresholdBytes <= 0 {
		c.SpillThresholdBytes = d.SpillThresholdBytes
	}
}

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "chatvault.db")
}

// MediaRoot returns the root directory for stored media files.
func (c *Config) MediaRoot() string {
	return filepath.Join(c.DataDir, "media")
}

// StagingDir returns the directory for staged uploads and spilled media.
func (c *Config) StagingDir() string {
	return filepath.Join(c.DataDir, "staging")
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "chatvaultd.log")
}

// PreviewTTL returns the preview TTL as a duration.
func (c *Config) PreviewTTL() time.Duration {
	return time.Duration(c.PreviewTTLMinutes) * time.Minute
}

// SweepInterval returns the background sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// JobRetention returns the finished-job retention period as a duration.
func (c *Config) JobRetention() time.Duration {
	return time.Duration(c.JobRetentionMinutes) * time.Minute
}

// EnsureDirs creates the data directory tree with proper permissions.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.DataDir,
		c.MediaRoot(),
		c.StagingDir(),
		filepath.Dir(c.LogPath()),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
