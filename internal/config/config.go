// Package config loads daemon configuration from a YAML file with
// INKD_* environment overrides. Defaults are set in code so a bare
// environment still produces a runnable config (pointing at localhost).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon configuration handed to the wiring code.
type Config struct {
	// ServerURL is the sync backend base URL.
	ServerURL string `mapstructure:"server_url"`

	// ProbeURL is polled by the connectivity monitor. Defaults to the
	// backend's health endpoint.
	ProbeURL string `mapstructure:"probe_url"`

	// FeedURL is the websocket change feed. Empty disables the feed;
	// periodic pulls still run.
	FeedURL string `mapstructure:"feed_url"`

	// DataDir holds local state (database or record files).
	DataDir string `mapstructure:"data_dir"`

	// Platform overrides profile detection when set (native, mobile, web).
	Platform string `mapstructure:"platform"`

	// UserID and AuthToken form the identity for headless deployments.
	UserID    string `mapstructure:"user_id"`
	AuthToken string `mapstructure:"auth_token"`

	// Sync tuning.
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffCap   time.Duration `mapstructure:"backoff_cap"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PullInterval time.Duration `mapstructure:"pull_interval"`

	// LogFile enables rotating file logging when set; empty logs to
	// stderr.
	LogFile string `mapstructure:"log_file"`
}

// Load reads inkd.yaml from path (or the default locations when path is
// empty) and applies INKD_* environment overrides. A missing config
// file is not an error; the defaults and environment carry it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("inkd")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "inkwell"))
		}
	}

	v.SetDefault("server_url", "http://localhost:8600")
	v.SetDefault("probe_url", "")
	v.SetDefault("feed_url", "")
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("platform", "")
	v.SetDefault("user_id", "")
	v.SetDefault("auth_token", "")
	v.SetDefault("batch_size", 8)
	v.SetDefault("max_attempts", 5)
	v.SetDefault("backoff_base", 2*time.Second)
	v.SetDefault("backoff_cap", 5*time.Minute)
	v.SetDefault("poll_interval", 30*time.Second)
	v.SetDefault("pull_interval", time.Minute)
	v.SetDefault("log_file", "")

	v.SetEnvPrefix("INKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = strings.TrimRight(cfg.ServerURL, "/") + "/v1/health"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive (got %d)", c.BatchSize)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive (got %d)", c.MaxAttempts)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".inkwell"
	}
	return filepath.Join(home, ".local", "share", "inkwell")
}
