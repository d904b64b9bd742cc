package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir()) // no config file present
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerURL != "http://localhost:8600" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.ProbeURL != "http://localhost:8600/v1/health" {
		t.Errorf("ProbeURL = %q, want derived health endpoint", cfg.ProbeURL)
	}
	if cfg.BatchSize != 8 || cfg.MaxAttempts != 5 {
		t.Errorf("BatchSize = %d, MaxAttempts = %d", cfg.BatchSize, cfg.MaxAttempts)
	}
	if cfg.BackoffBase != 2*time.Second || cfg.PullInterval != time.Minute {
		t.Errorf("BackoffBase = %s, PullInterval = %s", cfg.BackoffBase, cfg.PullInterval)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server_url: https://sync.example.com
probe_url: https://probe.example.com/ping
data_dir: /var/lib/inkwell
batch_size: 16
backoff_base: 500ms
pull_interval: 2m
`
	if err := os.WriteFile(filepath.Join(dir, "inkd.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerURL != "https://sync.example.com" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.ProbeURL != "https://probe.example.com/ping" {
		t.Errorf("ProbeURL = %q", cfg.ProbeURL)
	}
	if cfg.DataDir != "/var/lib/inkwell" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.BatchSize != 16 {
		t.Errorf("BatchSize = %d", cfg.BatchSize)
	}
	if cfg.BackoffBase != 500*time.Millisecond {
		t.Errorf("BackoffBase = %s", cfg.BackoffBase)
	}
	if cfg.PullInterval != 2*time.Minute {
		t.Errorf("PullInterval = %s", cfg.PullInterval)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("INKD_SERVER_URL", "https://env.example.com")
	t.Setenv("INKD_BATCH_SIZE", "32")
	t.Setenv("INKD_AUTH_TOKEN", "tok-env")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerURL != "https://env.example.com" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.BatchSize != 32 {
		t.Errorf("BatchSize = %d", cfg.BatchSize)
	}
	if cfg.AuthToken != "tok-env" {
		t.Errorf("AuthToken = %q", cfg.AuthToken)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing server", mutate: func(c *Config) { c.ServerURL = "" }, wantErr: true},
		{name: "missing data dir", mutate: func(c *Config) { c.DataDir = "" }, wantErr: true},
		{name: "zero batch", mutate: func(c *Config) { c.BatchSize = 0 }, wantErr: true},
		{name: "negative attempts", mutate: func(c *Config) { c.MaxAttempts = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				ServerURL:   "http://localhost:8600",
				DataDir:     "/tmp/inkwell",
				BatchSize:   8,
				MaxAttempts: 5,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
