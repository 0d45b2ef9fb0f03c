package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	cfg.Provider.Endpoint = "ws://localhost:8765/stream"

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid, got: %v", err)
	}

	if cfg.Server.Port != 4040 {
		t.Errorf("expected default port 4040, got %d", cfg.Server.Port)
	}
	if cfg.Server.Mode != ModeRemote {
		t.Errorf("expected default mode remote, got %s", cfg.Server.Mode)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.Audio.SampleRate)
	}
}

func TestConfigValidation(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Provider.Endpoint = "ws://localhost:8765/stream"
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "port too low",
			modify:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "port too high",
			modify:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "empty host",
			modify:  func(c *Config) { c.Server.Host = "" },
			wantErr: true,
		},
		{
			name:    "unknown mode",
			modify:  func(c *Config) { c.Server.Mode = "hybrid" },
			wantErr: true,
		},
		{
			name:    "unsupported sample rate",
			modify:  func(c *Config) { c.Audio.SampleRate = 12345 },
			wantErr: true,
		},
		{
			name:    "stereo audio rejected",
			modify:  func(c *Config) { c.Audio.Channels = 2 },
			wantErr: true,
		},
		{
			name:    "wrong bit depth",
			modify:  func(c *Config) { c.Audio.BitDepth = 8 },
			wantErr: true,
		},
		{
			name:    "empty provider id",
			modify:  func(c *Config) { c.Provider.ID = "" },
			wantErr: true,
		},
		{
			name:    "empty provider endpoint",
			modify:  func(c *Config) { c.Provider.Endpoint = "" },
			wantErr: true,
		},
		{
			name:    "zero open timeout",
			modify:  func(c *Config) { c.Provider.OpenTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero close timeout",
			modify:  func(c *Config) { c.Provider.CloseTimeout = 0 },
			wantErr: true,
		},
		{
			name: "recording enabled without dir",
			modify: func(c *Config) {
				c.Recording.Enabled = true
				c.Recording.Dir = ""
			},
			wantErr: true,
		},
		{
			name: "transcript enabled without dir",
			modify: func(c *Config) {
				c.Transcript.Enabled = true
				c.Transcript.Dir = ""
			},
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  host: "127.0.0.1"
  port: 5050
  mode: "local"
provider:
  id: "wsstream"
  endpoint: "ws://stt.example.com/stream"
  language: "uk"
logging:
  level: "debug"
  format: "json"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 5050 {
		t.Errorf("expected port 5050, got %d", cfg.Server.Port)
	}
	if cfg.Server.Mode != ModeLocal {
		t.Errorf("expected mode local, got %s", cfg.Server.Mode)
	}
	if cfg.Provider.Language != "uk" {
		t.Errorf("expected language uk, got %s", cfg.Provider.Language)
	}

	// Unset fields keep their defaults.
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Provider.CloseTimeout != 5 {
		t.Errorf("expected default close timeout 5, got %d", cfg.Provider.CloseTimeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a mapping"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
provider:
  endpoint: "ws://file.example.com/stream"
  api_key: "file-key"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("STT_PROVIDER_API_KEY", "env-key")
	t.Setenv("STT_PROVIDER_ENDPOINT", "ws://env.example.com/stream")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Provider.APIKey != "env-key" {
		t.Errorf("expected env override for api key, got %s", cfg.Provider.APIKey)
	}
	if cfg.Provider.Endpoint != "ws://env.example.com/stream" {
		t.Errorf("expected env override for endpoint, got %s", cfg.Provider.Endpoint)
	}
}

func TestDurationAccessors(t *testing.T) {
	p := ProviderConfig{OpenTimeout: 10, CloseTimeout: 5}

	if got := p.GetOpenTimeout(); got != 10*time.Second {
		t.Errorf("GetOpenTimeout() = %v, want 10s", got)
	}
	if got := p.GetCloseTimeout(); got != 5*time.Second {
		t.Errorf("GetCloseTimeout() = %v, want 5s", got)
	}
}
