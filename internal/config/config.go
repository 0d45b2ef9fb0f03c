package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Mode selects the transcription gating behavior.
// In Local mode the caller is the audio source itself and transcription
// starts as soon as the first ingress connection arrives. In Remote mode
// audio may start flowing before the meeting platform has granted
// recording permission, so forwarding is gated on a webhook event.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Config represents the complete service configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	Provider   ProviderConfig   `yaml:"provider"`
	Recording  RecordingConfig  `yaml:"recording"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains the combined WebSocket + HTTP server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Mode Mode   `yaml:"mode"`
}

// AudioConfig contains the audio format asserted to the provider and used
// for the WAV header
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
}

// ProviderConfig contains STT provider selection and connection parameters
type ProviderConfig struct {
	ID             string `yaml:"id"`
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	Language       string `yaml:"language"`
	InterimResults bool   `yaml:"interim_results"`
	OpenTimeout    int    `yaml:"open_timeout"`  // seconds
	CloseTimeout   int    `yaml:"close_timeout"` // seconds
}

// RecordingConfig controls the optional WAV writer
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// TranscriptConfig controls the per-session transcript journal
type TranscriptConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the configuration file, applies environment overrides and
// validates the result. A .env file in the working directory is honored
// when present so credentials never need to live in the YAML file.
func Load(path string) (*Config, error) {
	// Missing .env is not an error; explicit env vars still apply.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Default returns a configuration populated with the documented defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 4040,
			Mode: ModeRemote,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			BitDepth:   16,
		},
		Provider: ProviderConfig{
			ID:             "wsstream",
			Language:       "en",
			InterimResults: true,
			OpenTimeout:    10,
			CloseTimeout:   5,
		},
		Recording: RecordingConfig{
			Enabled: false,
			Dir:     "recordings",
		},
		Transcript: TranscriptConfig{
			Enabled: true,
			Dir:     "transcripts",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies credential and endpoint overrides from the
// environment. Environment always wins over the YAML file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STT_PROVIDER_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("STT_PROVIDER_ENDPOINT"); v != "" {
		c.Provider.Endpoint = v
	}
	if v := os.Getenv("STT_PROVIDER_ID"); v != "" {
		c.Provider.ID = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("provider config: %w", err)
	}

	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	if err := c.Transcript.Validate(); err != nil {
		return fmt.Errorf("transcript config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if s.Mode != ModeLocal && s.Mode != ModeRemote {
		return fmt.Errorf("mode must be 'local' or 'remote', got '%s'", s.Mode)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	switch a.SampleRate {
	case 8000, 16000, 24000, 44100, 48000:
	default:
		return fmt.Errorf("unsupported sample_rate %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	return nil
}

// Validate validates provider configuration
func (p *ProviderConfig) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id cannot be empty")
	}

	if p.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if p.OpenTimeout < 1 {
		return fmt.Errorf("open_timeout must be at least 1 second, got %d", p.OpenTimeout)
	}

	if p.CloseTimeout < 1 {
		return fmt.Errorf("close_timeout must be at least 1 second, got %d", p.CloseTimeout)
	}

	return nil
}

// Validate validates recording configuration
func (r *RecordingConfig) Validate() error {
	if r.Enabled && r.Dir == "" {
		return fmt.Errorf("dir cannot be empty when recording is enabled")
	}
	return nil
}

// Validate validates transcript configuration
func (t *TranscriptConfig) Validate() error {
	if t.Enabled && t.Dir == "" {
		return fmt.Errorf("dir cannot be empty when transcript logging is enabled")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetOpenTimeout returns the provider open timeout as a time.Duration
func (p *ProviderConfig) GetOpenTimeout() time.Duration {
	return time.Duration(p.OpenTimeout) * time.Second
}

// GetCloseTimeout returns the provider close timeout as a time.Duration
func (p *ProviderConfig) GetCloseTimeout() time.Duration {
	return time.Duration(p.CloseTimeout) * time.Second
}
