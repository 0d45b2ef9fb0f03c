// Package config provides configuration loading and validation for the
// transcription mediator. It handles YAML-based configuration with struct
// validation plus environment-variable overrides for provider credentials.
package config
