package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backends BackendsConfig `yaml:"backends"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// BackendsConfig catalogues configured upstream backends. A nil entry means
// the backend is not configured and no adapter is constructed for it.
type BackendsConfig struct {
	OpenAI *BackendConfig `yaml:"openai"`
	Gemini *BackendConfig `yaml:"gemini"`
	Ollama *BackendConfig `yaml:"ollama"`
}

// BackendConfig captures connection and authentication settings for one
// upstream backend.
type BackendConfig struct {
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	DefaultModel string  `yaml:"default_model"`
	Headers      Headers `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with an upstream request.
type Headers map[string]string

// Load reads YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	backends := map[string]*BackendConfig{
		"openai": c.Backends.OpenAI,
		"gemini": c.Backends.Gemini,
		"ollama": c.Backends.Ollama,
	}

	configured := 0
	for name, backend := range backends {
		if backend == nil {
			continue
		}
		configured++
		if err := validateBackend(name, backend); err != nil {
			return err
		}
	}

	if configured == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}

	return nil
}

func validateBackend(name string, backend *BackendConfig) error {
	if strings.TrimSpace(backend.BaseURL) == "" {
		return fmt.Errorf("backend %s: base_url must be provided", name)
	}
	// API keys are deliberately not required here: adapters that need one
	// fail fast with a descriptive error when the first request arrives.

	for headerKey := range backend.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("backend %s: header %q is not a valid canonical HTTP header", name, headerKey)
		}
	}

	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
