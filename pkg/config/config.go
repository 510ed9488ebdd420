// Package config provides configuration management for archdex.
// It defines the mirror, search index and runtime settings, loads them from
// a YAML file and the environment, and validates the result once at startup.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cperrin88/archdex/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Mirror MirrorConfig `koanf:"mirror" yaml:"mirror"`
	Search SearchConfig `koanf:"search" yaml:"search"`

	// Repositories are indexed in order.
	Repositories []string `koanf:"repositories" yaml:"repositories"`

	Settings Settings `koanf:"settings" yaml:"settings"`
}

// MirrorConfig points at the package mirror.
type MirrorConfig struct {
	URL  string `koanf:"url" yaml:"url"`
	Arch string `koanf:"arch" yaml:"arch"`
}

// SearchConfig points at the document index.
type SearchConfig struct {
	URL string `koanf:"url" yaml:"url"`
	Key Secret `koanf:"key" yaml:"key"`
	// RequestsPerSecond paces submissions. Zero means unlimited.
	RequestsPerSecond float64 `koanf:"requests_per_second" yaml:"requests_per_second"`
}

// Settings represents general runtime settings.
type Settings struct {
	Concurrency int `koanf:"concurrency" yaml:"concurrency"`
	// HTTPTimeout bounds response headers, package downloads and index
	// submissions. The files database stream is bounded by the run only.
	HTTPTimeout time.Duration `koanf:"http_timeout" yaml:"http_timeout"`

	LogLevel  string `koanf:"log_level" yaml:"log_level"`   // debug, info, warn, error
	LogFormat string `koanf:"log_format" yaml:"log_format"` // text, json

	// MetricsAddr serves /metrics during a run when set, e.g. ":9090".
	MetricsAddr string `koanf:"metrics_addr" yaml:"metrics_addr"`
}

// Default configuration values.
const (
	DefaultMirrorURL   = "https://mirrors.ustc.edu.cn/archlinux"
	DefaultArch        = "x86_64"
	DefaultSearchURL   = "http://localhost:7700"
	DefaultConcurrency = 4
	DefaultHTTPTimeout = 5 * time.Minute
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"

	// YAMLIndent is the number of spaces to use for YAML indentation.
	YAMLIndent = 2
)

// DefaultRepositories are indexed when none are configured.
var DefaultRepositories = []string{"core", "extra"}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Mirror: MirrorConfig{
			URL:  DefaultMirrorURL,
			Arch: DefaultArch,
		},
		Search: SearchConfig{
			URL: DefaultSearchURL,
		},
		Repositories: append([]string(nil), DefaultRepositories...),
		Settings: Settings{
			Concurrency: DefaultConcurrency,
			HTTPTimeout: DefaultHTTPTimeout,
			LogLevel:    DefaultLogLevel,
			LogFormat:   DefaultLogFormat,
		},
	}
}

// applyDefaults fills in missing values with defaults.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Mirror.URL == "" {
		c.Mirror.URL = defaults.Mirror.URL
	}
	if c.Mirror.Arch == "" {
		c.Mirror.Arch = defaults.Mirror.Arch
	}
	if c.Search.URL == "" {
		c.Search.URL = defaults.Search.URL
	}
	if len(c.Repositories) == 0 {
		c.Repositories = defaults.Repositories
	}
	if c.Settings.Concurrency == 0 {
		c.Settings.Concurrency = defaults.Settings.Concurrency
	}
	if c.Settings.HTTPTimeout == 0 {
		c.Settings.HTTPTimeout = defaults.Settings.HTTPTimeout
	}
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = defaults.Settings.LogLevel
	}
	if c.Settings.LogFormat == "" {
		c.Settings.LogFormat = defaults.Settings.LogFormat
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c == nil {
		return errors.ErrConfigValidation
	}
	if err := validateURL("mirror.url", c.Mirror.URL); err != nil {
		return err
	}
	if strings.TrimSpace(c.Mirror.Arch) == "" {
		return fmt.Errorf("%w: mirror.arch cannot be empty", errors.ErrConfigValidation)
	}
	if err := validateURL("search.url", c.Search.URL); err != nil {
		return err
	}
	if c.Search.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: search.requests_per_second cannot be negative", errors.ErrConfigValidation)
	}
	if err := validateRepositories(c.Repositories); err != nil {
		return err
	}
	return validateSettings(c.Settings)
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", errors.ErrConfigValidation, field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %s must be an http or https URL, got %q", errors.ErrConfigValidation, field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %s has no host: %q", errors.ErrConfigValidation, field, raw)
	}
	return nil
}

func validateRepositories(repos []string) error {
	if len(repos) == 0 {
		return fmt.Errorf("%w: %w", errors.ErrConfigValidation, errors.ErrNoRepositories)
	}
	seen := make(map[string]bool, len(repos))
	for i, name := range repos {
		if name == "" || strings.ContainsAny(name, "/ \t") {
			return fmt.Errorf("%w: invalid repository name at index %d: %q", errors.ErrConfigValidation, i, name)
		}
		if seen[name] {
			return fmt.Errorf("%w: %w: %s", errors.ErrConfigValidation, errors.ErrDuplicateRepo, name)
		}
		seen[name] = true
	}
	return nil
}

func validateSettings(s Settings) error {
	if s.Concurrency < 1 {
		return fmt.Errorf("%w: %w", errors.ErrConfigValidation, errors.ErrConcurrencyInvalid)
	}
	if s.HTTPTimeout < 0 {
		return fmt.Errorf("%w: settings.http_timeout cannot be negative", errors.ErrConfigValidation)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(s.LogFormat)] {
		return fmt.Errorf("%w: invalid log format %q (valid: text, json)", errors.ErrConfigValidation, s.LogFormat)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(s.LogLevel)] {
		return fmt.Errorf("%w: invalid log level %q (valid: debug, info, warn, error)", errors.ErrConfigValidation, s.LogLevel)
	}
	return nil
}

// SaveConfig writes the configuration to path. The search key is written
// in its redacted form, so keys belong in the environment.
func (c *Config) SaveConfig(path string) error {
	if path == "" {
		return errors.ErrEmptyConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrapf(err, "invalid config path %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	tempPath := absPath + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, "failed to create config file")
	}

	encoder := yaml.NewEncoder(file)
	encoder.SetIndent(YAMLIndent)
	if err := encoder.Encode(c); err != nil {
		_ = file.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("%w: %w", errors.ErrConfigEncode, err)
	}
	_ = encoder.Close()
	_ = file.Close()

	if err := os.Rename(tempPath, absPath); err != nil {
		_ = os.Remove(tempPath)
		return errors.Wrap(err, "failed to replace config file")
	}
	return nil
}

// ToYAML converts the config to YAML bytes with secrets redacted.
func (c *Config) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrConfigEncode, err)
	}
	return data, nil
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "archdex", "config.yaml"), nil
}
