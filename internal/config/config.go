// Package config provides configuration management for weft using Viper
// for loading from files, environment variables and command-line flags.
//
// The configuration supports YAML files, environment variable overrides with
// the WEFT_ prefix and validation. It covers template and macro search
// paths, the tag registry file, render options and logging.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/logging"
)

// DefaultExtension is the file extension of templates and macro files.
const DefaultExtension = ".weft"

type Config struct {
	Templates   TemplatesConfig  `mapstructure:"templates" yaml:"templates"`
	Macros      MacrosConfig     `mapstructure:"macros" yaml:"macros"`
	Components  ComponentsConfig `mapstructure:"components" yaml:"components"`
	Render      RenderConfig     `mapstructure:"render" yaml:"render"`
	Log         LogConfig        `mapstructure:"log" yaml:"log"`
	TargetFiles []string         `mapstructure:"-" yaml:"-"` // CLI arguments, not from config file
}

type TemplatesConfig struct {
	Paths     []string `mapstructure:"paths" yaml:"paths"`
	Extension string   `mapstructure:"extension" yaml:"extension"`
	Exclude   []string `mapstructure:"exclude" yaml:"exclude"`
}

type MacrosConfig struct {
	Paths     []string      `mapstructure:"paths" yaml:"paths"`
	Extension string        `mapstructure:"extension" yaml:"extension"`
	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

type ComponentsConfig struct {
	RegistryFile     string `mapstructure:"registry_file" yaml:"registry_file"`
	StrictAttributes bool   `mapstructure:"strict_attributes" yaml:"strict_attributes"`
}

type RenderConfig struct {
	AutoIDs bool `mapstructure:"auto_ids" yaml:"auto_ids"`
	Escape  bool `mapstructure:"escape" yaml:"escape"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load reads the configuration from the global viper instance, applies
// defaults for unset values and validates the result.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, errors.ErrCodeConfigInvalid,
			"reading configuration")
	}

	applyDefaults(v, &config)

	if err := validateConfig(&config); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, errors.ErrCodeConfigInvalid,
			"invalid configuration")
	}

	return &config, nil
}

// Default returns the configuration used when no file or flags are given.
func Default() *Config {
	config := &Config{}
	applyDefaults(viper.New(), config)

	return config
}

func applyDefaults(v *viper.Viper, config *Config) {
	// Apply default values for TemplatesConfig if not set
	if len(config.Templates.Paths) == 0 {
		config.Templates.Paths = []string{"./templates"}
	}
	if config.Templates.Extension == "" {
		config.Templates.Extension = DefaultExtension
	}
	if len(config.Templates.Exclude) == 0 {
		config.Templates.Exclude = []string{"*.bak", ".*"}
	}

	// Apply default values for MacrosConfig if not set
	if len(config.Macros.Paths) == 0 {
		config.Macros.Paths = []string{"./macros"}
	}
	if config.Macros.Extension == "" {
		config.Macros.Extension = config.Templates.Extension
	}
	if !v.IsSet("macros.cache_size") {
		config.Macros.CacheSize = 256
	}
	if !v.IsSet("macros.cache_ttl") {
		config.Macros.CacheTTL = 10 * time.Minute
	}

	// Booleans that default to true can only be told apart from an explicit
	// false through viper
	if !v.IsSet("components.strict_attributes") {
		config.Components.StrictAttributes = true
	}
	if !v.IsSet("render.auto_ids") {
		config.Render.AutoIDs = true
	}
	if !v.IsSet("render.escape") {
		config.Render.Escape = true
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// validateConfig validates configuration values
func validateConfig(config *Config) error {
	if err := validateTemplatesConfig(&config.Templates); err != nil {
		return fmt.Errorf("templates config: %w", err)
	}

	if err := validateMacrosConfig(&config.Macros); err != nil {
		return fmt.Errorf("macros config: %w", err)
	}

	if err := validateComponentsConfig(&config.Components); err != nil {
		return fmt.Errorf("components config: %w", err)
	}

	if err := validateLogConfig(&config.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	return nil
}

func validateTemplatesConfig(config *TemplatesConfig) error {
	for _, path := range config.Paths {
		if err := validatePath(path); err != nil {
			return fmt.Errorf("invalid template path '%s': %w", path, err)
		}
	}
	for _, pattern := range config.Exclude {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid exclude pattern '%s': %w", pattern, err)
		}
	}

	return validateExtension(config.Extension)
}

func validateMacrosConfig(config *MacrosConfig) error {
	for _, path := range config.Paths {
		if err := validatePath(path); err != nil {
			return fmt.Errorf("invalid macro path '%s': %w", path, err)
		}
	}
	if config.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative, got %d", config.CacheSize)
	}
	if config.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must not be negative, got %s", config.CacheTTL)
	}

	return validateExtension(config.Extension)
}

func validateComponentsConfig(config *ComponentsConfig) error {
	if config.RegistryFile == "" {
		return nil
	}
	if err := validatePath(config.RegistryFile); err != nil {
		return fmt.Errorf("invalid registry file '%s': %w", config.RegistryFile, err)
	}

	return nil
}

func validateLogConfig(config *LogConfig) error {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		return err
	}
	if config.Format != "text" && config.Format != "json" {
		return fmt.Errorf("format must be text or json, got %q", config.Format)
	}

	return nil
}

func validateExtension(ext string) error {
	if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
		return fmt.Errorf("extension must start with a dot, got %q", ext)
	}
	if strings.ContainsAny(ext, `/\`) {
		return fmt.Errorf("extension must not contain a path separator: %q", ext)
	}

	return nil
}

// validatePath validates a configured file path
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	// Reject dangerous characters
	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\""}
	for _, char := range dangerousChars {
		if strings.Contains(path, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}

// LoggerConfig converts the log section into logging options.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	config := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		config.Level = level
	}
	config.Format = c.Log.Format

	return config
}
