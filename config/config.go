// Package config loads the process defaults of the rendering bridge from a
// YAML file: logging setup and the initial style and configuration given
// to each new markdown or SVG node.
package config

import (
	"fmt"
	"os"

	"github.com/benoitkugler/okrender/logging"
	"github.com/benoitkugler/okrender/style"
	"gopkg.in/yaml.v3"
)

// Config represents the complete bridge configuration
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Markdown MarkdownConfig `yaml:"markdown"`
	SVG      SVGConfig      `yaml:"svg"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	SysLog bool   `yaml:"syslog"`
}

// MarkdownConfig holds the descriptors every markdown node starts with.
type MarkdownConfig struct {
	Style  style.Descriptor `yaml:"style"`
	Config style.Descriptor `yaml:"config"`
}

// SVGConfig contains the SVG drawable defaults
type SVGConfig struct {
	AntiAlias bool    `yaml:"anti_alias"`
	Strict    bool    `yaml:"strict"`
	Density   float64 `yaml:"density"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", SysLog: true},
		SVG:     SVGConfig{AntiAlias: true, Density: 1},
	}
}

// Load loads configuration from a YAML file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse reads a YAML configuration. Missing keys keep their [Default] value.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values which can't be expressed by YAML types.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}
	if c.SVG.Density <= 0 {
		return fmt.Errorf("invalid svg.density %g: must be positive", c.SVG.Density)
	}
	return nil
}

// ApplyLogging installs the logging settings on the process log sink.
func (c *Config) ApplyLogging() error {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return err
	}
	logging.SetMinLogLevel(level)
	logging.UseSysLog(c.Logging.SysLog)
	return nil
}

// SVGDescriptor returns the SVG defaults as a configuration descriptor,
// using the keys understood by the SVG drawable.
func (c *Config) SVGDescriptor() style.Descriptor {
	return style.Descriptor{
		"antiAlias": c.SVG.AntiAlias,
		"strict":    c.SVG.Strict,
		"density":   c.SVG.Density,
	}
}
