// Package config loads the reportweaver YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"reportweaver/internal/rewrite"
)

// ErrInvalid marks a configuration that cannot be loaded or fails
// validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete configuration value. Components receive the parts
// they need at construction; nothing reads it globally.
type Config struct {
	Rewrite   Rewrite   `yaml:"rewrite"`
	Normalize Normalize `yaml:"normalize"`
	Analyzer  Analyzer  `yaml:"analyzer"`
	Logging   Logging   `yaml:"logging"`
}

type Rewrite struct {
	// Rules replace the built-in registry when set.
	Rules []rewrite.Spec `yaml:"rules"`
}

type Normalize struct {
	// BaseDir anchors relative artifact paths during symlink resolution.
	BaseDir string `yaml:"base_dir"`
}

type Analyzer struct {
	Binary          string   `yaml:"binary"`
	Args            []string `yaml:"args"`
	ConfigFile      string   `yaml:"config_file"`
	CompileCommands string   `yaml:"compile_commands"`
	Concurrency     int      `yaml:"concurrency"`
}

type Logging struct {
	Verbose bool `yaml:"verbose"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Rewrite:  Rewrite{Rules: rewrite.DefaultSpecs()},
		Analyzer: Analyzer{Binary: "CodeChecker", Concurrency: 1},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document over the defaults and validates it.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges and compiles the rewrite rules.
func (c Config) Validate() error {
	if c.Analyzer.Concurrency < 1 {
		return fmt.Errorf("%w: analyzer.concurrency must be at least 1, got %d", ErrInvalid, c.Analyzer.Concurrency)
	}
	if _, err := rewrite.Compile(c.Rewrite.Rules); err != nil {
		return fmt.Errorf("%w: rewrite.rules: %v", ErrInvalid, err)
	}
	return nil
}

// RuleSet compiles the configured rewrite rules.
func (c Config) RuleSet() (*rewrite.RuleSet, error) {
	set, err := rewrite.Compile(c.Rewrite.Rules)
	if err != nil {
		return nil, fmt.Errorf("%w: rewrite.rules: %v", ErrInvalid, err)
	}
	return set, nil
}
