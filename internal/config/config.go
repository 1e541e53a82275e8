// Package config loads compiler settings from YAML.
//
// A config file names the trace and weight files plus the pipeline
// settings. Relative paths are resolved against the directory holding the
// file. Command-line flags override file values; only the resulting
// pipeline.Config reaches the compiler core.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tensorc/internal/backend"
	"github.com/roach88/tensorc/internal/descriptor"
	"github.com/roach88/tensorc/internal/layout"
	"github.com/roach88/tensorc/internal/pipeline"
)

// Config is the on-disk compiler configuration.
type Config struct {
	// Model is the trace file path.
	Model string `yaml:"model"`

	// Weights is the raw float32 weight file. Optional.
	Weights string `yaml:"weights,omitempty"`

	// Backends lists target backends in output order.
	// Empty means every registered backend.
	Backends []string `yaml:"backends,omitempty"`

	Optimize bool `yaml:"optimize"`

	// OutputDir receives the generated files.
	OutputDir string `yaml:"output_dir"`

	// Workers bounds parallel kernel generation per backend.
	Workers int `yaml:"workers,omitempty"`

	// MaxIterations caps optimizer fixpoint rounds. Zero uses the
	// optimizer default.
	MaxIterations int `yaml:"max_iterations,omitempty"`

	// Alignment is the buffer alignment in bytes.
	Alignment int `yaml:"alignment,omitempty"`

	// MaxBytes limits the total buffer size. Zero means unlimited.
	MaxBytes int `yaml:"max_bytes,omitempty"`

	WeightEncoding string `yaml:"weight_encoding,omitempty"`

	// Cache is the artifact cache database. Empty disables caching.
	Cache string `yaml:"cache,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		OutputDir:      "out",
		Workers:        4,
		Alignment:      layout.DefaultAlignment,
		WeightEncoding: string(descriptor.EncodingFloat32),
	}
}

// Load reads a YAML config file on top of Default. Unknown keys are
// rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) resolve(base string) {
	rel := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Model = rel(c.Model)
	c.Weights = rel(c.Weights)
	c.OutputDir = rel(c.OutputDir)
	c.Cache = rel(c.Cache)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	for _, name := range c.Backends {
		if _, lerr := backend.Lookup(name); lerr != nil {
			err = multierr.Append(err, lerr)
		}
	}
	if dup := duplicate(c.Backends); dup != "" {
		err = multierr.Append(err, fmt.Errorf("backend %s listed twice", dup))
	}
	if c.Workers < 0 {
		err = multierr.Append(err, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.MaxIterations < 0 {
		err = multierr.Append(err, fmt.Errorf("max_iterations must not be negative, got %d", c.MaxIterations))
	}
	if c.Alignment < 0 || c.Alignment%layout.ElementBytes != 0 {
		err = multierr.Append(err, fmt.Errorf("alignment must be a multiple of %d bytes, got %d", layout.ElementBytes, c.Alignment))
	}
	if c.MaxBytes < 0 {
		err = multierr.Append(err, fmt.Errorf("max_bytes must not be negative, got %d", c.MaxBytes))
	}
	if c.WeightEncoding != "" {
		if _, perr := descriptor.ParseEncoding(c.WeightEncoding); perr != nil {
			err = multierr.Append(err, perr)
		}
	}
	return err
}

func duplicate(names []string) string {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return n
		}
		seen[n] = true
	}
	return ""
}

// Pipeline returns the compiler settings.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Backends:       slices.Clone(c.Backends),
		Optimize:       c.Optimize,
		Workers:        c.Workers,
		MaxIterations:  c.MaxIterations,
		Alignment:      c.Alignment,
		MaxBytes:       c.MaxBytes,
		WeightEncoding: descriptor.Encoding(c.WeightEncoding),
	}
}
