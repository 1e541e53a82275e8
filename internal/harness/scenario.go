package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tensorc/internal/backend"
	"github.com/roach88/tensorc/internal/descriptor"
)

// DefaultTolerance is the absolute output tolerance when a scenario sets
// none.
const DefaultTolerance = 1e-5

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden
	// file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Trace is the path to the trace file.
	Trace string `yaml:"trace"`

	// Weights is the path to a raw float32 weight blob. Optional.
	Weights string `yaml:"weights,omitempty"`

	// Backends to compile for. Empty means every registered backend.
	Backends []string `yaml:"backends,omitempty"`

	Optimize bool `yaml:"optimize,omitempty"`

	WeightEncoding string `yaml:"weight_encoding,omitempty"`

	// Inputs holds the values of every graph input, row-major in the
	// input's axis order.
	Inputs map[string][]float32 `yaml:"inputs"`

	Expect Expect `yaml:"expect"`
}

// Expect lists what every backend must produce.
type Expect struct {
	// Outputs are compared elementwise within Tolerance.
	Outputs map[string][]float32 `yaml:"outputs"`

	Tolerance float64 `yaml:"tolerance,omitempty"`

	// Functions is the expected number of distinct kernel functions.
	// Nil skips the check.
	Functions *int `yaml:"functions,omitempty"`

	// Invocations is the expected length of the execution list.
	// Nil skips the check.
	Invocations *int `yaml:"invocations,omitempty"`
}

// tolerance returns the effective tolerance.
func (e Expect) tolerance() float64 {
	if e.Tolerance > 0 {
		return e.Tolerance
	}
	return DefaultTolerance
}

// backends returns the effective backend list.
func (s *Scenario) backends() []string {
	if len(s.Backends) == 0 {
		return backend.Default()
	}
	return slices.Clone(s.Backends)
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// Relative paths are resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Unknown keys are typos (e.g. "output:" vs "outputs:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	if scenario.Trace != "" && !filepath.IsAbs(scenario.Trace) {
		scenario.Trace = filepath.Join(base, scenario.Trace)
	}
	if scenario.Weights != "" && !filepath.IsAbs(scenario.Weights) {
		scenario.Weights = filepath.Join(base, scenario.Weights)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenarios found in %s", dir)
	}
	slices.Sort(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	names := make(map[string]string, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		if prev, ok := names[s.Name]; ok {
			return nil, fmt.Errorf("scenario name %q used by both %s and %s", s.Name, prev, filepath.Base(p))
		}
		names[s.Name] = filepath.Base(p)
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Trace == "" {
		return fmt.Errorf("trace is required")
	}
	if _, err := os.Stat(s.Trace); os.IsNotExist(err) {
		return fmt.Errorf("trace file not found: %s", s.Trace)
	}
	if s.Weights != "" {
		if _, err := os.Stat(s.Weights); os.IsNotExist(err) {
			return fmt.Errorf("weights file not found: %s", s.Weights)
		}
	}
	for _, name := range s.Backends {
		if _, err := backend.Lookup(name); err != nil {
			return err
		}
	}
	if _, err := descriptor.ParseEncoding(s.WeightEncoding); err != nil {
		return err
	}
	if len(s.Expect.Outputs) == 0 {
		return fmt.Errorf("expect.outputs is required and must be non-empty")
	}
	if s.Expect.Tolerance < 0 {
		return fmt.Errorf("expect.tolerance must be non-negative")
	}
	if s.Expect.Functions != nil && *s.Expect.Functions < 0 {
		return fmt.Errorf("expect.functions must be non-negative")
	}
	if s.Expect.Invocations != nil && *s.Expect.Invocations < 0 {
		return fmt.Errorf("expect.invocations must be non-negative")
	}
	return nil
}
