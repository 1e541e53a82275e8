package harness

import (
	"github.com/roach88/tensorc/internal/descriptor"
	"github.com/roach88/tensorc/internal/ir"
)

// BackendResult is what one backend produced for a scenario.
type BackendResult struct {
	Backend     string               `json:"backend"`
	Functions   []ir.Kind            `json:"functions"`
	Invocations int                  `json:"invocations"`
	Outputs     map[string][]float32 `json:"outputs"`

	// Descriptor is the compiled artifact.
	Descriptor *descriptor.Descriptor `json:"-"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every backend compiled and met every expectation.
	Pass bool `json:"pass"`

	// Backends holds one entry per backend that compiled, in scenario
	// order.
	Backends []BackendResult `json:"backends"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Backends: []BackendResult{},
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// BackendNames lists the backends that produced a result, in order.
func (r *Result) BackendNames() []string {
	names := make([]string, len(r.Backends))
	for i, br := range r.Backends {
		names[i] = br.Backend
	}
	return names
}
