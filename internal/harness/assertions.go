package harness

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// AssertionError is returned when an expectation fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Backend  string
	Check    string // "output", "functions" or "invocations"
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s: %s mismatch\n", e.Backend, e.Check)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateExpectations checks one backend's result against the scenario.
// Returns every failure; nil when all expectations hold.
func EvaluateExpectations(br BackendResult, expect Expect) []error {
	var errs []error
	if expect.Functions != nil && len(br.Functions) != *expect.Functions {
		errs = append(errs, &AssertionError{
			Backend:  br.Backend,
			Check:    "functions",
			Expected: fmt.Sprintf("%d", *expect.Functions),
			Actual:   fmt.Sprintf("%d %v", len(br.Functions), br.Functions),
		})
	}
	if expect.Invocations != nil && br.Invocations != *expect.Invocations {
		errs = append(errs, &AssertionError{
			Backend:  br.Backend,
			Check:    "invocations",
			Expected: fmt.Sprintf("%d", *expect.Invocations),
			Actual:   fmt.Sprintf("%d", br.Invocations),
		})
	}

	names := make([]string, 0, len(expect.Outputs))
	for name := range expect.Outputs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := compareOutput(br, name, expect.Outputs[name], expect.tolerance()); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func compareOutput(br BackendResult, name string, want []float32, tol float64) error {
	got, ok := br.Outputs[name]
	if !ok {
		return &AssertionError{
			Backend:  br.Backend,
			Check:    "output",
			Expected: fmt.Sprintf("output %s", name),
			Actual:   "not produced",
		}
	}
	if len(got) != len(want) {
		return &AssertionError{
			Backend:  br.Backend,
			Check:    "output",
			Expected: fmt.Sprintf("%s with %d values", name, len(want)),
			Actual:   fmt.Sprintf("%d values", len(got)),
		}
	}
	for i := range want {
		d := math.Abs(float64(got[i]) - float64(want[i]))
		if math.IsNaN(d) || d > tol {
			return &AssertionError{
				Backend:  br.Backend,
				Check:    "output",
				Expected: fmt.Sprintf("%s[%d] = %g (tolerance %g)", name, i, want[i], tol),
				Actual:   fmt.Sprintf("%g", got[i]),
			}
		}
	}
	return nil
}
