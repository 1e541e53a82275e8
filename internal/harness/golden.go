package harness

import (
	"context"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tensorc/internal/ir"
)

// snapshot converts a result to canonical-JSON-ready values. Signatures,
// function names and hashes are left out so the snapshot reads as a
// layout and numeric record.
func snapshot(name string, result *Result) map[string]any {
	backends := make([]any, len(result.Backends))
	for i, br := range result.Backends {
		kinds := make([]string, len(br.Functions))
		for j, k := range br.Functions {
			kinds[j] = string(k)
		}

		allocs := make([]any, len(br.Descriptor.Layout.Allocations))
		for j, a := range br.Descriptor.Layout.Allocations {
			allocs[j] = map[string]any{
				"name":   a.Name,
				"buffer": string(a.Buffer),
				"offset": a.Offset,
				"size":   a.Size,
				"order":  a.Order.String(),
			}
		}

		outputs := make(map[string]any, len(br.Outputs))
		for out, values := range br.Outputs {
			formatted := make([]string, len(values))
			for j, v := range values {
				formatted[j] = fmt.Sprintf("%.4f", v)
			}
			outputs[out] = formatted
		}

		backends[i] = map[string]any{
			"backend":       br.Backend,
			"functions":     kinds,
			"invocations":   br.Invocations,
			"static_bytes":  br.Descriptor.Layout.StaticSize,
			"dynamic_bytes": br.Descriptor.Layout.DynamicSize,
			"allocations":   allocs,
			"outputs":       outputs,
		}
	}
	return map[string]any{
		"scenario": name,
		"backends": backends,
	}
}

// Snapshot returns the canonical JSON snapshot of a result, the content
// of its golden file.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	return ir.MarshalCanonical(snapshot(scenarioName, result))
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if the scenario cannot run or fails its expectations.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) error {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts...)
	if err != nil {
		return err
	}
	if !result.Pass {
		return fmt.Errorf("scenario %s failed: %v", scenario.Name, result.Errors)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
