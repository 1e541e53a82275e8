package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tensorc/internal/ir"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/mlp.yaml")
	require.NoError(t, err)

	assert.Equal(t, "mlp_bias_relu", s.Name)
	assert.Equal(t, filepath.Join("testdata", "scenarios", "mlp.cue"), s.Trace)
	assert.Equal(t, []string{"webassembly", "fallback"}, s.Backends)
	assert.Equal(t, "float16", s.WeightEncoding)
	assert.Equal(t, []float32{1, 2}, s.Inputs["x"])
	assert.Equal(t, []float32{5.5, 0, 18}, s.Expect.Outputs["y"])
	require.NotNil(t, s.Expect.Functions)
	assert.Equal(t, 3, *s.Expect.Functions)
	assert.Equal(t, DefaultTolerance, s.Expect.tolerance())
}

func TestLoadScenario_Errors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "g.cue"), []byte("inputs: []\n"), 0o644))

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown field", "name: a\ndescription: b\ntrace: g.cue\noutput: {}\n", "field output not found"},
		{"missing name", "description: b\ntrace: g.cue\n", "name is required"},
		{"missing description", "name: a\ntrace: g.cue\n", "description is required"},
		{"missing trace", "name: a\ndescription: b\n", "trace is required"},
		{"trace not found", "name: a\ndescription: b\ntrace: nope.cue\n", "trace file not found"},
		{"unknown backend", "name: a\ndescription: b\ntrace: g.cue\nbackends: [webgl]\n", "webgl"},
		{"bad encoding", "name: a\ndescription: b\ntrace: g.cue\nweight_encoding: int4\n", "int4"},
		{"no outputs", "name: a\ndescription: b\ntrace: g.cue\n", "expect.outputs is required"},
		{
			"negative tolerance",
			"name: a\ndescription: b\ntrace: g.cue\nexpect: {tolerance: -1, outputs: {y: [1]}}\n",
			"tolerance must be non-negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "scenario.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := LoadScenario(path)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadScenarios(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)

	var names []string
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"fused_activations", "concat_rows", "mlp_bias_relu"}, names)

	_, err = LoadScenarios(t.TempDir())
	assert.ErrorContains(t, err, "no scenarios found")
}

func TestRun_Scenarios(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := Run(context.Background(), s, WithWorkers(4))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Len(t, result.Backends, len(s.backends()))
		})
	}
}

func TestRun_OptimizedScenarioFusesKernels(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/activations.yaml")
	require.NoError(t, err)

	opt, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.True(t, opt.Pass, "errors: %v", opt.Errors)
	for _, br := range opt.Backends {
		assert.Equal(t, []ir.Kind{ir.KindElementwiseChain}, br.Functions, br.Backend)
	}

	s.Optimize = false
	s.Expect.Functions = nil
	s.Expect.Invocations = nil
	plain, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.True(t, plain.Pass, "errors: %v", plain.Errors)
	assert.Equal(t, 2, plain.Backends[0].Invocations)
}

func TestRun_ReportsMismatches(t *testing.T) {
	s, err := LoadScenario("testdata/broken/wrong_output.yaml")
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "functions mismatch")
	assert.Contains(t, result.Errors[1], "y[9] = 11")
	assert.Equal(t, []string{"fallback"}, result.BackendNames())
}

func TestRun_ReportsMissingInputs(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/concat.yaml")
	require.NoError(t, err)
	delete(s.Inputs, "x1")
	s.Backends = []string{"webgpu"}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "webgpu: missing input x1")
	assert.Empty(t, result.Backends)
}

func TestRunWithGolden(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/concat.yaml")
	require.NoError(t, err)
	require.NoError(t, RunWithGolden(t, s))
}

func TestEvaluateExpectations(t *testing.T) {
	one := 1
	br := BackendResult{
		Backend:     "webgpu",
		Functions:   []ir.Kind{ir.KindConcat},
		Invocations: 2,
		Outputs:     map[string][]float32{"y": {1, 2}},
	}

	assert.Empty(t, EvaluateExpectations(br, Expect{
		Functions: &one,
		Outputs:   map[string][]float32{"y": {1, 2.000001}},
	}))

	errs := EvaluateExpectations(br, Expect{
		Invocations: &one,
		Outputs: map[string][]float32{
			"y": {1},
			"z": {0},
		},
	})
	require.Len(t, errs, 3)
	var ae *AssertionError
	require.ErrorAs(t, errs[0], &ae)
	assert.Equal(t, "invocations", ae.Check)
	assert.Contains(t, errs[1].Error(), "y with 1 values")
	assert.Contains(t, errs[2].Error(), "not produced")
}
