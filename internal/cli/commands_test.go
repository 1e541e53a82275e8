package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	out, err := execute(t, "validate", mlpTrace)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ "+mlpTrace+" is valid")
	assert.Contains(t, out, "3 operator(s)")

	out, err = execute(t, "validate", "../harness/testdata/scenarios/activations.cue", "--optimize", "--format", "json")
	require.NoError(t, err)
	_, result := decode[ValidationResult](t, out)
	assert.True(t, result.Valid)
	assert.Len(t, result.GraphHash, 64)
	assert.Equal(t, []string{"x"}, result.Inputs)
	assert.Equal(t, []string{"y"}, result.Outputs)
	assert.Equal(t, map[string]int{"ElementwiseChain": 1}, result.Kinds)
}

func TestValidate_MissingTrace(t *testing.T) {
	out, err := execute(t, "validate", "nope.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [T001]")
}

func TestRun(t *testing.T) {
	out, err := execute(t, "run", mlpTrace, "--input", "x=1,2")
	require.NoError(t, err)
	assert.Equal(t, "y = [5.5 0 18]\n", out)

	out, err = execute(t, "run", mlpTrace, "--backend", "webgpu", "--optimize", "--input", "x=1, 2", "--format", "json")
	require.NoError(t, err)
	_, result := decode[RunResult](t, out)
	assert.Equal(t, "webgpu", result.Backend)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, map[string][]float32{"y": {5.5, 0, 18}}, result.Outputs)
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		exit int
		want string
	}{
		{"missing input", []string{mlpTrace}, ExitFailure, "missing input x"},
		{"malformed input", []string{mlpTrace, "--input", "x"}, ExitCommandError, "Error [E008]"},
		{"unknown backend", []string{mlpTrace, "--backend", "webgl", "--input", "x=1,2"}, ExitFailure, "webgl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"run"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, tt.exit, GetExitCode(err))
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestParseInputs(t *testing.T) {
	inputs, err := ParseInputs([]string{"x=1,2.5,-3", " y = 4 ", "z="})
	require.NoError(t, err)
	assert.Equal(t, map[string][]float32{
		"x": {1, 2.5, -3},
		"y": {4},
		"z": nil,
	}, inputs)

	for _, bad := range [][]string{{"x"}, {"=1"}, {"x=1", "x=2"}, {"x=one"}} {
		_, err := ParseInputs(bad)
		assert.Error(t, err, bad)
	}
}

func TestTestCommand(t *testing.T) {
	out, err := execute(t, "test", scenariosDir, "--golden-dir", harnessGoldenDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ concat_rows")
	assert.Contains(t, out, "✓ mlp_bias_relu")
	assert.Contains(t, out, "Test Summary: 3 passed, 0 failed, 3 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommand_Filter(t *testing.T) {
	out, err := execute(t, "test", scenariosDir, "--filter", "mlp*", "--format", "json")
	require.NoError(t, err)
	resp, result := decode[TestResult](t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, "mlp_bias_relu", result.Scenarios[0].Name)
}

func TestTestCommand_Update(t *testing.T) {
	goldenDir := filepath.Join(t.TempDir(), "golden")
	out, err := execute(t, "test", scenariosDir, "--golden-dir", goldenDir, "--update")
	require.NoError(t, err, out)
	assert.Contains(t, out, "(golden updated)")

	written, err := os.ReadFile(filepath.Join(goldenDir, "concat_rows.golden"))
	require.NoError(t, err)
	committed, err := os.ReadFile(filepath.Join(harnessGoldenDir, "concat_rows.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(committed), string(written))

	// A tampered golden file fails the next run.
	require.NoError(t, os.WriteFile(filepath.Join(goldenDir, "mlp_bias_relu.golden"), []byte("{}"), 0o644))
	out, err = execute(t, "test", scenariosDir, "--golden-dir", goldenDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ mlp_bias_relu")
	assert.Contains(t, out, "snapshot does not match golden file")
}

func TestTestCommand_Failures(t *testing.T) {
	out, err := execute(t, "test", brokenScenarios, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	resp, result := decode[TestResult](t, out)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	assert.Equal(t, 1, result.Failed)
	assert.NotEmpty(t, result.Scenarios[0].Errors)

	_, err = execute(t, "test", "no/such/dir")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err = execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestCacheList_Errors(t *testing.T) {
	_, err := execute(t, "cache", "ls")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"db" not set`)

	db := filepath.Join(t.TempDir(), "missing.db")
	out, err := execute(t, "cache", "ls", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
	assert.NoFileExists(t, db)
}

func TestCacheList_Empty(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "cache.db")
	_, err := execute(t, "compile", mlpTrace, "-o", dir, "--backend", "fallback", "--cache", db)
	require.NoError(t, err)

	out, err := execute(t, "cache", "ls", "--db", db, "--graph", "0000")
	require.NoError(t, err)
	assert.Equal(t, "No runs recorded.\n", out)
}
