package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tensorc/internal/testutil"
)

func TestCompile_WritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "compile", mlpTrace,
		"--backend", "webassembly", "--backend", "fallback",
		"-o", dir)
	require.NoError(t, err, out)

	assert.Contains(t, out, "✓ Compiled mlp.cue for 2 backend(s)")
	assert.Contains(t, out, "webassembly: 3 function(s), 3 invocation(s)")
	for _, name := range []string{
		"graph_webassembly.json", "kernels_webassembly.c", "weight_webassembly.bin",
		"graph_fallback.json", "weight_fallback.bin",
	} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	assert.NoFileExists(t, filepath.Join(dir, "graph_webgpu.json"))
}

func TestCompile_JSONAndCache(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "cache.db")

	out, err := execute(t, "compile", mlpTrace, "-o", dir, "--cache", db, "--format", "json", "--optimize")
	require.NoError(t, err, out)
	resp, result := decode[CompileResult](t, out)
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, result.Artifacts, 3)
	assert.Equal(t, []string{"webgpu", "webassembly", "fallback"},
		[]string{result.Artifacts[0].Backend, result.Artifacts[1].Backend, result.Artifacts[2].Backend})
	for _, a := range result.Artifacts {
		assert.True(t, a.Cached, a.Backend)
		assert.Len(t, a.DescriptorID, 64)
		assert.Equal(t, 48, a.StaticBytes, a.Backend)
	}

	out, err = execute(t, "cache", "ls", "--db", db, "--format", "json")
	require.NoError(t, err, out)
	_, listing := decode[CacheListing](t, out)
	require.Len(t, listing.Runs, 3)
	assert.Equal(t, result.Artifacts[0].RunID, listing.Runs[0].ID)
	assert.Equal(t, int64(3), listing.Runs[2].Seq)
	assert.Equal(t, 3, listing.Functions["webgpu"])

	out, err = execute(t, "cache", "ls", "--db", db, "--graph", listing.Runs[0].GraphHash, "--backend", "fallback")
	require.NoError(t, err)
	assert.Contains(t, out, "fallback")
	assert.NotContains(t, out, "webgpu  ")
}

func TestCompile_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	model, err := os.ReadFile(mlpTrace)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mlp.cue"), model, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tensorc.yaml"), []byte(`
model: mlp.cue
backends: [webgpu]
output_dir: build
weight_encoding: float16
`), 0o644))

	out, err := execute(t, "compile", "--config", filepath.Join(dir, "tensorc.yaml"), "--backend", "fallback")
	require.NoError(t, err, out)

	assert.FileExists(t, filepath.Join(dir, "build", "graph_fallback.json"))
	assert.NoFileExists(t, filepath.Join(dir, "build", "graph_webgpu.json"))
	blob, err := os.ReadFile(filepath.Join(dir, "build", "weight_fallback.bin"))
	require.NoError(t, err)
	assert.Equal(t, 48/2, len(blob))
}

func TestCompile_DeterministicRunIDs(t *testing.T) {
	opts := &CompileOptions{RootOptions: &RootOptions{Format: "json"}, RunIDs: testutil.NewFixedRunIDs("only")}
	cmd := newCompileCommand(opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{mlpTrace, "--backend", "webgpu", "-o", t.TempDir()})
	require.NoError(t, cmd.Execute())

	_, result := decode[CompileResult](t, out.String())
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "only", result.Artifacts[0].RunID)
	assert.Equal(t, []string{"graph_webgpu.json", "kernels_webgpu.metal", "weight_webgpu.bin"}, result.Artifacts[0].Files)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code string
		exit int
	}{
		{"missing trace", []string{"compile", "nope.cue"}, "T001", ExitCommandError},
		{"no trace", []string{"compile"}, ErrCodeConfig, ExitCommandError},
		{"unknown backend", []string{"compile", mlpTrace, "--backend", "webgl"}, ErrCodeConfig, ExitCommandError},
		{"bad encoding", []string{"compile", mlpTrace, "--weight-encoding", "int8"}, ErrCodeConfig, ExitCommandError},
		{"missing config", []string{"compile", "--config", "nope.yaml"}, ErrCodeConfig, ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append(tt.args, "--format", "json", "-o", t.TempDir())...)
			require.Error(t, err)
			assert.Equal(t, tt.exit, GetExitCode(err))
			resp, _ := decode[any](t, out)
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestCompile_ShapeErrorIsACompileFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.cue")
	require.NoError(t, os.WriteFile(path, []byte(`
inputs: ["x"]
outputs: ["y"]
tensors: {
	x: shape: [1, 2]
	w: {shape: [3, 4], values: [1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12]}
	y: shape: [1, 3]
}
nodes: [{op: "LinearFunction", inputs: ["x", "w"], outputs: ["y"]}]
`), 0o644))

	out, err := execute(t, "compile", path, "-o", dir)
	require.Error(t, err)
	assert.Contains(t, out, "SHAPE")
}
