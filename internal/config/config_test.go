package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tensorc/internal/descriptor"
	"github.com/roach88/tensorc/internal/pipeline"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tensorc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
model: models/mlp.cue
weights: /data/mlp.bin
backends: [webassembly, fallback]
optimize: true
output_dir: build
workers: 2
max_iterations: 8
weight_encoding: float16
cache: cache.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	want := &Config{
		Model:          filepath.Join(dir, "models/mlp.cue"),
		Weights:        "/data/mlp.bin",
		Backends:       []string{"webassembly", "fallback"},
		Optimize:       true,
		OutputDir:      filepath.Join(dir, "build"),
		Workers:        2,
		MaxIterations:  8,
		Alignment:      16,
		WeightEncoding: "float16",
		Cache:          filepath.Join(dir, "cache.db"),
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown key", "model: a.cue\nbackend: [webgpu]\n", "field backend not found"},
		{"unknown backend", "backends: [webgl]\n", "webgl"},
		{"bad encoding", "weight_encoding: int8\n", "int8"},
		{"malformed", "model: [\n", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, tt.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Backends = []string{"webgpu", "webgpu", "vulkan"}
	cfg.Workers = -1
	cfg.Alignment = 6
	cfg.MaxBytes = -4

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"vulkan", "listed twice", "workers", "alignment", "max_bytes"} {
		assert.Contains(t, err.Error(), want)
	}
	assert.NoError(t, Default().Validate())
}

func TestPipeline(t *testing.T) {
	cfg := Default()
	cfg.Backends = []string{"webgpu"}
	cfg.Optimize = true
	cfg.MaxBytes = 1 << 20

	got := cfg.Pipeline()
	assert.Equal(t, pipeline.Config{
		Backends:       []string{"webgpu"},
		Optimize:       true,
		Workers:        4,
		Alignment:      16,
		MaxBytes:       1 << 20,
		WeightEncoding: descriptor.EncodingFloat32,
	}, got)

	got.Backends[0] = "fallback"
	assert.Equal(t, "webgpu", cfg.Backends[0])
}
