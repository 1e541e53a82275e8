package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tensorc/internal/backend"
	"github.com/roach88/tensorc/internal/descriptor"
	"github.com/roach88/tensorc/internal/ir"
	"github.com/roach88/tensorc/internal/kernel"
	"github.com/roach88/tensorc/internal/layout"
	"github.com/roach88/tensorc/internal/testutil"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// compiled lowers a one-operator graph for a backend.
func compiled(t *testing.T, kind ir.Kind, backendName, runID string) *descriptor.Descriptor {
	t.Helper()
	g, _, err := testutil.KindGraph(kind)
	require.NoError(t, err)
	b, err := backend.Lookup(backendName)
	require.NoError(t, err)
	l, err := layout.Allocate(g)
	require.NoError(t, err)
	res, err := kernel.Lower(g, l, b)
	require.NoError(t, err)
	d, _, err := descriptor.Assemble(g, l, res, descriptor.WithRunID(runID))
	require.NoError(t, err)
	return d
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"runs", "functions", "run_functions"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q missing", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.pragma(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen_MigratesOldDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("DROP INDEX idx_runs_graph")
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	s.Close()

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_runs_graph'").Scan(&name)
	assert.NoError(t, err)
}

func TestRecordRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	d := compiled(t, ir.KindLinear, "webassembly", "run-a")

	run, inserted, err := s.RecordRun(ctx, d, 96)
	require.NoError(t, err)
	assert.True(t, inserted)

	id, err := d.ID()
	require.NoError(t, err)
	assert.Equal(t, Run{
		ID:              "run-a",
		Backend:         "webassembly",
		GraphHash:       d.GraphHash,
		DescriptorID:    id,
		WeightEncoding:  "float32",
		FunctionCount:   1,
		InvocationCount: 1,
		StaticBytes:     d.Layout.StaticSize,
		DynamicBytes:    d.Layout.DynamicSize,
		WeightBytes:     96,
		Seq:             1,
	}, run)

	got, ok, err := s.Run(ctx, "run-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, run, got)

	_, ok, err = s.Run(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	d := compiled(t, ir.KindReLU, "webgpu", "run-a")

	first, inserted, err := s.RecordRun(ctx, d, 0)
	require.NoError(t, err)
	require.True(t, inserted)

	second, inserted, err := s.RecordRun(ctx, d, 0)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first, second)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRecordRun_RequiresRunID(t *testing.T) {
	s := createTestStore(t)
	_, _, err := s.RecordRun(context.Background(), compiled(t, ir.KindReLU, "webgpu", ""), 0)
	assert.ErrorContains(t, err, "no run ID")
}

func TestRuns_OrderedBySeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)

	for _, id := range []string{"zeta", "alpha", "mid"} {
		_, _, err := s.RecordRun(ctx, compiled(t, ir.KindSoftmax, "webassembly", id), 0)
		require.NoError(t, err)
	}

	runs, err = s.Runs(ctx)
	require.NoError(t, err)
	var ids []string
	var seqs []int64
	for _, r := range runs {
		ids = append(ids, r.ID)
		seqs = append(seqs, r.Seq)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, ids)
	assert.Equal(t, []int64{1, 2, 3}, seqs)
}

func TestRunsForGraph(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	relu := compiled(t, ir.KindReLU, "webassembly", "r1")
	for _, d := range []*descriptor.Descriptor{
		relu,
		compiled(t, ir.KindReLU, "webgpu", "r2"),
		compiled(t, ir.KindTranspose, "webassembly", "t1"),
	} {
		_, _, err := s.RecordRun(ctx, d, 0)
		require.NoError(t, err)
	}

	all, err := s.RunsForGraph(ctx, relu.GraphHash, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	wasm, err := s.RunsForGraph(ctx, relu.GraphHash, "webassembly")
	require.NoError(t, err)
	require.Len(t, wasm, 1)
	assert.Equal(t, "r1", wasm[0].ID)
}

func TestFunctions_SharedAcrossRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := compiled(t, ir.KindConvolution2D, "webassembly", "a")
	b := compiled(t, ir.KindConvolution2D, "webassembly", "b")
	require.Equal(t, a.Functions[0].Signature, b.Functions[0].Signature)

	for _, d := range []*descriptor.Descriptor{a, b, compiled(t, ir.KindConvolution2D, "fallback", "c")} {
		_, _, err := s.RecordRun(ctx, d, 0)
		require.NoError(t, err)
	}

	counts, err := s.FunctionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"fallback": 1, "webassembly": 1}, counts)

	fns, err := s.RunFunctions(ctx, "b")
	require.NoError(t, err)
	require.Len(t, fns, 1)
	want := a.Functions[0]
	assert.Equal(t, "webassembly", fns[0].Backend)
	assert.Equal(t, want.Name, fns[0].Name)
	assert.Equal(t, want.Kind, fns[0].Kind)
	assert.Equal(t, want.Schema, fns[0].Schema)
	assert.Equal(t, a.Sources()[want.Name], fns[0].Source)

	fn, ok, err := s.Function(ctx, "webassembly", want.Signature)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fns[0], fn)

	_, ok, err = s.Function(ctx, "webgpu", want.Signature)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFunctions_ActivationsRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	d := compiled(t, ir.KindElementwiseChain, "webgpu", "chain")
	_, _, err := s.RecordRun(ctx, d, 0)
	require.NoError(t, err)

	fns, err := s.RunFunctions(ctx, "chain")
	require.NoError(t, err)
	require.Len(t, fns, 1)
	assert.Equal(t, d.Functions[0].Activations, fns[0].Activations)
	assert.NotEmpty(t, fns[0].Activations)

	plain := compiled(t, ir.KindTranspose, "webgpu", "plain")
	_, _, err = s.RecordRun(ctx, plain, 0)
	require.NoError(t, err)
	fns, err = s.RunFunctions(ctx, "plain")
	require.NoError(t, err)
	require.Len(t, fns, 1)
	assert.Nil(t, fns[0].Activations)
}
