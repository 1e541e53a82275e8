package pipeline

import (
	"context"
	"math/rand/v2"
	"testing"

	"go.uber.org/multierr"

	"github.com/roach88/tensorc/internal/interp"
	"github.com/roach88/tensorc/internal/ir"
	"github.com/roach88/tensorc/internal/testutil"
)

// FuzzCompileGraph compiles random graphs under random limits. Compilation
// may fail only with declared error codes, and every artifact it does
// produce must compute what the graph computes.
func FuzzCompileGraph(f *testing.F) {
	f.Add(uint64(1), uint8(3), uint8(0))
	f.Add(uint64(7), uint8(8), uint8(1))
	f.Add(uint64(42), uint8(12), uint8(2))
	f.Add(uint64(99), uint8(5), uint8(3))

	alignments := []int{4, 16, 64}
	limits := []int{0, 32, 96, 4096}

	f.Fuzz(func(t *testing.T, seed uint64, size, knobs uint8) {
		r := rand.New(rand.NewPCG(seed, uint64(size)))
		g, inputs := testutil.RandomGraph(r, 1+int(size%16))
		want, err := interp.EvalGraph(g, inputs)
		if err != nil {
			t.Fatalf("reference evaluation: %v", err)
		}

		cfg := Config{
			Optimize:  knobs&1 == 1,
			Alignment: alignments[int(knobs>>1)%len(alignments)],
			MaxBytes:  limits[int(knobs>>3)%len(limits)],
			Workers:   1 + int(knobs>>5),
		}
		artifacts, err := CompileGraph(context.Background(), g, cfg, WithLogger(quiet))
		for _, e := range multierr.Errors(err) {
			if !ir.IsDeclared(e) {
				t.Fatalf("undeclared error: %v", e)
			}
		}

		for _, a := range artifacts {
			got, err := interp.Run(context.Background(), a.Descriptor, a.Weights, inputs, interp.WithLogger(quiet))
			if err != nil {
				t.Fatalf("%s: %v", a.Backend, err)
			}
			for _, name := range g.Outputs() {
				for i := range want[name] {
					if d := want[name][i] - got[name][i]; d > 1e-4 || d < -1e-4 {
						t.Fatalf("%s: %s[%d] = %g, want %g", a.Backend, name, i, got[name][i], want[name][i])
					}
				}
			}
		}
	})
}
