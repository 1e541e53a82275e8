package kernel

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/tensorc/internal/ir"
	"github.com/roach88/tensorc/internal/layout"
)

// Result is the lowered form of a graph for one backend.
type Result struct {
	Backend  string
	Preamble string
	// Functions holds each distinct function once, in order of first use.
	Functions []Function
	// Exec holds one invocation per operator in topological order.
	Exec []Invocation
}

// Kernels pairs every invocation with its function.
func (r *Result) Kernels() []Kernel {
	byName := make(map[string]Function, len(r.Functions))
	for _, fn := range r.Functions {
		byName[fn.Name] = fn
	}
	out := make([]Kernel, len(r.Exec))
	for i, inv := range r.Exec {
		out[i] = Kernel{Function: byName[inv.Function], Invocation: inv}
	}
	return out
}

type lowerConfig struct {
	workers int
	ctx     context.Context
	logger  *slog.Logger
}

// LowerOption configures Lower.
type LowerOption func(*lowerConfig)

// WithWorkers generates up to n operators concurrently. Values below 2 keep
// generation sequential.
func WithWorkers(n int) LowerOption {
	return func(c *lowerConfig) {
		c.workers = n
	}
}

// WithContext stops generation early when ctx is done.
func WithContext(ctx context.Context) LowerOption {
	return func(c *lowerConfig) {
		c.ctx = ctx
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) LowerOption {
	return func(c *lowerConfig) {
		c.logger = l
	}
}

// Lower plans and emits every operator of g in topological order.
func Lower(g *ir.Graph, l *layout.Layout, backend Backend, opts ...LowerOption) (*Result, error) {
	cfg := &lowerConfig{workers: 1, ctx: context.Background(), logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	ops, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	table := NewTable()
	slots := make([]Kernel, len(ops))
	eg, ctx := errgroup.WithContext(cfg.ctx)
	eg.SetLimit(max(cfg.workers, 1))
	for i, op := range ops {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			plan, err := NewPlan(op, l)
			if err != nil {
				return err
			}
			fn, err := backend.Emit(plan)
			if err != nil {
				return err
			}
			fn, fresh := table.Intern(fn)
			cfg.logger.Debug("kernel emitted",
				"backend", backend.Name(),
				"op", op.ID,
				"function", fn.Name,
				"new", fresh,
			)
			slots[i] = Kernel{
				Function: fn,
				Invocation: Invocation{
					Function: fn.Name,
					Op:       op.ID,
					Meta:     plan.Meta.Buffer(),
					Inputs:   op.InputVars(),
					Outputs:  op.OutputVars(),
				},
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Backend: backend.Name(), Preamble: backend.Preamble(), Exec: make([]Invocation, len(slots))}
	seen := make(map[string]bool, table.Len())
	for i, k := range slots {
		res.Exec[i] = k.Invocation
		if !seen[k.Signature] {
			seen[k.Signature] = true
			res.Functions = append(res.Functions, k.Function)
		}
	}
	cfg.logger.Debug("graph lowered",
		"backend", backend.Name(),
		"operators", len(res.Exec),
		"functions", len(res.Functions),
	)
	return res, nil
}
