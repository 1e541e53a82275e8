// Package optimizer rewrites IR graphs with a fixed-point pass pipeline.
//
// Passes never see the caller's graph: each one runs on a clone, and the
// clone is adopted only when the pass reports a change and the result still
// validates. The loop stops when a full round changes nothing or after
// MaxIterations rounds.
package optimizer

import (
	"fmt"
	"log/slog"

	"github.com/roach88/tensorc/internal/ir"
)

// DefaultMaxIterations bounds the number of rounds over the pass list.
const DefaultMaxIterations = 32

// Pass is one graph rewrite. Rewrite mutates g in place and reports whether
// it changed anything. A pass that reports no change must leave g as it
// found it.
type Pass interface {
	Name() string
	Rewrite(g *ir.Graph) (bool, error)
}

// Optimizer runs passes to a fixed point.
type Optimizer struct {
	passes        []Pass
	maxIterations int
	logger        *slog.Logger
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithPasses replaces the default pass list.
func WithPasses(passes ...Pass) Option {
	return func(o *Optimizer) {
		o.passes = passes
	}
}

// WithMaxIterations bounds the number of rounds.
//
// Default: 32 (DefaultMaxIterations)
func WithMaxIterations(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Optimizer) {
		o.logger = l
	}
}

// New creates an Optimizer with DefaultPasses.
func New(opts ...Option) *Optimizer {
	o := &Optimizer{
		passes:        DefaultPasses(),
		maxIterations: DefaultMaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Result reports what an optimization run did.
type Result struct {
	Graph      *ir.Graph
	Iterations int
	// Rewrites lists the passes that changed the graph, in order.
	Rewrites []string
	// Converged is false when MaxIterations stopped the loop.
	Converged bool
}

// Changed reports whether any pass rewrote the graph.
func (r *Result) Changed() bool { return len(r.Rewrites) > 0 }

// Optimize returns the rewritten graph. The input is never mutated.
func (o *Optimizer) Optimize(g *ir.Graph) (*ir.Graph, error) {
	r, err := o.Run(g)
	if err != nil {
		return nil, err
	}
	return r.Graph, nil
}

// Run is Optimize with a report.
func (o *Optimizer) Run(g *ir.Graph) (*Result, error) {
	res := &Result{Graph: g}
	for res.Iterations < o.maxIterations {
		res.Iterations++
		changed := false
		for _, p := range o.passes {
			next := res.Graph.Clone()
			ok, err := p.Rewrite(next)
			if err != nil {
				return nil, fmt.Errorf("pass %s: %w", p.Name(), err)
			}
			if !ok {
				continue
			}
			if err := ir.Validate(next); err != nil {
				return nil, fmt.Errorf("pass %s left an invalid graph: %w", p.Name(), err)
			}
			o.logger.Debug("pass applied",
				"pass", p.Name(),
				"iteration", res.Iterations,
				"operators", len(next.Operators()),
			)
			res.Graph = next
			res.Rewrites = append(res.Rewrites, p.Name())
			changed = true
		}
		if !changed {
			res.Converged = true
			break
		}
	}
	if !res.Converged {
		o.logger.Warn("optimizer stopped before reaching a fixed point",
			"max_iterations", o.maxIterations,
		)
	}
	if res.Changed() {
		sorted := res.Graph.Clone()
		if err := sorted.Sort(); err != nil {
			return nil, err
		}
		res.Graph = sorted
	}
	o.logger.Info("graph optimized",
		"iterations", res.Iterations,
		"rewrites", len(res.Rewrites),
		"operators", len(res.Graph.Operators()),
	)
	return res, nil
}

// Optimize runs the default pipeline with the default logger.
func Optimize(g *ir.Graph) (*ir.Graph, error) {
	return New().Optimize(g)
}
