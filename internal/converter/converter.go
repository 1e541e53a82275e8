// Package converter turns a traced framework graph into an IR graph.
//
// Each framework operation name maps to a lowering function that emits one
// or more IR operators. Lowerings run in trace order, so every operand is
// either a graph input, a constant, or the output of an earlier node.
package converter

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/tensorc/internal/ir"
	"github.com/roach88/tensorc/internal/trace"
)

// Converter lowers traces to IR graphs.
type Converter struct {
	lowerings map[string]Lowering
	logger    *slog.Logger
}

// Option configures a Converter.
type Option func(*Converter)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Converter) {
		c.logger = l
	}
}

// WithLowering adds or replaces the lowering for a framework operation.
func WithLowering(op string, fn Lowering) Option {
	return func(c *Converter) {
		c.lowerings[op] = fn
	}
}

// New creates a Converter with the built-in lowerings.
func New(opts ...Option) *Converter {
	c := &Converter{
		lowerings: make(map[string]Lowering, len(builtin)),
		logger:    slog.Default(),
	}
	for op, fn := range builtin {
		c.lowerings[op] = fn
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Supported lists the framework operations the converter understands.
func (c *Converter) Supported() []string {
	ops := make([]string, 0, len(c.lowerings))
	for op := range c.lowerings {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

// Convert is shorthand for New().Convert(tg) with logging discarded.
func Convert(tg *trace.Graph) (*ir.Graph, error) {
	return New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))).Convert(tg)
}

// Convert builds and validates the IR graph for tg.
func (c *Converter) Convert(tg *trace.Graph) (*ir.Graph, error) {
	s := &State{trace: tg, graph: ir.NewGraph()}

	for _, name := range tg.Inputs {
		t, _ := tg.Tensor(name)
		order, err := t.AxisOrder()
		if err != nil {
			return nil, ir.NewConversionError("", fmt.Sprintf("input %s: %v", name, err), nil)
		}
		v, err := ir.NewVariable(name, t.Shape, order)
		if err != nil {
			return nil, ir.NewConversionError("", fmt.Sprintf("input %s", name), err)
		}
		if err := s.graph.AddVariable(v); err != nil {
			return nil, err
		}
		if err := s.graph.MarkInput(name); err != nil {
			return nil, err
		}
	}

	for i, n := range tg.Nodes {
		fn, ok := c.lowerings[n.Op]
		if !ok {
			return nil, ir.NewConversionError(n.Op, fmt.Sprintf("node %d: no IR mapping for %q", i, n.Op), nil)
		}
		before := len(s.graph.Operators())
		if err := fn(s, n); err != nil {
			if ir.IsConversionError(err) {
				return nil, err
			}
			return nil, ir.NewConversionError(n.Op, fmt.Sprintf("node %d", i), err)
		}
		c.logger.Debug("node converted",
			"index", i,
			"op", n.Op,
			"ir_ops", len(s.graph.Operators())-before,
		)
	}

	for _, name := range tg.Outputs {
		if _, err := s.Operand(name); err != nil {
			return nil, ir.NewConversionError("", fmt.Sprintf("output %s", name), err)
		}
		if err := s.graph.MarkOutput(name); err != nil {
			return nil, err
		}
	}

	if err := ir.Validate(s.graph); err != nil {
		return nil, err
	}
	c.logger.Info("trace converted",
		"trace", tg.Name,
		"nodes", len(tg.Nodes),
		"operators", len(s.graph.Operators()),
		"variables", len(s.graph.Variables()),
	)
	return s.graph, nil
}

// State is the graph under construction, handed to lowerings.
type State struct {
	trace *trace.Graph
	graph *ir.Graph
}

// Graph returns the IR graph being built.
func (s *State) Graph() *ir.Graph { return s.graph }

// Operand resolves a trace tensor to an IR variable. Constants are wrapped
// on first use with their declared (or framework-native) order.
func (s *State) Operand(name string) (*ir.Variable, error) {
	if v, ok := s.graph.Variable(name); ok {
		return v, nil
	}
	t, ok := s.trace.Tensor(name)
	if !ok {
		return nil, fmt.Errorf("unknown tensor %s", name)
	}
	if !t.IsConstant() {
		return nil, fmt.Errorf("tensor %s is used before it is produced", name)
	}
	order, err := t.AxisOrder()
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	v, err := s.graph.AddConstant(name, t.Resolved, t.Shape, order)
	if err != nil {
		return nil, err
	}
	v.Attributes = v.Attributes.With(ir.AttrTrainable)
	return v, nil
}

// Constant registers a derived constant under a fresh name.
func (s *State) Constant(prefix string, data []float32, shape []int, order ir.AxisOrder) (*ir.Variable, error) {
	return s.graph.AddConstant(s.graph.FreshName(prefix), data, shape, order)
}

// Apply emits one IR operator. An empty out gets a fresh intermediate name.
// A named out must match the traced tensor's declared shape.
func (s *State) Apply(kind ir.Kind, params ir.Params, inputs []ir.Port, out string) (*ir.Variable, error) {
	_, y, err := s.graph.Apply(kind, params, inputs, out)
	if err != nil {
		return nil, err
	}
	if t, ok := s.trace.Tensor(out); ok {
		if err := checkDeclared(y, t); err != nil {
			return nil, err
		}
	}
	return y, nil
}

// checkDeclared compares an inferred variable with the traced tensor. With
// an explicit order, per-axis sizes must match; otherwise positional sizes.
func checkDeclared(y *ir.Variable, t trace.Tensor) error {
	mismatch := func() error {
		return ir.NewShapeError(y.Name, fmt.Sprintf("inferred %v(%s) but the trace declares %v(%s)", y.Shape, y.Order, t.Shape, t.Order))
	}
	if t.Order == "" {
		if !slices.Equal(y.Shape, t.Shape) {
			return mismatch()
		}
		return nil
	}
	order, err := ir.ParseOrder(t.Order)
	if err != nil || !order.IsPermutationOf(y.Order) {
		return mismatch()
	}
	for i := 0; i < order.Len(); i++ {
		if s, _ := y.ShapeOf(order.At(i)); s != t.Shape[i] {
			return mismatch()
		}
	}
	return nil
}
