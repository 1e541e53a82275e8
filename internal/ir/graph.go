package ir

import (
	"fmt"
	"slices"
)

// Graph owns every Variable and Operator of a computation plus the
// designated inputs and outputs.
//
// INVARIANTS (checked by Validate):
//   - acyclic
//   - every non-input, non-constant variable has exactly one producer
//   - operators only reference variables of this graph
//   - graph inputs and constants have no producer
type Graph struct {
	vars     map[string]*Variable
	varOrder []string
	ops      []*Operator
	inputs   []string
	outputs  []string
	nextID   int
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{vars: make(map[string]*Variable)}
}

// AddVariable registers a variable. Names are unique within a graph.
func (g *Graph) AddVariable(v *Variable) error {
	if v == nil {
		return NewInvalidGraphError("nil variable", nil)
	}
	if err := v.check(); err != nil {
		return err
	}
	if _, exists := g.vars[v.Name]; exists {
		return &CompileError{Code: ErrCodeInvalidGraph, Message: "duplicate variable", Variable: v.Name}
	}
	g.vars[v.Name] = v
	g.varOrder = append(g.varOrder, v.Name)
	return nil
}

// AddConstant wraps data as a constant with an explicit order and registers
// it.
func (g *Graph) AddConstant(name string, data []float32, shape []int, order AxisOrder) (*Variable, error) {
	v, err := NewConstant(name, data, shape, order)
	if err != nil {
		return nil, err
	}
	if err := g.AddVariable(v); err != nil {
		return nil, err
	}
	return v, nil
}

// SetVariable replaces the variable registered under v.Name, keeping its
// position. Used by rewrites that turn a computed variable into a constant.
func (g *Graph) SetVariable(v *Variable) error {
	if _, exists := g.vars[v.Name]; !exists {
		return &CompileError{Code: ErrCodeInvalidGraph, Message: "unknown variable", Variable: v.Name}
	}
	if err := v.check(); err != nil {
		return err
	}
	g.vars[v.Name] = v
	return nil
}

// MarkInput designates a variable as a graph input.
func (g *Graph) MarkInput(name string) error {
	v, ok := g.vars[name]
	if !ok {
		return &CompileError{Code: ErrCodeInvalidGraph, Message: "unknown input", Variable: name}
	}
	if !slices.Contains(g.inputs, name) {
		g.inputs = append(g.inputs, name)
	}
	v.Attributes = v.Attributes.With(AttrInput)
	return nil
}

// MarkOutput designates a variable as a graph output.
func (g *Graph) MarkOutput(name string) error {
	v, ok := g.vars[name]
	if !ok {
		return &CompileError{Code: ErrCodeInvalidGraph, Message: "unknown output", Variable: name}
	}
	if !slices.Contains(g.outputs, name) {
		g.outputs = append(g.outputs, name)
	}
	v.Attributes = v.Attributes.With(AttrOutput)
	return nil
}

// AddOperator appends an operator. Every referenced variable must already
// exist and outputs must not have another producer. An empty ID is assigned.
func (g *Graph) AddOperator(op *Operator) error {
	if !op.Kind.Valid() {
		return NewInvalidGraphError(fmt.Sprintf("unknown operator kind %q", op.Kind), nil)
	}
	if op.ID == "" {
		op.ID = g.FreshName(string(op.Kind))
	}
	if g.Operator(op.ID) != nil {
		return &CompileError{Code: ErrCodeInvalidGraph, Message: "duplicate operator id", Operator: op.ID}
	}
	for _, p := range op.Inputs {
		if _, ok := g.vars[p.Var]; !ok {
			return &CompileError{Code: ErrCodeInvalidGraph, Message: fmt.Sprintf("input slot %s references unknown variable", p.Slot), Operator: op.ID, Variable: p.Var}
		}
	}
	for _, p := range op.Outputs {
		v, ok := g.vars[p.Var]
		if !ok {
			return &CompileError{Code: ErrCodeInvalidGraph, Message: fmt.Sprintf("output slot %s references unknown variable", p.Slot), Operator: op.ID, Variable: p.Var}
		}
		if v.IsConstant() || v.Attributes.Has(AttrInput) {
			return &CompileError{Code: ErrCodeInvalidGraph, Message: "operator cannot produce a constant or graph input", Operator: op.ID, Variable: p.Var}
		}
		if prev := g.Producer(p.Var); prev != nil {
			return &CompileError{Code: ErrCodeInvalidGraph, Message: fmt.Sprintf("variable already produced by %s", prev.ID), Operator: op.ID, Variable: p.Var}
		}
	}
	g.ops = append(g.ops, op)
	return nil
}

// Apply infers the output of kind over the named inputs, registers a new
// output variable called out, and appends the operator. Inputs bind to the
// given slots in order.
func (g *Graph) Apply(kind Kind, params Params, inputs []Port, out string) (*Operator, *Variable, error) {
	vars := make([]*Variable, len(inputs))
	for i, p := range inputs {
		v, ok := g.vars[p.Var]
		if !ok {
			return nil, nil, &CompileError{Code: ErrCodeInvalidGraph, Message: "unknown variable", Variable: p.Var}
		}
		vars[i] = v
	}
	shape, order, err := Infer(kind, params, vars)
	if err != nil {
		return nil, nil, err
	}
	if out == "" {
		out = g.FreshName("v")
	}
	y, err := NewVariable(out, shape, order)
	if err != nil {
		return nil, nil, err
	}
	if err := g.AddVariable(y); err != nil {
		return nil, nil, err
	}
	op := &Operator{
		Kind:    kind,
		Inputs:  slices.Clone(inputs),
		Outputs: []Port{{Slot: "y", Var: out}},
		Params:  params,
	}
	if err := g.AddOperator(op); err != nil {
		return nil, nil, err
	}
	return op, y, nil
}

// FreshName returns a name with the given prefix not used by any variable
// or operator of the graph.
func (g *Graph) FreshName(prefix string) string {
	for {
		name := fmt.Sprintf("%s_%d", prefix, g.nextID)
		g.nextID++
		if _, ok := g.vars[name]; ok {
			continue
		}
		if g.Operator(name) != nil {
			continue
		}
		return name
	}
}

// Variable returns the named variable.
func (g *Graph) Variable(name string) (*Variable, bool) {
	v, ok := g.vars[name]
	return v, ok
}

// MustVariable returns the named variable or panics. Use only in tests.
func (g *Graph) MustVariable(name string) *Variable {
	v, ok := g.vars[name]
	if !ok {
		panic(fmt.Sprintf("unknown variable %q", name))
	}
	return v
}

// Variables returns all variables in registration order.
func (g *Graph) Variables() []*Variable {
	out := make([]*Variable, 0, len(g.varOrder))
	for _, name := range g.varOrder {
		out = append(out, g.vars[name])
	}
	return out
}

// Operators returns all operators in insertion order.
func (g *Graph) Operators() []*Operator {
	return slices.Clone(g.ops)
}

// Operator returns the operator with the given ID, or nil.
func (g *Graph) Operator(id string) *Operator {
	for _, op := range g.ops {
		if op.ID == id {
			return op
		}
	}
	return nil
}

// Inputs returns the designated input names.
func (g *Graph) Inputs() []string { return slices.Clone(g.inputs) }

// Outputs returns the designated output names.
func (g *Graph) Outputs() []string { return slices.Clone(g.outputs) }

// IsOutput reports whether name is a designated output.
func (g *Graph) IsOutput(name string) bool { return slices.Contains(g.outputs, name) }

// IsInput reports whether name is a designated input.
func (g *Graph) IsInput(name string) bool { return slices.Contains(g.inputs, name) }

// Producer returns the operator producing name, or nil.
func (g *Graph) Producer(name string) *Operator {
	for _, op := range g.ops {
		for _, p := range op.Outputs {
			if p.Var == name {
				return op
			}
		}
	}
	return nil
}

// Consumers returns every operator reading name, in insertion order.
// An operator reading the variable through several slots is listed once.
func (g *Graph) Consumers(name string) []*Operator {
	var out []*Operator
	for _, op := range g.ops {
		for _, p := range op.Inputs {
			if p.Var == name {
				out = append(out, op)
				break
			}
		}
	}
	return out
}

// TopologicalOrder returns operators so that every producer precedes its
// consumers. Ties keep insertion order, so the result is deterministic.
func (g *Graph) TopologicalOrder() ([]*Operator, error) {
	producer := make(map[string]int, len(g.ops))
	for i, op := range g.ops {
		for _, p := range op.Outputs {
			producer[p.Var] = i
		}
	}
	indegree := make([]int, len(g.ops))
	succ := make([][]int, len(g.ops))
	for i, op := range g.ops {
		seen := make(map[int]bool)
		for _, p := range op.Inputs {
			j, ok := producer[p.Var]
			if !ok || seen[j] {
				continue
			}
			seen[j] = true
			indegree[i]++
			succ[j] = append(succ[j], i)
		}
	}

	ordered := make([]*Operator, 0, len(g.ops))
	done := make([]bool, len(g.ops))
	for len(ordered) < len(g.ops) {
		progressed := false
		for i := range g.ops {
			if done[i] || indegree[i] != 0 {
				continue
			}
			done[i] = true
			progressed = true
			ordered = append(ordered, g.ops[i])
			for _, j := range succ[i] {
				indegree[j]--
			}
			break
		}
		if !progressed {
			cycles := FindCycles(g)
			return nil, NewInvalidGraphError(fmt.Sprintf("graph has a cycle: %v", cycles), nil)
		}
	}
	return ordered, nil
}

// Sort reorders the operators topologically in place.
func (g *Graph) Sort() error {
	ordered, err := g.TopologicalOrder()
	if err != nil {
		return err
	}
	g.ops = ordered
	return nil
}

// RemoveOperator deletes the operator with the given ID. Its variables stay
// registered; use Prune to drop the ones left unreferenced.
func (g *Graph) RemoveOperator(id string) bool {
	for i, op := range g.ops {
		if op.ID == id {
			g.ops = slices.Delete(g.ops, i, i+1)
			return true
		}
	}
	return false
}

// ReplaceOperator swaps the operator with the given ID for op, keeping its
// position. Referenced variables must exist.
func (g *Graph) ReplaceOperator(id string, op *Operator) error {
	if !op.Kind.Valid() {
		return NewInvalidGraphError(fmt.Sprintf("unknown operator kind %q", op.Kind), nil)
	}
	for _, p := range append(slices.Clone(op.Inputs), op.Outputs...) {
		if _, ok := g.vars[p.Var]; !ok {
			return &CompileError{Code: ErrCodeInvalidGraph, Message: "unknown variable", Operator: op.ID, Variable: p.Var}
		}
	}
	for i, old := range g.ops {
		if old.ID == id {
			if op.ID == "" {
				op.ID = id
			}
			g.ops[i] = op
			return nil
		}
	}
	return &CompileError{Code: ErrCodeInvalidGraph, Message: "unknown operator", Operator: id}
}

// ReplaceInput rebinds one input slot of an operator.
func (g *Graph) ReplaceInput(op *Operator, slot, name string) error {
	if _, ok := g.vars[name]; !ok {
		return &CompileError{Code: ErrCodeInvalidGraph, Message: "unknown variable", Operator: op.ID, Variable: name}
	}
	for i := range op.Inputs {
		if op.Inputs[i].Slot == slot {
			op.Inputs[i].Var = name
			return nil
		}
	}
	return &CompileError{Code: ErrCodeInvalidGraph, Message: fmt.Sprintf("no input slot %s", slot), Operator: op.ID}
}

// ReplaceUses rebinds every input slot reading from to read to instead.
// Returns the number of slots changed.
func (g *Graph) ReplaceUses(from, to string) int {
	n := 0
	for _, op := range g.ops {
		for i := range op.Inputs {
			if op.Inputs[i].Var == from {
				op.Inputs[i].Var = to
				n++
			}
		}
	}
	return n
}

// RemoveVariable unregisters a variable that no operator references and
// that is neither a graph input nor an output.
func (g *Graph) RemoveVariable(name string) error {
	if g.IsInput(name) || g.IsOutput(name) {
		return &CompileError{Code: ErrCodeInvalidGraph, Message: "cannot remove a graph input or output", Variable: name}
	}
	if g.Producer(name) != nil || len(g.Consumers(name)) > 0 {
		return &CompileError{Code: ErrCodeInvalidGraph, Message: "variable is still referenced", Variable: name}
	}
	delete(g.vars, name)
	g.varOrder = slices.DeleteFunc(g.varOrder, func(n string) bool { return n == name })
	return nil
}

// Prune removes operators whose outputs nobody needs and variables no
// operator references, never touching graph inputs or outputs. Returns the
// number of removed nodes.
func (g *Graph) Prune() int {
	removed := 0
	for {
		changed := false
		for _, op := range slices.Clone(g.ops) {
			live := false
			for _, p := range op.Outputs {
				if g.IsOutput(p.Var) || len(g.Consumers(p.Var)) > 0 {
					live = true
					break
				}
			}
			if !live {
				g.RemoveOperator(op.ID)
				removed++
				changed = true
			}
		}
		for _, name := range slices.Clone(g.varOrder) {
			if g.RemoveVariable(name) == nil {
				removed++
				changed = true
			}
		}
		if !changed {
			return removed
		}
	}
}

// Clone returns a copy sharing no mutable state with g except constant
// data, which is never mutated in place.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		vars:     make(map[string]*Variable, len(g.vars)),
		varOrder: slices.Clone(g.varOrder),
		ops:      make([]*Operator, len(g.ops)),
		inputs:   slices.Clone(g.inputs),
		outputs:  slices.Clone(g.outputs),
		nextID:   g.nextID,
	}
	for name, v := range g.vars {
		c.vars[name] = v.Clone()
	}
	for i, op := range g.ops {
		c.ops[i] = op.Clone()
	}
	return c
}

// Constants returns the constant variables in registration order.
func (g *Graph) Constants() []*Variable {
	var out []*Variable
	for _, v := range g.Variables() {
		if v.IsConstant() {
			out = append(out, v)
		}
	}
	return out
}

// OperandVars resolves an operator's inputs to variables.
func (g *Graph) OperandVars(op *Operator) []*Variable {
	vars := make([]*Variable, len(op.Inputs))
	for i, p := range op.Inputs {
		vars[i] = g.vars[p.Var]
	}
	return vars
}
