package interp

import (
	"fmt"

	"github.com/roach88/tensorc/internal/ir"
)

// EvalGraph evaluates g on the reference semantics without compiling it.
// Inputs are laid out in each input variable's own order; so are the
// returned outputs.
func EvalGraph(g *ir.Graph, inputs map[string][]float32) (map[string][]float32, error) {
	ops, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	values := make(map[string]*ir.Variable)
	for _, c := range g.Constants() {
		values[c.Name] = c
	}
	for _, name := range g.Inputs() {
		data, ok := inputs[name]
		if !ok {
			return nil, fmt.Errorf("missing input %s", name)
		}
		v := g.MustVariable(name).Clone()
		if len(data) != v.Size() {
			return nil, fmt.Errorf("input %s has %d values, expected %d", name, len(data), v.Size())
		}
		v.Data = data
		values[name] = v
	}

	for _, op := range ops {
		operands := make([]*ir.Variable, len(op.Inputs))
		for i, p := range op.Inputs {
			v, ok := values[p.Var]
			if !ok {
				return nil, fmt.Errorf("%s: operand %s has no value", op.ID, p.Var)
			}
			operands[i] = v
		}
		y := g.MustVariable(op.Y()).Clone()
		data, err := Evaluate(op, operands, y)
		if err != nil {
			return nil, err
		}
		y.Data = data
		values[y.Name] = y
	}

	out := make(map[string][]float32, len(g.Outputs()))
	for _, name := range g.Outputs() {
		v, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("output %s was never computed", name)
		}
		out[name] = v.Data
	}
	return out, nil
}
