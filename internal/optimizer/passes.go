package optimizer

import (
	"slices"

	"github.com/roach88/tensorc/internal/interp"
	"github.com/roach88/tensorc/internal/ir"
)

// DefaultPasses returns the standard pipeline in application order.
func DefaultPasses() []Pass {
	return []Pass{
		RemoveIdentityReshape{},
		MergeTranspose{},
		ConstantFolding{},
		FoldScaleIntoWeights{},
		FuseElementwise{},
		NormalizeAxisOrder{},
		Prune{},
	}
}

// soleConsumer returns the only operator reading name, or nil.
func soleConsumer(g *ir.Graph, name string) *ir.Operator {
	cs := g.Consumers(name)
	if len(cs) != 1 {
		return nil
	}
	n := 0
	for _, p := range cs[0].Inputs {
		if p.Var == name {
			n++
		}
	}
	if n != 1 {
		return nil
	}
	return cs[0]
}

// bypass removes op, rewiring readers of its output y to read x.
func bypass(g *ir.Graph, op *ir.Operator, x, y string) error {
	g.ReplaceUses(y, x)
	g.RemoveOperator(op.ID)
	return g.RemoveVariable(y)
}

// RemoveIdentityReshape drops Reshape and Transpose operators whose output
// has the same shape and order as the input.
type RemoveIdentityReshape struct{}

func (RemoveIdentityReshape) Name() string { return "RemoveIdentityReshape" }

func (RemoveIdentityReshape) Rewrite(g *ir.Graph) (bool, error) {
	changed := false
	for _, op := range g.Operators() {
		if op.Kind != ir.KindReshape && op.Kind != ir.KindTranspose {
			continue
		}
		x := g.MustVariable(op.Inputs[0].Var)
		y := g.MustVariable(op.Y())
		if g.IsOutput(y.Name) || !slices.Equal(x.Shape, y.Shape) || !x.Order.Equal(y.Order) {
			continue
		}
		if p, ok := op.Params.(ir.ReshapeParams); ok && !p.InOrder.Equal(x.Order) {
			continue
		}
		if err := bypass(g, op, x.Name, y.Name); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}

// MergeTranspose collapses Transpose(Transpose(x)) into one Transpose when
// the inner result has no other reader.
type MergeTranspose struct{}

func (MergeTranspose) Name() string { return "MergeTranspose" }

func (MergeTranspose) Rewrite(g *ir.Graph) (bool, error) {
	changed := false
	for _, outer := range g.Operators() {
		if outer.Kind != ir.KindTranspose || g.Operator(outer.ID) == nil {
			continue
		}
		mid := outer.Inputs[0].Var
		inner := g.Producer(mid)
		if inner == nil || inner.Kind != ir.KindTranspose || g.IsOutput(mid) || soleConsumer(g, mid) != outer {
			continue
		}
		if err := g.ReplaceInput(outer, "x", inner.Inputs[0].Var); err != nil {
			return false, err
		}
		g.RemoveOperator(inner.ID)
		if err := g.RemoveVariable(mid); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}

// ConstantFolding evaluates Foldable operators whose operands are all
// constants. Graph outputs are left computed so they keep a producer.
type ConstantFolding struct{}

func (ConstantFolding) Name() string { return "ConstantFolding" }

func (ConstantFolding) Rewrite(g *ir.Graph) (bool, error) {
	changed := false
	for _, op := range g.Operators() {
		if !op.Kind.Traits().Has(ir.TraitFoldable) || g.IsOutput(op.Y()) {
			continue
		}
		operands := g.OperandVars(op)
		allConst := true
		for _, v := range operands {
			allConst = allConst && v.IsConstant()
		}
		if !allConst {
			continue
		}
		y := g.MustVariable(op.Y())
		data, err := interp.Evaluate(op, operands, y)
		if err != nil {
			return false, err
		}
		folded, err := ir.NewConstant(y.Name, data, y.Shape, y.Order)
		if err != nil {
			return false, err
		}
		g.RemoveOperator(op.ID)
		if err := g.SetVariable(folded); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}

// FoldScaleIntoWeights multiplies a constant per-channel scale into the
// weights of the Linear or Convolution2D feeding it. The weights are
// copied, since other operators may share them.
type FoldScaleIntoWeights struct{}

func (FoldScaleIntoWeights) Name() string { return "FoldScaleIntoWeights" }

func (FoldScaleIntoWeights) Rewrite(g *ir.Graph) (bool, error) {
	changed := false
	for _, op := range g.Operators() {
		if op.Kind != ir.KindLinear && op.Kind != ir.KindConvolution2D {
			continue
		}
		wName, _ := op.Input("w")
		w := g.MustVariable(wName)
		y := op.Y()
		scale := soleConsumer(g, y)
		if !w.IsConstant() || g.IsOutput(y) || scale == nil || scale.Kind != ir.KindAxiswiseScale {
			continue
		}
		p, ok := scale.Params.(ir.AxiswiseParams)
		sName, _ := scale.Input("b")
		if x, _ := scale.Input("x"); !ok || x != y || p.Axis != ir.AxisC {
			continue
		}
		s := g.MustVariable(sName)
		if !s.IsConstant() {
			continue
		}

		data := make([]float32, len(w.Data))
		nStride, _ := w.StrideOf(ir.AxisN)
		nSize, _ := w.ShapeOf(ir.AxisN)
		for i, v := range w.Data {
			data[i] = v * s.Data[(i/nStride)%nSize]
		}
		scaled, err := g.AddConstant(g.FreshName(w.Name+"_scaled"), data, w.Shape, w.Order)
		if err != nil {
			return false, err
		}
		if err := g.ReplaceInput(op, "w", scaled.Name); err != nil {
			return false, err
		}
		z := scale.Y()
		g.RemoveOperator(scale.ID)
		op.Outputs[0].Var = z
		if err := g.RemoveVariable(y); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}

// FuseElementwise merges a unary elementwise operator into the unary
// elementwise operator reading its result, producing one ElementwiseChain.
type FuseElementwise struct{}

func (FuseElementwise) Name() string { return "FuseElementwise" }

func activations(op *ir.Operator) []ir.Kind {
	if p, ok := op.Params.(ir.ChainParams); ok {
		return slices.Clone(p.Activations)
	}
	return []ir.Kind{op.Kind}
}

func (FuseElementwise) Rewrite(g *ir.Graph) (bool, error) {
	changed := false
	for _, first := range g.Operators() {
		if g.Operator(first.ID) == nil || !first.Kind.Traits().Has(ir.TraitElementwise) {
			continue
		}
		mid := first.Y()
		second := soleConsumer(g, mid)
		if g.IsOutput(mid) || second == nil || !second.Kind.Traits().Has(ir.TraitElementwise) {
			continue
		}
		chain := &ir.Operator{
			ID:      g.FreshName(string(ir.KindElementwiseChain)),
			Kind:    ir.KindElementwiseChain,
			Inputs:  []ir.Port{{Slot: "x", Var: first.Inputs[0].Var}},
			Outputs: []ir.Port{{Slot: "y", Var: second.Y()}},
			Params:  ir.ChainParams{Activations: append(activations(first), activations(second)...)},
		}
		g.RemoveOperator(first.ID)
		if err := g.ReplaceOperator(second.ID, chain); err != nil {
			return false, err
		}
		if err := g.RemoveVariable(mid); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}

// NormalizeAxisOrder makes every tensor operand of a SameOrder operator use
// the output's order. Constants get a re-ordered copy; computed variables
// get an explicit Transpose. Broadcast vectors (slot b) are exempt.
type NormalizeAxisOrder struct{}

func (NormalizeAxisOrder) Name() string { return "NormalizeAxisOrder" }

func (NormalizeAxisOrder) Rewrite(g *ir.Graph) (bool, error) {
	changed := false
	for _, op := range g.Operators() {
		if !op.Kind.Traits().Has(ir.TraitSameOrder) {
			continue
		}
		y := g.MustVariable(op.Y())
		for _, p := range slices.Clone(op.Inputs) {
			if p.Slot == "b" {
				continue
			}
			x := g.MustVariable(p.Var)
			if x.Order.Equal(y.Order) || !x.Order.IsPermutationOf(y.Order) {
				continue
			}
			var replacement string
			if x.IsConstant() {
				c, err := x.WithAxisOrder(g.FreshName(x.Name+"_"+y.Order.String()), y.Order)
				if err != nil {
					return false, err
				}
				c.Attributes = c.Attributes.Without(ir.AttrInput | ir.AttrOutput)
				if err := g.AddVariable(c); err != nil {
					return false, err
				}
				replacement = c.Name
			} else {
				_, t, err := g.Apply(ir.KindTranspose, ir.TransposeParams{Order: y.Order},
					[]ir.Port{{Slot: "x", Var: x.Name}}, g.FreshName(x.Name+"_"+y.Order.String()))
				if err != nil {
					return false, err
				}
				replacement = t.Name
			}
			if err := g.ReplaceInput(op, p.Slot, replacement); err != nil {
				return false, err
			}
			changed = true
		}
	}
	return changed, nil
}

// Prune removes operators nobody reads and variables nobody references.
type Prune struct{}

func (Prune) Name() string { return "Prune" }

func (Prune) Rewrite(g *ir.Graph) (bool, error) {
	return g.Prune() > 0, nil
}
