package ir

import (
	"fmt"
	"slices"
)

// Kind is the closed set of IR operator kinds.
type Kind string

// Operator kinds.
const (
	KindLinear           Kind = "Linear"
	KindConvolution2D    Kind = "Convolution2D"
	KindMaxPooling2D     Kind = "MaxPooling2D"
	KindAveragePooling2D Kind = "AveragePooling2D"
	KindReLU             Kind = "ReLU"
	KindSigmoid          Kind = "Sigmoid"
	KindTanh             Kind = "Tanh"
	KindElementwiseSum   Kind = "ElementwiseSum"
	KindAxiswiseBias     Kind = "AxiswiseBias"
	KindAxiswiseScale    Kind = "AxiswiseScale"
	KindConcat           Kind = "Concat"
	KindReshape          Kind = "Reshape"
	KindTranspose        Kind = "Transpose"
	KindSoftmax          Kind = "Softmax"
	KindElementwiseChain Kind = "ElementwiseChain"
)

// Traits is the closed set of flags describing how an operator kind treats
// its operands.
type Traits uint8

const (
	// TraitElementwise marks unary operators computing y[i] = f(x[i]).
	TraitElementwise Traits = 1 << iota
	// TraitSameOrder marks operators whose tensor operands must share the
	// output's axis order.
	TraitSameOrder
	// TraitFoldable marks operators the optimizer can evaluate on constants.
	TraitFoldable
)

// Has reports whether every flag in t is set.
func (s Traits) Has(t Traits) bool { return s&t == t }

var kindTraits = map[Kind]Traits{
	KindLinear:           0,
	KindConvolution2D:    0,
	KindMaxPooling2D:     0,
	KindAveragePooling2D: 0,
	KindReLU:             TraitElementwise | TraitSameOrder | TraitFoldable,
	KindSigmoid:          TraitElementwise | TraitSameOrder | TraitFoldable,
	KindTanh:             TraitElementwise | TraitSameOrder | TraitFoldable,
	KindElementwiseSum:   TraitSameOrder | TraitFoldable,
	KindAxiswiseBias:     TraitSameOrder | TraitFoldable,
	KindAxiswiseScale:    TraitSameOrder | TraitFoldable,
	KindConcat:           0,
	KindReshape:          TraitFoldable,
	KindTranspose:        TraitFoldable,
	KindSoftmax:          TraitSameOrder,
	KindElementwiseChain: TraitElementwise | TraitSameOrder | TraitFoldable,
}

// Kinds returns every operator kind in a stable order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindTraits))
	for k := range kindTraits {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindTraits[k]
	return ok
}

// Traits returns the kind's trait flags.
func (k Kind) Traits() Traits { return kindTraits[k] }

// IsActivation reports whether k is a unary activation usable in a chain.
func (k Kind) IsActivation() bool {
	return k == KindReLU || k == KindSigmoid || k == KindTanh
}

// Params carries operator-specific parameters. The set of implementations
// is closed; match on them with a type switch over the types below.
type Params interface {
	params()
	// Canonical returns the parameters as canonical-JSON-ready values.
	Canonical() map[string]any
	clone() Params
}

// ConcatParams selects the concatenation axis.
type ConcatParams struct {
	Axis Axis
}

// ConvParams configures Convolution2D. Kernel size comes from the filter.
type ConvParams struct {
	Stride [2]int // (H, W)
	Pad    [2]int // (H, W)
}

// PoolParams configures the pooling operators.
type PoolParams struct {
	KSize  [2]int
	Stride [2]int
	Pad    [2]int
}

// SoftmaxParams selects the normalized axis.
type SoftmaxParams struct {
	Axis Axis
}

// AxiswiseParams selects the axis a 1-D operand broadcasts along.
type AxiswiseParams struct {
	Axis Axis
}

// ReshapeParams describes a reshape. InOrder is the order the flat input is
// read in; Shape and Order describe the output.
type ReshapeParams struct {
	InOrder AxisOrder
	Shape   []int
	Order   AxisOrder
}

// TransposeParams gives the output order of a layout conversion.
type TransposeParams struct {
	Order AxisOrder
}

// ChainParams lists activations applied in sequence by ElementwiseChain.
type ChainParams struct {
	Activations []Kind
}

func (ConcatParams) params()    {}
func (ConvParams) params()      {}
func (PoolParams) params()      {}
func (SoftmaxParams) params()   {}
func (AxiswiseParams) params()  {}
func (ReshapeParams) params()   {}
func (TransposeParams) params() {}
func (ChainParams) params()     {}

func (p ConcatParams) Canonical() map[string]any { return map[string]any{"axis": p.Axis.String()} }
func (p ConvParams) Canonical() map[string]any {
	return map[string]any{"stride": p.Stride[:], "pad": p.Pad[:]}
}
func (p PoolParams) Canonical() map[string]any {
	return map[string]any{"ksize": p.KSize[:], "stride": p.Stride[:], "pad": p.Pad[:]}
}
func (p SoftmaxParams) Canonical() map[string]any  { return map[string]any{"axis": p.Axis.String()} }
func (p AxiswiseParams) Canonical() map[string]any { return map[string]any{"axis": p.Axis.String()} }
func (p ReshapeParams) Canonical() map[string]any {
	return map[string]any{"in_order": p.InOrder.String(), "shape": p.Shape, "order": p.Order.String()}
}
func (p TransposeParams) Canonical() map[string]any {
	return map[string]any{"order": p.Order.String()}
}
func (p ChainParams) Canonical() map[string]any {
	names := make([]string, len(p.Activations))
	for i, k := range p.Activations {
		names[i] = string(k)
	}
	return map[string]any{"activations": names}
}

func (p ConcatParams) clone() Params    { return p }
func (p ConvParams) clone() Params      { return p }
func (p PoolParams) clone() Params      { return p }
func (p SoftmaxParams) clone() Params   { return p }
func (p AxiswiseParams) clone() Params  { return p }
func (p TransposeParams) clone() Params { return p }
func (p ReshapeParams) clone() Params {
	p.Shape = append([]int(nil), p.Shape...)
	return p
}
func (p ChainParams) clone() Params {
	p.Activations = append([]Kind(nil), p.Activations...)
	return p
}

// Port binds a named operator slot to a variable name.
type Port struct {
	Slot string `json:"slot"`
	Var  string `json:"var"`
}

// Operator is a computation node. Inputs and outputs keep slot order, which
// matters for n-ary kinds (x0, x1, ...).
type Operator struct {
	ID      string
	Kind    Kind
	Inputs  []Port
	Outputs []Port
	Params  Params
}

// SlotName returns the conventional name of the i-th variadic slot.
func SlotName(prefix string, i int) string {
	return fmt.Sprintf("%s%d", prefix, i)
}

// Input returns the variable bound to slot.
func (op *Operator) Input(slot string) (string, bool) {
	for _, p := range op.Inputs {
		if p.Slot == slot {
			return p.Var, true
		}
	}
	return "", false
}

// Output returns the variable bound to an output slot.
func (op *Operator) Output(slot string) (string, bool) {
	for _, p := range op.Outputs {
		if p.Slot == slot {
			return p.Var, true
		}
	}
	return "", false
}

// InputVars lists input variable names in slot order.
func (op *Operator) InputVars() []string {
	names := make([]string, len(op.Inputs))
	for i, p := range op.Inputs {
		names[i] = p.Var
	}
	return names
}

// OutputVars lists output variable names in slot order.
func (op *Operator) OutputVars() []string {
	names := make([]string, len(op.Outputs))
	for i, p := range op.Outputs {
		names[i] = p.Var
	}
	return names
}

// Y returns the variable bound to the conventional single output slot "y".
func (op *Operator) Y() string {
	y, _ := op.Output("y")
	return y
}

// Clone returns a deep copy of the operator.
func (op *Operator) Clone() *Operator {
	c := *op
	c.Inputs = slices.Clone(op.Inputs)
	c.Outputs = slices.Clone(op.Outputs)
	if op.Params != nil {
		c.Params = op.Params.clone()
	}
	return &c
}

func (op *Operator) String() string {
	return fmt.Sprintf("<%s %s in=%v out=%v>", op.Kind, op.ID, op.InputVars(), op.OutputVars())
}
