package converter

import (
	"fmt"
	"math"

	"github.com/roach88/tensorc/internal/ir"
	"github.com/roach88/tensorc/internal/trace"
)

// Lowering emits the IR operators for one framework operation.
type Lowering func(s *State, n trace.Node) error

var builtin = map[string]Lowering{
	"LinearFunction":        lowerLinear,
	"Convolution2DFunction": lowerConvolution,
	"ReLU":                  unary(ir.KindReLU),
	"Sigmoid":               unary(ir.KindSigmoid),
	"Tanh":                  unary(ir.KindTanh),
	"MaxPooling2D":          pooling(ir.KindMaxPooling2D),
	"AveragePooling2D":      pooling(ir.KindAveragePooling2D),
	"Concat":                lowerConcat,
	"Add":                   lowerAdd,
	"Reshape":               lowerReshape,
	"BatchNormalization":    lowerBatchNormalization,
	"Softmax":               lowerSoftmax,
	"Transpose":             lowerTranspose,
}

// defaultBatchNormEps matches the framework's fixed batch normalization.
const defaultBatchNormEps = 2e-5

func arity(n trace.Node, min, max int) error {
	if len(n.Inputs) < min || (max >= 0 && len(n.Inputs) > max) {
		return fmt.Errorf("%s takes %d..%d inputs, got %d", n.Op, min, max, len(n.Inputs))
	}
	if len(n.Outputs) != 1 {
		return fmt.Errorf("%s has %d outputs, expected 1", n.Op, len(n.Outputs))
	}
	return nil
}

func operands(s *State, names []string) ([]*ir.Variable, error) {
	vars := make([]*ir.Variable, len(names))
	for i, name := range names {
		v, err := s.Operand(name)
		if err != nil {
			return nil, err
		}
		vars[i] = v
	}
	return vars, nil
}

// pair reads a two-element parameter, defaulting when absent.
func pair(p []int, def [2]int) ([2]int, error) {
	switch len(p) {
	case 0:
		return def, nil
	case 2:
		return [2]int{p[0], p[1]}, nil
	}
	return [2]int{}, fmt.Errorf("expected 2 values, got %v", p)
}

// axisAt maps a framework axis index onto v's order.
func axisAt(v *ir.Variable, index *int, def int) (ir.Axis, error) {
	i := def
	if index != nil {
		i = *index
	}
	if i < 0 {
		i += v.Rank()
	}
	if i < 0 || i >= v.Rank() {
		return 0, fmt.Errorf("axis index %d out of range for %s", i, v.Order)
	}
	return v.Order.At(i), nil
}

// biased applies an optional bias along C; the last IR operator writes out.
func biased(s *State, kind ir.Kind, params ir.Params, ports []ir.Port, bias, out string) error {
	if bias == "" {
		_, err := s.Apply(kind, params, ports, out)
		return err
	}
	y, err := s.Apply(kind, params, ports, s.graph.FreshName(out))
	if err != nil {
		return err
	}
	b, err := s.Operand(bias)
	if err != nil {
		return err
	}
	_, err = s.Apply(ir.KindAxiswiseBias, ir.AxiswiseParams{Axis: ir.AxisC},
		[]ir.Port{{Slot: "x", Var: y.Name}, {Slot: "b", Var: b.Name}}, out)
	return err
}

func lowerLinear(s *State, n trace.Node) error {
	if err := arity(n, 2, 3); err != nil {
		return err
	}
	vars, err := operands(s, n.Inputs)
	if err != nil {
		return err
	}
	x, w := vars[0], vars[1]
	switch x.Rank() {
	case 2:
	case 4:
		// The framework flattens the trailing axes in the order it holds them.
		cols := x.Size() / max(mustSize(x, ir.AxisN), 1)
		flat, err := s.Apply(ir.KindReshape, ir.ReshapeParams{
			InOrder: x.Order,
			Shape:   []int{mustSize(x, ir.AxisN), cols},
			Order:   ir.OrderNC,
		}, []ir.Port{{Slot: "x", Var: x.Name}}, s.graph.FreshName(x.Name+"_flat"))
		if err != nil {
			return err
		}
		x = flat
	default:
		return fmt.Errorf("LinearFunction input %s has unsupported rank %d", x.Name, x.Rank())
	}
	bias := ""
	if len(n.Inputs) == 3 {
		bias = n.Inputs[2]
	}
	return biased(s, ir.KindLinear, nil,
		[]ir.Port{{Slot: "x", Var: x.Name}, {Slot: "w", Var: w.Name}}, bias, n.Outputs[0])
}

func lowerConvolution(s *State, n trace.Node) error {
	if err := arity(n, 2, 3); err != nil {
		return err
	}
	vars, err := operands(s, n.Inputs)
	if err != nil {
		return err
	}
	stride, err := pair(n.Params.Stride, [2]int{1, 1})
	if err != nil {
		return fmt.Errorf("stride: %w", err)
	}
	pad, err := pair(n.Params.Pad, [2]int{0, 0})
	if err != nil {
		return fmt.Errorf("pad: %w", err)
	}
	bias := ""
	if len(n.Inputs) == 3 {
		bias = n.Inputs[2]
	}
	return biased(s, ir.KindConvolution2D, ir.ConvParams{Stride: stride, Pad: pad},
		[]ir.Port{{Slot: "x", Var: vars[0].Name}, {Slot: "w", Var: vars[1].Name}}, bias, n.Outputs[0])
}

func unary(kind ir.Kind) Lowering {
	return func(s *State, n trace.Node) error {
		if err := arity(n, 1, 1); err != nil {
			return err
		}
		x, err := s.Operand(n.Inputs[0])
		if err != nil {
			return err
		}
		_, err = s.Apply(kind, nil, []ir.Port{{Slot: "x", Var: x.Name}}, n.Outputs[0])
		return err
	}
}

func pooling(kind ir.Kind) Lowering {
	return func(s *State, n trace.Node) error {
		if err := arity(n, 1, 1); err != nil {
			return err
		}
		x, err := s.Operand(n.Inputs[0])
		if err != nil {
			return err
		}
		if len(n.Params.KSize) == 0 {
			return fmt.Errorf("%s requires ksize", n.Op)
		}
		ksize, err := pair(n.Params.KSize, [2]int{})
		if err != nil {
			return fmt.Errorf("ksize: %w", err)
		}
		stride, err := pair(n.Params.Stride, ksize)
		if err != nil {
			return fmt.Errorf("stride: %w", err)
		}
		pad, err := pair(n.Params.Pad, [2]int{0, 0})
		if err != nil {
			return fmt.Errorf("pad: %w", err)
		}
		_, err = s.Apply(kind, ir.PoolParams{KSize: ksize, Stride: stride, Pad: pad},
			[]ir.Port{{Slot: "x", Var: x.Name}}, n.Outputs[0])
		return err
	}
}

func variadic(s *State, n trace.Node) ([]ir.Port, *ir.Variable, error) {
	if err := arity(n, 1, -1); err != nil {
		return nil, nil, err
	}
	vars, err := operands(s, n.Inputs)
	if err != nil {
		return nil, nil, err
	}
	ports := make([]ir.Port, len(vars))
	for i, v := range vars {
		ports[i] = ir.Port{Slot: ir.SlotName("x", i), Var: v.Name}
	}
	return ports, vars[0], nil
}

func lowerConcat(s *State, n trace.Node) error {
	ports, x0, err := variadic(s, n)
	if err != nil {
		return err
	}
	axis, err := axisAt(x0, n.Params.Axis, 1)
	if err != nil {
		return err
	}
	_, err = s.Apply(ir.KindConcat, ir.ConcatParams{Axis: axis}, ports, n.Outputs[0])
	return err
}

func lowerAdd(s *State, n trace.Node) error {
	ports, _, err := variadic(s, n)
	if err != nil {
		return err
	}
	_, err = s.Apply(ir.KindElementwiseSum, nil, ports, n.Outputs[0])
	return err
}

func lowerReshape(s *State, n trace.Node) error {
	if err := arity(n, 1, 1); err != nil {
		return err
	}
	x, err := s.Operand(n.Inputs[0])
	if err != nil {
		return err
	}
	out := n.Outputs[0]
	shape := n.Params.Shape
	t, _ := s.trace.Tensor(out)
	if shape == nil {
		shape = t.Shape
	}
	var order ir.AxisOrder
	switch {
	case n.Params.Order != "":
		order, err = ir.ParseOrder(n.Params.Order)
	case t.Order != "" && len(t.Shape) == len(shape):
		order, err = ir.ParseOrder(t.Order)
	default:
		var ok bool
		if order, ok = ir.DefaultOrder(len(shape)); !ok {
			err = fmt.Errorf("reshape to rank %d needs an explicit order", len(shape))
		}
	}
	if err != nil {
		return err
	}
	_, err = s.Apply(ir.KindReshape, ir.ReshapeParams{InOrder: x.Order, Shape: shape, Order: order},
		[]ir.Port{{Slot: "x", Var: x.Name}}, out)
	return err
}

// lowerBatchNormalization folds the fixed statistics into a per-channel
// scale and bias:
//
//	scale = gamma / sqrt(var + eps)
//	bias  = beta - mean * scale
func lowerBatchNormalization(s *State, n trace.Node) error {
	if err := arity(n, 5, 5); err != nil {
		return err
	}
	vars, err := operands(s, n.Inputs)
	if err != nil {
		return err
	}
	x, gamma, beta, mean, variance := vars[0], vars[1], vars[2], vars[3], vars[4]
	channels, ok := x.ShapeOf(ir.AxisC)
	if !ok {
		return fmt.Errorf("BatchNormalization input %s (%s) has no C axis", x.Name, x.Order)
	}
	for _, p := range vars[1:] {
		if !p.IsConstant() || p.Size() != channels {
			return ir.NewShapeError(p.Name, fmt.Sprintf("expected a constant with %d values", channels))
		}
	}
	eps := defaultBatchNormEps
	if n.Params.Eps != nil {
		eps = *n.Params.Eps
	}

	scale := make([]float32, channels)
	bias := make([]float32, channels)
	for c := range channels {
		sc := float64(gamma.Data[c]) / math.Sqrt(float64(variance.Data[c])+eps)
		scale[c] = float32(sc)
		bias[c] = float32(float64(beta.Data[c]) - float64(mean.Data[c])*sc)
	}
	out := n.Outputs[0]
	sv, err := s.Constant(out+"_scale", scale, []int{channels}, ir.OrderC)
	if err != nil {
		return err
	}
	bv, err := s.Constant(out+"_bias", bias, []int{channels}, ir.OrderC)
	if err != nil {
		return err
	}
	scaled, err := s.Apply(ir.KindAxiswiseScale, ir.AxiswiseParams{Axis: ir.AxisC},
		[]ir.Port{{Slot: "x", Var: x.Name}, {Slot: "b", Var: sv.Name}}, s.graph.FreshName(out))
	if err != nil {
		return err
	}
	_, err = s.Apply(ir.KindAxiswiseBias, ir.AxiswiseParams{Axis: ir.AxisC},
		[]ir.Port{{Slot: "x", Var: scaled.Name}, {Slot: "b", Var: bv.Name}}, out)
	return err
}

func lowerSoftmax(s *State, n trace.Node) error {
	if err := arity(n, 1, 1); err != nil {
		return err
	}
	x, err := s.Operand(n.Inputs[0])
	if err != nil {
		return err
	}
	axis, err := axisAt(x, n.Params.Axis, 1)
	if err != nil {
		return err
	}
	_, err = s.Apply(ir.KindSoftmax, ir.SoftmaxParams{Axis: axis},
		[]ir.Port{{Slot: "x", Var: x.Name}}, n.Outputs[0])
	return err
}

// lowerTranspose permutes positionally: output axis i is input axis axes[i].
// An IR Transpose moves the data and a Reshape relabels it, so position i of
// the result carries the output tensor's i-th axis name.
func lowerTranspose(s *State, n trace.Node) error {
	if err := arity(n, 1, 1); err != nil {
		return err
	}
	x, err := s.Operand(n.Inputs[0])
	if err != nil {
		return err
	}
	axes := n.Params.Axes
	if axes == nil {
		for i := x.Rank() - 1; i >= 0; i-- {
			axes = append(axes, i)
		}
	}
	if len(axes) != x.Rank() {
		return fmt.Errorf("Transpose axes %v do not match rank %d", axes, x.Rank())
	}
	target := make([]ir.Axis, len(axes))
	for i, a := range axes {
		if a < 0 || a >= x.Rank() {
			return fmt.Errorf("Transpose axis %d out of range", a)
		}
		target[i] = x.Order.At(a)
	}
	moved, err := ir.NewOrder(target...)
	if err != nil {
		return fmt.Errorf("Transpose axes %v: %w", axes, err)
	}

	out := n.Outputs[0]
	labels := x.Order
	if t, ok := s.trace.Tensor(out); ok && t.Order != "" {
		if labels, err = ir.ParseOrder(t.Order); err != nil {
			return fmt.Errorf("tensor %s: %w", out, err)
		}
	}
	if moved.Equal(labels) {
		_, err = s.Apply(ir.KindTranspose, ir.TransposeParams{Order: moved},
			[]ir.Port{{Slot: "x", Var: x.Name}}, out)
		return err
	}
	y, err := s.Apply(ir.KindTranspose, ir.TransposeParams{Order: moved},
		[]ir.Port{{Slot: "x", Var: x.Name}}, s.graph.FreshName(out))
	if err != nil {
		return err
	}
	_, err = s.Apply(ir.KindReshape, ir.ReshapeParams{InOrder: moved, Shape: y.Shape, Order: labels},
		[]ir.Port{{Slot: "x", Var: y.Name}}, out)
	return err
}

func mustSize(v *ir.Variable, a ir.Axis) int {
	s, _ := v.ShapeOf(a)
	return s
}
