package testutil

import (
	"fmt"
	"math/rand/v2"

	"github.com/roach88/tensorc/internal/ir"
)

// Ramp returns n values spread over [-1, 1), offset so graphs built from
// it see both signs and no exact zeros.
func Ramp(n int, seed int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32((i*7+seed*3)%(2*n+1)-n)/float32(n+1) + 0.03125
	}
	return out
}

// KindGraph builds a small graph with exactly one operator of kind, plus
// deterministic input values. Every kind gets operands in at least one
// non-default order so kernels are exercised on strided reads.
func KindGraph(kind ir.Kind) (*ir.Graph, map[string][]float32, error) {
	g := ir.NewGraph()
	inputs := make(map[string][]float32)
	input := func(name string, shape []int, order ir.AxisOrder) error {
		v, err := ir.NewVariable(name, shape, order)
		if err != nil {
			return err
		}
		if err := g.AddVariable(v); err != nil {
			return err
		}
		inputs[name] = Ramp(v.Size(), len(inputs)+1)
		return g.MarkInput(name)
	}
	constant := func(name string, shape []int, order ir.AxisOrder) error {
		n, _ := ir.CheckedSize(shape)
		_, err := g.AddConstant(name, Ramp(n, 11), shape, order)
		return err
	}
	port := func(slot, name string) ir.Port { return ir.Port{Slot: slot, Var: name} }

	var (
		params ir.Params
		ports  []ir.Port
		err    error
	)
	switch kind {
	case ir.KindReLU, ir.KindSigmoid, ir.KindTanh, ir.KindElementwiseChain, ir.KindSoftmax, ir.KindTranspose:
		err = input("x", []int{3, 2}, ir.OrderCN)
		ports = []ir.Port{port("x", "x")}
		switch kind {
		case ir.KindElementwiseChain:
			params = ir.ChainParams{Activations: []ir.Kind{ir.KindTanh, ir.KindReLU, ir.KindSigmoid}}
		case ir.KindSoftmax:
			params = ir.SoftmaxParams{Axis: ir.AxisC}
		case ir.KindTranspose:
			params = ir.TransposeParams{Order: ir.OrderNC}
		}

	case ir.KindElementwiseSum:
		if err = input("x0", []int{2, 3}, ir.OrderNC); err == nil {
			if err = input("x1", []int{3, 2}, ir.OrderCN); err == nil {
				err = input("x2", []int{2, 3}, ir.OrderNC)
			}
		}
		ports = []ir.Port{port("x0", "x0"), port("x1", "x1"), port("x2", "x2")}

	case ir.KindAxiswiseBias, ir.KindAxiswiseScale:
		if err = input("x", []int{3, 2}, ir.OrderCN); err == nil {
			err = constant("b", []int{3}, ir.OrderC)
		}
		params = ir.AxiswiseParams{Axis: ir.AxisC}
		ports = []ir.Port{port("x", "x"), port("b", "b")}

	case ir.KindLinear:
		if err = input("x", []int{2, 3}, ir.OrderNC); err == nil {
			err = constant("w", []int{3, 4}, ir.OrderCN)
		}
		ports = []ir.Port{port("x", "x"), port("w", "w")}

	case ir.KindConvolution2D:
		if err = input("x", []int{1, 4, 4, 2}, ir.OrderNHWC); err == nil {
			err = constant("w", []int{3, 3, 3, 2}, ir.OrderHWNC)
		}
		params = ir.ConvParams{Stride: [2]int{1, 1}, Pad: [2]int{1, 1}}
		ports = []ir.Port{port("x", "x"), port("w", "w")}

	case ir.KindMaxPooling2D, ir.KindAveragePooling2D:
		err = input("x", []int{1, 2, 5, 5}, ir.OrderNCHW)
		params = ir.PoolParams{KSize: [2]int{3, 3}, Stride: [2]int{2, 2}, Pad: [2]int{1, 1}}
		ports = []ir.Port{port("x", "x")}

	case ir.KindConcat:
		if err = input("x0", []int{2, 2}, ir.OrderNC); err == nil {
			err = input("x1", []int{3, 2}, ir.OrderCN)
		}
		params = ir.ConcatParams{Axis: ir.AxisC}
		ports = []ir.Port{port("x0", "x0"), port("x1", "x1")}

	case ir.KindReshape:
		err = input("x", []int{3, 2}, ir.OrderCN)
		params = ir.ReshapeParams{InOrder: ir.OrderNC, Shape: []int{6}, Order: ir.OrderC}
		ports = []ir.Port{port("x", "x")}

	default:
		return nil, nil, fmt.Errorf("no sample graph for %s", kind)
	}
	if err != nil {
		return nil, nil, err
	}
	if _, _, err := g.Apply(kind, params, ports, "y"); err != nil {
		return nil, nil, err
	}
	if err := g.MarkOutput("y"); err != nil {
		return nil, nil, err
	}
	return g, inputs, nil
}

// RandomGraph builds a valid graph of up to size operators drawn from
// elementwise, axiswise, linear and concat kinds. Variables pick random
// orders, so layouts and kernels see transposed reads.
func RandomGraph(r *rand.Rand, size int) (*ir.Graph, map[string][]float32) {
	g := ir.NewGraph()
	inputs := make(map[string][]float32)
	orders := []ir.AxisOrder{ir.OrderNC, ir.OrderCN}

	const batch = 2
	type value struct {
		name     string
		channels int
	}
	var live []value
	for i := range 1 + r.IntN(2) {
		c := 1 + r.IntN(4)
		order := orders[r.IntN(2)]
		shape := []int{batch, c}
		if order.Equal(ir.OrderCN) {
			shape = []int{c, batch}
		}
		name := ir.SlotName("in", i)
		v, _ := ir.NewVariable(name, shape, order)
		_ = g.AddVariable(v)
		_ = g.MarkInput(name)
		inputs[name] = Ramp(v.Size(), i)
		live = append(live, value{name, c})
	}

	pick := func() value { return live[r.IntN(len(live))] }
	for i := range size {
		x := pick()
		out := ir.SlotName("v", i)
		var err error
		switch r.IntN(6) {
		case 0, 1:
			kind := []ir.Kind{ir.KindReLU, ir.KindSigmoid, ir.KindTanh}[r.IntN(3)]
			_, _, err = g.Apply(kind, nil, []ir.Port{{Slot: "x", Var: x.name}}, out)
		case 2:
			b := g.FreshName("b")
			if _, err = g.AddConstant(b, Ramp(x.channels, i), []int{x.channels}, ir.OrderC); err == nil {
				kind := []ir.Kind{ir.KindAxiswiseBias, ir.KindAxiswiseScale}[r.IntN(2)]
				_, _, err = g.Apply(kind, ir.AxiswiseParams{Axis: ir.AxisC},
					[]ir.Port{{Slot: "x", Var: x.name}, {Slot: "b", Var: b}}, out)
			}
		case 3:
			c := 1 + r.IntN(4)
			w := g.FreshName("w")
			if _, err = g.AddConstant(w, Ramp(c*x.channels, i), []int{c, x.channels}, orders[r.IntN(2)]); err == nil {
				_, _, err = g.Apply(ir.KindLinear, nil, []ir.Port{{Slot: "x", Var: x.name}, {Slot: "w", Var: w}}, out)
				x.channels = c
			}
		case 4:
			y := pick()
			_, _, err = g.Apply(ir.KindConcat, ir.ConcatParams{Axis: ir.AxisC},
				[]ir.Port{{Slot: "x0", Var: x.name}, {Slot: "x1", Var: y.name}}, out)
			x.channels += y.channels
		case 5:
			y := pick()
			if y.channels != x.channels {
				continue
			}
			_, _, err = g.Apply(ir.KindElementwiseSum, nil,
				[]ir.Port{{Slot: "x0", Var: x.name}, {Slot: "x1", Var: y.name}}, out)
		}
		if err != nil {
			continue
		}
		live = append(live, value{out, x.channels})
	}
	_ = g.MarkOutput(live[len(live)-1].name)
	return g, inputs
}
