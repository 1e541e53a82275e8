package interp

import (
	"fmt"
	"math"

	"github.com/roach88/tensorc/internal/ir"
)

// Evaluate computes the output of one IR operator directly from its operand
// variables, each of which must carry data laid out in its own order. y
// gives the output shape and order. This is the axis-aware reference
// semantics every backend must reproduce.
func Evaluate(op *ir.Operator, inputs []*ir.Variable, y *ir.Variable) ([]float32, error) {
	for _, v := range inputs {
		if len(v.Data) != v.Size() {
			return nil, fmt.Errorf("%s: operand %s has %d values, expected %d", op.ID, v.Name, len(v.Data), v.Size())
		}
	}
	out := make([]float32, y.Size())
	coord := make([]int, y.Rank())

	switch op.Kind {
	case ir.KindReLU, ir.KindSigmoid, ir.KindTanh:
		f := activation(op.Kind)
		src := inputs[0]
		strides := stridesIn(src, y.Order)
		for i := range out {
			out[i] = f(src.Data[offset(i, y.Shape, strides, coord)])
		}

	case ir.KindElementwiseChain:
		p := op.Params.(ir.ChainParams)
		src := inputs[0]
		strides := stridesIn(src, y.Order)
		for i := range out {
			v := src.Data[offset(i, y.Shape, strides, coord)]
			for _, k := range p.Activations {
				v = activation(k)(v)
			}
			out[i] = v
		}

	case ir.KindElementwiseSum:
		for _, src := range inputs {
			strides := stridesIn(src, y.Order)
			for i := range out {
				out[i] += src.Data[offset(i, y.Shape, strides, coord)]
			}
		}

	case ir.KindAxiswiseBias, ir.KindAxiswiseScale:
		p := op.Params.(ir.AxiswiseParams)
		x, b := inputs[0], inputs[1]
		strides := stridesIn(x, y.Order)
		ax := y.Order.Index(p.Axis)
		for i := range out {
			xv := x.Data[offset(i, y.Shape, strides, coord)]
			if op.Kind == ir.KindAxiswiseBias {
				out[i] = xv + b.Data[coord[ax]]
			} else {
				out[i] = xv * b.Data[coord[ax]]
			}
		}

	case ir.KindReshape:
		p := op.Params.(ir.ReshapeParams)
		x := inputs[0]
		perm, err := x.Order.Permutation(p.InOrder)
		if err != nil {
			return nil, err
		}
		copy(out, ir.Transpose(x.Data, x.Shape, perm))

	case ir.KindTranspose:
		x := inputs[0]
		strides := stridesIn(x, y.Order)
		for i := range out {
			out[i] = x.Data[offset(i, y.Shape, strides, coord)]
		}

	case ir.KindLinear:
		x, w := inputs[0], inputs[1]
		inC := mustSize(x, ir.AxisC)
		xs, ws := axisStrides(x), axisStrides(w)
		yn, yc := y.Order.Index(ir.AxisN), y.Order.Index(ir.AxisC)
		for i := range out {
			unravel(i, y.Shape, coord)
			n, oc := coord[yn], coord[yc]
			var sum float32
			for k := range inC {
				sum += x.Data[n*xs[ir.AxisN]+k*xs[ir.AxisC]] * w.Data[oc*ws[ir.AxisN]+k*ws[ir.AxisC]]
			}
			out[i] = sum
		}

	case ir.KindConvolution2D:
		p := op.Params.(ir.ConvParams)
		x, w := inputs[0], inputs[1]
		xs, ws := axisStrides(x), axisStrides(w)
		inC, inH, inW := mustSize(x, ir.AxisC), mustSize(x, ir.AxisH), mustSize(x, ir.AxisW)
		kh, kw := mustSize(w, ir.AxisH), mustSize(w, ir.AxisW)
		idx := orderIndex(y.Order)
		for i := range out {
			unravel(i, y.Shape, coord)
			n, oc, oh, ow := coord[idx[ir.AxisN]], coord[idx[ir.AxisC]], coord[idx[ir.AxisH]], coord[idx[ir.AxisW]]
			var sum float32
			for ic := range inC {
				for ky := range kh {
					ih := oh*p.Stride[0] - p.Pad[0] + ky
					if ih < 0 || ih >= inH {
						continue
					}
					for kx := range kw {
						iw := ow*p.Stride[1] - p.Pad[1] + kx
						if iw < 0 || iw >= inW {
							continue
						}
						sum += x.Data[n*xs[ir.AxisN]+ic*xs[ir.AxisC]+ih*xs[ir.AxisH]+iw*xs[ir.AxisW]] *
							w.Data[oc*ws[ir.AxisN]+ic*ws[ir.AxisC]+ky*ws[ir.AxisH]+kx*ws[ir.AxisW]]
					}
				}
			}
			out[i] = sum
		}

	case ir.KindMaxPooling2D, ir.KindAveragePooling2D:
		p := op.Params.(ir.PoolParams)
		x := inputs[0]
		xs := axisStrides(x)
		inH, inW := mustSize(x, ir.AxisH), mustSize(x, ir.AxisW)
		idx := orderIndex(y.Order)
		for i := range out {
			unravel(i, y.Shape, coord)
			n, c, oh, ow := coord[idx[ir.AxisN]], coord[idx[ir.AxisC]], coord[idx[ir.AxisH]], coord[idx[ir.AxisW]]
			acc := float32(math.Inf(-1))
			if op.Kind == ir.KindAveragePooling2D {
				acc = 0
			}
			for ky := range p.KSize[0] {
				ih := oh*p.Stride[0] - p.Pad[0] + ky
				if ih < 0 || ih >= inH {
					continue
				}
				for kx := range p.KSize[1] {
					iw := ow*p.Stride[1] - p.Pad[1] + kx
					if iw < 0 || iw >= inW {
						continue
					}
					v := x.Data[n*xs[ir.AxisN]+c*xs[ir.AxisC]+ih*xs[ir.AxisH]+iw*xs[ir.AxisW]]
					if op.Kind == ir.KindAveragePooling2D {
						acc += v
					} else if v > acc {
						acc = v
					}
				}
			}
			if op.Kind == ir.KindAveragePooling2D {
				acc /= float32(p.KSize[0] * p.KSize[1])
			}
			out[i] = acc
		}

	case ir.KindConcat:
		p := op.Params.(ir.ConcatParams)
		ax := y.Order.Index(p.Axis)
		base := 0
		for _, src := range inputs {
			strides := stridesIn(src, y.Order)
			yStrides := y.Strides()
			for j := range src.Size() {
				// Walk src in y's axis order so coordinates line up.
				unravelShape(j, src, y.Order, coord)
				yo, so := 0, 0
				for d := range coord {
					c := coord[d]
					so += c * strides[d]
					if d == ax {
						c += base
					}
					yo += c * yStrides[d]
				}
				out[yo] = src.Data[so]
			}
			base += mustSize(src, p.Axis)
		}

	case ir.KindSoftmax:
		p := op.Params.(ir.SoftmaxParams)
		x := inputs[0]
		strides := stridesIn(x, y.Order)
		ax := y.Order.Index(p.Axis)
		n := y.Shape[ax]
		step := y.Strides()[ax]
		for i := range out {
			out[i] = x.Data[offset(i, y.Shape, strides, coord)]
		}
		for i := range out {
			unravel(i, y.Shape, coord)
			if coord[ax] != 0 {
				continue
			}
			maxV := float32(math.Inf(-1))
			for k := range n {
				maxV = max(maxV, out[i+k*step])
			}
			var sum float64
			for k := range n {
				e := math.Exp(float64(out[i+k*step] - maxV))
				out[i+k*step] = float32(e)
				sum += e
			}
			for k := range n {
				out[i+k*step] = float32(float64(out[i+k*step]) / sum)
			}
		}

	default:
		return nil, fmt.Errorf("%s: no reference semantics for %s", op.ID, op.Kind)
	}
	return out, nil
}

// activation returns the scalar function of a unary kind.
func activation(k ir.Kind) func(float32) float32 {
	switch k {
	case ir.KindReLU:
		return func(v float32) float32 { return max(v, 0) }
	case ir.KindSigmoid:
		return func(v float32) float32 { return float32(1 / (1 + math.Exp(-float64(v)))) }
	case ir.KindTanh:
		return func(v float32) float32 { return float32(math.Tanh(float64(v))) }
	}
	return func(v float32) float32 { return v }
}

// unravel decodes a row-major flat index into coordinates, innermost axis
// first: coordinate = index mod size, then index div size.
func unravel(index int, shape, coord []int) {
	for d := len(shape) - 1; d >= 0; d-- {
		coord[d] = index % shape[d]
		index /= shape[d]
	}
}

// offset decodes index over shape and accumulates coordinate × stride.
func offset(index int, shape, strides, coord []int) int {
	unravel(index, shape, coord)
	o := 0
	for d, c := range coord {
		o += c * strides[d]
	}
	return o
}

// unravelShape decodes index over v's sizes arranged in order.
func unravelShape(index int, v *ir.Variable, order ir.AxisOrder, coord []int) {
	for d := order.Len() - 1; d >= 0; d-- {
		size := mustSize(v, order.At(d))
		coord[d] = index % size
		index /= size
	}
}

// stridesIn returns, for each axis of order, its stride in v. Axes v lacks
// get stride 0.
func stridesIn(v *ir.Variable, order ir.AxisOrder) []int {
	s := make([]int, order.Len())
	for i := range s {
		s[i], _ = v.StrideOf(order.At(i))
	}
	return s
}

func axisStrides(v *ir.Variable) map[ir.Axis]int {
	m := make(map[ir.Axis]int, v.Rank())
	for i, s := range v.Strides() {
		m[v.Order.At(i)] = s
	}
	return m
}

func orderIndex(o ir.AxisOrder) map[ir.Axis]int {
	m := make(map[ir.Axis]int, o.Len())
	for i, a := range o.Axes() {
		m[a] = i
	}
	return m
}

func mustSize(v *ir.Variable, a ir.Axis) int {
	s, _ := v.ShapeOf(a)
	return s
}
