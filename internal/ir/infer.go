package ir

import "fmt"

// Infer computes the output shape and order of an operator applied to
// inputs. Shape mismatches surface as ShapeError.
func Infer(kind Kind, params Params, inputs []*Variable) ([]int, AxisOrder, error) {
	fail := func(format string, args ...any) ([]int, AxisOrder, error) {
		return nil, AxisOrder{}, &CompileError{
			Code:    ErrCodeShape,
			Message: fmt.Sprintf("%s: %s", kind, fmt.Sprintf(format, args...)),
		}
	}
	need := func(n int) bool { return len(inputs) == n }

	switch kind {
	case KindLinear:
		if !need(2) {
			return fail("expects 2 inputs (x, w), got %d", len(inputs))
		}
		x, w := inputs[0], inputs[1]
		if !x.Order.IsPermutationOf(OrderNC) || !w.Order.IsPermutationOf(OrderNC) {
			return fail("x (%s) and w (%s) must both have axes NC", x.Order, w.Order)
		}
		xc, _ := x.ShapeOf(AxisC)
		wc, _ := w.ShapeOf(AxisC)
		if xc != wc {
			return fail("x has %d input channels, w has %d", xc, wc)
		}
		return withSizes(x, map[Axis]int{AxisC: mustShape(w, AxisN)}), x.Order, nil

	case KindConvolution2D:
		if !need(2) {
			return fail("expects 2 inputs (x, w), got %d", len(inputs))
		}
		p, ok := params.(ConvParams)
		if !ok {
			return fail("missing convolution parameters")
		}
		x, w := inputs[0], inputs[1]
		if !x.Order.IsPermutationOf(OrderNCHW) || !w.Order.IsPermutationOf(OrderNCHW) {
			return fail("x (%s) and w (%s) must both have axes NCHW", x.Order, w.Order)
		}
		if mustShape(x, AxisC) != mustShape(w, AxisC) {
			return fail("x has %d input channels, w has %d", mustShape(x, AxisC), mustShape(w, AxisC))
		}
		oh, ok1 := windowOut(mustShape(x, AxisH), mustShape(w, AxisH), p.Stride[0], p.Pad[0])
		ow, ok2 := windowOut(mustShape(x, AxisW), mustShape(w, AxisW), p.Stride[1], p.Pad[1])
		if !ok1 || !ok2 {
			return fail("filter %v with stride %v pad %v does not fit input %v", w.Shape, p.Stride, p.Pad, x.Shape)
		}
		return withSizes(x, map[Axis]int{AxisC: mustShape(w, AxisN), AxisH: oh, AxisW: ow}), x.Order, nil

	case KindMaxPooling2D, KindAveragePooling2D:
		if !need(1) {
			return fail("expects 1 input, got %d", len(inputs))
		}
		p, ok := params.(PoolParams)
		if !ok {
			return fail("missing pooling parameters")
		}
		x := inputs[0]
		if !x.Order.IsPermutationOf(OrderNCHW) {
			return fail("x (%s) must have axes NCHW", x.Order)
		}
		oh, ok1 := windowOut(mustShape(x, AxisH), p.KSize[0], p.Stride[0], p.Pad[0])
		ow, ok2 := windowOut(mustShape(x, AxisW), p.KSize[1], p.Stride[1], p.Pad[1])
		if !ok1 || !ok2 {
			return fail("window %v with stride %v pad %v does not fit input %v", p.KSize, p.Stride, p.Pad, x.Shape)
		}
		return withSizes(x, map[Axis]int{AxisH: oh, AxisW: ow}), x.Order, nil

	case KindReLU, KindSigmoid, KindTanh, KindElementwiseChain:
		if !need(1) {
			return fail("expects 1 input, got %d", len(inputs))
		}
		if kind == KindElementwiseChain {
			p, ok := params.(ChainParams)
			if !ok || len(p.Activations) == 0 {
				return fail("chain has no activations")
			}
			for _, a := range p.Activations {
				if !a.IsActivation() {
					return fail("%s is not an activation", a)
				}
			}
		}
		return append([]int(nil), inputs[0].Shape...), inputs[0].Order, nil

	case KindElementwiseSum:
		if len(inputs) == 0 {
			return fail("expects at least 1 input")
		}
		x0 := inputs[0]
		for _, x := range inputs[1:] {
			if !sameSizes(x0, x) {
				return fail("operand %s %v(%s) does not match %s %v(%s)", x.Name, x.Shape, x.Order, x0.Name, x0.Shape, x0.Order)
			}
		}
		return append([]int(nil), x0.Shape...), x0.Order, nil

	case KindAxiswiseBias, KindAxiswiseScale:
		if !need(2) {
			return fail("expects 2 inputs, got %d", len(inputs))
		}
		p, ok := params.(AxiswiseParams)
		if !ok {
			return fail("missing axis parameter")
		}
		x, b := inputs[0], inputs[1]
		size, ok := x.ShapeOf(p.Axis)
		if !ok {
			return fail("x (%s) has no axis %s", x.Order, p.Axis)
		}
		if b.Rank() != 1 || b.Order.At(0) != p.Axis || b.Shape[0] != size {
			return fail("operand %s %v(%s) must be a vector along %s of size %d", b.Name, b.Shape, b.Order, p.Axis, size)
		}
		return append([]int(nil), x.Shape...), x.Order, nil

	case KindConcat:
		if len(inputs) == 0 {
			return fail("expects at least 1 input")
		}
		p, ok := params.(ConcatParams)
		if !ok {
			return fail("missing axis parameter")
		}
		x0 := inputs[0]
		if !x0.Order.Contains(p.Axis) {
			return fail("x0 (%s) has no axis %s", x0.Order, p.Axis)
		}
		total := 0
		for _, x := range inputs {
			if !x.Order.IsPermutationOf(x0.Order) {
				return fail("operand %s order %s is not a permutation of %s", x.Name, x.Order, x0.Order)
			}
			for a, s := range x.ShapeDict() {
				if a != p.Axis && mustShape(x0, a) != s {
					return fail("operand %s axis %s has size %d, expected %d", x.Name, a, s, mustShape(x0, a))
				}
			}
			total += mustShape(x, p.Axis)
		}
		return withSizes(x0, map[Axis]int{p.Axis: total}), x0.Order, nil

	case KindReshape:
		if !need(1) {
			return fail("expects 1 input, got %d", len(inputs))
		}
		p, ok := params.(ReshapeParams)
		if !ok {
			return fail("missing reshape parameters")
		}
		x := inputs[0]
		if !p.InOrder.IsPermutationOf(x.Order) {
			return fail("input order %s does not match reshape input order %s", x.Order, p.InOrder)
		}
		if len(p.Shape) != p.Order.Len() {
			return fail("target shape %v does not match order %s", p.Shape, p.Order)
		}
		n, ok := CheckedSize(p.Shape)
		if !ok || n != x.Size() {
			return fail("cannot reshape %d elements into %v", x.Size(), p.Shape)
		}
		return append([]int(nil), p.Shape...), p.Order, nil

	case KindTranspose:
		if !need(1) {
			return fail("expects 1 input, got %d", len(inputs))
		}
		p, ok := params.(TransposeParams)
		if !ok {
			return fail("missing transpose parameters")
		}
		x := inputs[0]
		perm, err := x.Order.Permutation(p.Order)
		if err != nil {
			return fail("%v", err)
		}
		shape := make([]int, len(perm))
		for i, j := range perm {
			shape[i] = x.Shape[j]
		}
		return shape, p.Order, nil

	case KindSoftmax:
		if !need(1) {
			return fail("expects 1 input, got %d", len(inputs))
		}
		p, ok := params.(SoftmaxParams)
		if !ok {
			return fail("missing axis parameter")
		}
		if !inputs[0].Order.Contains(p.Axis) {
			return fail("x (%s) has no axis %s", inputs[0].Order, p.Axis)
		}
		return append([]int(nil), inputs[0].Shape...), inputs[0].Order, nil
	}
	return fail("unknown operator kind")
}

// windowOut returns the output length of a sliding window, floor mode.
func windowOut(in, k, stride, pad int) (int, bool) {
	if stride <= 0 || k <= 0 || pad < 0 {
		return 0, false
	}
	span := in + 2*pad - k
	if span < 0 {
		return 0, false
	}
	return span/stride + 1, true
}

func mustShape(v *Variable, a Axis) int {
	s, _ := v.ShapeOf(a)
	return s
}

// withSizes copies v's shape with some axes resized.
func withSizes(v *Variable, sizes map[Axis]int) []int {
	shape := append([]int(nil), v.Shape...)
	for a, s := range sizes {
		if i := v.Order.Index(a); i >= 0 {
			shape[i] = s
		}
	}
	return shape
}

// sameSizes reports whether a and b have the same axis set and per-axis
// sizes, regardless of order.
func sameSizes(a, b *Variable) bool {
	if !a.Order.IsPermutationOf(b.Order) {
		return false
	}
	for ax, s := range a.ShapeDict() {
		if mustShape(b, ax) != s {
			return false
		}
	}
	return true
}
