package kernel

import (
	"fmt"

	"github.com/roach88/tensorc/internal/ir"
	"github.com/roach88/tensorc/internal/layout"
)

// Plan is the backend-agnostic description of one operator invocation: the
// meta buffer every backend's template reads plus the static parameters
// baked into the source.
type Plan struct {
	Op   *ir.Operator
	Meta *MetaBuffer
	// Activations is the activation sequence of unary elementwise kinds.
	Activations []ir.Kind
}

// Kind returns the planned operator kind.
func (p *Plan) Kind() ir.Kind { return p.Op.Kind }

// operand is a variable as seen by kernels: its element address in the
// unified address space plus its placement.
type operand struct {
	layout.Allocation
	addr int
}

func (o operand) size(a ir.Axis) int {
	if i := o.Order.Index(a); i >= 0 {
		return o.Shape[i]
	}
	return 1
}

func (o operand) stride(a ir.Axis) int {
	if i := o.Order.Index(a); i >= 0 {
		return o.Strides[i]
	}
	return 0
}

// stridesIn lists o's stride for each axis of order, 0 where o lacks it.
func (o operand) stridesIn(order ir.AxisOrder) []int {
	s := make([]int, order.Len())
	for i, a := range order.Axes() {
		s[i] = o.stride(a)
	}
	return s
}

func (o operand) nchw(f func(ir.Axis) int) []int {
	return []int{f(ir.AxisN), f(ir.AxisC), f(ir.AxisH), f(ir.AxisW)}
}

// NewPlan computes the meta buffer of op against l. Entries are registered
// in a fixed order per kind so every backend shares one schema.
func NewPlan(op *ir.Operator, l *layout.Layout) (*Plan, error) {
	get := func(name string) (operand, error) {
		a, ok := l.Allocation(name)
		if !ok {
			return operand{}, ir.NewInvalidGraphError(fmt.Sprintf("%s: variable %s has no layout entry", op.ID, name), nil)
		}
		addr, err := l.Address(name)
		return operand{Allocation: a, addr: addr}, err
	}
	ins := make([]operand, len(op.Inputs))
	for i, p := range op.Inputs {
		o, err := get(p.Var)
		if err != nil {
			return nil, err
		}
		ins[i] = o
	}
	y, err := get(op.Y())
	if err != nil {
		return nil, err
	}

	p := &Plan{Op: op, Meta: NewMetaBuffer()}
	m := p.Meta
	reg := func(name string, v any) {
		if err == nil {
			err = m.Register(name, v)
		}
	}
	need := func(n int) error {
		if len(ins) != n {
			return ir.NewInvalidGraphError(fmt.Sprintf("%s: %s expects %d operands, got %d", op.ID, op.Kind, n, len(ins)), nil)
		}
		return nil
	}

	switch op.Kind {
	case ir.KindReLU, ir.KindSigmoid, ir.KindTanh, ir.KindElementwiseChain, ir.KindTranspose:
		if err := need(1); err != nil {
			return nil, err
		}
		switch op.Kind {
		case ir.KindElementwiseChain:
			cp, ok := op.Params.(ir.ChainParams)
			if !ok {
				return nil, ir.NewInvalidGraphError(op.ID+": missing chain parameters", nil)
			}
			p.Activations = append([]ir.Kind(nil), cp.Activations...)
		case ir.KindTranspose:
		default:
			p.Activations = []ir.Kind{op.Kind}
		}
		x := ins[0]
		reg("y_offset", y.addr)
		reg("x_offset", x.addr)
		reg("N", y.Size)
		reg("D", len(y.Shape))
		reg("y_shape", y.Shape)
		reg("x_strides", x.stridesIn(y.Order))

	case ir.KindElementwiseSum:
		offsets := make([]int, len(ins))
		var strides []int
		for i, x := range ins {
			offsets[i] = x.addr
			strides = append(strides, x.stridesIn(y.Order)...)
		}
		reg("y_offset", y.addr)
		reg("N", y.Size)
		reg("D", len(y.Shape))
		reg("K", len(ins))
		reg("y_shape", y.Shape)
		reg("x_offsets", offsets)
		reg("x_strides", strides)

	case ir.KindAxiswiseBias, ir.KindAxiswiseScale:
		if err := need(2); err != nil {
			return nil, err
		}
		ap, ok := op.Params.(ir.AxiswiseParams)
		if !ok {
			return nil, ir.NewInvalidGraphError(op.ID+": missing axis parameter", nil)
		}
		x, b := ins[0], ins[1]
		reg("y_offset", y.addr)
		reg("x_offset", x.addr)
		reg("b_offset", b.addr)
		reg("N", y.Size)
		reg("D", len(y.Shape))
		reg("axis", y.Order.Index(ap.Axis))
		reg("y_shape", y.Shape)
		reg("x_strides", x.stridesIn(y.Order))

	case ir.KindLinear:
		if err := need(2); err != nil {
			return nil, err
		}
		x, w := ins[0], ins[1]
		reg("y_offset", y.addr)
		reg("x_offset", x.addr)
		reg("w_offset", w.addr)
		reg("M", x.size(ir.AxisN))
		reg("K", x.size(ir.AxisC))
		reg("C", y.size(ir.AxisC))
		reg("x_stride_n", x.stride(ir.AxisN))
		reg("x_stride_c", x.stride(ir.AxisC))
		reg("w_stride_n", w.stride(ir.AxisN))
		reg("w_stride_c", w.stride(ir.AxisC))
		reg("y_stride_n", y.stride(ir.AxisN))
		reg("y_stride_c", y.stride(ir.AxisC))

	case ir.KindConvolution2D:
		if err := need(2); err != nil {
			return nil, err
		}
		cp, ok := op.Params.(ir.ConvParams)
		if !ok {
			return nil, ir.NewInvalidGraphError(op.ID+": missing convolution parameters", nil)
		}
		x, w := ins[0], ins[1]
		reg("y_offset", y.addr)
		reg("x_offset", x.addr)
		reg("w_offset", w.addr)
		reg("N", x.size(ir.AxisN))
		reg("C1", x.size(ir.AxisC))
		reg("H1", x.size(ir.AxisH))
		reg("W1", x.size(ir.AxisW))
		reg("C2", y.size(ir.AxisC))
		reg("H2", y.size(ir.AxisH))
		reg("W2", y.size(ir.AxisW))
		reg("KH", w.size(ir.AxisH))
		reg("KW", w.size(ir.AxisW))
		reg("SH", cp.Stride[0])
		reg("SW", cp.Stride[1])
		reg("PH", cp.Pad[0])
		reg("PW", cp.Pad[1])
		reg("x_strides", x.nchw(x.stride))
		reg("w_strides", w.nchw(w.stride))
		reg("y_strides", y.nchw(y.stride))

	case ir.KindMaxPooling2D, ir.KindAveragePooling2D:
		if err := need(1); err != nil {
			return nil, err
		}
		pp, ok := op.Params.(ir.PoolParams)
		if !ok {
			return nil, ir.NewInvalidGraphError(op.ID+": missing pooling parameters", nil)
		}
		x := ins[0]
		reg("y_offset", y.addr)
		reg("x_offset", x.addr)
		reg("N", x.size(ir.AxisN))
		reg("C", x.size(ir.AxisC))
		reg("H1", x.size(ir.AxisH))
		reg("W1", x.size(ir.AxisW))
		reg("H2", y.size(ir.AxisH))
		reg("W2", y.size(ir.AxisW))
		reg("KH", pp.KSize[0])
		reg("KW", pp.KSize[1])
		reg("SH", pp.Stride[0])
		reg("SW", pp.Stride[1])
		reg("PH", pp.Pad[0])
		reg("PW", pp.Pad[1])
		reg("x_strides", x.nchw(x.stride))
		reg("y_strides", y.nchw(y.stride))

	case ir.KindConcat:
		cp, ok := op.Params.(ir.ConcatParams)
		if !ok {
			return nil, ir.NewInvalidGraphError(op.ID+": missing axis parameter", nil)
		}
		xOffsets, yOffsets, xShapes, xStridesInY := concatOffsets(ins, y, cp.Axis)
		reg("y_offset", y.addr)
		reg("N", len(ins))
		reg("D", len(y.Shape))
		reg("x_offsets", xOffsets)
		reg("y_offsets", yOffsets)
		reg("x_shapes", xShapes)
		reg("x_strides_in_y", xStridesInY)

	case ir.KindReshape:
		if err := need(1); err != nil {
			return nil, err
		}
		rp, ok := op.Params.(ir.ReshapeParams)
		if !ok {
			return nil, ir.NewInvalidGraphError(op.ID+": missing reshape parameters", nil)
		}
		x := ins[0]
		inShape := make([]int, rp.InOrder.Len())
		for i, a := range rp.InOrder.Axes() {
			inShape[i] = x.size(a)
		}
		reg("y_offset", y.addr)
		reg("x_offset", x.addr)
		reg("N", y.Size)
		reg("D", len(inShape))
		reg("in_shape", inShape)
		reg("in_strides", x.stridesIn(rp.InOrder))

	case ir.KindSoftmax:
		if err := need(1); err != nil {
			return nil, err
		}
		sp, ok := op.Params.(ir.SoftmaxParams)
		if !ok {
			return nil, ir.NewInvalidGraphError(op.ID+": missing axis parameter", nil)
		}
		x := ins[0]
		reg("y_offset", y.addr)
		reg("x_offset", x.addr)
		reg("N", y.Size)
		reg("D", len(y.Shape))
		reg("axis", y.Order.Index(sp.Axis))
		reg("y_shape", y.Shape)
		reg("x_strides", x.stridesIn(y.Order))

	default:
		return nil, ir.NewInvalidGraphError(fmt.Sprintf("%s: no kernel plan for %s", op.ID, op.Kind), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op.ID, err)
	}
	return p, nil
}

// concatOffsets computes the concat meta entries, operands first to last:
// each operand's element address, its element offset inside y (the running
// target-axis offset times y's stride of that axis), its shape in its own
// order, and the stride in y of each of its axes (flattened N×D).
func concatOffsets(xs []operand, y operand, axis ir.Axis) (xOffsets, yOffsets, xShapes, xStridesInY []int) {
	target := 0
	for _, x := range xs {
		xOffsets = append(xOffsets, x.addr)
		yOffsets = append(yOffsets, target*y.stride(axis))
		target += x.size(axis)
		xShapes = append(xShapes, x.Shape...)
		for _, a := range x.Order.Axes() {
			xStridesInY = append(xStridesInY, y.stride(a))
		}
	}
	return xOffsets, yOffsets, xShapes, xStridesInY
}
