package ir

import "fmt"

// ChangeAxisOrder relabels a constant to a new axis order, moving its data
// accordingly.
//
// Axes dropped by the new order must have size 1. Axes new to the order get
// size 1. When both orders have the same number of axes they must be a
// permutation of each other. Any other request fails with a ShapeError and
// leaves the constant unchanged.
func (v *Variable) ChangeAxisOrder(order AxisOrder) error {
	shape := make([]int, order.Len())
	for i := range shape {
		shape[i] = 1
		if s, ok := v.ShapeOf(order.At(i)); ok {
			shape[i] = s
		}
	}
	return v.ChangeAxisOrderWithShape(order, shape)
}

// ChangeAxisOrderWithShape is ChangeAxisOrder with an explicitly requested
// resulting shape. Axes shared with the current order must keep their size;
// axes new to the order must be requested with size 1.
func (v *Variable) ChangeAxisOrderWithShape(order AxisOrder, shape []int) error {
	if !v.IsConstant() {
		return NewShapeError(v.Name, "axis order can only be changed on a constant")
	}
	if len(shape) != order.Len() {
		return NewShapeError(v.Name, fmt.Sprintf("requested shape %v does not match order %s", shape, order))
	}
	if v.Order.Len() == order.Len() && !v.Order.IsPermutationOf(order) {
		return NewShapeError(v.Name, fmt.Sprintf("order %s is not a permutation of %s", order, v.Order))
	}

	current := v.ShapeDict()
	for a, size := range current {
		if !order.Contains(a) && size != 1 {
			return NewShapeError(v.Name, fmt.Sprintf("cannot drop axis %s of size %d", a, size))
		}
	}
	for i := 0; i < order.Len(); i++ {
		a := order.At(i)
		size, ok := current[a]
		switch {
		case !ok && shape[i] != 1:
			return NewShapeError(v.Name, fmt.Sprintf("cannot insert axis %s with size %d", a, shape[i]))
		case ok && size != shape[i]:
			return NewShapeError(v.Name, fmt.Sprintf("axis %s has size %d, requested %d", a, size, shape[i]))
		}
	}

	// Common axes in the current relative order, and their target positions.
	var srcAxes []Axis
	var srcShape []int
	for i := 0; i < v.Order.Len(); i++ {
		if order.Contains(v.Order.At(i)) {
			srcAxes = append(srcAxes, v.Order.At(i))
			srcShape = append(srcShape, v.Shape[i])
		}
	}
	src, _ := NewOrder(srcAxes...)
	var dstAxes []Axis
	for i := 0; i < order.Len(); i++ {
		if src.Contains(order.At(i)) {
			dstAxes = append(dstAxes, order.At(i))
		}
	}
	dst, _ := NewOrder(dstAxes...)
	perm, err := src.Permutation(dst)
	if err != nil {
		return NewShapeError(v.Name, err.Error())
	}

	v.Data = Transpose(v.Data, srcShape, perm)
	v.Order = order
	v.Shape = append([]int(nil), shape...)
	return nil
}

// WithAxisOrder returns a re-ordered copy of a constant under a new name,
// leaving the receiver untouched.
func (v *Variable) WithAxisOrder(name string, order AxisOrder) (*Variable, error) {
	c := v.Clone()
	c.Name = name
	if err := c.ChangeAxisOrder(order); err != nil {
		return nil, err
	}
	return c, nil
}

// Transpose returns a new row-major buffer where output axis i is input
// axis perm[i]. The input is never modified.
func Transpose(data []float32, shape []int, perm []int) []float32 {
	out := make([]float32, len(data))
	if len(data) == 0 {
		return out
	}
	inStrides := RowMajorStrides(shape)
	outShape := make([]int, len(perm))
	permStrides := make([]int, len(perm))
	for i, p := range perm {
		outShape[i] = shape[p]
		permStrides[i] = inStrides[p]
	}
	for outIndex := range out {
		inIndex := 0
		s := outIndex
		for d := len(outShape) - 1; d >= 0; d-- {
			inIndex += permStrides[d] * (s % outShape[d])
			s /= outShape[d]
		}
		out[outIndex] = data[inIndex]
	}
	return out
}
