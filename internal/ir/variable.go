package ir

import (
	"fmt"
	"math"
)

// Variable is a tensor value in the graph.
//
// Variables are owned by a Graph and referenced by operators through their
// name. Data is non-nil only for constants.
type Variable struct {
	Name       string
	Shape      []int
	Order      AxisOrder
	Attributes Attributes
	Data       []float32
}

// NewVariable creates a non-constant variable. The shape must align with the
// order.
func NewVariable(name string, shape []int, order AxisOrder) (*Variable, error) {
	v := &Variable{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Order: order,
	}
	if err := v.check(); err != nil {
		return nil, err
	}
	return v, nil
}

// NewConstant creates a constant variable holding data in row-major order
// relative to order. The data slice is retained, not copied.
func NewConstant(name string, data []float32, shape []int, order AxisOrder) (*Variable, error) {
	v := &Variable{
		Name:       name,
		Shape:      append([]int(nil), shape...),
		Order:      order,
		Attributes: AttrConstant,
		Data:       data,
	}
	if err := v.check(); err != nil {
		return nil, err
	}
	return v, nil
}

// MustVariable is like NewVariable but panics on error. Use only in tests.
func MustVariable(name string, shape []int, order string) *Variable {
	v, err := NewVariable(name, shape, MustParseOrder(order))
	if err != nil {
		panic(err)
	}
	return v
}

// MustConstant is like NewConstant but panics on error. Use only in tests.
func MustConstant(name string, data []float32, shape []int, order string) *Variable {
	v, err := NewConstant(name, data, shape, MustParseOrder(order))
	if err != nil {
		panic(err)
	}
	return v
}

func (v *Variable) check() error {
	if v.Name == "" {
		return NewShapeError("", "variable name is empty")
	}
	if len(v.Shape) != v.Order.Len() {
		return NewShapeError(v.Name, fmt.Sprintf("shape %v has rank %d but order %s has %d axes",
			v.Shape, len(v.Shape), v.Order, v.Order.Len()))
	}
	for i, s := range v.Shape {
		if s < 0 {
			return NewShapeError(v.Name, fmt.Sprintf("axis %s has negative size %d", v.Order.At(i), s))
		}
	}
	if v.Attributes.Has(AttrConstant) {
		size, ok := checkedProduct(v.Shape)
		if !ok {
			return NewShapeError(v.Name, fmt.Sprintf("shape %v overflows", v.Shape))
		}
		if len(v.Data) != size {
			return NewShapeError(v.Name, fmt.Sprintf("constant has %d values but shape %v needs %d",
				len(v.Data), v.Shape, size))
		}
	}
	return nil
}

// IsConstant reports whether the variable carries materialized data.
func (v *Variable) IsConstant() bool {
	return v.Attributes.Has(AttrConstant)
}

// Rank returns the number of axes.
func (v *Variable) Rank() int { return len(v.Shape) }

// Size returns the number of elements.
func (v *Variable) Size() int {
	n := 1
	for _, s := range v.Shape {
		n *= s
	}
	return n
}

// ShapeOf returns the size of axis a, or 0 and false if the variable lacks it.
func (v *Variable) ShapeOf(a Axis) (int, bool) {
	i := v.Order.Index(a)
	if i < 0 {
		return 0, false
	}
	return v.Shape[i], true
}

// ShapeDict maps each axis to its size.
func (v *Variable) ShapeDict() map[Axis]int {
	d := make(map[Axis]int, len(v.Shape))
	for i, s := range v.Shape {
		d[v.Order.At(i)] = s
	}
	return d
}

// Strides returns row-major strides relative to the variable's own order:
// the stride of axis i is the product of the sizes of all later axes.
func (v *Variable) Strides() []int {
	return RowMajorStrides(v.Shape)
}

// StrideOf returns the stride of axis a in the variable's own layout.
func (v *Variable) StrideOf(a Axis) (int, bool) {
	i := v.Order.Index(a)
	if i < 0 {
		return 0, false
	}
	return v.Strides()[i], true
}

// Clone returns a copy of the variable. Constant data is shared; it is
// never mutated in place.
func (v *Variable) Clone() *Variable {
	c := *v
	c.Shape = append([]int(nil), v.Shape...)
	return &c
}

func (v *Variable) String() string {
	if v.IsConstant() {
		return fmt.Sprintf("<Constant %s shape=%v order=%q>", v.Name, v.Shape, v.Order)
	}
	return fmt.Sprintf("<Variable %s shape=%v order=%q>", v.Name, v.Shape, v.Order)
}

// RowMajorStrides computes C-order strides for shape.
func RowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// checkedProduct multiplies sizes, reporting false on int overflow.
func checkedProduct(shape []int) (int, bool) {
	n := 1
	for _, s := range shape {
		if s != 0 && n > math.MaxInt/s {
			return 0, false
		}
		n *= s
	}
	return n, true
}

// CheckedSize returns the element count of shape, or false on overflow.
func CheckedSize(shape []int) (int, bool) {
	return checkedProduct(shape)
}
