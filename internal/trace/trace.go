package trace

import (
	"fmt"

	"github.com/roach88/tensorc/internal/ir"
)

// Graph is a decoded trace.
type Graph struct {
	Name    string            `json:"-"`
	Inputs  []string          `json:"inputs"`
	Outputs []string          `json:"outputs"`
	Tensors map[string]Tensor `json:"tensors"`
	Nodes   []Node            `json:"nodes"`
}

// Tensor describes one traced tensor. It is a constant when it carries
// Values or a Data reference.
type Tensor struct {
	Shape  []int     `json:"shape"`
	Order  string    `json:"order,omitempty"`
	Values []float64 `json:"values,omitempty"`
	Data   *DataRef  `json:"data,omitempty"`

	// Resolved holds the constant's values after loading.
	Resolved []float32 `json:"-"`
}

// DataRef locates a constant inside the weight blob.
type DataRef struct {
	Offset int `json:"offset"`
}

// Node is one recorded framework operation.
type Node struct {
	Op      string   `json:"op"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
	Params  Params   `json:"params"`
}

// Params is the union of the parameters used by the supported operations.
type Params struct {
	KSize  []int    `json:"ksize,omitempty"`
	Stride []int    `json:"stride,omitempty"`
	Pad    []int    `json:"pad,omitempty"`
	Axis   *int     `json:"axis,omitempty"`
	Shape  []int    `json:"shape,omitempty"`
	Order  string   `json:"order,omitempty"`
	Axes   []int    `json:"axes,omitempty"`
	Eps    *float64 `json:"eps,omitempty"`
}

// IsConstant reports whether the tensor carries data.
func (t Tensor) IsConstant() bool {
	return t.Values != nil || t.Data != nil
}

// AxisOrder returns the declared order, or the framework-native default
// for the tensor's rank (C, NC, NCHW).
func (t Tensor) AxisOrder() (ir.AxisOrder, error) {
	if t.Order != "" {
		o, err := ir.ParseOrder(t.Order)
		if err != nil {
			return ir.AxisOrder{}, err
		}
		if o.Len() != len(t.Shape) {
			return ir.AxisOrder{}, fmt.Errorf("order %s does not match rank %d", o, len(t.Shape))
		}
		return o, nil
	}
	o, ok := ir.DefaultOrder(len(t.Shape))
	if !ok {
		return ir.AxisOrder{}, fmt.Errorf("rank %d tensor needs an explicit order", len(t.Shape))
	}
	return o, nil
}

// Tensor returns the named tensor.
func (g *Graph) Tensor(name string) (Tensor, bool) {
	t, ok := g.Tensors[name]
	return t, ok
}
