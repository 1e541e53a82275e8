package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfer(t *testing.T) {
	tests := []struct {
		name      string
		kind      Kind
		params    Params
		inputs    []*Variable
		wantShape []int
		wantOrder string
	}{
		{
			name:      "linear keeps x order",
			kind:      KindLinear,
			inputs:    []*Variable{MustVariable("x", []int{8, 2}, "CN"), MustVariable("w", []int{5, 8}, "NC")},
			wantShape: []int{5, 2},
			wantOrder: "CN",
		},
		{
			name:      "convolution same padding",
			kind:      KindConvolution2D,
			params:    ConvParams{Stride: [2]int{1, 1}, Pad: [2]int{1, 1}},
			inputs:    []*Variable{MustVariable("x", []int{1, 3, 5, 5}, "NCHW"), MustVariable("w", []int{8, 3, 3, 3}, "NCHW")},
			wantShape: []int{1, 8, 5, 5},
			wantOrder: "NCHW",
		},
		{
			name:      "convolution filter in HWNC",
			kind:      KindConvolution2D,
			params:    ConvParams{Stride: [2]int{2, 2}},
			inputs:    []*Variable{MustVariable("x", []int{1, 6, 6, 3}, "NHWC"), MustVariable("w", []int{2, 2, 4, 3}, "HWNC")},
			wantShape: []int{1, 3, 3, 4},
			wantOrder: "NHWC",
		},
		{
			name:      "pooling floors",
			kind:      KindMaxPooling2D,
			params:    PoolParams{KSize: [2]int{2, 2}, Stride: [2]int{2, 2}},
			inputs:    []*Variable{MustVariable("x", []int{1, 8, 5, 5}, "NCHW")},
			wantShape: []int{1, 8, 2, 2},
			wantOrder: "NCHW",
		},
		{
			name:      "concat mixed orders",
			kind:      KindConcat,
			params:    ConcatParams{Axis: AxisC},
			inputs:    []*Variable{MustVariable("a", []int{1, 2, 2, 2}, "NCHW"), MustVariable("b", []int{1, 2, 2, 3}, "NHWC")},
			wantShape: []int{1, 5, 2, 2},
			wantOrder: "NCHW",
		},
		{
			name:      "sum across orders",
			kind:      KindElementwiseSum,
			inputs:    []*Variable{MustVariable("a", []int{2, 3}, "NC"), MustVariable("b", []int{3, 2}, "CN")},
			wantShape: []int{2, 3},
			wantOrder: "NC",
		},
		{
			name:      "bias along C",
			kind:      KindAxiswiseBias,
			params:    AxiswiseParams{Axis: AxisC},
			inputs:    []*Variable{MustVariable("x", []int{1, 4, 2, 2}, "NCHW"), MustVariable("b", []int{4}, "C")},
			wantShape: []int{1, 4, 2, 2},
			wantOrder: "NCHW",
		},
		{
			name:      "reshape flatten",
			kind:      KindReshape,
			params:    ReshapeParams{InOrder: OrderNCHW, Shape: []int{1, 8}, Order: OrderNC},
			inputs:    []*Variable{MustVariable("x", []int{1, 2, 2, 2}, "NCHW")},
			wantShape: []int{1, 8},
			wantOrder: "NC",
		},
		{
			name:      "transpose",
			kind:      KindTranspose,
			params:    TransposeParams{Order: OrderNHWC},
			inputs:    []*Variable{MustVariable("x", []int{1, 3, 5, 7}, "NCHW")},
			wantShape: []int{1, 5, 7, 3},
			wantOrder: "NHWC",
		},
		{
			name:      "chain",
			kind:      KindElementwiseChain,
			params:    ChainParams{Activations: []Kind{KindReLU, KindTanh}},
			inputs:    []*Variable{MustVariable("x", []int{2, 3}, "NC")},
			wantShape: []int{2, 3},
			wantOrder: "NC",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shape, order, err := Infer(tt.kind, tt.params, tt.inputs)
			require.NoError(t, err)
			assert.Equal(t, tt.wantShape, shape)
			assert.Equal(t, tt.wantOrder, order.String())
		})
	}
}

func TestInfer_ShapeErrors(t *testing.T) {
	tests := []struct {
		name   string
		kind   Kind
		params Params
		inputs []*Variable
	}{
		{
			name:   "linear channel mismatch",
			kind:   KindLinear,
			inputs: []*Variable{MustVariable("x", []int{1, 4}, "NC"), MustVariable("w", []int{3, 5}, "NC")},
		},
		{
			name:   "linear on 4-D input",
			kind:   KindLinear,
			inputs: []*Variable{MustVariable("x", []int{1, 4, 1, 1}, "NCHW"), MustVariable("w", []int{3, 4}, "NC")},
		},
		{
			name:   "filter larger than input",
			kind:   KindConvolution2D,
			params: ConvParams{Stride: [2]int{1, 1}},
			inputs: []*Variable{MustVariable("x", []int{1, 3, 2, 2}, "NCHW"), MustVariable("w", []int{8, 3, 3, 3}, "NCHW")},
		},
		{
			name:   "zero stride",
			kind:   KindAveragePooling2D,
			params: PoolParams{KSize: [2]int{2, 2}},
			inputs: []*Variable{MustVariable("x", []int{1, 3, 4, 4}, "NCHW")},
		},
		{
			name:   "concat non-axis size mismatch",
			kind:   KindConcat,
			params: ConcatParams{Axis: AxisC},
			inputs: []*Variable{MustVariable("a", []int{1, 2}, "NC"), MustVariable("b", []int{2, 2}, "NC")},
		},
		{
			name:   "concat missing axis",
			kind:   KindConcat,
			params: ConcatParams{Axis: AxisH},
			inputs: []*Variable{MustVariable("a", []int{1, 2}, "NC")},
		},
		{
			name:   "sum different axes",
			kind:   KindElementwiseSum,
			inputs: []*Variable{MustVariable("a", []int{2, 3}, "NC"), MustVariable("b", []int{2, 3}, "HW")},
		},
		{
			name:   "reshape element count",
			kind:   KindReshape,
			params: ReshapeParams{InOrder: OrderNC, Shape: []int{7}, Order: OrderC},
			inputs: []*Variable{MustVariable("x", []int{2, 4}, "NC")},
		},
		{
			name:   "transpose to other axes",
			kind:   KindTranspose,
			params: TransposeParams{Order: MustParseOrder("HW")},
			inputs: []*Variable{MustVariable("x", []int{2, 4}, "NC")},
		},
		{
			name:   "chain with non-activation",
			kind:   KindElementwiseChain,
			params: ChainParams{Activations: []Kind{KindReLU, KindSoftmax}},
			inputs: []*Variable{MustVariable("x", []int{2, 4}, "NC")},
		},
		{
			name:   "bias wrong length",
			kind:   KindAxiswiseBias,
			params: AxiswiseParams{Axis: AxisC},
			inputs: []*Variable{MustVariable("x", []int{2, 4}, "NC"), MustVariable("b", []int{3}, "C")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Infer(tt.kind, tt.params, tt.inputs)
			require.Error(t, err)
			assert.True(t, IsShapeError(err), "got %v", err)
		})
	}
}
