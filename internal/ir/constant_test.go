package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeAxisOrder_Permutation(t *testing.T) {
	orig := []float32{0, 1, 2, 3, 4, 5}
	c := MustConstant("w", orig, []int{2, 3}, "NC")

	require.NoError(t, c.ChangeAxisOrder(OrderCN))
	assert.Equal(t, []int{3, 2}, c.Shape)
	assert.Equal(t, "CN", c.Order.String())
	assert.Equal(t, []float32{0, 3, 1, 4, 2, 5}, c.Data)
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5}, orig, "source data must not be mutated")
}

func TestChangeAxisOrder_RoundTrip(t *testing.T) {
	data := make([]float32, 24)
	for i := range data {
		data[i] = float32(i)
	}
	c := MustConstant("w", data, []int{2, 3, 2, 2}, "NCHW")

	require.NoError(t, c.ChangeAxisOrder(OrderHWNC))
	assert.Equal(t, []int{2, 2, 2, 3}, c.Shape)
	require.NoError(t, c.ChangeAxisOrder(OrderNCHW))
	assert.Equal(t, []int{2, 3, 2, 2}, c.Shape)
	assert.Equal(t, data, c.Data)
}

func TestChangeAxisOrder_NCHWToNHWC(t *testing.T) {
	c := MustConstant("x", []float32{0, 1, 2, 3, 4, 5, 6, 7}, []int{1, 2, 2, 2}, "NCHW")
	require.NoError(t, c.ChangeAxisOrder(OrderNHWC))
	assert.Equal(t, []float32{0, 4, 1, 5, 2, 6, 3, 7}, c.Data)
}

func TestChangeAxisOrder_SqueezeAndExpand(t *testing.T) {
	c := MustConstant("b", []float32{1, 2, 3}, []int{1, 3}, "NC")
	require.NoError(t, c.ChangeAxisOrder(OrderC))
	assert.Equal(t, []int{3}, c.Shape)
	assert.Equal(t, []float32{1, 2, 3}, c.Data)

	require.NoError(t, c.ChangeAxisOrder(OrderCN))
	assert.Equal(t, []int{3, 1}, c.Shape)
	assert.Equal(t, []float32{1, 2, 3}, c.Data)
}

func TestChangeAxisOrder_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		order string
		shape []int
	}{
		{"drops non-unit axis", "C", nil},
		{"same rank, different axes", "NH", nil},
		{"inserts non-unit axis", "NCH", []int{2, 3, 4}},
		{"resizes common axis", "NC", []int{3, 3}},
		{"shape rank mismatch", "NC", []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []float32{0, 1, 2, 3, 4, 5}
			c := MustConstant("w", data, []int{2, 3}, "NC")
			var err error
			if tt.shape == nil {
				err = c.ChangeAxisOrder(MustParseOrder(tt.order))
			} else {
				err = c.ChangeAxisOrderWithShape(MustParseOrder(tt.order), tt.shape)
			}
			require.Error(t, err)
			assert.True(t, IsShapeError(err))
			assert.Equal(t, "NC", c.Order.String(), "failed change must leave the constant untouched")
			assert.Equal(t, []int{2, 3}, c.Shape)
		})
	}
}

func TestChangeAxisOrder_NonConstant(t *testing.T) {
	v := MustVariable("x", []int{2, 3}, "NC")
	err := v.ChangeAxisOrder(OrderCN)
	require.Error(t, err)
	assert.True(t, IsShapeError(err))
}

func TestWithAxisOrder_LeavesReceiver(t *testing.T) {
	c := MustConstant("w", []float32{0, 1, 2, 3, 4, 5}, []int{2, 3}, "NC")
	r, err := c.WithAxisOrder("w_cn", OrderCN)
	require.NoError(t, err)
	assert.Equal(t, "w_cn", r.Name)
	assert.Equal(t, "NC", c.Order.String())
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5}, c.Data)
	assert.Equal(t, []float32{0, 3, 1, 4, 2, 5}, r.Data)
}
