package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariable_Strides(t *testing.T) {
	v := MustVariable("x", []int{2, 3}, "HW")
	assert.Equal(t, []int{3, 1}, v.Strides())

	v = MustVariable("x", []int{2, 3, 4, 5}, "NHWC")
	assert.Equal(t, []int{60, 20, 5, 1}, v.Strides())
	s, ok := v.StrideOf(AxisW)
	require.True(t, ok)
	assert.Equal(t, 5, s)
	_, ok = v.StrideOf(AxisN)
	assert.True(t, ok)
}

func TestVariable_ShapeQueries(t *testing.T) {
	v := MustVariable("x", []int{1, 3, 5, 7}, "NCHW")
	assert.Equal(t, 105, v.Size())
	assert.Equal(t, 4, v.Rank())
	h, ok := v.ShapeOf(AxisH)
	require.True(t, ok)
	assert.Equal(t, 5, h)
	assert.Equal(t, map[Axis]int{AxisN: 1, AxisC: 3, AxisH: 5, AxisW: 7}, v.ShapeDict())
}

func TestNewVariable_RankMismatch(t *testing.T) {
	_, err := NewVariable("x", []int{1, 2, 3}, OrderNC)
	require.Error(t, err)
	assert.True(t, IsShapeError(err))
}

func TestNewVariable_NegativeSize(t *testing.T) {
	_, err := NewVariable("x", []int{1, -2}, OrderNC)
	require.Error(t, err)
	assert.True(t, IsShapeError(err))
}

func TestNewConstant_DataLength(t *testing.T) {
	_, err := NewConstant("w", []float32{1, 2, 3}, []int{2, 2}, OrderNC)
	require.Error(t, err)
	assert.True(t, IsShapeError(err))

	c, err := NewConstant("w", []float32{1, 2, 3, 4}, []int{2, 2}, OrderNC)
	require.NoError(t, err)
	assert.True(t, c.IsConstant())
	assert.Equal(t, "<Constant w shape=[2 2] order=\"NC\">", c.String())
}

func TestVariable_CloneSharesNothingMutable(t *testing.T) {
	v := MustVariable("x", []int{2, 3}, "NC")
	c := v.Clone()
	c.Shape[0] = 9
	assert.Equal(t, 2, v.Shape[0])
}
