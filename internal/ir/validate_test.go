package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidate_Cycle(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddVariable(MustVariable("a", []int{2}, "C")))
	require.NoError(t, g.AddVariable(MustVariable("b", []int{2}, "C")))
	require.NoError(t, g.AddOperator(&Operator{ID: "f", Kind: KindReLU, Inputs: []Port{{Slot: "x", Var: "a"}}, Outputs: []Port{{Slot: "y", Var: "b"}}}))
	require.NoError(t, g.AddOperator(&Operator{ID: "g", Kind: KindTanh, Inputs: []Port{{Slot: "x", Var: "b"}}, Outputs: []Port{{Slot: "y", Var: "a"}}}))

	assert.Contains(t, codes(Check(g)), ErrCycle)

	err := Validate(g)
	require.Error(t, err)
	assert.True(t, IsInvalidGraphError(err))

	_, err = g.TopologicalOrder()
	require.Error(t, err)
	assert.True(t, IsInvalidGraphError(err))
}

func TestValidate_Dangling(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddVariable(MustVariable("x", []int{2}, "C")))
	errs := Check(g)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDanglingVariable, errs[0].Code)
	assert.Equal(t, "var.x", errs[0].Field)
}

func TestValidate_ShapeMismatch(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddVariable(MustVariable("x", []int{1, 4}, "NC")))
	require.NoError(t, g.MarkInput("x"))
	require.NoError(t, g.AddVariable(MustConstant("w", make([]float32, 12), []int{3, 4}, "NC")))
	require.NoError(t, g.AddVariable(MustVariable("y", []int{1, 5}, "NC")))
	require.NoError(t, g.AddOperator(&Operator{
		Kind:    KindLinear,
		Inputs:  []Port{{Slot: "x", Var: "x"}, {Slot: "w", Var: "w"}},
		Outputs: []Port{{Slot: "y", Var: "y"}},
	}))

	assert.Equal(t, []string{ErrShapeMismatch}, codes(Check(g)))
}

func TestValidate_ReportsEverything(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddVariable(MustVariable("a", []int{2}, "C")))
	require.NoError(t, g.AddVariable(MustVariable("b", []int{2}, "C")))

	err := Validate(g)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Len(t, multierr.Errors(ce.Err), 2)
}

func TestValidationError_Error(t *testing.T) {
	e := ValidationError{Code: ErrCycle, Field: "ops", Message: "cycle [a b a]"}
	assert.Equal(t, "[V206] ops: cycle [a b a]", e.Error())
}
