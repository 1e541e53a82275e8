package testutil

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tensorc/internal/ir"
)

func TestKindGraph_EveryKindValidates(t *testing.T) {
	for _, kind := range ir.Kinds() {
		g, inputs, err := KindGraph(kind)
		require.NoError(t, err, kind)
		require.NoError(t, ir.Validate(g), kind)
		assert.Len(t, g.Operators(), 1)
		assert.Equal(t, kind, g.Operators()[0].Kind)
		for _, name := range g.Inputs() {
			assert.Len(t, inputs[name], g.MustVariable(name).Size(), "%s input %s", kind, name)
		}
	}
	_, _, err := KindGraph("Dropout")
	assert.Error(t, err)
}

func TestRandomGraph_Valid(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := range 50 {
		g, inputs := RandomGraph(r, 1+r.IntN(10))
		require.NoError(t, ir.Validate(g), "graph %d", i)
		assert.Len(t, g.Outputs(), 1)
		assert.Len(t, inputs, len(g.Inputs()))
	}
}

func TestRamp_NoZeros(t *testing.T) {
	for _, v := range Ramp(64, 3) {
		assert.NotZero(t, v)
		assert.Less(t, v, float32(1.1))
		assert.Greater(t, v, float32(-1.1))
	}
}
