package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKernelSignature(t *testing.T) {
	a := KernelSignature("kernel void f() {}")
	assert.Len(t, a, 64)
	assert.Equal(t, a, KernelSignature("kernel void f() {}"))
	assert.NotEqual(t, a, KernelSignature("kernel void g() {}"))
}

func TestHashWithDomain_Separates(t *testing.T) {
	data := []byte("same")
	assert.NotEqual(t, hashWithDomain(DomainKernel, data), hashWithDomain(DomainGraph, data))
}

func TestConstantDigest(t *testing.T) {
	assert.Equal(t, ConstantDigest([]float32{1, 2}), ConstantDigest([]float32{1, 2}))
	assert.NotEqual(t, ConstantDigest([]float32{1, 2}), ConstantDigest([]float32{2, 1}))
	assert.NotEqual(t, ConstantDigest(nil), ConstantDigest([]float32{0}))
}

func TestGraphHash(t *testing.T) {
	g := buildMLP(t)
	h1, err := GraphHash(g)
	require.NoError(t, err)
	assert.Equal(t, h1, MustGraphHash(g.Clone()))

	w := g.MustVariable("w").Clone()
	w.Data = make([]float32, 12)
	w.Data[0] = 1
	require.NoError(t, g.SetVariable(w))
	assert.NotEqual(t, h1, MustGraphHash(g), "constant data must affect the hash")
}

func TestDescriptorID(t *testing.T) {
	id, err := DescriptorID(map[string]any{"graph": "abc", "backend": "webgpu"})
	require.NoError(t, err)
	assert.Len(t, id, 64)

	_, err = DescriptorID(map[string]any{"bad": 0.5})
	assert.Error(t, err)
}
