package ir

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for a future algorithm migration.
const (
	DomainKernel     = "tensorc/kernel/v1"
	DomainGraph      = "tensorc/graph/v1"
	DomainConstant   = "tensorc/constant/v1"
	DomainDescriptor = "tensorc/descriptor/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// KernelSignature identifies a kernel by its fully expanded source. Two
// operators whose expanded sources are equal share one kernel function.
func KernelSignature(source string) string {
	return hashWithDomain(DomainKernel, []byte(source))
}

// ConstantDigest hashes constant data as little-endian float32 bits.
func ConstantDigest(data []float32) string {
	buf := make([]byte, 4*len(data))
	for i, f := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return hashWithDomain(DomainConstant, buf)
}

// CanonicalGraph returns the graph as canonical-JSON-ready values.
// Constant data enters through its digest.
func CanonicalGraph(g *Graph) map[string]any {
	vars := make([]any, 0, len(g.varOrder))
	for _, v := range g.Variables() {
		entry := map[string]any{
			"name":       v.Name,
			"shape":      v.Shape,
			"order":      v.Order.String(),
			"attributes": v.Attributes.Names(),
		}
		if v.IsConstant() {
			entry["data"] = ConstantDigest(v.Data)
		}
		vars = append(vars, entry)
	}
	ops := make([]any, 0, len(g.ops))
	for _, op := range g.ops {
		entry := map[string]any{
			"id":      op.ID,
			"kind":    string(op.Kind),
			"inputs":  portsCanonical(op.Inputs),
			"outputs": portsCanonical(op.Outputs),
		}
		if op.Params != nil {
			entry["params"] = op.Params.Canonical()
		}
		ops = append(ops, entry)
	}
	return map[string]any{
		"ir_version": IRVersion,
		"variables":  vars,
		"operators":  ops,
		"inputs":     g.Inputs(),
		"outputs":    g.Outputs(),
	}
}

func portsCanonical(ports []Port) []any {
	out := make([]any, len(ports))
	for i, p := range ports {
		out[i] = map[string]any{"slot": p.Slot, "var": p.Var}
	}
	return out
}

// GraphHash computes the content-addressed identity of a graph.
func GraphHash(g *Graph) (string, error) {
	canonical, err := MarshalCanonical(CanonicalGraph(g))
	if err != nil {
		return "", fmt.Errorf("GraphHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainGraph, canonical), nil
}

// DescriptorID hashes the canonical form of an assembled descriptor.
func DescriptorID(canonical map[string]any) (string, error) {
	data, err := MarshalCanonical(canonical)
	if err != nil {
		return "", fmt.Errorf("DescriptorID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDescriptor, data), nil
}

// MustGraphHash is like GraphHash but panics on error.
// Use only in tests or when the graph is known to be valid.
func MustGraphHash(g *Graph) string {
	h, err := GraphHash(g)
	if err != nil {
		panic(err)
	}
	return h
}
