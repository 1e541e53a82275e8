// Package descriptor assembles the artifact a runtime loads: kernel
// functions, the execution list with meta buffers, the memory layout and
// the packed weight blob.
package descriptor

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/roach88/tensorc/internal/ir"
	"github.com/roach88/tensorc/internal/kernel"
	"github.com/roach88/tensorc/internal/layout"
)

// Descriptor is the serializable result of compiling a graph for one
// backend.
type Descriptor struct {
	RunID          string              `json:"run_id"`
	Backend        string              `json:"backend"`
	GraphHash      string              `json:"graph_hash"`
	Functions      []kernel.Function   `json:"functions"`
	Exec           []kernel.Invocation `json:"exec"`
	Inputs         []string            `json:"inputs"`
	Outputs        []string            `json:"outputs"`
	Layout         Layout              `json:"layout"`
	WeightEncoding Encoding            `json:"weight_encoding"`

	// Preamble precedes the function sources in the concatenated unit.
	Preamble string `json:"preamble,omitempty"`
}

// Layout is the memory plan in the descriptor. Sizes are in bytes.
type Layout struct {
	StaticSize  int                 `json:"static_size"`
	DynamicSize int                 `json:"dynamic_size"`
	DynamicBase int                 `json:"dynamic_base"`
	Allocations []layout.Allocation `json:"allocations"`
}

// Option configures Assemble.
type Option func(*Descriptor)

// WithRunID stamps the descriptor with a run identifier.
func WithRunID(id string) Option {
	return func(d *Descriptor) {
		d.RunID = id
	}
}

// WithWeightEncoding selects the weight blob format.
//
// Default: EncodingFloat32
func WithWeightEncoding(e Encoding) Option {
	return func(d *Descriptor) {
		d.WeightEncoding = e
	}
}

// Assemble combines a lowered graph with its layout and packs the weight
// blob. Every variable an invocation touches must have a layout entry.
func Assemble(g *ir.Graph, l *layout.Layout, lowered *kernel.Result, opts ...Option) (*Descriptor, []byte, error) {
	d := &Descriptor{
		Backend:        lowered.Backend,
		Functions:      slices.Clone(lowered.Functions),
		Exec:           slices.Clone(lowered.Exec),
		Inputs:         g.Inputs(),
		Outputs:        g.Outputs(),
		WeightEncoding: EncodingFloat32,
		Preamble:       lowered.Preamble,
		Layout: Layout{
			StaticSize:  l.StaticSize(),
			DynamicSize: l.DynamicSize(),
			DynamicBase: l.DynamicBase(),
			Allocations: l.Allocations(),
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	if _, err := ParseEncoding(string(d.WeightEncoding)); err != nil {
		return nil, nil, err
	}
	hash, err := ir.GraphHash(g)
	if err != nil {
		return nil, nil, err
	}
	d.GraphHash = hash

	if err := d.check(); err != nil {
		return nil, nil, err
	}
	return d, packWeights(g, l, d.WeightEncoding), nil
}

// check verifies that invocations only reference known functions and
// placed variables.
func (d *Descriptor) check() error {
	funcs := make(map[string]bool, len(d.Functions))
	for _, fn := range d.Functions {
		funcs[fn.Name] = true
	}
	placed := make(map[string]bool, len(d.Layout.Allocations))
	for _, a := range d.Layout.Allocations {
		placed[a.Name] = true
	}
	for _, inv := range d.Exec {
		if !funcs[inv.Function] {
			return ir.NewInvalidGraphError(fmt.Sprintf("invocation %s calls unknown function %s", inv.Op, inv.Function), nil)
		}
		for _, name := range slices.Concat(inv.Inputs, inv.Outputs) {
			if !placed[name] {
				return ir.NewInvalidGraphError(fmt.Sprintf("invocation %s references %s, which has no layout entry", inv.Op, name), nil)
			}
		}
	}
	for _, name := range slices.Concat(d.Inputs, d.Outputs) {
		if !placed[name] {
			return ir.NewInvalidGraphError(fmt.Sprintf("graph variable %s has no layout entry", name), nil)
		}
	}
	return nil
}

// packWeights writes every constant at its static offset. The blob holds
// the whole static buffer, alignment padding included.
func packWeights(g *ir.Graph, l *layout.Layout, e Encoding) []byte {
	scale := e.ElementBytes()
	blob := make([]byte, l.StaticSize()/layout.ElementBytes*scale)
	for _, c := range g.Constants() {
		a, ok := l.Allocation(c.Name)
		if !ok || a.Buffer != layout.Static {
			continue
		}
		start := a.Offset / layout.ElementBytes * scale
		e.Encode(blob[start:start+len(c.Data)*scale], c.Data)
	}
	return blob
}

// Allocation returns the layout entry of name.
func (d *Descriptor) Allocation(name string) (layout.Allocation, bool) {
	for _, a := range d.Layout.Allocations {
		if a.Name == name {
			return a, true
		}
	}
	return layout.Allocation{}, false
}

// Address returns the element address of name in the unified address
// space.
func (d *Descriptor) Address(name string) (int, error) {
	a, ok := d.Allocation(name)
	if !ok {
		return 0, ir.NewInvalidGraphError(fmt.Sprintf("variable %s has no layout entry", name), nil)
	}
	base := 0
	if a.Buffer == layout.Dynamic {
		base = d.Layout.DynamicBase
	}
	return (base + a.Offset) / layout.ElementBytes, nil
}

// MemoryElements is the number of float32 elements a runtime must reserve.
func (d *Descriptor) MemoryElements() int {
	return (d.Layout.DynamicBase + d.Layout.DynamicSize) / layout.ElementBytes
}

// Function returns the function called name.
func (d *Descriptor) Function(name string) (kernel.Function, bool) {
	for _, fn := range d.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return kernel.Function{}, false
}

// ConcatSources joins the backend preamble and every function source in
// first-use order. It is empty for backends that emit no source.
func (d *Descriptor) ConcatSources() string {
	var b strings.Builder
	for _, fn := range d.Functions {
		if src := fn.Source; src != "" {
			if b.Len() == 0 {
				b.WriteString(d.Preamble)
			}
			b.WriteString("\n")
			b.WriteString(src)
		}
	}
	return b.String()
}

// Sources returns the function sources keyed by function name.
func (d *Descriptor) Sources() map[string]string {
	out := make(map[string]string, len(d.Functions))
	for _, fn := range d.Functions {
		if fn.Source != "" {
			out[fn.Name] = fn.Source
		}
	}
	return out
}

// Canonical returns the descriptor as canonical-JSON-ready values. The run
// ID is left out so identical compilations share one identity.
func (d *Descriptor) Canonical() map[string]any {
	funcs := make([]any, len(d.Functions))
	for i, fn := range d.Functions {
		schema := make([]any, len(fn.Schema))
		for j, f := range fn.Schema {
			schema[j] = map[string]any{"name": f.Name, "offset": f.Offset, "len": f.Len}
		}
		acts := make([]string, len(fn.Activations))
		for j, a := range fn.Activations {
			acts[j] = string(a)
		}
		funcs[i] = map[string]any{
			"name":        fn.Name,
			"kind":        string(fn.Kind),
			"signature":   fn.Signature,
			"schema":      schema,
			"activations": acts,
		}
	}
	exec := make([]any, len(d.Exec))
	for i, inv := range d.Exec {
		meta := make([]int, len(inv.Meta))
		for j, v := range inv.Meta {
			meta[j] = int(v)
		}
		exec[i] = map[string]any{
			"function": inv.Function,
			"op":       inv.Op,
			"meta":     meta,
			"inputs":   inv.Inputs,
			"outputs":  inv.Outputs,
		}
	}
	allocs := make([]any, len(d.Layout.Allocations))
	for i, a := range d.Layout.Allocations {
		allocs[i] = map[string]any{
			"name":    a.Name,
			"buffer":  string(a.Buffer),
			"offset":  a.Offset,
			"size":    a.Size,
			"shape":   a.Shape,
			"order":   a.Order.String(),
			"strides": a.Strides,
		}
	}
	return map[string]any{
		"backend":         d.Backend,
		"graph_hash":      d.GraphHash,
		"weight_encoding": string(d.WeightEncoding),
		"functions":       funcs,
		"exec":            exec,
		"inputs":          d.Inputs,
		"outputs":         d.Outputs,
		"layout": map[string]any{
			"static_size":  d.Layout.StaticSize,
			"dynamic_size": d.Layout.DynamicSize,
			"dynamic_base": d.Layout.DynamicBase,
			"allocations":  allocs,
		},
	}
}

// CanonicalJSON renders Canonical as RFC 8785 JSON.
func (d *Descriptor) CanonicalJSON() ([]byte, error) {
	return ir.MarshalCanonical(d.Canonical())
}

// ID is the content-addressed identity of the descriptor.
func (d *Descriptor) ID() (string, error) {
	return ir.DescriptorID(d.Canonical())
}

// WriteSummary prints a human readable overview of the descriptor: counts,
// buffer sizes and one line per allocation (name, buffer, byte offset,
// element count, order).
func (d *Descriptor) WriteSummary(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "backend: %s\n", d.Backend)
	fmt.Fprintf(&b, "weights: %s\n", d.WeightEncoding)
	fmt.Fprintf(&b, "functions: %d\n", len(d.Functions))
	fmt.Fprintf(&b, "invocations: %d\n", len(d.Exec))
	fmt.Fprintf(&b, "static: %s\n", humanize.IBytes(uint64(d.Layout.StaticSize)))
	fmt.Fprintf(&b, "dynamic: %s (base %s)\n",
		humanize.IBytes(uint64(d.Layout.DynamicSize)), humanize.IBytes(uint64(d.Layout.DynamicBase)))
	b.WriteString("allocations:\n")
	for _, a := range d.Layout.Allocations {
		fmt.Fprintf(&b, "  %s %s @%d %d %s\n", a.Name, a.Buffer, a.Offset, a.Size, a.Order)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
