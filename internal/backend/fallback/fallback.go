// Package fallback is the backend for hosts without a compiled runtime.
// It emits no source; the interpreter executes its functions by kind and
// meta schema.
package fallback

import (
	"fmt"
	"strings"

	"github.com/roach88/tensorc/internal/ir"
	"github.com/roach88/tensorc/internal/kernel"
)

// Name identifies the backend.
const Name = "fallback"

// Backend implements kernel.Backend.
type Backend struct{}

// New returns the backend.
func New() Backend { return Backend{} }

func (Backend) Name() string      { return Name }
func (Backend) Preamble() string  { return "" }
func (Backend) Extension() string { return "" }

// Emit describes the function by its kind, activations and meta schema.
// The signature covers exactly that description, so operators the source
// backends would deduplicate are deduplicated here too.
func (Backend) Emit(p *kernel.Plan) (kernel.Function, error) {
	if !p.Kind().Valid() {
		return kernel.Function{}, ir.NewUnsupportedOperatorError(Name, p.Kind(), p.Op.ID)
	}
	schema := p.Meta.Schema()
	var desc strings.Builder
	fmt.Fprintf(&desc, "%s(", p.Kind())
	for i, a := range p.Activations {
		if i > 0 {
			desc.WriteByte(',')
		}
		desc.WriteString(string(a))
	}
	desc.WriteByte(')')
	for _, f := range schema {
		fmt.Fprintf(&desc, ";%s@%d+%d", f.Name, f.Offset, f.Len)
	}
	sig := ir.KernelSignature(desc.String())
	return kernel.Function{
		Name:        kernel.FunctionName(p.Kind(), sig),
		Kind:        p.Kind(),
		Signature:   sig,
		Schema:      schema,
		Activations: append([]ir.Kind(nil), p.Activations...),
	}, nil
}
