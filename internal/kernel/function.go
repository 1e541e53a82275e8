// Package kernel turns planned IR operators into deduplicated kernel
// functions and their invocations.
//
// Every operator becomes one Invocation that carries its meta buffer. The
// source a backend emits for an operator depends only on the operator kind,
// static parameters and the meta schema, never on meta values, so
// structurally identical operators share one Function.
package kernel

import (
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/tensorc/internal/ir"
)

const funcNamePlaceholder = "%%FUNC_NAME%%"

// Function is one generated kernel. Source is empty for backends that
// execute functions through the interpreter.
type Function struct {
	Name        string      `json:"name"`
	Kind        ir.Kind     `json:"kind"`
	Signature   string      `json:"signature"`
	Source      string      `json:"source,omitempty"`
	Schema      []MetaField `json:"schema"`
	Activations []ir.Kind   `json:"activations,omitempty"`
}

// Invocation calls a Function for one operator.
type Invocation struct {
	Function string   `json:"function"`
	Op       string   `json:"op"`
	Meta     []int32  `json:"meta"`
	Inputs   []string `json:"inputs"`
	Outputs  []string `json:"outputs"`
}

// Kernel pairs an invocation with the function it calls.
type Kernel struct {
	Function
	Invocation Invocation
}

// Backend emits functions for planned operators.
type Backend interface {
	// Name identifies the backend in descriptors and file names.
	Name() string
	// Emit generates the function for a plan. Backends without a template
	// for the kind return an UnsupportedOperatorError.
	Emit(p *Plan) (Function, error)
	// Preamble is emitted once before all function sources.
	Preamble() string
	// Extension is the file extension of concatenated sources, or "" when
	// the backend produces none.
	Extension() string
}

// Table is the authoritative signature table of one lowering. It is safe
// for concurrent use.
type Table struct {
	mu    sync.Mutex
	funcs map[string]Function
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{funcs: make(map[string]Function)}
}

// Intern returns the function already registered under fn.Signature, or
// registers fn. The boolean reports whether fn was new.
func (t *Table) Intern(fn Function) (Function, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.funcs[fn.Signature]; ok {
		return existing, false
	}
	t.funcs[fn.Signature] = fn
	return fn, true
}

// Len returns the number of distinct functions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.funcs)
}

// FunctionName derives the public name of a function from its kind and
// signature.
func FunctionName(kind ir.Kind, signature string) string {
	if len(signature) > 16 {
		signature = signature[:16]
	}
	return fmt.Sprintf("%s_%s", strings.ToLower(string(kind)), signature)
}
