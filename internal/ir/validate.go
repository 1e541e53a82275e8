package ir

import (
	"fmt"
	"slices"

	"go.uber.org/multierr"
)

// Validation error codes (V200-V299).
const (
	ErrInvalidVariable   = "V201" // shape/order/data invariant violated
	ErrUnknownVariable   = "V202" // operator references a missing variable
	ErrMultipleProducers = "V203" // variable produced more than once
	ErrDanglingVariable  = "V204" // computed variable without a producer
	ErrProducesImmutable = "V205" // operator writes a constant or graph input
	ErrCycle             = "V206" // operators form a cycle
	ErrShapeMismatch     = "V207" // recorded output disagrees with inference
	ErrUnknownIO         = "V208" // graph input/output not registered
	ErrUnknownKind       = "V209" // operator kind not in the closed set
)

// ValidationError describes one broken graph invariant.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Check returns every invariant violation of g. It does not fail fast.
func Check(g *Graph) []ValidationError {
	var errs []ValidationError
	add := func(code, field, format string, args ...any) {
		errs = append(errs, ValidationError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	for _, v := range g.Variables() {
		if err := v.check(); err != nil {
			add(ErrInvalidVariable, "var."+v.Name, "%v", err)
		}
	}
	for _, name := range g.inputs {
		if _, ok := g.vars[name]; !ok {
			add(ErrUnknownIO, "inputs", "input %s is not a variable", name)
		}
	}
	for _, name := range g.outputs {
		if _, ok := g.vars[name]; !ok {
			add(ErrUnknownIO, "outputs", "output %s is not a variable", name)
		}
	}

	producers := make(map[string][]string)
	for _, op := range g.ops {
		field := "op." + op.ID
		if !op.Kind.Valid() {
			add(ErrUnknownKind, field, "unknown kind %q", op.Kind)
		}
		known := true
		for _, p := range op.Inputs {
			if _, ok := g.vars[p.Var]; !ok {
				add(ErrUnknownVariable, field, "input %s references unknown variable %s", p.Slot, p.Var)
				known = false
			}
		}
		for _, p := range op.Outputs {
			v, ok := g.vars[p.Var]
			if !ok {
				add(ErrUnknownVariable, field, "output %s references unknown variable %s", p.Slot, p.Var)
				known = false
				continue
			}
			if v.IsConstant() || slices.Contains(g.inputs, p.Var) {
				add(ErrProducesImmutable, field, "writes %s which is a constant or graph input", p.Var)
			}
			producers[p.Var] = append(producers[p.Var], op.ID)
		}
		if known && op.Kind.Valid() && len(op.Outputs) == 1 {
			shape, order, err := Infer(op.Kind, op.Params, g.OperandVars(op))
			y := g.vars[op.Outputs[0].Var]
			switch {
			case err != nil:
				add(ErrShapeMismatch, field, "%v", err)
			case !slices.Equal(shape, y.Shape) || !order.Equal(y.Order):
				add(ErrShapeMismatch, field, "output %s is %v(%s), inferred %v(%s)", y.Name, y.Shape, y.Order, shape, order)
			}
		}
	}

	for _, name := range g.varOrder {
		v := g.vars[name]
		ps := producers[name]
		if len(ps) > 1 {
			add(ErrMultipleProducers, "var."+name, "produced by %v", ps)
		}
		if len(ps) == 0 && !v.IsConstant() && !slices.Contains(g.inputs, name) {
			add(ErrDanglingVariable, "var."+name, "has no producer and is not a graph input or constant")
		}
	}

	for _, cycle := range FindCycles(g) {
		add(ErrCycle, "ops", "cycle %v", cycle)
	}
	return errs
}

// Validate checks every graph invariant and reports all violations as one
// INVALID_GRAPH error.
func Validate(g *Graph) error {
	var combined error
	for _, e := range Check(g) {
		combined = multierr.Append(combined, e)
	}
	if combined == nil {
		return nil
	}
	return NewInvalidGraphError(fmt.Sprintf("%d invariant violation(s)", len(multierr.Errors(combined))), combined)
}
