package trace

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/tensorc/internal/ir"
)

//go:embed schema.cue
var schemaSource []byte

// Error codes for trace loading.
const (
	ErrCodeNotFound  = "T001" // trace or weight file missing
	ErrCodeBuild     = "T002" // CUE syntax error
	ErrCodeSchema    = "T003" // document does not satisfy #Trace
	ErrCodeDecode    = "T004" // value could not be decoded
	ErrCodeWeights   = "T005" // malformed weight blob
	ErrCodeReference = "T006" // dangling tensor reference or bad constant
)

// LoadError reports a malformed trace, with a CUE position when known.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load reads a trace document from path. Constants referencing the weight
// blob are resolved against weights.
func Load(path string, weights []float32) (*Graph, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading trace: %v", err)}
	}
	return LoadBytes(filepath.Base(path), src, weights)
}

// LoadBytes parses and validates a trace document held in memory.
func LoadBytes(name string, src []byte, weights []float32) (*Graph, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("trace schema: %w", err)
	}

	doc := ctx.CompileBytes(src, cue.Filename(name))
	if err := doc.Err(); err != nil {
		return nil, cueError(ErrCodeBuild, err)
	}
	v := schema.LookupPath(cue.ParsePath("#Trace")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(ErrCodeSchema, err)
	}

	g := &Graph{Name: name}
	if err := v.Decode(g); err != nil {
		return nil, cueError(ErrCodeDecode, err)
	}
	if g.Tensors == nil {
		g.Tensors = map[string]Tensor{}
	}
	if err := g.resolve(v, weights); err != nil {
		return nil, err
	}
	return g, nil
}

// resolve checks references and materializes constant values.
func (g *Graph) resolve(v cue.Value, weights []float32) error {
	refErr := func(path cue.Path, format string, args ...any) error {
		return &LoadError{
			Code:    ErrCodeReference,
			Message: fmt.Sprintf(format, args...),
			Pos:     v.LookupPath(path).Pos(),
		}
	}

	for _, name := range slices.Sorted(maps.Keys(g.Tensors)) {
		t := g.Tensors[name]
		path := cue.MakePath(cue.Str("tensors"), cue.Str(name))
		if _, err := t.AxisOrder(); err != nil {
			return refErr(path, "tensor %s: %v", name, err)
		}
		if !t.IsConstant() {
			continue
		}
		size, ok := ir.CheckedSize(t.Shape)
		if !ok {
			return refErr(path, "tensor %s: shape %v overflows", name, t.Shape)
		}
		switch {
		case t.Values != nil && t.Data != nil:
			return refErr(path, "tensor %s has both values and data", name)
		case t.Values != nil:
			if len(t.Values) != size {
				return refErr(path, "tensor %s has %d values, shape %v needs %d", name, len(t.Values), t.Shape, size)
			}
			t.Resolved = make([]float32, size)
			for i, f := range t.Values {
				t.Resolved[i] = float32(f)
			}
		default:
			off := t.Data.Offset
			if off < 0 || size > len(weights) || off > len(weights)-size {
				return refErr(path, "tensor %s needs %d weights at offset %d but the blob has %d values", name, size, off, len(weights))
			}
			t.Resolved = weights[off : off+size]
		}
		g.Tensors[name] = t
	}

	for i, name := range g.Inputs {
		t, ok := g.Tensors[name]
		if !ok {
			return refErr(cue.MakePath(cue.Str("inputs"), cue.Index(i)), "input %s is not a tensor", name)
		}
		if t.IsConstant() {
			return refErr(cue.MakePath(cue.Str("inputs"), cue.Index(i)), "input %s is a constant", name)
		}
	}
	for i, name := range g.Outputs {
		if _, ok := g.Tensors[name]; !ok {
			return refErr(cue.MakePath(cue.Str("outputs"), cue.Index(i)), "output %s is not a tensor", name)
		}
	}
	for i, n := range g.Nodes {
		for _, name := range append(append([]string(nil), n.Inputs...), n.Outputs...) {
			if _, ok := g.Tensors[name]; !ok {
				return refErr(cue.MakePath(cue.Str("nodes"), cue.Index(i)), "%s references unknown tensor %s", n.Op, name)
			}
		}
	}
	return nil
}

// cueError keeps the first CUE error and its position.
func cueError(code string, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Code: code, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}

// ReadWeights reads a raw little-endian float32 weight blob.
func ReadWeights(path string) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading weights: %v", err)}
	}
	return DecodeWeights(raw)
}

// DecodeWeights converts a little-endian float32 blob to values.
func DecodeWeights(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, &LoadError{Code: ErrCodeWeights, Message: fmt.Sprintf("weight blob has %d bytes, not a multiple of 4", len(raw))}
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out, nil
}

// EncodeWeights is the inverse of DecodeWeights.
func EncodeWeights(values []float32) []byte {
	raw := make([]byte, 4*len(values))
	for i, f := range values {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(f))
	}
	return raw
}
