// Package layout assigns every graph variable a byte range in one of two
// buffers.
//
// Constants live in the static buffer, which is shipped as the weight blob.
// Inputs, outputs and intermediates live in the dynamic buffer, where
// variables whose lifetimes do not overlap may share space. Kernels see both
// buffers as one element address space: the static buffer starts at element
// 0 and the dynamic buffer at DynamicBase.
package layout

import (
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/dustin/go-humanize"
	"golang.org/x/exp/constraints"

	"github.com/roach88/tensorc/internal/ir"
)

// ElementBytes is the size of one float32 element.
const ElementBytes = 4

// DefaultAlignment is the byte alignment of every allocation.
const DefaultAlignment = 16

// Buffer names one of the two memory regions.
type Buffer string

const (
	Static  Buffer = "static"
	Dynamic Buffer = "dynamic"
)

// Allocation places one variable. Offset is in bytes from the start of its
// buffer; Size is in elements.
type Allocation struct {
	Name    string       `json:"name"`
	Buffer  Buffer       `json:"buffer"`
	Offset  int          `json:"offset"`
	Size    int          `json:"size"`
	Shape   []int        `json:"shape"`
	Order   ir.AxisOrder `json:"order"`
	Strides []int        `json:"strides"`
}

// Bytes returns the unaligned byte size of the allocation.
func (a Allocation) Bytes() int { return a.Size * ElementBytes }

// Interval is the span of topological operator indices during which a
// variable holds a value. Graph inputs are defined at -1; graph outputs live
// until len(ops).
type Interval struct {
	Def     int `json:"def"`
	LastUse int `json:"last_use"`
}

// Overlaps reports whether two intervals share an operator index.
func (i Interval) Overlaps(o Interval) bool {
	return i.Def <= o.LastUse && o.Def <= i.LastUse
}

// Layout is the result of Allocate. It is immutable.
type Layout struct {
	allocs      map[string]Allocation
	names       []string
	intervals   map[string]Interval
	staticSize  int
	dynamicSize int
	alignment   int
}

// Option configures Allocate.
type Option func(*allocator)

// WithAlignment sets the byte alignment of allocations. It must be a
// positive multiple of ElementBytes.
//
// Default: 16 (DefaultAlignment)
func WithAlignment(bytes int) Option {
	return func(a *allocator) {
		a.alignment = bytes
	}
}

// WithMaxBytes bounds the size of each buffer.
//
// Default: math.MaxInt32
func WithMaxBytes(n int) Option {
	return func(a *allocator) {
		a.maxBytes = n
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *allocator) {
		a.logger = l
	}
}

type allocator struct {
	alignment int
	maxBytes  int
	logger    *slog.Logger
}

// Allocate computes a layout for g. Byte sizes that overflow or exceed the
// configured maximum fail with a LayoutOverflowError.
func Allocate(g *ir.Graph, opts ...Option) (*Layout, error) {
	a := &allocator{
		alignment: DefaultAlignment,
		maxBytes:  math.MaxInt32,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.alignment <= 0 || a.alignment%ElementBytes != 0 {
		return nil, fmt.Errorf("alignment %d is not a positive multiple of %d", a.alignment, ElementBytes)
	}
	if err := ir.Validate(g); err != nil {
		return nil, err
	}
	ops, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	l := &Layout{
		allocs:    make(map[string]Allocation),
		intervals: Liveness(g, ops),
		alignment: a.alignment,
	}

	sizes := make(map[string]int)
	for _, v := range g.Variables() {
		n, ok := ir.CheckedSize(v.Shape)
		if !ok || n > math.MaxInt/ElementBytes-a.alignment {
			return nil, ir.NewLayoutOverflowError(v.Name, fmt.Sprintf("shape %v overflows", v.Shape))
		}
		sizes[v.Name] = n
	}

	// Constants are bump allocated in registration order.
	for _, v := range g.Constants() {
		off := l.staticSize
		l.staticSize += alignUp(sizes[v.Name]*ElementBytes, a.alignment)
		if l.staticSize > a.maxBytes {
			return nil, ir.NewLayoutOverflowError(v.Name,
				fmt.Sprintf("static buffer needs %d bytes, limit is %d", l.staticSize, a.maxBytes))
		}
		l.place(v, Static, off, sizes[v.Name])
	}

	heap := &freeList{}
	take := func(v *ir.Variable) error {
		need := alignUp(sizes[v.Name]*ElementBytes, a.alignment)
		off := heap.take(need)
		if heap.top > a.maxBytes {
			return ir.NewLayoutOverflowError(v.Name,
				fmt.Sprintf("dynamic buffer needs %d bytes, limit is %d", heap.top, a.maxBytes))
		}
		l.place(v, Dynamic, off, sizes[v.Name])
		return nil
	}
	released := make(map[string]bool)
	release := func(name string) {
		al, ok := l.allocs[name]
		if !ok || released[name] || al.Buffer != Dynamic || g.IsOutput(name) {
			return
		}
		released[name] = true
		heap.give(al.Offset, alignUp(al.Bytes(), a.alignment))
	}

	for _, name := range g.Inputs() {
		if err := take(g.MustVariable(name)); err != nil {
			return nil, err
		}
	}
	for i, op := range ops {
		for _, name := range op.OutputVars() {
			if err := take(g.MustVariable(name)); err != nil {
				return nil, err
			}
		}
		// Operands and unread results die only after the outputs are placed.
		for _, name := range slices.Concat(op.InputVars(), op.OutputVars()) {
			if l.intervals[name].LastUse == i {
				release(name)
			}
		}
	}
	l.dynamicSize = heap.top

	a.logger.Debug("layout allocated",
		"variables", len(l.names),
		"static", humanize.IBytes(uint64(l.staticSize)),
		"dynamic", humanize.IBytes(uint64(l.dynamicSize)),
		"alignment", a.alignment,
	)
	return l, nil
}

func (l *Layout) place(v *ir.Variable, buf Buffer, offset, size int) {
	l.allocs[v.Name] = Allocation{
		Name:    v.Name,
		Buffer:  buf,
		Offset:  offset,
		Size:    size,
		Shape:   slices.Clone(v.Shape),
		Order:   v.Order,
		Strides: v.Strides(),
	}
	l.names = append(l.names, v.Name)
}

// Liveness computes the interval of every non-constant variable over ops,
// which must be in topological order.
func Liveness(g *ir.Graph, ops []*ir.Operator) map[string]Interval {
	iv := make(map[string]Interval)
	for _, name := range g.Inputs() {
		iv[name] = Interval{Def: -1, LastUse: -1}
	}
	for i, op := range ops {
		for _, name := range op.OutputVars() {
			iv[name] = Interval{Def: i, LastUse: i}
		}
	}
	for i, op := range ops {
		for _, name := range op.InputVars() {
			if cur, ok := iv[name]; ok && i > cur.LastUse {
				cur.LastUse = i
				iv[name] = cur
			}
		}
	}
	for _, name := range g.Outputs() {
		if cur, ok := iv[name]; ok {
			cur.LastUse = len(ops)
			iv[name] = cur
		}
	}
	return iv
}

// Allocation returns the placement of name.
func (l *Layout) Allocation(name string) (Allocation, bool) {
	a, ok := l.allocs[name]
	if ok {
		a.Shape = slices.Clone(a.Shape)
		a.Strides = slices.Clone(a.Strides)
	}
	return a, ok
}

// Allocations returns every placement, constants first, then dynamic
// variables in allocation order.
func (l *Layout) Allocations() []Allocation {
	out := make([]Allocation, 0, len(l.names))
	for _, name := range l.names {
		a, _ := l.Allocation(name)
		out = append(out, a)
	}
	return out
}

// Interval returns the lifetime of a dynamic variable.
func (l *Layout) Interval(name string) (Interval, bool) {
	iv, ok := l.intervals[name]
	return iv, ok
}

// StaticSize is the static buffer size in bytes.
func (l *Layout) StaticSize() int { return l.staticSize }

// DynamicSize is the peak dynamic buffer size in bytes.
func (l *Layout) DynamicSize() int { return l.dynamicSize }

// DynamicBase is the byte offset of the dynamic buffer in the unified
// address space.
func (l *Layout) DynamicBase() int { return alignUp(l.staticSize, l.alignment) }

// Alignment is the byte alignment used for every allocation.
func (l *Layout) Alignment() int { return l.alignment }

// Address returns the element address of name in the unified address
// space.
func (l *Layout) Address(name string) (int, error) {
	a, ok := l.allocs[name]
	if !ok {
		return 0, ir.NewInvalidGraphError(fmt.Sprintf("variable %s has no layout entry", name), nil)
	}
	base := 0
	if a.Buffer == Dynamic {
		base = l.DynamicBase()
	}
	return (base + a.Offset) / ElementBytes, nil
}

// MustAddress is like Address but panics on a missing variable.
func (l *Layout) MustAddress(name string) int {
	addr, err := l.Address(name)
	if err != nil {
		panic(err)
	}
	return addr
}

func alignUp[T constraints.Integer](v, align T) T {
	if r := v % align; r != 0 {
		return v + align - r
	}
	return v
}
