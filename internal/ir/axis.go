package ir

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Axis names one logical dimension of a tensor.
type Axis byte

// Known axes. On filter and weight tensors N denotes output channels and C
// input channels, following the framework convention.
const (
	AxisN Axis = 'N'
	AxisC Axis = 'C'
	AxisH Axis = 'H'
	AxisW Axis = 'W'
)

// String returns the single-letter axis name.
func (a Axis) String() string {
	return string(rune(a))
}

// Valid reports whether the axis is an upper-case ASCII letter.
func (a Axis) Valid() bool {
	return a >= 'A' && a <= 'Z'
}

// AxisOrder is an ordered sequence of distinct axes mapping a tensor's
// physical dimensions onto logical axes.
//
// The zero value is the order of a rank-0 tensor.
type AxisOrder struct {
	axes []Axis
}

// Predefined orders used by the converter and the optimizer.
var (
	OrderC    = MustParseOrder("C")
	OrderNC   = MustParseOrder("NC")
	OrderCN   = MustParseOrder("CN")
	OrderNCHW = MustParseOrder("NCHW")
	OrderNHWC = MustParseOrder("NHWC")
	OrderHWNC = MustParseOrder("HWNC")
	OrderCNHW = MustParseOrder("CNHW")
)

// NewOrder builds an order from axes. Duplicate or invalid axes are rejected.
func NewOrder(axes ...Axis) (AxisOrder, error) {
	seen := make(map[Axis]bool, len(axes))
	for _, a := range axes {
		if !a.Valid() {
			return AxisOrder{}, fmt.Errorf("invalid axis %q", rune(a))
		}
		if seen[a] {
			return AxisOrder{}, fmt.Errorf("duplicate axis %s", a)
		}
		seen[a] = true
	}
	return AxisOrder{axes: append([]Axis(nil), axes...)}, nil
}

// ParseOrder parses an order written as a string of axis letters, e.g. "NCHW".
func ParseOrder(s string) (AxisOrder, error) {
	axes := make([]Axis, 0, len(s))
	for _, r := range s {
		if r > 0x7f {
			return AxisOrder{}, fmt.Errorf("invalid axis %q in order %q", r, s)
		}
		axes = append(axes, Axis(r))
	}
	o, err := NewOrder(axes...)
	if err != nil {
		return AxisOrder{}, fmt.Errorf("order %q: %w", s, err)
	}
	return o, nil
}

// MustParseOrder is like ParseOrder but panics on error.
// Use only for package-level constants and tests.
func MustParseOrder(s string) AxisOrder {
	o, err := ParseOrder(s)
	if err != nil {
		panic(err)
	}
	return o
}

// Len returns the number of axes.
func (o AxisOrder) Len() int { return len(o.axes) }

// Axes returns a copy of the axes.
func (o AxisOrder) Axes() []Axis {
	return append([]Axis(nil), o.axes...)
}

// At returns the i-th axis.
func (o AxisOrder) At(i int) Axis { return o.axes[i] }

// Index returns the position of the axis, or -1 if absent.
func (o AxisOrder) Index(a Axis) int {
	for i, x := range o.axes {
		if x == a {
			return i
		}
	}
	return -1
}

// Contains reports whether the order has the axis.
func (o AxisOrder) Contains(a Axis) bool {
	return o.Index(a) >= 0
}

// Equal reports whether both orders list the same axes in the same sequence.
func (o AxisOrder) Equal(other AxisOrder) bool {
	if len(o.axes) != len(other.axes) {
		return false
	}
	for i := range o.axes {
		if o.axes[i] != other.axes[i] {
			return false
		}
	}
	return true
}

// IsPermutationOf reports whether both orders have the same axis set.
// Two tensors are layout compatible only if this holds.
func (o AxisOrder) IsPermutationOf(other AxisOrder) bool {
	if len(o.axes) != len(other.axes) {
		return false
	}
	for _, a := range o.axes {
		if !other.Contains(a) {
			return false
		}
	}
	return true
}

// Permutation returns, for each axis of target, its index in o.
// Fails when the orders are not permutations of each other.
func (o AxisOrder) Permutation(target AxisOrder) ([]int, error) {
	if !o.IsPermutationOf(target) {
		return nil, fmt.Errorf("order %s is not a permutation of %s", target, o)
	}
	perm := make([]int, target.Len())
	for i, a := range target.axes {
		perm[i] = o.Index(a)
	}
	return perm, nil
}

// String returns the axis letters, e.g. "NCHW".
func (o AxisOrder) String() string {
	var b strings.Builder
	for _, a := range o.axes {
		b.WriteByte(byte(a))
	}
	return b.String()
}

// MarshalJSON encodes the order as its string form.
func (o AxisOrder) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes the string form.
func (o *AxisOrder) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseOrder(s)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// DefaultOrder returns the framework-native order for a tensor of the given
// rank: C, NC, NCHW. Other ranks have no default.
func DefaultOrder(rank int) (AxisOrder, bool) {
	switch rank {
	case 1:
		return OrderC, true
	case 2:
		return OrderNC, true
	case 4:
		return OrderNCHW, true
	default:
		return AxisOrder{}, false
	}
}
