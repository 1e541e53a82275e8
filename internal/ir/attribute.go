package ir

import "strings"

// Attributes is the closed set of capability flags a Variable carries.
type Attributes uint8

// Variable attributes.
const (
	// AttrConstant marks a variable whose data is materialized.
	AttrConstant Attributes = 1 << iota
	// AttrInput marks a designated graph input.
	AttrInput
	// AttrOutput marks a designated graph output.
	AttrOutput
	// AttrTrainable marks a constant that came from trained weights.
	AttrTrainable
)

var attributeNames = []struct {
	attr Attributes
	name string
}{
	{AttrConstant, "constant"},
	{AttrInput, "input"},
	{AttrOutput, "output"},
	{AttrTrainable, "trainable"},
}

// Has reports whether every flag in a is set.
func (s Attributes) Has(a Attributes) bool {
	return s&a == a
}

// With returns the set with a added.
func (s Attributes) With(a Attributes) Attributes { return s | a }

// Without returns the set with a removed.
func (s Attributes) Without(a Attributes) Attributes { return s &^ a }

// Names lists the set flags in declaration order.
func (s Attributes) Names() []string {
	var names []string
	for _, an := range attributeNames {
		if s.Has(an.attr) {
			names = append(names, an.name)
		}
	}
	return names
}

func (s Attributes) String() string {
	return "{" + strings.Join(s.Names(), ",") + "}"
}
