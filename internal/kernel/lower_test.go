package kernel

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tensorc/internal/ir"
	"github.com/roach88/tensorc/internal/layout"
)

// echoTemplate loads every meta field, so it fits every kind.
const echoTemplate = `{{.Kind}} %%FUNC_NAME%%({{range .Activations}}{{.}} {{end}}):{{range .Fields}} %%META_LOAD({{.}})%%{{end}}`

func echoBackend(t *testing.T, kinds ...ir.Kind) *TemplateBackend {
	t.Helper()
	if len(kinds) == 0 {
		kinds = ir.Kinds()
	}
	templates := make(map[ir.Kind]string)
	for _, k := range kinds {
		templates[k] = echoTemplate
	}
	b, err := NewTemplateBackend(TemplateConfig{Name: "echo", MetaName: "m", Templates: templates})
	require.NoError(t, err)
	return b
}

func quiet() LowerOption {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func allocate(t *testing.T, g *ir.Graph) *layout.Layout {
	t.Helper()
	l, err := layout.Allocate(g, layout.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return l
}

func apply(t *testing.T, g *ir.Graph, kind ir.Kind, params ir.Params, out string, ports ...ir.Port) {
	t.Helper()
	_, _, err := g.Apply(kind, params, ports, out)
	require.NoError(t, err)
}

func x(name string) ir.Port { return ir.Port{Slot: "x", Var: name} }

func input(t *testing.T, g *ir.Graph, name string, shape []int, order string) {
	t.Helper()
	require.NoError(t, g.AddVariable(ir.MustVariable(name, shape, order)))
	require.NoError(t, g.MarkInput(name))
}

func TestNewPlan_StridesMatchOwnOrder(t *testing.T) {
	g := ir.NewGraph()
	input(t, g, "x", []int{2, 3}, "HW")
	apply(t, g, ir.KindReLU, nil, "y", x("x"))
	require.NoError(t, g.MarkOutput("y"))

	p, err := NewPlan(g.Operators()[0], allocate(t, g))
	require.NoError(t, err)
	r, err := NewMetaReader(p.Meta.Schema(), p.Meta.Buffer())
	require.NoError(t, err)

	strides, _ := r.Ints("x_strides")
	shape, _ := r.Ints("y_shape")
	assert.Equal(t, []int{3, 1}, strides)
	assert.Equal(t, []int{2, 3}, shape)
	assert.Equal(t, []ir.Kind{ir.KindReLU}, p.Activations)
}

func TestNewPlan_Concat(t *testing.T) {
	g := ir.NewGraph()
	input(t, g, "x0", []int{2, 2}, "NC")
	input(t, g, "x1", []int{3, 2}, "NC")
	apply(t, g, ir.KindConcat, ir.ConcatParams{Axis: ir.AxisN}, "y",
		ir.Port{Slot: "x0", Var: "x0"}, ir.Port{Slot: "x1", Var: "x1"})
	require.NoError(t, g.MarkOutput("y"))
	l := allocate(t, g)

	p, err := NewPlan(g.Operators()[0], l)
	require.NoError(t, err)
	r, err := NewMetaReader(p.Meta.Schema(), p.Meta.Buffer())
	require.NoError(t, err)

	get := func(name string) []int {
		v, err := r.Ints(name)
		require.NoError(t, err)
		return v
	}
	n, _ := r.Int("N")
	d, _ := r.Int("D")
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, d)
	assert.Equal(t, []int{0, 4}, get("y_offsets"))
	assert.Equal(t, []int{2, 2, 3, 2}, get("x_shapes"))
	assert.Equal(t, []int{2, 1, 2, 1}, get("x_strides_in_y"))
	assert.Equal(t, []int{l.MustAddress("x0"), l.MustAddress("x1")}, get("x_offsets"))
}

func TestNewPlan_ConcatMixedOrders(t *testing.T) {
	g := ir.NewGraph()
	input(t, g, "a", []int{2, 1}, "NC")
	input(t, g, "b", []int{2, 2}, "CN")
	apply(t, g, ir.KindConcat, ir.ConcatParams{Axis: ir.AxisC}, "y",
		ir.Port{Slot: "x0", Var: "a"}, ir.Port{Slot: "x1", Var: "b"})
	require.NoError(t, g.MarkOutput("y"))

	p, err := NewPlan(g.Operators()[0], allocate(t, g))
	require.NoError(t, err)
	r, _ := NewMetaReader(p.Meta.Schema(), p.Meta.Buffer())
	offsets, _ := r.Ints("y_offsets")
	strides, _ := r.Ints("x_strides_in_y")
	assert.Equal(t, []int{0, 1}, offsets)
	// b is stored CN, so its first axis walks y's C stride.
	assert.Equal(t, []int{3, 1, 1, 3}, strides)
}

func TestLower_DeduplicatesIdenticalOperators(t *testing.T) {
	g := ir.NewGraph()
	input(t, g, "a", []int{4}, "C")
	input(t, g, "b", []int{4}, "C")
	apply(t, g, ir.KindReLU, nil, "ra", x("a"))
	apply(t, g, ir.KindReLU, nil, "rb", x("b"))
	apply(t, g, ir.KindElementwiseSum, nil, "y", ir.Port{Slot: "x0", Var: "ra"}, ir.Port{Slot: "x1", Var: "rb"})
	require.NoError(t, g.MarkOutput("y"))

	res, err := Lower(g, allocate(t, g), echoBackend(t), quiet())
	require.NoError(t, err)

	require.Len(t, res.Exec, 3)
	require.Len(t, res.Functions, 2)
	assert.Equal(t, res.Exec[0].Function, res.Exec[1].Function)
	assert.NotEqual(t, res.Exec[0].Meta, res.Exec[1].Meta)
	assert.True(t, strings.HasPrefix(res.Functions[0].Name, "relu_"))
	assert.True(t, strings.HasPrefix(res.Functions[1].Name, "elementwisesum_"))
	assert.Contains(t, res.Functions[0].Source, res.Functions[0].Name)
	assert.NotContains(t, res.Functions[0].Source, "%%")

	kernels := res.Kernels()
	assert.Equal(t, res.Functions[0].Signature, kernels[1].Signature)
	assert.Equal(t, "rb", kernels[1].Invocation.Outputs[0])
}

func TestLower_ParallelMatchesSequential(t *testing.T) {
	g := ir.NewGraph()
	input(t, g, "x", []int{1, 8}, "NC")
	prev := "x"
	for i := range 12 {
		kind := []ir.Kind{ir.KindReLU, ir.KindTanh, ir.KindSigmoid}[i%3]
		out := ir.SlotName("h", i)
		apply(t, g, kind, nil, out, x(prev))
		prev = out
	}
	apply(t, g, ir.KindSoftmax, ir.SoftmaxParams{Axis: ir.AxisC}, "y", x(prev))
	require.NoError(t, g.MarkOutput("y"))
	l := allocate(t, g)

	seq, err := Lower(g, l, echoBackend(t), quiet())
	require.NoError(t, err)
	par, err := Lower(g, l, echoBackend(t), quiet(), WithWorkers(4))
	require.NoError(t, err)

	if diff := cmp.Diff(seq, par); diff != "" {
		t.Errorf("parallel lowering differs (-seq +par):\n%s", diff)
	}
	assert.Len(t, seq.Functions, 4)
}

func TestLower_UnsupportedOperator(t *testing.T) {
	g := ir.NewGraph()
	input(t, g, "x", []int{4}, "C")
	apply(t, g, ir.KindReLU, nil, "h", x("x"))
	apply(t, g, ir.KindSoftmax, ir.SoftmaxParams{Axis: ir.AxisC}, "y", x("h"))
	require.NoError(t, g.MarkOutput("y"))

	_, err := Lower(g, allocate(t, g), echoBackend(t, ir.KindReLU), quiet(), WithWorkers(2))
	require.Error(t, err)
	assert.True(t, ir.IsUnsupportedOperatorError(err))
}

func TestTemplateBackend_BadTemplate(t *testing.T) {
	_, err := NewTemplateBackend(TemplateConfig{
		Name:      "broken",
		Templates: map[ir.Kind]string{ir.KindReLU: "{{.Kind"},
	})
	assert.Error(t, err)
}

func TestTable_Intern(t *testing.T) {
	tab := NewTable()
	fn, fresh := tab.Intern(Function{Name: "a", Signature: "s"})
	assert.True(t, fresh)
	assert.Equal(t, "a", fn.Name)

	fn, fresh = tab.Intern(Function{Name: "b", Signature: "s"})
	assert.False(t, fresh)
	assert.Equal(t, "a", fn.Name)
	assert.Equal(t, 1, tab.Len())
}
