package kernel

import (
	"slices"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/roach88/tensorc/internal/ir"
)

// TemplateConfig describes a source-generating backend.
type TemplateConfig struct {
	Name      string
	MetaName  string
	Preamble  string
	Extension string
	// Templates maps each supported kind to its source template. Several
	// kinds may share one template and branch on .Kind.
	Templates map[ir.Kind]string
	// Funcs is made available to every template.
	Funcs template.FuncMap
}

// TemplateData is the static input of a template expansion.
type TemplateData struct {
	Kind        string
	Activations []string
	// Fields lists the meta field names in schema order.
	Fields []string
}

// TemplateBackend expands text/template sources, then injects meta loads.
type TemplateBackend struct {
	cfg       TemplateConfig
	templates map[ir.Kind]*template.Template
}

// NewTemplateBackend parses every template of cfg.
func NewTemplateBackend(cfg TemplateConfig) (*TemplateBackend, error) {
	b := &TemplateBackend{cfg: cfg, templates: make(map[ir.Kind]*template.Template, len(cfg.Templates))}
	for kind, text := range cfg.Templates {
		t, err := template.New(string(kind)).Funcs(cfg.Funcs).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: cannot parse %s template", cfg.Name, kind)
		}
		b.templates[kind] = t
	}
	return b, nil
}

// MustTemplateBackend is like NewTemplateBackend but panics on error. Use it
// for backends whose templates are compiled into the binary.
func MustTemplateBackend(cfg TemplateConfig) *TemplateBackend {
	b, err := NewTemplateBackend(cfg)
	if err != nil {
		panic(err)
	}
	return b
}

func (b *TemplateBackend) Name() string      { return b.cfg.Name }
func (b *TemplateBackend) Preamble() string  { return b.cfg.Preamble }
func (b *TemplateBackend) Extension() string { return b.cfg.Extension }

// Kinds lists the kinds this backend has templates for.
func (b *TemplateBackend) Kinds() []ir.Kind {
	kinds := make([]ir.Kind, 0, len(b.templates))
	for k := range b.templates {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Emit expands the kind's template for p. The signature covers the expanded
// source with the function name still unresolved, so it is independent of
// the name it determines.
func (b *TemplateBackend) Emit(p *Plan) (Function, error) {
	kind := p.Kind()
	t, ok := b.templates[kind]
	if !ok {
		return Function{}, ir.NewUnsupportedOperatorError(b.cfg.Name, kind, p.Op.ID)
	}
	data := TemplateData{Kind: string(kind)}
	for _, a := range p.Activations {
		data.Activations = append(data.Activations, string(a))
	}
	for _, f := range p.Meta.Schema() {
		data.Fields = append(data.Fields, f.Name)
	}
	var buf strings.Builder
	if err := t.Execute(&buf, data); err != nil {
		return Function{}, errors.Errorf("%s: cannot generate %s kernel for %s: %v", b.cfg.Name, kind, p.Op.ID, err)
	}
	src, err := p.Meta.Inject(buf.String(), b.cfg.MetaName)
	if err != nil {
		return Function{}, errors.Wrapf(err, "%s: %s kernel for %s", b.cfg.Name, kind, p.Op.ID)
	}
	sig := ir.KernelSignature(src)
	name := FunctionName(kind, sig)
	return Function{
		Name:        name,
		Kind:        kind,
		Signature:   sig,
		Source:      strings.ReplaceAll(src, funcNamePlaceholder, name),
		Schema:      p.Meta.Schema(),
		Activations: slices.Clone(p.Activations),
	}, nil
}
