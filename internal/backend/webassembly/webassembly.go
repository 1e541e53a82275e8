// Package webassembly generates C kernels compiled to WebAssembly. All
// kernels address one float array holding the static and dynamic buffers.
package webassembly

import (
	"embed"
	"text/template"

	"github.com/roach88/tensorc/internal/ir"
	"github.com/roach88/tensorc/internal/kernel"
)

// Name identifies the backend.
const Name = "webassembly"

//go:embed templates/*.tmpl
var templateFS embed.FS

const preamble = `#include <stdlib.h>
#include <math.h>

float *data_buffer;

void init(int size)
{
    data_buffer = (float *)malloc(size * sizeof(float));
}

float *get_data_buffer(void)
{
    return data_buffer;
}
`

var activations = map[string]string{
	string(ir.KindReLU):    "v = v > 0.0f ? v : 0.0f;",
	string(ir.KindSigmoid): "v = 1.0f / (1.0f + expf(-v));",
	string(ir.KindTanh):    "v = tanhf(v);",
}

var files = map[ir.Kind]string{
	ir.KindReLU:             "unary.tmpl",
	ir.KindSigmoid:          "unary.tmpl",
	ir.KindTanh:             "unary.tmpl",
	ir.KindElementwiseChain: "unary.tmpl",
	ir.KindTranspose:        "unary.tmpl",
	ir.KindElementwiseSum:   "sum.tmpl",
	ir.KindAxiswiseBias:     "axiswise.tmpl",
	ir.KindAxiswiseScale:    "axiswise.tmpl",
	ir.KindLinear:           "linear.tmpl",
	ir.KindConvolution2D:    "conv.tmpl",
	ir.KindMaxPooling2D:     "pool.tmpl",
	ir.KindAveragePooling2D: "pool.tmpl",
	ir.KindConcat:           "concat.tmpl",
	ir.KindReshape:          "reshape.tmpl",
	ir.KindSoftmax:          "softmax.tmpl",
}

// New returns the backend.
func New() *kernel.TemplateBackend {
	return kernel.MustTemplateBackend(Config())
}

// Config returns the backend's template configuration.
func Config() kernel.TemplateConfig {
	templates := make(map[ir.Kind]string, len(files))
	for kind, file := range files {
		text, err := templateFS.ReadFile("templates/" + file)
		if err != nil {
			panic(err)
		}
		templates[kind] = string(text)
	}
	return kernel.TemplateConfig{
		Name:      Name,
		MetaName:  "meta_buffer",
		Preamble:  preamble,
		Extension: "c",
		Templates: templates,
		Funcs: template.FuncMap{
			"activation": func(kind string) string { return activations[kind] },
		},
	}
}
