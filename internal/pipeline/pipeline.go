// Package pipeline runs the compiler stages in order: convert, optimize,
// then allocate, lower and assemble once per backend.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"

	"github.com/roach88/tensorc/internal/backend"
	"github.com/roach88/tensorc/internal/converter"
	"github.com/roach88/tensorc/internal/descriptor"
	"github.com/roach88/tensorc/internal/ir"
	"github.com/roach88/tensorc/internal/kernel"
	"github.com/roach88/tensorc/internal/layout"
	"github.com/roach88/tensorc/internal/optimizer"
	"github.com/roach88/tensorc/internal/trace"
)

// Config selects what Compile produces. Zero values pick defaults.
type Config struct {
	Backends       []string
	Optimize       bool
	Workers        int
	MaxIterations  int
	Alignment      int
	MaxBytes       int
	WeightEncoding descriptor.Encoding
}

// Artifact is the output of one backend.
type Artifact struct {
	Backend    string
	Extension  string
	Descriptor *descriptor.Descriptor
	Weights    []byte
}

// Option configures Compile.
type Option func(*compiler)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *compiler) {
		c.logger = l
	}
}

// WithRunIDGenerator sets the run ID source. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(c *compiler) {
		c.ids = g
	}
}

type compiler struct {
	cfg    Config
	logger *slog.Logger
	ids    RunIDGenerator
}

func newCompiler(cfg Config, opts []Option) *compiler {
	c := &compiler{cfg: cfg, logger: slog.Default(), ids: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.cfg.Backends) == 0 {
		c.cfg.Backends = backend.Default()
	}
	return c
}

// Compile converts tg and builds one artifact per configured backend.
func Compile(ctx context.Context, tg *trace.Graph, cfg Config, opts ...Option) ([]Artifact, error) {
	c := newCompiler(cfg, opts)
	g, err := converter.New(converter.WithLogger(c.logger)).Convert(tg)
	if err != nil {
		return nil, err
	}
	return c.compile(ctx, g)
}

// CompileGraph is Compile for a graph that is already in IR form. g is not
// modified.
func CompileGraph(ctx context.Context, g *ir.Graph, cfg Config, opts ...Option) ([]Artifact, error) {
	return newCompiler(cfg, opts).compile(ctx, g)
}

func (c *compiler) compile(ctx context.Context, g *ir.Graph) ([]Artifact, error) {
	if err := ir.Validate(g); err != nil {
		return nil, err
	}
	if c.cfg.Optimize {
		opt := optimizer.New(
			optimizer.WithMaxIterations(c.cfg.MaxIterations),
			optimizer.WithLogger(c.logger),
		)
		optimized, err := opt.Optimize(g)
		if err != nil {
			return nil, err
		}
		g = optimized
	}

	backends := make([]kernel.Backend, len(c.cfg.Backends))
	for i, name := range c.cfg.Backends {
		b, err := backend.Lookup(name)
		if err != nil {
			return nil, err
		}
		backends[i] = b
	}
	return c.buildAll(ctx, g, backends)
}

// buildAll builds one artifact per backend concurrently. Artifacts keep the
// backends' order; failed backends are skipped and their errors combined.
func (c *compiler) buildAll(ctx context.Context, g *ir.Graph, backends []kernel.Backend) ([]Artifact, error) {
	// IDs are drawn up front so a fixed generator maps to backends in
	// configuration order.
	ids := make([]string, len(backends))
	for i := range ids {
		ids[i] = c.ids.Generate()
	}

	slots := make([]*Artifact, len(backends))
	errs := make([]error, len(backends))
	// A failing backend leaves the others running; each records its own error.
	var wg sync.WaitGroup
	for i, b := range backends {
		wg.Go(func() {
			a, err := c.build(ctx, g, b, ids[i])
			if err != nil {
				errs[i] = fmt.Errorf("backend %s: %w", b.Name(), err)
				return
			}
			slots[i] = a
		})
	}
	wg.Wait()

	var out []Artifact
	for _, a := range slots {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out, multierr.Combine(errs...)
}

func (c *compiler) build(ctx context.Context, g *ir.Graph, b kernel.Backend, runID string) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	layoutOpts := []layout.Option{layout.WithLogger(c.logger)}
	if c.cfg.Alignment > 0 {
		layoutOpts = append(layoutOpts, layout.WithAlignment(c.cfg.Alignment))
	}
	if c.cfg.MaxBytes > 0 {
		layoutOpts = append(layoutOpts, layout.WithMaxBytes(c.cfg.MaxBytes))
	}
	l, err := layout.Allocate(g, layoutOpts...)
	if err != nil {
		return nil, err
	}
	lowered, err := kernel.Lower(g, l, b,
		kernel.WithWorkers(c.cfg.Workers),
		kernel.WithContext(ctx),
		kernel.WithLogger(c.logger),
	)
	if err != nil {
		return nil, err
	}
	enc, err := descriptor.ParseEncoding(string(c.cfg.WeightEncoding))
	if err != nil {
		return nil, err
	}
	desc, weights, err := descriptor.Assemble(g, l, lowered,
		descriptor.WithRunID(runID),
		descriptor.WithWeightEncoding(enc),
	)
	if err != nil {
		return nil, err
	}
	c.logger.Info("backend compiled",
		"backend", b.Name(),
		"run_id", runID,
		"functions", len(desc.Functions),
		"invocations", len(desc.Exec),
	)
	return &Artifact{Backend: b.Name(), Extension: b.Extension(), Descriptor: desc, Weights: weights}, nil
}

// Files names the files an artifact is written to, relative to the output
// directory. Kernels is empty for backends without source.
func (a *Artifact) Files() (graph, kernels, weights string) {
	graph = fmt.Sprintf("graph_%s.json", a.Backend)
	if a.Extension != "" {
		kernels = fmt.Sprintf("kernels_%s.%s", a.Backend, a.Extension)
	}
	weights = fmt.Sprintf("weight_%s.bin", a.Backend)
	return graph, kernels, weights
}

// Write stores the descriptor, kernel sources and weight blob in dir and
// returns the paths written.
func (a *Artifact) Write(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	graph, kernels, weights := a.Files()
	doc, err := json.MarshalIndent(a.Descriptor, "", "  ")
	if err != nil {
		return nil, err
	}
	files := map[string][]byte{graph: doc, weights: a.Weights}
	if kernels != "" {
		files[kernels] = []byte(a.Descriptor.ConcatSources())
	}
	var written []string
	for _, name := range []string{graph, kernels, weights} {
		data, ok := files[name]
		if !ok {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
