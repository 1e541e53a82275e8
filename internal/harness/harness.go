package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/roach88/tensorc/internal/descriptor"
	"github.com/roach88/tensorc/internal/interp"
	"github.com/roach88/tensorc/internal/ir"
	"github.com/roach88/tensorc/internal/pipeline"
	"github.com/roach88/tensorc/internal/testutil"
	"github.com/roach88/tensorc/internal/trace"
)

// Option configures Run.
type Option func(*harness)

// WithLogger sets the logger. Default: logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *harness) {
		h.logger = l
	}
}

// WithWorkers sets kernel generation parallelism. Default: 1.
func WithWorkers(n int) Option {
	return func(h *harness) {
		h.workers = n
	}
}

type harness struct {
	logger  *slog.Logger
	workers int
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
// 1. Load the trace and optional weights
// 2. Compile for every backend with deterministic run IDs
// 3. Execute each descriptor with the interpreter
// 4. Check outputs and kernel counts
//
// Compile failures and mismatches are recorded in the result. The error
// return is reserved for scenarios that cannot be loaded at all.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &harness{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		workers: 1,
	}
	for _, opt := range opts {
		opt(h)
	}

	tg, err := loadTrace(scenario)
	if err != nil {
		return nil, err
	}

	cfg := pipeline.Config{
		Backends:       scenario.backends(),
		Optimize:       scenario.Optimize,
		Workers:        h.workers,
		WeightEncoding: descriptor.Encoding(scenario.WeightEncoding),
	}
	artifacts, cerr := pipeline.Compile(ctx, tg, cfg,
		pipeline.WithLogger(h.logger),
		pipeline.WithRunIDGenerator(testutil.NewSequentialRunIDs(scenario.Name)),
	)

	result := NewResult()
	for _, err := range multierr.Errors(cerr) {
		result.AddError(err.Error())
	}
	for _, a := range artifacts {
		br, err := h.execute(ctx, a, scenario.Inputs)
		if err != nil {
			result.AddError(fmt.Sprintf("%s: %v", a.Backend, err))
			continue
		}
		for _, err := range EvaluateExpectations(br, scenario.Expect) {
			result.AddError(err.Error())
		}
		result.Backends = append(result.Backends, br)
	}

	h.logger.Info("scenario finished",
		"scenario", scenario.Name,
		"backends", len(result.Backends),
		"pass", result.Pass,
	)
	return result, nil
}

func loadTrace(s *Scenario) (*trace.Graph, error) {
	var weights []float32
	if s.Weights != "" {
		w, err := trace.ReadWeights(s.Weights)
		if err != nil {
			return nil, fmt.Errorf("failed to read weights: %w", err)
		}
		weights = w
	}
	tg, err := trace.Load(s.Trace, weights)
	if err != nil {
		return nil, fmt.Errorf("failed to load trace: %w", err)
	}
	return tg, nil
}

func (h *harness) execute(ctx context.Context, a pipeline.Artifact, inputs map[string][]float32) (BackendResult, error) {
	outputs, err := interp.Run(ctx, a.Descriptor, a.Weights, inputs, interp.WithLogger(h.logger))
	if err != nil {
		return BackendResult{}, err
	}
	kinds := make([]ir.Kind, len(a.Descriptor.Functions))
	for i, fn := range a.Descriptor.Functions {
		kinds[i] = fn.Kind
	}
	return BackendResult{
		Backend:     a.Backend,
		Functions:   kinds,
		Invocations: len(a.Descriptor.Exec),
		Outputs:     outputs,
		Descriptor:  a.Descriptor,
	}, nil
}
