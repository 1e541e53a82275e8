package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/roach88/tensorc/internal/pipeline"
	"github.com/roach88/tensorc/internal/store"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	CompileFlags
	OutputDir string
	Cache     string

	// RunIDs overrides run ID generation (for testing).
	// If nil, defaults to pipeline.UUIDv7Generator.
	RunIDs pipeline.RunIDGenerator
}

// ArtifactSummary describes one written backend.
type ArtifactSummary struct {
	Backend      string   `json:"backend"`
	RunID        string   `json:"run_id"`
	DescriptorID string   `json:"descriptor_id"`
	Functions    int      `json:"functions"`
	Invocations  int      `json:"invocations"`
	StaticBytes  int      `json:"static_bytes"`
	DynamicBytes int      `json:"dynamic_bytes"`
	WeightBytes  int      `json:"weight_bytes"`
	Files        []string `json:"files"`
	Cached       bool     `json:"cached,omitempty"`
}

// CompileResult is the compile command's output.
type CompileResult struct {
	Model     string            `json:"model"`
	OutputDir string            `json:"output_dir"`
	Artifacts []ArtifactSummary `json:"artifacts"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	return newCompileCommand(&CompileOptions{RootOptions: rootOpts})
}

func newCompileCommand(opts *CompileOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile [trace]",
		Short: "Compile a trace into kernels, layout and weights",
		Long: `Compile a traced graph for one or more backends.

For every backend the compiler writes graph_<backend>.json (the
descriptor), kernels_<backend>.<ext> (WebGPU and WebAssembly only) and
weight_<backend>.bin to the output directory.

Flags override values from --config. When --cache is set, every run
and its kernel functions are recorded in the SQLite cache.

Examples:
  tensorc compile model.cue --weights model.bin
  tensorc compile model.cue --backend webgpu --optimize -o build
  tensorc compile --config tensorc.yaml --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, cmd, args)
		},
	}

	opts.CompileFlags.register(cmd)
	cmd.Flags().StringVarP(&opts.OutputDir, "output-dir", "o", "", "output directory (default \"out\")")
	cmd.Flags().StringVar(&opts.Cache, "cache", "", "SQLite artifact cache path")

	return cmd
}

func runCompile(opts *CompileOptions, cmd *cobra.Command, args []string) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	cfg, err := opts.resolveConfig(cmd, args)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, err)
	}
	if cmd.Flags().Changed("output-dir") {
		cfg.OutputDir = opts.OutputDir
	}
	if cmd.Flags().Changed("cache") {
		cfg.Cache = opts.Cache
	}
	if cfg.Model == "" {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, errors.New("no trace given: pass a path or set model in --config"))
	}

	tg, err := loadTrace(cfg.Model, cfg.Weights)
	if err != nil {
		return formatter.Fail(ExitCommandError, errorCode(err), err)
	}
	formatter.VerboseLog("Loaded %s: %d node(s), %d tensor(s)", cfg.Model, len(tg.Nodes), len(tg.Tensors))

	popts := []pipeline.Option{pipeline.WithLogger(logger)}
	if opts.RunIDs != nil {
		popts = append(popts, pipeline.WithRunIDGenerator(opts.RunIDs))
	}
	artifacts, compileErr := pipeline.Compile(cmd.Context(), tg, cfg.Pipeline(), popts...)

	result := CompileResult{
		Model:     cfg.Model,
		OutputDir: cfg.OutputDir,
		Artifacts: make([]ArtifactSummary, 0, len(artifacts)),
	}
	for _, a := range artifacts {
		summary, err := writeArtifact(a, cfg.OutputDir)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, err)
		}
		result.Artifacts = append(result.Artifacts, summary)
	}

	if cfg.Cache != "" && len(artifacts) > 0 {
		if err := recordArtifacts(cmd, cfg.Cache, artifacts, result.Artifacts); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeCache, err)
		}
	}

	if compileErr != nil {
		return outputCompileErrors(formatter, result, compileErr)
	}
	return outputCompileSuccess(formatter, result)
}

func writeArtifact(a pipeline.Artifact, dir string) (ArtifactSummary, error) {
	id, err := a.Descriptor.ID()
	if err != nil {
		return ArtifactSummary{}, err
	}
	paths, err := a.Write(dir)
	if err != nil {
		return ArtifactSummary{}, fmt.Errorf("writing %s artifacts: %w", a.Backend, err)
	}
	files := make([]string, len(paths))
	for i, p := range paths {
		files[i] = filepath.Base(p)
	}
	return ArtifactSummary{
		Backend:      a.Backend,
		RunID:        a.Descriptor.RunID,
		DescriptorID: id,
		Functions:    len(a.Descriptor.Functions),
		Invocations:  len(a.Descriptor.Exec),
		StaticBytes:  a.Descriptor.Layout.StaticSize,
		DynamicBytes: a.Descriptor.Layout.DynamicSize,
		WeightBytes:  len(a.Weights),
		Files:        files,
	}, nil
}

func recordArtifacts(cmd *cobra.Command, path string, artifacts []pipeline.Artifact, summaries []ArtifactSummary) error {
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	for i, a := range artifacts {
		_, inserted, err := st.RecordRun(cmd.Context(), a.Descriptor, len(a.Weights))
		if err != nil {
			return err
		}
		summaries[i].Cached = inserted
	}
	return nil
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result CompileResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %s for %d backend(s)\n\n", filepath.Base(result.Model), len(result.Artifacts))
	writeArtifactText(formatter, result)
	return nil
}

func writeArtifactText(formatter *OutputFormatter, result CompileResult) {
	w := formatter.Writer
	for _, a := range result.Artifacts {
		fmt.Fprintf(w, "  %s: %d function(s), %d invocation(s), static %s, dynamic %s, weights %s\n",
			a.Backend, a.Functions, a.Invocations,
			humanize.IBytes(uint64(a.StaticBytes)),
			humanize.IBytes(uint64(a.DynamicBytes)),
			humanize.IBytes(uint64(a.WeightBytes)),
		)
		formatter.VerboseLog("    run %s, descriptor %s", a.RunID, a.DescriptorID)
	}
	if len(result.Artifacts) > 0 {
		fmt.Fprintf(w, "\nWrote artifacts to %s\n", result.OutputDir)
	}
}

// outputCompileErrors reports every backend failure. Artifacts of the
// backends that succeeded have already been written.
func outputCompileErrors(formatter *OutputFormatter, result CompileResult, err error) error {
	errs := multierr.Errors(err)
	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, e := range errs {
			cliErrors[i] = CLIError{Code: errorCode(e), Message: e.Error()}
		}
		_ = formatter.Error(cliErrors[0].Code, cliErrors[0].Message, map[string]any{
			"errors":    cliErrors,
			"artifacts": result.Artifacts,
		})
		return WrapExitError(ExitFailure, fmt.Sprintf("compilation failed with %d error(s)", len(errs)), err)
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✗ Compilation failed")
	fmt.Fprintln(w)
	for _, e := range errs {
		fmt.Fprintf(w, "  %s: %s\n", errorCode(e), e.Error())
	}
	if len(result.Artifacts) > 0 {
		fmt.Fprintln(w)
		writeArtifactText(formatter, result)
	}
	return WrapExitError(ExitFailure, fmt.Sprintf("compilation failed with %d error(s)", len(errs)), err)
}
