package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tensorc/internal/backend/fallback"
	"github.com/roach88/tensorc/internal/interp"
	"github.com/roach88/tensorc/internal/pipeline"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Weights  string
	Backend  string
	Optimize bool
	Inputs   []string
}

// RunResult holds the computed outputs.
type RunResult struct {
	Backend string               `json:"backend"`
	RunID   string               `json:"run_id"`
	Outputs map[string][]float32 `json:"outputs"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <trace>",
		Short: "Compile a trace and execute it with the reference interpreter",
		Long: `Compile a trace for one backend and execute the resulting descriptor
with the reference interpreter. Every graph input must be given with
--input name=v1,v2,... in row-major order of the input's axis order.

Example:
  tensorc run model.cue --weights model.bin --input x=1,2,3,4
  tensorc run model.cue --backend webgpu --optimize --input x=0.5,1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Weights, "weights", "", "raw float32 weight file")
	cmd.Flags().StringVar(&opts.Backend, "backend", fallback.Name, "backend whose descriptor is executed")
	cmd.Flags().BoolVar(&opts.Optimize, "optimize", false, "run the graph optimizer")
	cmd.Flags().StringArrayVar(&opts.Inputs, "input", nil, "input values as name=v1,v2,... (repeatable)")

	return cmd
}

func runTrace(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	inputs, err := ParseInputs(opts.Inputs)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadInput, err)
	}
	tg, err := loadTrace(path, opts.Weights)
	if err != nil {
		return formatter.Fail(ExitCommandError, errorCode(err), err)
	}

	artifacts, err := pipeline.Compile(cmd.Context(), tg, pipeline.Config{
		Backends: []string{opts.Backend},
		Optimize: opts.Optimize,
	}, pipeline.WithLogger(logger))
	if err != nil {
		return formatter.Fail(ExitFailure, errorCode(err), err)
	}
	a := artifacts[0]

	outputs, err := interp.Run(cmd.Context(), a.Descriptor, a.Weights, inputs, interp.WithLogger(logger))
	if err != nil {
		return formatter.Fail(ExitFailure, errorCode(err), err)
	}

	result := RunResult{Backend: a.Backend, RunID: a.Descriptor.RunID, Outputs: outputs}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	w := formatter.Writer
	for _, name := range a.Descriptor.Outputs {
		fmt.Fprintf(w, "%s = %s\n", name, formatValues(outputs[name]))
	}
	formatter.VerboseLog("backend %s, run %s", a.Backend, a.Descriptor.RunID)
	return nil
}

// ParseInputs parses name=v1,v2,... flags.
func ParseInputs(flags []string) (map[string][]float32, error) {
	inputs := make(map[string][]float32, len(flags))
	for _, f := range flags {
		name, list, ok := strings.Cut(f, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("input %q: expected name=v1,v2,...", f)
		}
		if _, dup := inputs[name]; dup {
			return nil, fmt.Errorf("input %s given twice", name)
		}
		var values []float32
		for _, field := range strings.Split(list, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return nil, fmt.Errorf("input %s: %w", name, err)
			}
			values = append(values, float32(v))
		}
		inputs[name] = values
	}
	return inputs, nil
}

func formatValues(values []float32) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
