package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tensorc/internal/converter"
	"github.com/roach88/tensorc/internal/ir"
	"github.com/roach88/tensorc/internal/optimizer"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Weights  string
	Optimize bool
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool           `json:"valid"`
	GraphHash string         `json:"graph_hash"`
	Inputs    []string       `json:"inputs"`
	Outputs   []string       `json:"outputs"`
	Operators int            `json:"operators"`
	Variables int            `json:"variables"`
	Constants int            `json:"constants"`
	Kinds     map[string]int `json:"kinds"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <trace>",
		Short: "Validate a trace without generating kernels",
		Long: `Load a trace, convert it to the graph IR and check every shape and
axis-order invariant without allocating memory or generating kernels.
Faster than compile for development feedback.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Weights, "weights", "", "raw float32 weight file")
	cmd.Flags().BoolVar(&opts.Optimize, "optimize", false, "also run the optimizer and validate its result")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	tg, err := loadTrace(path, opts.Weights)
	if err != nil {
		return formatter.Fail(ExitCommandError, errorCode(err), err)
	}

	g, err := converter.New(converter.WithLogger(logger)).Convert(tg)
	if err != nil {
		return formatter.Fail(ExitFailure, errorCode(err), err)
	}
	if opts.Optimize {
		g, err = optimizer.New(optimizer.WithLogger(logger)).Optimize(g)
		if err != nil {
			return formatter.Fail(ExitFailure, errorCode(err), err)
		}
	}
	if err := ir.Validate(g); err != nil {
		return formatter.Fail(ExitFailure, errorCode(err), err)
	}
	hash, err := ir.GraphHash(g)
	if err != nil {
		return formatter.Fail(ExitFailure, errorCode(err), err)
	}

	result := ValidationResult{
		Valid:     true,
		GraphHash: hash,
		Inputs:    g.Inputs(),
		Outputs:   g.Outputs(),
		Operators: len(g.Operators()),
		Variables: len(g.Variables()),
		Constants: len(g.Constants()),
		Kinds:     make(map[string]int),
	}
	for _, op := range g.Operators() {
		result.Kinds[string(op.Kind)]++
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "✓ %s is valid\n", path)
	fmt.Fprintf(w, "  %d operator(s), %d variable(s), %d constant(s)\n",
		result.Operators, result.Variables, result.Constants)
	formatter.VerboseLog("  graph hash %s", hash)
	return nil
}
