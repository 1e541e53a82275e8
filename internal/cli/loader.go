package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/tensorc/internal/config"
	"github.com/roach88/tensorc/internal/trace"
)

// CompileFlags are the flags shared by commands that compile a trace.
type CompileFlags struct {
	Config         string
	Weights        string
	Backends       []string
	Optimize       bool
	Workers        int
	WeightEncoding string
}

func (f *CompileFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Config, "config", "", "YAML config file")
	cmd.Flags().StringVar(&f.Weights, "weights", "", "raw float32 weight file")
	cmd.Flags().StringArrayVar(&f.Backends, "backend", nil, "target backend (repeatable)")
	cmd.Flags().BoolVar(&f.Optimize, "optimize", false, "run the graph optimizer")
	cmd.Flags().IntVar(&f.Workers, "workers", 0, "parallel kernel generation workers")
	cmd.Flags().StringVar(&f.WeightEncoding, "weight-encoding", "", "weight blob encoding (float32|float16)")
}

// resolveConfig loads the config file, if any, and applies explicitly set
// flags on top. The positional trace argument overrides the file's model.
func (f *CompileFlags) resolveConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.Default()
	if f.Config != "" {
		loaded, err := config.Load(f.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if len(args) > 0 {
		cfg.Model = args[0]
	}

	flags := cmd.Flags()
	if flags.Changed("weights") {
		cfg.Weights = f.Weights
	}
	if flags.Changed("backend") {
		cfg.Backends = f.Backends
	}
	if flags.Changed("optimize") {
		cfg.Optimize = f.Optimize
	}
	if flags.Changed("workers") {
		cfg.Workers = f.Workers
	}
	if flags.Changed("weight-encoding") {
		cfg.WeightEncoding = f.WeightEncoding
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadTrace reads a trace and its optional weight file.
func loadTrace(model, weights string) (*trace.Graph, error) {
	var values []float32
	if weights != "" {
		w, err := trace.ReadWeights(weights)
		if err != nil {
			return nil, err
		}
		values = w
	}
	return trace.Load(model, values)
}
