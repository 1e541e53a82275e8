package cli

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/tensorc/internal/store"
)

// CacheOptions holds flags for the cache commands.
type CacheOptions struct {
	*RootOptions
	Database string
	Graph    string
	Backend  string
}

// CacheListing is the output of cache ls.
type CacheListing struct {
	Runs      []store.Run    `json:"runs"`
	Functions map[string]int `json:"functions"`
}

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CacheOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the artifact cache",
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite cache (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List recorded compilation runs",
		Long: `List the runs recorded by compile --cache, oldest first, and the
number of distinct kernel functions cached per backend.

Example:
  tensorc cache ls --db cache.db
  tensorc cache ls --db cache.db --graph <hash> --backend webgpu`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheList(opts, cmd)
		},
	}
	ls.Flags().StringVar(&opts.Graph, "graph", "", "only runs of this graph hash")
	ls.Flags().StringVar(&opts.Backend, "backend", "", "only runs of this backend (with --graph)")
	cmd.AddCommand(ls)

	return cmd
}

func runCacheList(opts *CacheOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	// Listing never creates a cache.
	if _, err := os.Stat(opts.Database); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Errorf("cache not found: %s", opts.Database))
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeCache, err)
	}
	defer st.Close()

	ctx := cmd.Context()
	var runs []store.Run
	if opts.Graph != "" {
		runs, err = st.RunsForGraph(ctx, opts.Graph, opts.Backend)
	} else {
		runs, err = st.Runs(ctx)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeCache, err)
	}
	counts, err := st.FunctionCount(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeCache, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(CacheListing{Runs: runs, Functions: counts})
	}

	w := formatter.Writer
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		hash := r.GraphHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Fprintf(w, "%4d  %s  %-11s  graph %s  %d fn / %d inv  %s weights\n",
			r.Seq, r.ID, r.Backend, hash, r.FunctionCount, r.InvocationCount,
			humanize.IBytes(uint64(r.WeightBytes)))
	}
	fmt.Fprintln(w)
	for _, b := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(w, "%s: %d cached function(s)\n", b, counts[b])
	}
	return nil
}
