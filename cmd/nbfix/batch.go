package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/nbfix/internal/batch"
)

var (
	batchWorkers int
	batchRepair  bool
	batchJSON    bool
)

func init() {
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "maximum notebooks in flight (default batch.workers)")
	batchCmd.Flags().BoolVar(&batchRepair, "repair", false, "run a repair session for every failing notebook")
	batchCmd.Flags().BoolVar(&batchJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(batchCmd)
}

var batchCmd = &cobra.Command{
	Use:   "batch <dir|notebook>...",
	Short: "Execute many notebooks concurrently",
	Long: `Execute every notebook found under the given directories and files with a
bounded number of workers. Hidden directories are skipped and each notebook
runs once even if named twice.

With --repair, failing notebooks go through a full repair session. The
command exits 0 only when every notebook passed or was repaired.

Examples:
  # Check a directory with 8 workers
  nbfix batch --workers 8 notebooks/

  # Repair whatever fails
  nbfix batch --repair notebooks/ extra.ipynb`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

// batchOutput is the JSON form of a batch run.
type batchOutput struct {
	Results []batchEntry  `json:"results"`
	Summary batch.Summary `json:"summary"`
}

type batchEntry struct {
	batch.Result
	InfraError string `json:"infra_error,omitempty"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	deps, err := initDependencies(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	paths, err := batch.Discover(deps.fs, args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no notebooks found")
	}

	workers := batchWorkers
	if workers <= 0 {
		workers = deps.cfg.Batch.Workers
	}
	pool, err := batch.New(deps.executor, workers, deps.logger.Underlying())
	if err != nil {
		return err
	}
	if batchRepair {
		orch, err := deps.orchestrator(ctx)
		if err != nil {
			return err
		}
		pool.WithRepair(orch)
	}

	results := pool.Run(ctx, paths)
	summary := batch.Summarize(results)

	if batchJSON {
		out := batchOutput{Summary: summary, Results: make([]batchEntry, 0, len(results))}
		for _, r := range results {
			e := batchEntry{Result: r}
			if r.Err != nil {
				e.InfraError = r.Err.Error()
			}
			out.Results = append(out.Results, e)
		}
		if err := outputJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	} else {
		renderBatch(cmd.OutOrStdout(), results, summary)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !summary.AllSucceeded() {
		return errFailed
	}
	return nil
}
