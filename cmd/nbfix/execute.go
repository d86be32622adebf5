package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/nbfix/internal/extraction"
)

var executeJSON bool

func init() {
	executeCmd.Flags().BoolVar(&executeJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(executeCmd)
}

var executeCmd = &cobra.Command{
	Use:   "execute <notebook>",
	Short: "Execute a notebook once without repairing it",
	Long: `Execute a notebook once and report the first error, if any. The notebook
is never modified unless executor.keep_outputs is set.

The command exits 0 when the notebook executes cleanly and 1 otherwise.`,
	Args: cobra.ExactArgs(1),
	RunE: runExecute,
}

// executeOutput is the JSON form of an execution.
type executeOutput struct {
	NotebookPath string                   `json:"notebook_path"`
	OK           bool                     `json:"ok"`
	Duration     time.Duration            `json:"duration_ns"`
	Error        *extraction.ErrorDetails `json:"error,omitempty"`
}

func runExecute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	deps, err := initDependencies(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	res, err := deps.executor.Execute(ctx, args[0])
	if err != nil {
		return err
	}

	if executeJSON {
		out := executeOutput{NotebookPath: args[0], OK: res.OK, Duration: res.Duration}
		if res.Failure != nil {
			out.Error = &res.Failure.Details
		}
		if err := outputJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	} else {
		renderExecution(cmd.OutOrStdout(), args[0], res)
	}

	if !res.OK {
		return errFailed
	}
	return nil
}
