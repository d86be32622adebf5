package main

import (
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/nbfix/internal/orchestrator"
)

var (
	repairMaxIterations int
	repairJSON          bool
	repairRollback      bool
	repairNoResultFile  bool
)

func init() {
	repairCmd.Flags().IntVar(&repairMaxIterations, "max-iterations", 0, "override repair.max_iterations for this session")
	repairCmd.Flags().BoolVar(&repairJSON, "json", false, "print the session report as JSON")
	repairCmd.Flags().BoolVar(&repairRollback, "rollback", false, "restore the original notebook if the repair fails")
	repairCmd.Flags().BoolVar(&repairNoResultFile, "no-result-file", false, "do not write <notebook>.result.json")
	rootCmd.AddCommand(repairCmd)
}

var repairCmd = &cobra.Command{
	Use:   "repair <notebook>",
	Short: "Execute a notebook and repair it if it fails",
	Long: `Execute a notebook and, if it fails, run the repair loop until it executes
cleanly or a circuit breaker trips.

The command exits 0 when the notebook ends up executing successfully and 1
otherwise.

Examples:
  # Repair with configured limits
  nbfix repair analysis.ipynb

  # Allow five patch attempts and restore the original on failure
  nbfix repair --max-iterations 5 --rollback analysis.ipynb

  # Machine-readable report
  nbfix repair --json analysis.ipynb`,
	Args: cobra.ExactArgs(1),
	RunE: runRepair,
}

func runRepair(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	deps, err := initDependencies(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	if repairRollback {
		deps.cfg.Repair.RollbackOnFailure = true
	}
	if repairNoResultFile {
		deps.cfg.Repair.SkipResultFile = true
	}

	orch, err := deps.orchestrator(ctx)
	if err != nil {
		return err
	}

	report, err := orch.Run(ctx, args[0], orchestrator.WithMaxIterations(repairMaxIterations))
	if report != nil {
		if repairJSON {
			if jerr := outputJSON(cmd.OutOrStdout(), report); jerr != nil {
				return jerr
			}
		} else {
			renderReport(cmd.OutOrStdout(), report)
		}
	}
	if err != nil {
		return err
	}
	if !report.Success {
		return errFailed
	}
	return nil
}
