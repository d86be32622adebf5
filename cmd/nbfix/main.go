// Package main implements the nbfix CLI: execute, repair and batch-check
// Jupyter notebooks, index documentation for retrieval and serve the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// global flags
	configPath string
	logLevel   string
	logFormat  string

	// version information, set at build time
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// errFailed signals a completed run whose outcome was a failure. The
// command already reported it, so main only sets the exit code.
var errFailed = errors.New("run failed")

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nbfix",
	Short: "Automatically repair failing Jupyter notebooks",
	Long: `nbfix executes Jupyter notebooks and, when one fails, runs a bounded
repair loop: classify the error, retrieve relevant documentation, ask the
reasoning model for a patch, apply it to the failing cell and re-execute.

Every repair session writes a <notebook>.result.json audit record next to
the notebook and keeps timestamped backups of each patched version.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/nbfix/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format override (json, console)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "nbfix %s (commit %s, built %s)\n", version, gitCommit, buildDate)
	},
}
