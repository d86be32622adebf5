package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/nbfix/internal/backup"
	"github.com/fyrsmithlabs/nbfix/internal/orchestrator"
)

var (
	backupsJSON    bool
	backupsRestore string
)

func init() {
	backupsCmd.Flags().BoolVar(&backupsJSON, "json", false, "print the result as JSON")
	backupsCmd.Flags().StringVar(&backupsRestore, "restore", "", `restore the notebook from a backup path, or "first" / "last"`)
	rootCmd.AddCommand(backupsCmd)
}

var backupsCmd = &cobra.Command{
	Use:   "backups <notebook>",
	Short: "List or restore the backups repair sessions made of a notebook",
	Long: `List the backups written next to a notebook by repair sessions, oldest
first, together with the outcome of the last session.

With --restore the notebook is replaced atomically by the chosen backup.
"first" picks the oldest backup, which holds the notebook as it was before
nbfix ever patched it; "last" picks the newest.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackups,
}

// backupsOutput is the JSON form of the backups command.
type backupsOutput struct {
	NotebookPath string               `json:"notebook_path"`
	Backups      []backup.Backup      `json:"backups"`
	LastResult   *orchestrator.Report `json:"last_result,omitempty"`
	Restored     string               `json:"restored,omitempty"`
}

func runBackups(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	fs := afero.NewOsFs()
	store, err := backup.NewStore(fs, logger.Underlying())
	if err != nil {
		return err
	}

	out, err := inspectBackups(cmd.Context(), fs, store, path, backupsRestore)
	if err != nil {
		return err
	}
	if backupsJSON {
		return outputJSON(cmd.OutOrStdout(), out)
	}
	renderBackups(cmd.OutOrStdout(), out)
	return nil
}

// inspectBackups lists the notebook's backups and last result, restoring
// the selected backup first when restore is set.
func inspectBackups(ctx context.Context, fs afero.Fs, store *backup.Store, notebookPath, restore string) (*backupsOutput, error) {
	list, err := store.List(notebookPath)
	if err != nil {
		return nil, err
	}
	out := &backupsOutput{NotebookPath: notebookPath, Backups: list}
	if r, err := orchestrator.ReadResult(fs, notebookPath); err == nil {
		out.LastResult = r
	}

	if restore == "" {
		return out, nil
	}
	target, err := selectBackup(list, notebookPath, restore)
	if err != nil {
		return nil, err
	}
	if err := store.Restore(ctx, target, notebookPath); err != nil {
		return nil, err
	}
	out.Restored = target
	return out, nil
}

// selectBackup resolves "first", "last" or an explicit backup path against
// the notebook's backups.
func selectBackup(list []backup.Backup, notebookPath, sel string) (string, error) {
	switch sel {
	case "first", "last":
		if len(list) == 0 {
			return "", fmt.Errorf("no backups of %s", notebookPath)
		}
		if sel == "first" {
			return list[0].Path, nil
		}
		return list[len(list)-1].Path, nil
	}

	abs, err := filepath.Abs(sel)
	if err != nil {
		return "", err
	}
	b, err := backup.Parse(abs)
	if err != nil {
		return "", err
	}
	if b.NotebookPath != notebookPath {
		return "", fmt.Errorf("%s is a backup of %s, not %s", sel, b.NotebookPath, notebookPath)
	}
	for _, have := range list {
		if have.Path == b.Path {
			return b.Path, nil
		}
	}
	return "", fmt.Errorf("backup %s does not exist", sel)
}

func renderBackups(w io.Writer, out *backupsOutput) {
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("nbfix backups"), dimStyle.Render(fmt.Sprintf("%d found", len(out.Backups))))
	field(w, "Notebook", out.NotebookPath)
	for _, b := range out.Backups {
		fmt.Fprintf(w, "  %s %s %s\n",
			labelStyle.Render(fmt.Sprintf("#%-3d", b.Iteration)),
			dimStyle.Render(b.CreatedAt.Local().Format("2006-01-02 15:04:05")),
			b.Path,
		)
	}
	if r := out.LastResult; r != nil {
		status := failStyle.Render("failed")
		if r.Success {
			status = okStyle.Render("succeeded")
		}
		field(w, "Last session", fmt.Sprintf("%s %s (%s, %d iterations)", status, r.SessionID, r.FinalStatus, r.Iterations))
	}
	if out.Restored != "" {
		fmt.Fprintf(w, "%s restored from %s\n", okStyle.Render("[✓]"), out.Restored)
	}
}
