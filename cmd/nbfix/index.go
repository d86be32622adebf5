package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/nbfix/internal/retrieval"
)

var (
	indexWatch      bool
	indexCollection string
)

func init() {
	indexCmd.Flags().BoolVar(&indexWatch, "watch", false, "keep running and re-index files as they change")
	indexCmd.Flags().StringVar(&indexCollection, "collection", "", "target collection (default retrieval.docs_collection)")
	rootCmd.AddCommand(indexCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index <docs-dir>",
	Short: "Index documentation for retrieval",
	Long: `Split the Markdown, text and reStructuredText files under a directory into
chunks and store them in the vector store, where repair sessions search them
for domain context. Re-indexing a file replaces its previous chunks.

Examples:
  # Index the cube engine docs once
  nbfix index ~/docs/atoti

  # Keep the index in sync while editing
  nbfix index --watch ~/docs/atoti`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	deps, err := initDependencies(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	store, err := deps.vectorStore()
	if err != nil {
		return err
	}

	collection := indexCollection
	if collection == "" {
		collection = deps.cfg.Retrieval.DocsCollection
	}
	ix, err := retrieval.NewIndexer(store, deps.fs, collection, deps.cfg.Retrieval.ChunkSize, deps.logger.Underlying())
	if err != nil {
		return err
	}

	stats, err := ix.IndexDir(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s files, %s chunks, %s skipped %s\n",
		headerStyle.Render("nbfix index"),
		valueStyle.Render(fmt.Sprint(stats.Files)),
		valueStyle.Render(fmt.Sprint(stats.Chunks)),
		warnStyle.Render(fmt.Sprint(stats.Skipped)),
		dimStyle.Render("→ "+collection))

	if !indexWatch {
		return nil
	}
	return ix.Watch(ctx, args[0])
}
