package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aulabot/aula/internal/app"
)

var indexCmd = &cobra.Command{
	Use:   "index [path...]",
	Short: "Ingest documents into the search index",
	Long: `Chunks the given .txt and .md files (or directories, recursively),
embeds the chunks, and stores them in the pgvector index. Reindexing a
file replaces its previous chunks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List indexed documents",
	RunE:  runSources,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(sourcesCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.Setup(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	total := 0
	for _, path := range args {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("checking %s: %w", path, err)
		}

		var n int
		if info.IsDir() {
			n, err = a.Indexer.IndexDir(cmd.Context(), path)
		} else {
			n, err = a.Indexer.IndexFile(cmd.Context(), path)
		}
		if err != nil {
			return err
		}
		total += n
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d chunks from %d path(s).\n", total, len(args))
	return nil
}

func runSources(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.Setup(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	infos, err := a.Knowledge.ListSources(cmd.Context())
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No documents indexed.")
		return nil
	}
	for _, si := range infos {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d chunks\n", si.Source, si.Chunks)
	}
	return nil
}
