package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wormcells-viz/server/internal/annostore"
)

var annotationsCmd = &cobra.Command{
	Use:   "annotations",
	Short: "Manage gene annotation databases",
}

var annotationsImportCmd = &cobra.Command{
	Use:   "import <db> <tsv>",
	Short: "Import gene annotations from a TSV file",
	Long: `Import gene annotations from a tab-separated file with the columns
gene_id, gene_name and description. Existing genes are replaced.

Examples:
  wormcells-server annotations import data/genes.sqlite wormbase_genes.tsv`,
	Args: cobra.ExactArgs(2),
	RunE: runAnnotationsImport,
}

func init() {
	annotationsCmd.AddCommand(annotationsImportCmd)
}

func runAnnotationsImport(cmd *cobra.Command, args []string) error {
	db, err := annostore.NewStore(args[0])
	if err != nil {
		return err
	}
	defer db.Close()

	f, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := db.ImportTSV(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("import %s: %w", args[1], err)
	}
	total, err := db.Count(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d annotations (%d total)\n", n, total)
	return nil
}
