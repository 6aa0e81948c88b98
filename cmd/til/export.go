package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/tilvault/pkg/core"
)

var (
	exportID   string
	exportFrom string
	exportTo   string
	exportOut  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export notes as a Markdown document",
	Long: `Export one note (--id) or the notes created in a date range
(--from/--to, YYYY-MM-DD, inclusive) as a single Markdown document.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var q core.ExportQuery
		if exportID != "" {
			q.ID = parseID(exportID)
		}
		q.From, q.To = exportFrom, exportTo

		v, _ := openVault(cmd.Context())
		defer v.Close()

		notes, err := v.Service.ExportSelection(cmd.Context(), q)
		if err != nil {
			fatal("Failed to select notes", err)
		}
		if jsonOutput {
			printJSON(notes)
			return
		}

		doc := core.RenderMarkdown(notes, v.Service.Location())
		if exportOut == "" || exportOut == "-" {
			fmt.Print(doc)
			return
		}
		if err := os.WriteFile(exportOut, []byte(doc), 0o644); err != nil {
			fatal("Failed to write export", err)
		}
		fmt.Fprintf(os.Stderr, "Exported %d notes to %s\n", len(notes), exportOut)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportID, "id", "", "Export a single note")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First creation date (YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last creation date (YYYY-MM-DD)")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Write to a file instead of stdout")
	rootCmd.AddCommand(exportCmd)
}
