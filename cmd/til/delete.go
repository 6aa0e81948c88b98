package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a note",
	Long:  `Delete a note. Deleting a note that does not exist succeeds and reports nothing to delete.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseID(args[0])

		v, _ := openVault(cmd.Context())
		defer v.Close()

		ctx := withReason(cmd.Context(), "notes", fmt.Sprintf("delete %s", id))
		deleted, err := v.Service.Delete(ctx, id)
		if err != nil {
			fatal("Failed to delete note", err)
		}
		if jsonOutput {
			printJSON(map[string]any{"id": id, "deleted": deleted})
			return
		}
		if deleted {
			fmt.Printf("Deleted note %s.\n", id)
		} else {
			fmt.Printf("Note %s not found, nothing to delete.\n", id)
		}
	},
}

func init() {
	addReasonFlags(deleteCmd)
	rootCmd.AddCommand(deleteCmd)
}
