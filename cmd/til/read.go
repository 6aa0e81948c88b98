package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/tilvault/pkg/core"
)

var (
	listToday    bool
	listWeek     bool
	filterTag    string
	filterCat    string
	countsOutput bool
)

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a note",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseID(args[0])

		v, _ := openVault(cmd.Context())
		defer v.Close()

		n, err := v.Service.Get(cmd.Context(), id)
		if err != nil {
			fatal("Failed to read note", err)
		}
		printNote(n, v.Service.Location())
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes, newest first",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if listToday && listWeek {
			fatal("Invalid flags", fmt.Errorf("%w: --today and --week are exclusive", core.ErrValidation))
		}

		v, _ := openVault(cmd.Context())
		defer v.Close()

		var (
			notes []core.Note
			err   error
		)
		switch {
		case listToday:
			notes, err = v.Service.ListToday(cmd.Context())
		case listWeek:
			notes, err = v.Service.ListThisWeek(cmd.Context())
		default:
			notes, err = v.Service.ListAll(cmd.Context())
		}
		if err != nil {
			fatal("Failed to list notes", err)
		}
		printNotes(narrow(notes), v.Service.Location())
	},
}

// narrow applies --tag and --category to a listing.
func narrow(notes []core.Note) []core.Note {
	if filterTag == "" && filterCat == "" {
		return notes
	}
	tag := core.NormalizeTag(filterTag)
	kept := notes[:0]
	for _, n := range notes {
		if tag != "" && !n.HasTag(tag) {
			continue
		}
		if filterCat != "" && n.Category != filterCat {
			continue
		}
		kept = append(kept, n)
	}
	return kept
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search titles and content (case-insensitive)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		v, _ := openVault(cmd.Context())
		defer v.Close()

		notes, err := v.Service.Search(cmd.Context(), core.SearchQuery{
			Query:    args[0],
			Tag:      filterTag,
			Category: filterCat,
		})
		if err != nil {
			fatal("Failed to search notes", err)
		}
		printNotes(notes, v.Service.Location())
	},
}

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List tags in use",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v, _ := openVault(cmd.Context())
		defer v.Close()

		if countsOutput {
			counts, err := v.Service.TagCounts(cmd.Context())
			if err != nil {
				fatal("Failed to count tags", err)
			}
			printCounts("Tag", counts)
			return
		}
		tags, err := v.Service.Tags(cmd.Context())
		if err != nil {
			fatal("Failed to list tags", err)
		}
		printNames(tags)
	},
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List categories in use",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v, _ := openVault(cmd.Context())
		defer v.Close()

		if countsOutput {
			counts, err := v.Service.CategoryCounts(cmd.Context())
			if err != nil {
				fatal("Failed to count categories", err)
			}
			printCounts("Category", counts)
			return
		}
		cats, err := v.Service.Categories(cmd.Context())
		if err != nil {
			fatal("Failed to list categories", err)
		}
		printNames(cats)
	},
}

func init() {
	listCmd.Flags().BoolVar(&listToday, "today", false, "Only notes created today")
	listCmd.Flags().BoolVar(&listWeek, "week", false, "Only notes created in the last seven days")
	for _, c := range []*cobra.Command{listCmd, searchCmd} {
		c.Flags().StringVar(&filterTag, "tag", "", "Only notes with this tag")
		c.Flags().StringVar(&filterCat, "category", "", "Only notes in this category")
	}
	tagsCmd.Flags().BoolVar(&countsOutput, "counts", false, "Show how many notes use each tag")
	categoriesCmd.Flags().BoolVar(&countsOutput, "counts", false, "Show how many notes are in each category")

	rootCmd.AddCommand(getCmd, listCmd, searchCmd, tagsCmd, categoriesCmd)
}
