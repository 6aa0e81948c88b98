package main

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show collection statistics",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v, _ := openVault(cmd.Context())
		defer v.Close()

		stats, err := v.Service.Stats(cmd.Context())
		if err != nil {
			fatal("Failed to compute stats", err)
		}
		if jsonOutput {
			printJSON(stats)
			return
		}

		t := newTable()
		t.SetTitle("TIL stats")
		t.AppendRows([]table.Row{
			{"Total", stats.Total},
			{"Today", stats.Today},
			{"This week", stats.ThisWeek},
		})
		t.Render()

		if len(stats.TopTags) > 0 {
			printCounts("Top tags", stats.TopTags)
		}
		if len(stats.Categories) > 0 {
			printCounts("Category", stats.Categories)
		}
		if len(stats.DailyTrend) > 0 {
			trend := newTable()
			trend.AppendHeader(header("Day", "Notes", ""))
			for _, d := range stats.DailyTrend {
				trend.AppendRow(table.Row{d.Date, d.Count, bar(d.Count)})
			}
			trend.Render()
		}
	},
}

func bar(n int) string {
	const width = 30
	if n > width {
		return strings.Repeat("#", width) + "+"
	}
	return strings.Repeat("#", n)
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
