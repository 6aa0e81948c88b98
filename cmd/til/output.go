package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/aretw0/tilvault/pkg/core"
)

var jsonOutput bool

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal("Failed to encode output", err)
	}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.Style().Options.SeparateRows = false
	return t
}

func header(cols ...string) table.Row {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = text.FgGreen.Sprint(c)
	}
	return row
}

func printNotes(notes []core.Note, loc *time.Location) {
	if jsonOutput {
		if notes == nil {
			notes = []core.Note{}
		}
		printJSON(notes)
		return
	}
	if len(notes) == 0 {
		fmt.Println("No notes found.")
		return
	}

	t := newTable()
	t.AppendHeader(header("ID", "Date", "Title", "Category", "Tags"))
	for _, n := range notes {
		t.AppendRow(table.Row{
			n.ID,
			n.CreatedAt.In(loc).Format("2006-01-02 15:04"),
			text.Bold.Sprint(n.Title),
			n.Category,
			strings.Join(n.Tags, ", "),
		})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d notes", len(notes))})
	t.Render()
}

func printNote(n core.Note, loc *time.Location) {
	if jsonOutput {
		printJSON(n)
		return
	}
	fmt.Printf("%s  %s\n", text.Bold.Sprint(n.Title), text.Faint.Sprintf("#%s", n.ID))
	fmt.Printf("Category: %s\n", n.Category)
	if len(n.Tags) > 0 {
		fmt.Printf("Tags:     %s\n", strings.Join(n.Tags, ", "))
	}
	fmt.Printf("Created:  %s\n", n.CreatedAt.In(loc).Format(time.RFC3339))
	if !n.UpdatedAt.Equal(n.CreatedAt) {
		fmt.Printf("Updated:  %s\n", n.UpdatedAt.In(loc).Format(time.RFC3339))
	}
	fmt.Printf("\n%s\n", n.Content)
}

func printCounts(title string, counts []core.Count) {
	if jsonOutput {
		if counts == nil {
			counts = []core.Count{}
		}
		printJSON(counts)
		return
	}
	t := newTable()
	t.AppendHeader(header(title, "Notes"))
	for _, c := range counts {
		t.AppendRow(table.Row{c.Name, c.Count})
	}
	t.Render()
}

func printNames(names []string) {
	if jsonOutput {
		if names == nil {
			names = []string{}
		}
		printJSON(names)
		return
	}
	for _, n := range names {
		fmt.Println(n)
	}
}
