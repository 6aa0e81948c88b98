package core

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders notes as a single Markdown document, one section
// per note. Dates are rendered in loc.
func RenderMarkdown(notes []Note, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	var sb strings.Builder
	sb.WriteString("# TIL Export\n\n")
	for _, n := range notes {
		fmt.Fprintf(&sb, "## %s\n\n", n.Title)
		fmt.Fprintf(&sb, "**Category:** %s\n", n.Category)
		if len(n.Tags) > 0 {
			fmt.Fprintf(&sb, "**Tags:** %s\n", strings.Join(n.Tags, ", "))
		}
		fmt.Fprintf(&sb, "**Created:** %s\n\n", n.CreatedAt.In(loc).Format(dateLayout))
		sb.WriteString(n.Content)
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}
