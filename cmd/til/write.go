package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/tilvault/pkg/core"
	"github.com/aretw0/tilvault/pkg/git"
)

var (
	noteTitle    string
	noteContent  string
	noteCategory string
	noteTags     []string
	changeReason string
	changeType   string
)

// readContent returns the --content value, reading stdin for "-".
func readContent(v string) string {
	if v != "-" {
		return v
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		fatal("Failed to read content from stdin", err)
	}
	return string(data)
}

// withReason attaches --reason/--type as the change message.
func withReason(ctx context.Context, scope, fallback string) context.Context {
	if changeReason == "" && changeType == "" {
		return ctx
	}
	subject := changeReason
	if subject == "" {
		subject = fallback
	}
	if changeType == "" {
		return core.WithChangeReason(ctx, subject)
	}
	return core.WithChangeReason(ctx, git.FormatCommitMessage(changeType, scope, subject, ""))
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a note",
	Long: `Create a note. The file name is derived from the creation date and the
title, e.g. tils/2026-02-23-python-decorators.md. Use --content - to read the
body from stdin.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v, _ := openVault(cmd.Context())
		defer v.Close()

		ctx := withReason(cmd.Context(), "notes", fmt.Sprintf("add %q", noteTitle))
		n, err := v.Service.Create(ctx, core.NoteInput{
			Title:    noteTitle,
			Content:  readContent(noteContent),
			Category: noteCategory,
			Tags:     noteTags,
		})
		if err != nil {
			fatal("Failed to create note", err)
		}
		if jsonOutput {
			printJSON(n)
			return
		}
		fmt.Printf("Created note %s %q.\n", n.ID, n.Title)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update fields of a note",
	Long: `Update the given fields of a note; fields without a flag are kept.
--tag replaces the whole tag list (pass --tag= to clear it).`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseID(args[0])

		var patch core.NotePatch
		flags := cmd.Flags()
		if flags.Changed("title") {
			patch.Title = &noteTitle
		}
		if flags.Changed("content") {
			content := readContent(noteContent)
			patch.Content = &content
		}
		if flags.Changed("category") {
			patch.Category = &noteCategory
		}
		if flags.Changed("tag") {
			tags := make([]string, 0, len(noteTags))
			for _, t := range noteTags {
				if strings.TrimSpace(t) != "" {
					tags = append(tags, t)
				}
			}
			patch.Tags = &tags
		}

		v, _ := openVault(cmd.Context())
		defer v.Close()

		ctx := withReason(cmd.Context(), "notes", fmt.Sprintf("update %s", id))
		n, err := v.Service.Update(ctx, id, patch)
		if err != nil {
			fatal("Failed to update note", err)
		}
		if jsonOutput {
			printJSON(n)
			return
		}
		fmt.Printf("Updated note %s %q.\n", n.ID, n.Title)
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag <id> <tag>",
	Short: "Add a tag to a note",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseID(args[0])

		v, _ := openVault(cmd.Context())
		defer v.Close()

		ctx := withReason(cmd.Context(), "notes", fmt.Sprintf("tag %s", id))
		n, err := v.Service.AddTag(ctx, id, args[1])
		if err != nil {
			fatal("Failed to tag note", err)
		}
		if jsonOutput {
			printJSON(n)
			return
		}
		fmt.Printf("Note %s tags: %s\n", n.ID, strings.Join(n.Tags, ", "))
	},
}

func parseID(s string) core.NoteID {
	id, err := core.ParseID(s)
	if err != nil {
		fatal("Invalid note id", err)
	}
	return id
}

func addWriteFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&noteTitle, "title", "", "Note title")
	cmd.Flags().StringVarP(&noteContent, "content", "c", "", "Note body in Markdown (- reads stdin)")
	cmd.Flags().StringVar(&noteCategory, "category", "", "Category (default \"general\")")
	cmd.Flags().StringSliceVarP(&noteTags, "tag", "t", nil, "Tags (repeatable or comma separated)")
}

func addReasonFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&changeReason, "reason", "m", "", "Change message recorded by versioned backends")
	cmd.Flags().StringVar(&changeType, "type", "", "Conventional commit type for the change message (feat, fix, docs, chore...)")
}

func init() {
	addWriteFlags(createCmd)
	addReasonFlags(createCmd)
	_ = createCmd.MarkFlagRequired("title")
	_ = createCmd.MarkFlagRequired("content")

	addWriteFlags(updateCmd)
	addReasonFlags(updateCmd)
	addReasonFlags(tagCmd)

	rootCmd.AddCommand(createCmd, updateCmd, tagCmd)
}
