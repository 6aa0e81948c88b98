// Package tilvault is the composition root for the TIL note store.
//
// It connects the storage contract (pkg/core) with the storage backends
// (pkg/adapters) behind a single entry point. Every backend keeps notes as
// Markdown files with a YAML header, one file per note, so a collection can
// move between backends without changing shape.
//
// Backends:
//
//   - github: a GitHub repository through the contents API (default).
//   - s3, gcs: object storage buckets.
//   - badger: an embedded key-value database.
//   - postgres: one row per note file.
//   - fs: a local directory, optionally a git repository.
//   - memory: a throwaway in-process store.
//
// Writes use optimistic concurrency: a write is based on the revision it
// read, and a concurrent change yields ErrConflict instead of a lost update.
//
// Usage:
//
//	cfg, err := tilvault.LoadConfig("")
//	vault, err := tilvault.Open(ctx, cfg, tilvault.WithLogger(logger))
//	defer vault.Close()
//
//	note, err := vault.Service.Create(ctx, tilvault.NoteInput{
//		Title:   "Python decorators",
//		Content: "Decorators wrap functions.",
//		Tags:    []string{"python"},
//	})
package tilvault
