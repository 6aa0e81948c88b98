// Package remote stores notes as one Markdown file per note in a remote,
// revision-aware file store.
package remote

import (
	"context"
	"errors"
)

// Signals returned (wrapped) by FileStore implementations.
var (
	ErrFileNotFound     = errors.New("file not found")
	ErrFileExists       = errors.New("file already exists")
	ErrRevisionMismatch = errors.New("revision mismatch")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTransient        = errors.New("transient failure")
)

// File is the content of a remote file and the revision it was read at.
type File struct {
	Path     string
	Content  []byte
	Revision string
}

// Entry is a listed file. Revision changes whenever the content changes.
type Entry struct {
	Path     string
	Revision string
}

// FileStore models a remote store as (path, content, revision) triples.
type FileStore interface {
	// Fetch reads a file, or ErrFileNotFound.
	Fetch(ctx context.Context, path string) (File, error)

	// Put writes content. With an empty revision the write only succeeds if
	// the path is free (ErrFileExists otherwise); with a revision it only
	// succeeds if the file is still at that revision (ErrRevisionMismatch
	// otherwise). It returns the new revision.
	Put(ctx context.Context, path string, content []byte, revision, message string) (string, error)

	// Remove deletes a file that is still at revision.
	Remove(ctx context.Context, path, revision, message string) error

	// List returns one page of the files directly under dir, starting
	// after cursor ("" for the first page). An empty Next ends the listing.
	List(ctx context.Context, dir, cursor string) (Page, error)
}

// Page is one batch of listed files.
type Page struct {
	Entries []Entry
	Next    string
}

// Initializer is implemented by stores that need bootstrapping, e.g.
// creating the remote repository or a schema.
type Initializer interface {
	Initialize(ctx context.Context, dir string) error
}

// Closer is implemented by stores holding resources.
type Closer interface {
	Close() error
}
