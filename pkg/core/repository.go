package core

import (
	"context"
	"errors"
)

// Repository is the storage-facing half of the contract. It persists fully
// formed notes; validation, normalization and id assignment happen in
// Service before a Repository is called.
type Repository interface {
	// Initialize ensures the underlying storage is ready (e.g. create the
	// remote repository, the notes directory, schema migration).
	Initialize(ctx context.Context) error

	// Create persists a new note as given. A note whose id is already
	// stored yields ErrConflict.
	Create(ctx context.Context, n Note) (Note, error)

	// Update loads the current note, lets apply mutate it and persists the
	// result conditioned on the revision that was read. If apply returns
	// ErrUnchanged the current note is returned and nothing is written.
	Update(ctx context.Context, id NoteID, apply func(*Note) error) (Note, error)

	// Delete removes a note. Removing a missing id reports false.
	Delete(ctx context.Context, id NoteID) (bool, error)

	// Get retrieves a note by id, or ErrNotFound.
	Get(ctx context.Context, id NoteID) (Note, error)

	// List returns every readable note in no particular order.
	List(ctx context.Context) ([]Note, error)

	// Walk streams notes to fn one at a time. Returning an error from fn
	// stops the walk and is returned as is.
	Walk(ctx context.Context, fn func(Note) error) error
}

// ErrUnchanged is returned by an Update apply function to skip the write.
var ErrUnchanged = errors.New("note unchanged")

type contextKey string

// ChangeReasonKey is the context key for passing a specific change reason
// (commit message) to Create/Update/Delete.
const ChangeReasonKey contextKey = "change_reason"

// WithChangeReason attaches a change reason to ctx.
func WithChangeReason(ctx context.Context, reason string) context.Context {
	return context.WithValue(ctx, ChangeReasonKey, reason)
}

// ChangeReason returns the reason attached with WithChangeReason, if any.
func ChangeReason(ctx context.Context) (string, bool) {
	reason, ok := ctx.Value(ChangeReasonKey).(string)
	return reason, ok && reason != ""
}
