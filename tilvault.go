package tilvault

import (
	"context"
	"log/slog"

	"github.com/aretw0/tilvault/internal/platform"
	"github.com/aretw0/tilvault/pkg/adapters/remote"
	"github.com/aretw0/tilvault/pkg/config"
	"github.com/aretw0/tilvault/pkg/core"
	"github.com/aretw0/tilvault/pkg/migrate"
)

// --- Types ---

// Note is a public alias for the core note.
type Note = core.Note

// NoteID is a public alias for the note identifier.
type NoteID = core.NoteID

// NoteInput is a public alias for the fields of a new note.
type NoteInput = core.NoteInput

// NotePatch is a public alias for a partial update.
type NotePatch = core.NotePatch

// Store is a public alias for the storage contract.
type Store = core.Store

// Config is a public alias for the persisted configuration.
type Config = config.Config

// Vault is an opened backend.
type Vault = platform.Vault

// MigrationReport is a public alias for the migration summary.
type MigrationReport = migrate.Report

// Error kinds.
var (
	ErrValidation = core.ErrValidation
	ErrNotFound   = core.ErrNotFound
	ErrConflict   = core.ErrConflict
	ErrRateLimit  = core.ErrRateLimit
	ErrAuth       = core.ErrAuth
	ErrStorage    = core.ErrStorage
)

// --- Configuration ---

// Option defines a functional option for opening a vault.
type Option = platform.Option

// WithLogger sets the logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithFileStore injects a custom file store (tests, new backends).
func WithFileStore(store remote.FileStore) Option {
	return platform.WithFileStore(store)
}

// WithDevSafety controls the `go run` sandbox for local backends.
func WithDevSafety(enabled bool) Option {
	return platform.WithDevSafety(enabled)
}

// LoadConfig reads the config file. An empty path resolves the default
// location.
func LoadConfig(path string) (Config, error) {
	path, err := platform.ConfigPath(path)
	if err != nil {
		return Config{}, err
	}
	return config.Load(path)
}

// --- Factory ---

// Open builds the configured backend without initializing it.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Vault, error) {
	return platform.Open(ctx, cfg, opts...)
}

// Init opens the configured backend and initializes it.
func Init(ctx context.Context, cfg Config, opts ...Option) (*Vault, error) {
	return platform.Init(ctx, cfg, opts...)
}

// --- Operations ---

// Migrate copies every note from one backend into another.
func Migrate(ctx context.Context, from, to Config, dryRun bool, opts ...Option) (MigrationReport, error) {
	return platform.Migrate(ctx, from, to, dryRun, opts...)
}
