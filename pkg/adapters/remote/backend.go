package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/tilvault/internal/metrics"
	"github.com/aretw0/tilvault/pkg/codec"
	"github.com/aretw0/tilvault/pkg/core"
	"github.com/aretw0/tilvault/pkg/git"
	"github.com/aretw0/tilvault/pkg/slug"
)

// Config tunes a Backend. Zero values fall back to the defaults below.
type Config struct {
	// Name labels logs and metrics (e.g. "github").
	Name string
	// Dir is the directory holding note files.
	Dir string
	// Pattern selects note files inside Dir (doublestar syntax).
	Pattern string
	// Location gives the calendar date used in file names.
	Location *time.Location
	Logger   *slog.Logger

	CallTimeout     time.Duration
	MaxRetries      uint64
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	CacheTTL        time.Duration
	MaxSlugAttempts int
	Concurrency     int
}

const (
	DefaultDir             = "tils"
	DefaultPattern         = "*.md"
	DefaultCallTimeout     = 15 * time.Second
	DefaultMaxRetries      = 4
	DefaultBaseDelay       = 500 * time.Millisecond
	DefaultMaxDelay        = 8 * time.Second
	DefaultCacheTTL        = 30 * time.Second
	DefaultMaxSlugAttempts = 20
	DefaultConcurrency     = 8
)

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "remote"
	}
	if c.Dir == "" {
		c.Dir = DefaultDir
	}
	c.Dir = strings.Trim(c.Dir, "/")
	if c.Pattern == "" {
		c.Pattern = DefaultPattern
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.MaxSlugAttempts <= 0 {
		c.MaxSlugAttempts = DefaultMaxSlugAttempts
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// Backend implements core.Repository on top of a FileStore.
type Backend struct {
	store  FileStore
	config Config
	codec  codec.Codec
	cache  *cache
	logger *slog.Logger
}

var _ core.Repository = (*Backend)(nil)

// New wraps store. A negative CacheTTL disables snapshot reuse.
func New(store FileStore, config Config) *Backend {
	config = config.withDefaults()
	return &Backend{
		store:  store,
		config: config,
		codec:  codec.Codec{Location: config.Location},
		cache:  newCache(config.CacheTTL),
		logger: config.Logger.With("backend", config.Name),
	}
}

// Store returns the wrapped FileStore.
func (b *Backend) Store() FileStore {
	return b.store
}

// Invalidate drops cached state, e.g. after an external change.
func (b *Backend) Invalidate() {
	b.cache.Invalidate()
}

// Initialize bootstraps the store when it supports it.
func (b *Backend) Initialize(ctx context.Context) error {
	init, ok := b.store.(Initializer)
	if !ok {
		return nil
	}
	err := b.call(ctx, "initialize", func(ctx context.Context) error {
		return init.Initialize(ctx, b.config.Dir)
	})
	if err != nil {
		return classify("initialize", b.config.Dir, err)
	}
	return nil
}

// Close releases the store's resources.
func (b *Backend) Close() error {
	if c, ok := b.store.(Closer); ok {
		return c.Close()
	}
	return nil
}

func (b *Backend) filePath(name string) string {
	return path.Join(b.config.Dir, name+".md")
}

// Create writes a new note file. The first free name among
// {date}-{slug}, {date}-{slug}-2, ... is used.
func (b *Backend) Create(ctx context.Context, n core.Note) (core.Note, error) {
	snap, err := b.snapshot(ctx)
	if err != nil {
		return core.Note{}, err
	}
	if existing, ok := snap.byID[n.ID]; ok {
		return core.Note{}, fmt.Errorf("%w: note %s already exists at %s", core.ErrConflict, n.ID, existing.Path)
	}

	data, err := b.codec.Encode(n)
	if err != nil {
		return core.Note{}, fmt.Errorf("%w: %w", core.ErrStorage, err)
	}
	msg := b.message(ctx, git.CommitTypeFeat, "add "+quote(n.Title))

	base := slug.Name(n.Title, n.CreatedAt.In(b.config.Location))
	for attempt := 1; attempt <= b.config.MaxSlugAttempts; attempt++ {
		p := b.filePath(slug.Candidate(base, attempt))
		if _, taken := snap.byPath[p]; taken {
			continue
		}

		var rev string
		err := b.call(ctx, "put", func(ctx context.Context) error {
			var err error
			rev, err = b.store.Put(ctx, p, data, "", msg)
			return err
		})
		if errors.Is(err, ErrFileExists) {
			// A retried put may have landed before its timeout fired.
			if f, ferr := b.fetch(ctx, p); ferr == nil {
				if existing, derr := b.codec.Decode(f.Content); derr == nil && existing.ID == n.ID {
					b.cache.Remember(&indexEntry{Path: p, Revision: f.Revision, Note: existing})
					return existing, nil
				}
			}
			b.logger.Debug("path taken, trying next suffix", "path", p)
			continue
		}
		if err != nil {
			return core.Note{}, classify("create", p, err)
		}

		b.cache.Remember(&indexEntry{Path: p, Revision: rev, Note: n.Clone()})
		b.logger.Debug("note written", "id", n.ID, "path", p)
		return n, nil
	}

	metrics.WriteConflicts.WithLabelValues(b.config.Name, "create").Inc()
	return core.Note{}, fmt.Errorf("%w: no free path for %q after %d attempts", core.ErrConflict, base, b.config.MaxSlugAttempts)
}

// Update re-reads the file, applies the change and writes it back on the
// revision that was read. A stale revision is retried once.
func (b *Backend) Update(ctx context.Context, id core.NoteID, apply func(*core.Note) error) (core.Note, error) {
	p, err := b.locate(ctx, id)
	if err != nil {
		return core.Note{}, err
	}

	for attempt := 1; attempt <= 2; attempt++ {
		f, err := b.fetch(ctx, p)
		if errors.Is(err, ErrFileNotFound) {
			b.cache.Forget(p)
			return core.Note{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
		}
		if err != nil {
			return core.Note{}, classify("update", p, err)
		}

		current, err := b.codec.Decode(f.Content)
		if err != nil {
			return core.Note{}, fmt.Errorf("%w: decode %s: %w", core.ErrStorage, p, err)
		}
		if current.ID != id {
			b.cache.Invalidate()
			return core.Note{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
		}

		next := current.Clone()
		if err := apply(&next); err != nil {
			if errors.Is(err, core.ErrUnchanged) {
				return current, nil
			}
			return core.Note{}, err
		}
		next.ID, next.CreatedAt = current.ID, current.CreatedAt

		data, err := b.codec.Encode(next)
		if err != nil {
			return core.Note{}, fmt.Errorf("%w: %w", core.ErrStorage, err)
		}

		var rev string
		err = b.call(ctx, "put", func(ctx context.Context) error {
			var err error
			rev, err = b.store.Put(ctx, p, data, f.Revision, b.message(ctx, git.CommitTypeFix, "update "+quote(next.Title)))
			return err
		})
		switch {
		case errors.Is(err, ErrRevisionMismatch):
			metrics.WriteConflicts.WithLabelValues(b.config.Name, "update").Inc()
			b.logger.Debug("stale revision on update", "id", id, "path", p, "attempt", attempt)
			continue
		case errors.Is(err, ErrFileNotFound):
			b.cache.Forget(p)
			return core.Note{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
		case err != nil:
			return core.Note{}, classify("update", p, err)
		}

		b.cache.Remember(&indexEntry{Path: p, Revision: rev, Note: next.Clone()})
		return next, nil
	}

	b.cache.Invalidate()
	return core.Note{}, fmt.Errorf("%w: note %s was modified concurrently", core.ErrConflict, id)
}

// Delete removes the note file. A missing note, or a file that vanished
// meanwhile, reports false.
func (b *Backend) Delete(ctx context.Context, id core.NoteID) (bool, error) {
	p, err := b.locate(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for attempt := 1; attempt <= 2; attempt++ {
		f, err := b.fetch(ctx, p)
		if errors.Is(err, ErrFileNotFound) {
			b.cache.Forget(p)
			return false, nil
		}
		if err != nil {
			return false, classify("delete", p, err)
		}

		err = b.call(ctx, "remove", func(ctx context.Context) error {
			return b.store.Remove(ctx, p, f.Revision, b.message(ctx, git.CommitTypeChore, "delete "+id.String()))
		})
		switch {
		case errors.Is(err, ErrRevisionMismatch):
			metrics.WriteConflicts.WithLabelValues(b.config.Name, "delete").Inc()
			continue
		case errors.Is(err, ErrFileNotFound):
			b.cache.Forget(p)
			return false, nil
		case err != nil:
			return false, classify("delete", p, err)
		}

		b.cache.Forget(p)
		b.logger.Debug("note removed", "id", id, "path", p)
		return true, nil
	}

	b.cache.Invalidate()
	return false, fmt.Errorf("%w: note %s was modified concurrently", core.ErrConflict, id)
}

// Get returns a note from the snapshot.
func (b *Backend) Get(ctx context.Context, id core.NoteID) (core.Note, error) {
	snap, err := b.snapshot(ctx)
	if err != nil {
		return core.Note{}, err
	}
	e, ok := snap.byID[id]
	if !ok {
		return core.Note{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	return e.Note.Clone(), nil
}

// List returns every readable note.
func (b *Backend) List(ctx context.Context) ([]core.Note, error) {
	snap, err := b.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.notes(), nil
}

// Walk streams notes page by page straight from the store, without
// building a snapshot, so memory stays bounded for large collections.
func (b *Backend) Walk(ctx context.Context, fn func(core.Note) error) error {
	return b.list(ctx, func(e Entry) error {
		entry, err := b.load(ctx, e)
		if err != nil || entry == nil {
			return err
		}
		return fn(entry.Note.Clone())
	})
}

func (b *Backend) locate(ctx context.Context, id core.NoteID) (string, error) {
	snap, err := b.snapshot(ctx)
	if err != nil {
		return "", err
	}
	e, ok := snap.byID[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	return e.Path, nil
}

// snapshot returns the cached collection, loading it when stale. Concurrent
// loads for the same generation are shared.
func (b *Backend) snapshot(ctx context.Context) (*snapshot, error) {
	if s, ok := b.cache.Get(); ok {
		metrics.CacheLookups.WithLabelValues(b.config.Name, "hit").Inc()
		return s, nil
	}
	metrics.CacheLookups.WithLabelValues(b.config.Name, "miss").Inc()

	gen := b.cache.Generation()
	v, err, _ := b.cache.flight.Do(b.cache.flightKey(gen), func() (any, error) {
		s, err := b.loadSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		b.cache.Set(s, gen)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*snapshot), nil
}

func (b *Backend) loadSnapshot(ctx context.Context) (*snapshot, error) {
	var listed []Entry
	if err := b.list(ctx, func(e Entry) error {
		listed = append(listed, e)
		return nil
	}); err != nil {
		return nil, err
	}

	entries := make([]*indexEntry, len(listed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.Concurrency)
	for i, e := range listed {
		g.Go(func() error {
			entry, err := b.load(gctx, e)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	kept := entries[:0]
	for _, e := range entries {
		if e != nil {
			kept = append(kept, e)
		}
	}
	b.logger.Debug("snapshot loaded", "files", len(listed), "notes", len(kept))
	return newSnapshot(kept, time.Now()), nil
}

// list enumerates note files under Dir matching Pattern. Each page is a
// separate remote call with its own timeout and retries; an error from fn
// stops the listing and is returned as is.
func (b *Backend) list(ctx context.Context, fn func(Entry) error) error {
	cursor := ""
	for {
		var page Page
		err := b.call(ctx, "list", func(ctx context.Context) error {
			var err error
			page, err = b.store.List(ctx, b.config.Dir, cursor)
			return err
		})
		if err != nil {
			return classify("list", b.config.Dir, err)
		}

		for _, e := range page.Entries {
			rel := strings.TrimPrefix(e.Path, b.config.Dir+"/")
			if ok, _ := doublestar.Match(b.config.Pattern, rel); !ok {
				continue
			}
			if err := fn(e); err != nil {
				return err
			}
		}

		if page.Next == "" || page.Next == cursor {
			return nil
		}
		cursor = page.Next
	}
}

// load fetches and decodes one listed file, reusing the decoded form when
// the revision did not change. Unreadable files yield (nil, nil) and a
// warning; authorization and rate-limit failures abort.
func (b *Backend) load(ctx context.Context, e Entry) (*indexEntry, error) {
	if cached, ok := b.cache.Decoded(e.Path, e.Revision); ok {
		return cached, nil
	}

	f, err := b.fetch(ctx, e.Path)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return nil, nil
		}
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRateLimited) || ctx.Err() != nil {
			return nil, classify("fetch", e.Path, err)
		}
		b.logger.Warn("skipping unreadable note file", "path", e.Path, "error", err)
		return nil, nil
	}

	n, err := b.codec.Decode(f.Content)
	if err != nil {
		b.logger.Warn("skipping malformed note file", "path", e.Path, "error", err)
		return nil, nil
	}

	rev := f.Revision
	if rev == "" {
		rev = e.Revision
	}
	return &indexEntry{Path: e.Path, Revision: rev, Note: n}, nil
}

func (b *Backend) fetch(ctx context.Context, p string) (File, error) {
	var f File
	err := b.call(ctx, "fetch", func(ctx context.Context) error {
		var err error
		f, err = b.store.Fetch(ctx, p)
		return err
	})
	return f, err
}

func (b *Backend) message(ctx context.Context, ctype, subject string) string {
	if reason, ok := core.ChangeReason(ctx); ok {
		return git.AppendFooter(reason)
	}
	return git.FormatCommitMessage(ctype, "notes", subject, "")
}

func quote(title string) string {
	if r := []rune(title); len(r) > 72 {
		title = string(r[:69]) + "..."
	}
	return `"` + title + `"`
}

// classify maps FileStore signals onto the core error kinds.
func classify(op, p string, err error) error {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return fmt.Errorf("%w: %s %s: %w", core.ErrAuth, op, p, err)
	case errors.Is(err, ErrRateLimited):
		return fmt.Errorf("%w: %s %s: %w", core.ErrRateLimit, op, p, err)
	case errors.Is(err, ErrFileNotFound):
		return fmt.Errorf("%w: %s %s: %w", core.ErrNotFound, op, p, err)
	default:
		return fmt.Errorf("%w: %s %s: %w", core.ErrStorage, op, p, err)
	}
}
