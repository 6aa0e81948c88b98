// Package kv keeps note files in an embedded Badger database, for a
// single-machine vault without git.
package kv

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/dgraph-io/badger/v4"

	"github.com/aretw0/tilvault/pkg/adapters/remote"
)

const keyPrefix = "file/"

// Config holds the database settings.
type Config struct {
	Path string
	// InMemory keeps everything in RAM; Path is ignored.
	InMemory   bool
	SyncWrites bool
	// GCInterval runs value log GC periodically. Zero disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64
	// PageSize bounds List pages. Zero means 500.
	PageSize int
	Logger   *slog.Logger
}

// DefaultConfig returns settings for a persistent vault at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for a throwaway database.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store implements remote.FileStore on Badger. Revisions are content
// hashes; compare-and-set runs inside one transaction.
type Store struct {
	db     *badger.DB
	config Config
	logger *slog.Logger
	stopGC context.CancelFunc
}

var (
	_ remote.FileStore = (*Store)(nil)
	_ remote.Closer    = (*Store)(nil)
)

// Open opens (or creates) the database.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{db: db, config: cfg, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopGC = cancel
		lifecycle.Go(ctx, s.runGC)
	}
	return s, nil
}

func (s *Store) runGC(ctx context.Context) error {
	ticker := time.NewTicker(s.config.GCInterval)
	defer ticker.Stop()

	ratio := s.config.GCDiscardRatio
	if ratio <= 0 {
		ratio = 0.5
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				if err := s.db.RunValueLogGC(ratio); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.logger.Warn("value log gc failed", "error", err)
					}
					break
				}
			}
		}
	}
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		s.stopGC()
	}
	return s.db.Close()
}

func key(p string) []byte {
	return []byte(keyPrefix + p)
}

func revision(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:16])
}

// Fetch implements remote.FileStore.
func (s *Store) Fetch(ctx context.Context, p string) (remote.File, error) {
	if err := ctx.Err(); err != nil {
		return remote.File{}, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(p))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return remote.File{}, fmt.Errorf("%w: %s", remote.ErrFileNotFound, p)
	}
	if err != nil {
		return remote.File{}, err
	}
	return remote.File{Path: p, Content: data, Revision: revision(data)}, nil
}

// check compares the stored value with the revision a write is based on.
func check(txn *badger.Txn, p, rev string) error {
	item, err := txn.Get(key(p))
	exists := err == nil
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	switch {
	case rev == "" && exists:
		return fmt.Errorf("%w: %s", remote.ErrFileExists, p)
	case rev != "" && !exists:
		return fmt.Errorf("%w: %s", remote.ErrFileNotFound, p)
	case rev != "":
		current, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if revision(current) != rev {
			return fmt.Errorf("%w: %s", remote.ErrRevisionMismatch, p)
		}
	}
	return nil
}

// update runs fn in a read-write transaction. A transaction conflict means
// another writer got in between; it is reported as transient so the call
// is retried and re-evaluated.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %w", remote.ErrTransient, err)
	}
	return err
}

// Put implements remote.FileStore.
func (s *Store) Put(ctx context.Context, p string, content []byte, rev, message string) (string, error) {
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := check(txn, p, rev); err != nil {
			return err
		}
		return txn.Set(key(p), content)
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug("file stored", "path", p, "change", message)
	return revision(content), nil
}

// Remove implements remote.FileStore.
func (s *Store) Remove(ctx context.Context, p, rev, message string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		if rev == "" {
			if _, err := txn.Get(key(p)); errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", remote.ErrFileNotFound, p)
			} else if err != nil {
				return err
			}
		} else if err := check(txn, p, rev); err != nil {
			return err
		}
		return txn.Delete(key(p))
	})
	if err != nil {
		return err
	}
	s.logger.Debug("file removed", "path", p, "change", message)
	return nil
}

// List implements remote.FileStore. Keys iterate in order, so the cursor
// is the last path of the previous page.
func (s *Store) List(ctx context.Context, dir, cursor string) (remote.Page, error) {
	if err := ctx.Err(); err != nil {
		return remote.Page{}, err
	}
	size := s.config.PageSize
	if size <= 0 {
		size = 500
	}
	prefix := key(strings.Trim(dir, "/") + "/")

	var page remote.Page
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		start := prefix
		if cursor != "" {
			start = key(cursor)
		}
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			rest := k[len(prefix):]
			p := string(k[len(keyPrefix):])
			if p == cursor || bytes.IndexByte(rest, '/') >= 0 || bytes.HasPrefix(rest, []byte(".")) {
				continue
			}
			if len(page.Entries) == size {
				page.Next = page.Entries[size-1].Path
				return nil
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			page.Entries = append(page.Entries, remote.Entry{Path: p, Revision: revision(value)})
		}
		return nil
	})
	if err != nil {
		return remote.Page{}, err
	}
	return page, nil
}
