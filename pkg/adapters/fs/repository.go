// Package fs stores note files in a local directory, optionally versioned
// with git. Each write is atomic and, in git mode, committed on its own.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/tilvault/pkg/adapters/remote"
	"github.com/aretw0/tilvault/pkg/git"
)

// Config holds the configuration for a local vault.
type Config struct {
	// Path is the vault root.
	Path string
	// Gitless disables version control; files are only written to disk.
	Gitless bool
	// MustExist refuses to create a missing vault root.
	MustExist bool
	// LockTimeout bounds the wait for the vault lock. Defaults to 5s.
	LockTimeout time.Duration
	Logger      *slog.Logger
}

// Store implements remote.FileStore on the local filesystem. Revisions are
// content hashes, so edits made by hand are detected as well.
type Store struct {
	Path   string
	git    *git.Client
	config Config
	logger *slog.Logger

	mu            sync.RWMutex
	watcherActive bool
	lastChange    *time.Time
}

var (
	_ remote.FileStore   = (*Store)(nil)
	_ remote.Initializer = (*Store)(nil)
)

// NewStore creates a local vault store.
func NewStore(config Config) *Store {
	if config.LockTimeout <= 0 {
		config.LockTimeout = 5 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		Path:   config.Path,
		git:    git.NewClient(config.Path, logger),
		config: config,
		logger: logger,
	}
}

// Initialize creates the vault and the note directory, and in git mode
// initializes the repository with an ignore file for the lock.
func (s *Store) Initialize(ctx context.Context, dir string) error {
	if s.config.MustExist {
		info, err := os.Stat(s.Path)
		if os.IsNotExist(err) {
			return fmt.Errorf("vault path does not exist: %s", s.Path)
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", s.Path)
		}
	}
	if err := os.MkdirAll(filepath.Join(s.Path, filepath.FromSlash(dir)), 0o755); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}

	if s.config.Gitless {
		return nil
	}
	if !git.IsInstalled() {
		return errors.New("git is not installed")
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if s.git.IsRepo(ctx) {
		return nil
	}
	if err := s.git.Init(ctx); err != nil {
		return fmt.Errorf("failed to git init: %w", err)
	}
	if err := s.ensureIgnore(); err != nil {
		return fmt.Errorf("failed to write .gitignore: %w", err)
	}
	if err := s.git.Add(ctx, ".gitignore"); err != nil {
		return err
	}
	return s.git.Commit(ctx, git.FormatCommitMessage(git.CommitTypeChore, "vault", "initialize", ""))
}

func (s *Store) ensureIgnore() error {
	ignorePath := filepath.Join(s.Path, ".gitignore")
	content, err := os.ReadFile(ignorePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) == git.LockFile {
			return nil
		}
	}
	if len(content) > 0 && !strings.HasSuffix(string(content), "\n") {
		content = append(content, '\n')
	}
	content = append(content, git.LockFile+"\n"...)
	return writeFileAtomic(ignorePath, content, 0o644)
}

func (s *Store) lock(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.LockTimeout)
	defer cancel()
	unlock, err := s.git.Lock(ctx)
	if err != nil {
		// A vault lock held past the timeout is treated like a busy remote.
		return nil, fmt.Errorf("%w: %w", remote.ErrTransient, err)
	}
	return unlock, nil
}

func (s *Store) abs(p string) string {
	return filepath.Join(s.Path, filepath.FromSlash(p))
}

// Revision returns the revision token of content.
func Revision(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:16])
}

// Fetch implements remote.FileStore.
func (s *Store) Fetch(ctx context.Context, p string) (remote.File, error) {
	if err := ctx.Err(); err != nil {
		return remote.File{}, err
	}
	data, err := os.ReadFile(s.abs(p))
	if errors.Is(err, os.ErrNotExist) {
		return remote.File{}, fmt.Errorf("%w: %s", remote.ErrFileNotFound, p)
	}
	if err != nil {
		return remote.File{}, err
	}
	return remote.File{Path: p, Content: data, Revision: Revision(data)}, nil
}

// Put implements remote.FileStore. The compare and the write happen under
// the vault lock, so other processes using the vault are serialized too.
func (s *Store) Put(ctx context.Context, p string, content []byte, revision, message string) (string, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return "", err
	}
	defer unlock()

	if err := s.check(p, revision); err != nil {
		return "", err
	}

	full := s.abs(p)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := writeFileAtomic(full, content, 0o644); err != nil {
		return "", err
	}

	if !s.config.Gitless {
		if err := s.git.Add(ctx, p); err != nil {
			return "", err
		}
		if err := s.git.Commit(ctx, message); err != nil {
			return "", err
		}
	}
	return Revision(content), nil
}

// Remove implements remote.FileStore.
func (s *Store) Remove(ctx context.Context, p, revision, message string) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if revision == "" {
		if _, err := os.Stat(s.abs(p)); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", remote.ErrFileNotFound, p)
		}
	} else if err := s.check(p, revision); err != nil {
		return err
	}

	if s.config.Gitless {
		return os.Remove(s.abs(p))
	}
	if err := s.git.Rm(ctx, p); err != nil {
		return err
	}
	return s.git.Commit(ctx, message)
}

// check compares the file at p with the revision a write was based on.
// Callers hold the lock.
func (s *Store) check(p, revision string) error {
	data, err := os.ReadFile(s.abs(p))
	exists := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	switch {
	case revision == "" && exists:
		return fmt.Errorf("%w: %s", remote.ErrFileExists, p)
	case revision != "" && !exists:
		return fmt.Errorf("%w: %s", remote.ErrFileNotFound, p)
	case revision != "" && Revision(data) != revision:
		return fmt.Errorf("%w: %s", remote.ErrRevisionMismatch, p)
	}
	return nil
}

// List implements remote.FileStore. A local directory is listed in one
// page; hidden files and leftovers of interrupted writes are skipped.
func (s *Store) List(ctx context.Context, dir, cursor string) (remote.Page, error) {
	if err := ctx.Err(); err != nil {
		return remote.Page{}, err
	}
	entries, err := os.ReadDir(s.abs(dir))
	if errors.Is(err, os.ErrNotExist) {
		return remote.Page{}, nil
	}
	if err != nil {
		return remote.Page{}, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var page remote.Page
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		p := path.Join(dir, name)
		if p <= cursor {
			continue
		}
		data, err := os.ReadFile(s.abs(p))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return remote.Page{}, err
		}
		page.Entries = append(page.Entries, remote.Entry{Path: p, Revision: Revision(data)})
	}
	return page, nil
}
