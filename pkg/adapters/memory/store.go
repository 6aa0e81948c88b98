// Package memory is an in-process FileStore. It backs the "memory" backend
// and doubles as a controllable store in tests.
package memory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aretw0/tilvault/pkg/adapters/remote"
)

// DefaultPageSize bounds the entries returned by one List call.
const DefaultPageSize = 100

type file struct {
	content  []byte
	revision string
}

// Store keeps files in a map. Revisions are a per-store counter.
type Store struct {
	mu       sync.Mutex
	files    map[string]file
	seq      int
	messages []string

	// PageSize bounds List pages. Zero means DefaultPageSize.
	PageSize int

	// Fault, when set, runs before every operation; a non-nil error is
	// returned instead of performing it. op is one of fetch, put, remove,
	// list.
	Fault func(op, path string) error

	// BeforePut runs after a conditional Put was accepted for processing
	// but before the revision is compared, outside the store lock. Tests
	// use it to slip a competing write in between.
	BeforePut func(path string)
}

var _ remote.FileStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{files: make(map[string]file)}
}

func (s *Store) fault(op, p string) error {
	if s.Fault == nil {
		return nil
	}
	return s.Fault(op, p)
}

func (s *Store) nextRevision() string {
	s.seq++
	return "r" + strconv.Itoa(s.seq)
}

// Fetch implements remote.FileStore.
func (s *Store) Fetch(ctx context.Context, p string) (remote.File, error) {
	if err := ctx.Err(); err != nil {
		return remote.File{}, err
	}
	if err := s.fault("fetch", p); err != nil {
		return remote.File{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[p]
	if !ok {
		return remote.File{}, fmt.Errorf("%w: %s", remote.ErrFileNotFound, p)
	}
	return remote.File{Path: p, Content: append([]byte(nil), f.content...), Revision: f.revision}, nil
}

// Put implements remote.FileStore.
func (s *Store) Put(ctx context.Context, p string, content []byte, revision, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.fault("put", p); err != nil {
		return "", err
	}
	if revision != "" && s.BeforePut != nil {
		s.BeforePut(p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.files[p]
	switch {
	case revision == "" && exists:
		return "", fmt.Errorf("%w: %s", remote.ErrFileExists, p)
	case revision != "" && !exists:
		return "", fmt.Errorf("%w: %s", remote.ErrFileNotFound, p)
	case revision != "" && current.revision != revision:
		return "", fmt.Errorf("%w: %s at %s, held %s", remote.ErrRevisionMismatch, p, current.revision, revision)
	}

	rev := s.nextRevision()
	s.files[p] = file{content: append([]byte(nil), content...), revision: rev}
	s.messages = append(s.messages, message)
	return rev, nil
}

// Remove implements remote.FileStore.
func (s *Store) Remove(ctx context.Context, p, revision, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fault("remove", p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.files[p]
	if !exists {
		return fmt.Errorf("%w: %s", remote.ErrFileNotFound, p)
	}
	if revision != "" && current.revision != revision {
		return fmt.Errorf("%w: %s", remote.ErrRevisionMismatch, p)
	}
	delete(s.files, p)
	s.messages = append(s.messages, message)
	return nil
}

// List implements remote.FileStore. Cursors are the last path returned.
func (s *Store) List(ctx context.Context, dir, cursor string) (remote.Page, error) {
	if err := ctx.Err(); err != nil {
		return remote.Page{}, err
	}
	if err := s.fault("list", dir); err != nil {
		return remote.Page{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pattern := path.Join(dir, "*")
	var paths []string
	for p := range s.files {
		if ok, _ := doublestar.Match(pattern, p); ok && p > cursor {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	size := s.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	var page remote.Page
	if len(paths) > size {
		paths = paths[:size]
		page.Next = paths[size-1]
	}
	for _, p := range paths {
		page.Entries = append(page.Entries, remote.Entry{Path: p, Revision: s.files[p].revision})
	}
	return page, nil
}

// Set writes a file unconditionally, bypassing revisions. Tests use it to
// simulate writers outside the backend.
func (s *Store) Set(p string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rev := s.nextRevision()
	s.files[p] = file{content: append([]byte(nil), content...), revision: rev}
	return rev
}

// Paths returns all stored paths, sorted.
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.files))
	for p := range s.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Messages returns the change messages recorded so far.
func (s *Store) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}
