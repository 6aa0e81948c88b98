package remote

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aretw0/tilvault/pkg/core"
)

// indexEntry is a decoded note together with the file it came from.
type indexEntry struct {
	Path     string
	Revision string
	Note     core.Note
}

// snapshot is the decoded collection at one point in time.
type snapshot struct {
	entries  []*indexEntry
	byID     map[core.NoteID]*indexEntry
	byPath   map[string]*indexEntry
	loadedAt time.Time
}

func newSnapshot(entries []*indexEntry, now time.Time) *snapshot {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	s := &snapshot{
		entries:  entries,
		byID:     make(map[core.NoteID]*indexEntry, len(entries)),
		byPath:   make(map[string]*indexEntry, len(entries)),
		loadedAt: now,
	}
	for _, e := range entries {
		// Two files claiming one id: keep the first path, the other is
		// still reachable by path for collision checks.
		if _, dup := s.byID[e.Note.ID]; !dup {
			s.byID[e.Note.ID] = e
		}
		s.byPath[e.Path] = e
	}
	return s
}

func (s *snapshot) notes() []core.Note {
	out := make([]core.Note, 0, len(s.byID))
	for _, e := range s.entries {
		if s.byID[e.Note.ID] == e {
			out = append(out, e.Note.Clone())
		}
	}
	return out
}

// cache keeps the last snapshot for a short time and remembers decoded
// files by path and revision so a reload only fetches what changed.
type cache struct {
	mu         sync.RWMutex
	ttl        time.Duration
	now        func() time.Time
	current    *snapshot
	generation uint64
	decoded    map[string]*indexEntry
	flight     singleflight.Group
}

func newCache(ttl time.Duration) *cache {
	return &cache{
		ttl:     ttl,
		now:     time.Now,
		decoded: make(map[string]*indexEntry),
	}
}

// Get returns the current snapshot if it is still fresh.
func (c *cache) Get() (*snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil || c.ttl <= 0 {
		return nil, false
	}
	if c.now().Sub(c.current.loadedAt) > c.ttl {
		return nil, false
	}
	return c.current, true
}

// Generation identifies the cache state a load starts from.
func (c *cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// flightKey scopes de-duplicated loads to one generation so a caller
// arriving after an invalidation never joins a load that started before it.
func (c *cache) flightKey(gen uint64) string {
	return "snapshot-" + strconv.FormatUint(gen, 10)
}

// Set publishes a snapshot loaded at generation gen. A snapshot from an
// older generation is dropped since a write happened while it loaded.
func (c *cache) Set(s *snapshot, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return
	}
	c.current = s

	keep := make(map[string]*indexEntry, len(s.entries))
	for _, e := range s.entries {
		keep[e.Path] = e
	}
	c.decoded = keep
}

// Decoded returns the decoded entry for path if it is at revision.
func (c *cache) Decoded(path, revision string) (*indexEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.decoded[path]
	if !ok || revision == "" || e.Revision != revision {
		return nil, false
	}
	return e, true
}

// Remember records a file this process just wrote and drops the snapshot.
func (c *cache) Remember(e *indexEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.decoded[e.Path] = e
	c.invalidateLocked()
}

// Forget drops a removed file and the snapshot.
func (c *cache) Forget(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.decoded, path)
	c.invalidateLocked()
}

// Invalidate drops the snapshot.
func (c *cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
}

func (c *cache) invalidateLocked() {
	c.current = nil
	c.generation++
}

// Len returns the number of notes in the current snapshot.
func (c *cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return 0
	}
	return len(c.current.byID)
}

// LoadedAt returns when the current snapshot was loaded.
func (c *cache) LoadedAt() *time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil
	}
	t := c.current.loadedAt
	return &t
}
