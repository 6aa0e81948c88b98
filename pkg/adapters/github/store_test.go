package github_test

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tilvault/pkg/adapters/github"
	"github.com/aretw0/tilvault/pkg/adapters/remote"
	"github.com/aretw0/tilvault/pkg/core"
)

const token = "test-token"

type fakeFile struct {
	content []byte
	sha     string
}

// fakeGitHub implements the slice of the REST API the store uses.
type fakeGitHub struct {
	mu          sync.Mutex
	repoExists  bool
	files       map[string]fakeFile
	seq         int
	messages    []string
	rateLimited int
	calls       map[string]int

	// racedCreates makes the next creates fail with 409, as GitHub does
	// when another commit lands on the branch first.
	racedCreates int
}

func newFakeGitHub(t *testing.T, repoExists bool) (*fakeGitHub, *httptest.Server) {
	t.Helper()
	f := &fakeGitHub{repoExists: repoExists, files: map[string]fakeFile{}, calls: map[string]int{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[r.Method]++
	if r.Header.Get("Authorization") != "Bearer "+token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return
	}
	if f.rateLimited > 0 {
		f.rateLimited--
		w.Header().Set("X-RateLimit-Remaining", "0")
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "API rate limit exceeded"})
		return
	}

	const repoPrefix = "/repos/octo/til-notes"
	switch {
	case r.URL.Path == "/user" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"login": "octo"})
	case r.URL.Path == "/user/repos" && r.Method == http.MethodPost:
		f.repoExists = true
		writeJSON(w, http.StatusCreated, map[string]string{"full_name": "octo/til-notes"})
	case r.URL.Path == repoPrefix:
		if !f.repoExists {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"full_name": "octo/til-notes"})
	case strings.HasPrefix(r.URL.Path, repoPrefix+"/contents/"):
		f.contents(w, r, strings.TrimPrefix(r.URL.Path, repoPrefix+"/contents/"))
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	}
}

func (f *fakeGitHub) contents(w http.ResponseWriter, r *http.Request, p string) {
	current, exists := f.files[p]

	switch r.Method {
	case http.MethodGet:
		if exists {
			writeJSON(w, http.StatusOK, map[string]string{
				"type": "file", "name": path.Base(p), "path": p, "sha": current.sha,
				"encoding": "base64", "content": base64.StdEncoding.EncodeToString(current.content),
			})
			return
		}
		var items []map[string]string
		for fp, ff := range f.files {
			if path.Dir(fp) == p {
				items = append(items, map[string]string{"type": "file", "name": path.Base(fp), "path": fp, "sha": ff.sha})
			}
		}
		if items == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		sort.Slice(items, func(i, j int) bool { return items[i]["path"] > items[j]["path"] })
		writeJSON(w, http.StatusOK, items)

	case http.MethodPut:
		var req struct {
			Message string
			Content *string
			SHA     string
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch {
		case req.Content == nil:
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": `Invalid request. "content" wasn't supplied.`})
			return
		case !exists && req.SHA == "" && f.racedCreates > 0:
			f.racedCreates--
			f.files[p] = fakeFile{content: []byte("raced"), sha: "raced"}
			writeJSON(w, http.StatusConflict, map[string]string{"message": "is at raced but expected nothing"})
			return
		case exists && req.SHA == "":
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": `Invalid request. "sha" wasn't supplied.`})
			return
		case exists && req.SHA != current.sha:
			writeJSON(w, http.StatusConflict, map[string]string{"message": "does not match " + current.sha})
			return
		case !exists && req.SHA != "":
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		content, _ := base64.StdEncoding.DecodeString(*req.Content)
		f.seq++
		sum := sha1.Sum(append(content, byte(f.seq)))
		f.files[p] = fakeFile{content: content, sha: hex.EncodeToString(sum[:])}
		f.messages = append(f.messages, req.Message)
		writeJSON(w, http.StatusCreated, map[string]any{"content": map[string]string{"path": p, "sha": f.files[p].sha}})

	case http.MethodDelete:
		var req struct{ Message, SHA string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !exists {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		if req.SHA != current.sha {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "does not match"})
			return
		}
		delete(f.files, p)
		f.messages = append(f.messages, req.Message)
		writeJSON(w, http.StatusOK, map[string]any{"commit": map[string]string{}})
	}
}

func (f *fakeGitHub) has(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[p]
	return ok
}

func (f *fakeGitHub) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeGitHub) lastMessage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return ""
	}
	return f.messages[len(f.messages)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newStore(t *testing.T, baseURL string, autoCreate bool) *github.Store {
	t.Helper()
	s, err := github.New(github.Config{
		Repo:              "octo/til-notes",
		Token:             token,
		BaseURL:           baseURL,
		AutoCreate:        autoCreate,
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	_, err := github.New(github.Config{Repo: "no-slash", Token: token})
	assert.Error(t, err)

	_, err = github.New(github.Config{Repo: "a/b/c", Token: token})
	assert.Error(t, err)

	_, err = github.New(github.Config{Repo: "octo/til-notes"})
	assert.ErrorIs(t, err, remote.ErrUnauthorized)
}

func TestStore_InitializeCreatesRepoAndDirectory(t *testing.T) {
	fake, srv := newFakeGitHub(t, false)
	s := newStore(t, srv.URL, true)
	ctx := context.Background()

	require.NoError(t, s.Initialize(ctx, "tils"))
	require.True(t, fake.has("tils/.gitkeep"))
	f, err := s.Fetch(ctx, "tils/.gitkeep")
	require.NoError(t, err)
	assert.Empty(t, f.Content)

	// A second run finds everything in place.
	puts := fake.count(http.MethodPut)
	require.NoError(t, s.Initialize(ctx, "tils"))
	assert.Equal(t, puts, fake.count(http.MethodPut))
}

func TestStore_InitializeWithoutAutoCreate(t *testing.T) {
	_, srv := newFakeGitHub(t, false)
	s := newStore(t, srv.URL, false)

	err := s.Initialize(context.Background(), "tils")
	require.ErrorIs(t, err, remote.ErrFileNotFound)
}

func TestStore_ConditionalWrites(t *testing.T) {
	_, srv := newFakeGitHub(t, true)
	s := newStore(t, srv.URL, false)
	ctx := context.Background()

	rev, err := s.Put(ctx, "tils/2026-02-23-hello.md", []byte("hello"), "", "add")
	require.NoError(t, err)
	require.NotEmpty(t, rev)

	_, err = s.Put(ctx, "tils/2026-02-23-hello.md", []byte("again"), "", "add")
	require.ErrorIs(t, err, remote.ErrFileExists)

	_, err = s.Put(ctx, "tils/2026-02-23-hello.md", []byte("edit"), "stale", "edit")
	require.ErrorIs(t, err, remote.ErrRevisionMismatch)

	rev2, err := s.Put(ctx, "tils/2026-02-23-hello.md", []byte("edit"), rev, "edit")
	require.NoError(t, err)

	f, err := s.Fetch(ctx, "tils/2026-02-23-hello.md")
	require.NoError(t, err)
	assert.Equal(t, "edit", string(f.Content))
	assert.Equal(t, rev2, f.Revision)

	_, err = s.Fetch(ctx, "tils/missing.md")
	require.ErrorIs(t, err, remote.ErrFileNotFound)

	require.ErrorIs(t, s.Remove(ctx, "tils/2026-02-23-hello.md", rev, "delete"), remote.ErrRevisionMismatch)
	require.NoError(t, s.Remove(ctx, "tils/2026-02-23-hello.md", rev2, "delete"))
	require.ErrorIs(t, s.Remove(ctx, "tils/2026-02-23-hello.md", "", "delete"), remote.ErrFileNotFound)
}

func TestStore_CreateRaceIsFileExists(t *testing.T) {
	fake, srv := newFakeGitHub(t, true)
	s := newStore(t, srv.URL, false)
	ctx := context.Background()

	fake.mu.Lock()
	fake.racedCreates = 1
	fake.mu.Unlock()
	_, err := s.Put(ctx, "tils/2026-02-23-race.md", []byte("mine"), "", "add")
	require.ErrorIs(t, err, remote.ErrFileExists)
	assert.NotErrorIs(t, err, remote.ErrRevisionMismatch)

	// The backend moves on to the next suffix instead of failing.
	backend := remote.New(s, remote.Config{Name: "github", Location: time.UTC, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	svc := core.NewService(backend, core.WithLocation(time.UTC), core.WithClock(func() time.Time {
		return time.Date(2026, 2, 23, 9, 0, 0, 0, time.UTC)
	}))
	fake.mu.Lock()
	fake.racedCreates = 1
	fake.mu.Unlock()
	_, err = svc.Create(ctx, core.NoteInput{Title: "Lost race", Content: "body"})
	require.NoError(t, err)
	assert.True(t, fake.has("tils/2026-02-23-lost-race-2.md"))
}

func TestStore_ListSortsAndSkipsHidden(t *testing.T) {
	fake, srv := newFakeGitHub(t, true)
	s := newStore(t, srv.URL, false)
	ctx := context.Background()
	fake.files["tils/.gitkeep"] = fakeFile{sha: "k"}
	fake.files["tils/b.md"] = fakeFile{sha: "b"}
	fake.files["tils/a.md"] = fakeFile{sha: "a"}

	page, err := s.List(ctx, "tils", "")
	require.NoError(t, err)
	assert.Equal(t, []remote.Entry{{Path: "tils/a.md", Revision: "a"}, {Path: "tils/b.md", Revision: "b"}}, page.Entries)
	assert.Empty(t, page.Next)

	page, err = s.List(ctx, "empty", "")
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
}

func TestStore_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		want    error
	}{
		{"bad credentials", http.StatusUnauthorized, nil, `{"message":"Bad credentials"}`, remote.ErrUnauthorized},
		{"forbidden", http.StatusForbidden, nil, `{"message":"Resource not accessible"}`, remote.ErrUnauthorized},
		{"primary rate limit", http.StatusForbidden, map[string]string{"X-RateLimit-Remaining": "0"}, `{"message":"API rate limit exceeded"}`, remote.ErrRateLimited},
		{"secondary rate limit", http.StatusForbidden, map[string]string{"Retry-After": "60"}, `{"message":"secondary"}`, remote.ErrRateLimited},
		{"too many requests", http.StatusTooManyRequests, nil, `{}`, remote.ErrRateLimited},
		{"not found", http.StatusNotFound, nil, `{"message":"Not Found"}`, remote.ErrFileNotFound},
		{"server error", http.StatusBadGateway, nil, `bad gateway`, remote.ErrTransient},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tc.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newStore(t, srv.URL, false).Fetch(context.Background(), "tils/x.md")
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestStore_WithBackend(t *testing.T) {
	fake, srv := newFakeGitHub(t, false)
	s := newStore(t, srv.URL, true)
	backend := remote.New(s, remote.Config{
		Name:      "github",
		Location:  time.UTC,
		BaseDelay: time.Millisecond,
		MaxDelay:  2 * time.Millisecond,
	})
	clock := time.Date(2026, 2, 23, 14, 30, 0, 0, time.UTC)
	svc := core.NewService(backend, core.WithClock(func() time.Time { return clock }), core.WithLocation(time.UTC))
	ctx := context.Background()

	require.NoError(t, backend.Initialize(ctx))

	a, err := svc.Create(ctx, core.NoteInput{Title: "Python Decorators", Content: "wrap", Tags: []string{"Python"}})
	require.NoError(t, err)
	b, err := svc.Create(ctx, core.NoteInput{Title: "Python Decorators", Content: "again"})
	require.NoError(t, err)
	assert.True(t, fake.has("tils/2026-02-23-python-decorators.md"))
	assert.True(t, fake.has("tils/2026-02-23-python-decorators-2.md"))

	// One rate-limited response is absorbed by the retry policy.
	fake.mu.Lock()
	fake.rateLimited = 1
	fake.mu.Unlock()
	backend.Invalidate()

	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.ElementsMatch(t, []core.NoteID{a.ID, b.ID}, []core.NoteID{all[0].ID, all[1].ID})

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"python"}, got.Tags)

	ok, err := svc.Delete(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, fake.has("tils/2026-02-23-python-decorators-2.md"))
	assert.True(t, strings.HasPrefix(fake.lastMessage(), "chore(notes): delete"))
}
