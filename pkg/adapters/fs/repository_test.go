package fs_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/tilvault/pkg/adapters/fs"
	"github.com/aretw0/tilvault/pkg/adapters/remote"
	"github.com/aretw0/tilvault/pkg/core"
	"github.com/aretw0/tilvault/pkg/git"
)

// setupStore creates a gitless store in a fresh vault unless overridden.
func setupStore(t *testing.T, opts ...func(*fs.Config)) (*fs.Store, string) {
	t.Helper()

	vaultPath := filepath.Join(t.TempDir(), "vault")
	cfg := fs.Config{
		Path:        vaultPath,
		Gitless:     true,
		LockTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return fs.NewStore(cfg), vaultPath
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func TestInitialize(t *testing.T) {
	t.Run("Creates Directory if Missing", func(t *testing.T) {
		store, path := setupStore(t)

		if err := store.Initialize(context.Background(), "tils"); err != nil {
			t.Fatalf("Initialize failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(path, "tils")); err != nil {
			t.Errorf("expected note directory: %v", err)
		}
	})

	t.Run("Fails if MustExist and Missing", func(t *testing.T) {
		store, _ := setupStore(t, func(c *fs.Config) { c.MustExist = true })

		if err := store.Initialize(context.Background(), "tils"); err == nil {
			t.Error("expected Initialize to fail when the vault is missing")
		}
	})

	t.Run("Inits Git Repo", func(t *testing.T) {
		requireGit(t)
		store, path := setupStore(t, func(c *fs.Config) { c.Gitless = false })
		ctx := context.Background()

		if err := store.Initialize(ctx, "tils"); err != nil {
			t.Fatalf("Initialize failed: %v", err)
		}
		ignore, err := os.ReadFile(filepath.Join(path, ".gitignore"))
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(ignore), git.LockFile) {
			t.Errorf(".gitignore does not list the lock file: %q", ignore)
		}

		// Running it again is harmless.
		if err := store.Initialize(ctx, "tils"); err != nil {
			t.Fatalf("second Initialize failed: %v", err)
		}
	})
}

func TestStore_ConditionalWrites(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	if err := store.Initialize(ctx, "tils"); err != nil {
		t.Fatal(err)
	}

	rev, err := store.Put(ctx, "tils/a.md", []byte("one"), "", "add a")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if rev != fs.Revision([]byte("one")) {
		t.Errorf("unexpected revision %s", rev)
	}

	if _, err := store.Put(ctx, "tils/a.md", []byte("again"), "", "add a"); !errors.Is(err, remote.ErrFileExists) {
		t.Errorf("expected ErrFileExists, got %v", err)
	}
	if _, err := store.Put(ctx, "tils/a.md", []byte("two"), "stale", "edit a"); !errors.Is(err, remote.ErrRevisionMismatch) {
		t.Errorf("expected ErrRevisionMismatch, got %v", err)
	}

	rev2, err := store.Put(ctx, "tils/a.md", []byte("two"), rev, "edit a")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	f, err := store.Fetch(ctx, "tils/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if string(f.Content) != "two" || f.Revision != rev2 {
		t.Errorf("unexpected file %q at %s", f.Content, f.Revision)
	}

	if err := store.Remove(ctx, "tils/a.md", rev, "delete a"); !errors.Is(err, remote.ErrRevisionMismatch) {
		t.Errorf("expected ErrRevisionMismatch, got %v", err)
	}
	if err := store.Remove(ctx, "tils/a.md", rev2, "delete a"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := store.Fetch(ctx, "tils/a.md"); !errors.Is(err, remote.ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
	if err := store.Remove(ctx, "tils/a.md", "", "delete a"); !errors.Is(err, remote.ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}

func TestStore_ListSkipsHiddenFiles(t *testing.T) {
	store, path := setupStore(t)
	ctx := context.Background()
	if err := store.Initialize(ctx, "tils"); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"b.md", "a.md", ".til-tmp-123", ".gitkeep"} {
		if err := os.WriteFile(filepath.Join(path, "tils", name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(path, "tils", "nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	page, err := store.List(ctx, "tils", "")
	if err != nil {
		t.Fatal(err)
	}
	if page.Next != "" || len(page.Entries) != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Entries[0].Path != "tils/a.md" || page.Entries[1].Path != "tils/b.md" {
		t.Errorf("unexpected order %+v", page.Entries)
	}

	page, err = store.List(ctx, "missing", "")
	if err != nil || len(page.Entries) != 0 {
		t.Errorf("missing dir: %+v, %v", page, err)
	}
}

func TestStore_LockHeldElsewhere(t *testing.T) {
	store, path := setupStore(t, func(c *fs.Config) { c.LockTimeout = 30 * time.Millisecond })
	ctx := context.Background()
	if err := store.Initialize(ctx, "tils"); err != nil {
		t.Fatal(err)
	}

	unlock, err := git.NewClient(path, nil).Lock(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	_, err = store.Put(ctx, "tils/a.md", []byte("x"), "", "add")
	if !errors.Is(err, remote.ErrTransient) {
		t.Errorf("expected ErrTransient, got %v", err)
	}
}

func TestStore_WithBackend(t *testing.T) {
	requireGit(t)
	store, path := setupStore(t, func(c *fs.Config) { c.Gitless = false })
	backend := remote.New(store, remote.Config{Name: "fs", BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	svc := core.NewService(backend)
	ctx := context.Background()

	if err := svc.Repository().Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	n, err := svc.Create(ctx, core.NoteInput{Title: "Local vault", Content: "x", Tags: []string{"git"}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.AddTag(ctx, n.ID, "fs"); err != nil {
		t.Fatalf("add tag failed: %v", err)
	}
	if ok, err := svc.Delete(ctx, n.ID); err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}

	log, err := git.NewClient(path, nil).Run(ctx, "log", "--format=%s")
	if err != nil {
		t.Fatal(err)
	}
	subjects := strings.Split(log, "\n")
	if len(subjects) != 4 {
		t.Fatalf("expected one commit per change plus init, got %q", subjects)
	}
	if !strings.HasPrefix(subjects[2], "feat(notes): add") {
		t.Errorf("unexpected create commit %q", subjects[2])
	}
	status, err := git.NewClient(path, nil).Status(ctx)
	if err != nil || status != "" {
		t.Errorf("work tree not clean: %q, %v", status, err)
	}
}
