package fs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/tilvault/pkg/adapters/fs"
)

func TestWatch_ReportsExternalEdits(t *testing.T) {
	store, path := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Initialize(ctx, "tils"); err != nil {
		t.Fatal(err)
	}

	var changes atomic.Int32
	if err := store.Watch(ctx, "tils", func() { changes.Add(1) }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	waitFor(t, func() bool { return store.State().(fs.StoreState).WatcherActive })

	// A burst of writes collapses into a single change.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(filepath.Join(path, "tils", "edited.md"), []byte{byte('a' + i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, func() bool { return changes.Load() >= 1 })

	time.Sleep(4 * fs.DefaultDebounce)
	if n := changes.Load(); n != 1 {
		t.Errorf("expected one change for the burst, got %d", n)
	}
	if store.State().(fs.StoreState).LastChange == nil {
		t.Error("last change not recorded")
	}

	cancel()
	waitFor(t, func() bool { return !store.State().(fs.StoreState).WatcherActive })
}

func TestWatch_IgnoresTempFiles(t *testing.T) {
	store, path := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Initialize(ctx, "tils"); err != nil {
		t.Fatal(err)
	}
	var changes atomic.Int32
	if err := store.Watch(ctx, "tils", func() { changes.Add(1) }); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return store.State().(fs.StoreState).WatcherActive })

	if err := os.WriteFile(filepath.Join(path, "tils", fs.TempFilePrefix+"1"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(4 * fs.DefaultDebounce)
	if n := changes.Load(); n != 0 {
		t.Errorf("temp file reported as change (%d)", n)
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	store, _ := setupStore(t)
	if err := store.Watch(context.Background(), "nowhere", func() {}); err == nil {
		t.Error("expected error watching a missing directory")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
