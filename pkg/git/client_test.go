package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestClient_Lock(t *testing.T) {
	tmpDir := t.TempDir()
	client := NewClient(tmpDir, nil)
	ctx := context.Background()

	unlock, err := client.Lock(ctx)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	lockPath := filepath.Join(tmpDir, LockFile)
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		t.Error("Lock file not created")
	}

	// A second acquisition must wait and give up when ctx expires.
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := client.Lock(waitCtx); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("expected ErrLockTimeout while held, got %v", err)
	}

	unlock()

	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("Lock file not removed after unlock")
	}

	unlock, err = client.Lock(ctx)
	if err != nil {
		t.Fatalf("Failed to re-acquire lock: %v", err)
	}
	unlock()
}

func TestClient_InitAddCommit(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	tmpDir := t.TempDir()
	client := NewClient(tmpDir, nil)
	ctx := context.Background()

	if err := client.Init(ctx); err != nil {
		t.Fatalf("Failed to init: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ".git")); os.IsNotExist(err) {
		t.Fatal(".git directory not created")
	}
	if !client.IsRepo(ctx) {
		t.Error("IsRepo = false after init")
	}

	if err := os.WriteFile(filepath.Join(tmpDir, "note.md"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := client.Add(ctx, "note.md"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := client.Commit(ctx, FormatCommitMessage(CommitTypeFeat, "notes", "add note", "")); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != "" {
		t.Errorf("expected clean tree, got %q", status)
	}

	if err := client.Rm(ctx, "note.md"); err != nil {
		t.Fatalf("Rm failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "note.md")); !os.IsNotExist(err) {
		t.Error("file still present after Rm")
	}
}
