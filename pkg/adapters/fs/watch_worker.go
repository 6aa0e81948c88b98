package fs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/tilvault/pkg/git"
)

// DefaultDebounce coalesces bursts of filesystem events into one change.
const DefaultDebounce = 50 * time.Millisecond

// watchWorker reports edits made to the note directory outside this
// process, e.g. by an editor or a git pull.
type watchWorker struct {
	store    *Store
	dir      string
	debounce time.Duration
	onChange func()
	watcher  *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
}

// Watch starts watching dir (relative to the vault) until ctx is done.
// onChange runs once per burst of events; it runs on a timer goroutine.
func (s *Store) Watch(ctx context.Context, dir string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.abs(dir)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	// Missing in gitless vaults.
	_ = watcher.Add(filepath.Join(s.Path, ".git"))

	w := &watchWorker{
		store:    s,
		dir:      dir,
		debounce: DefaultDebounce,
		onChange: onChange,
		watcher:  watcher,
	}
	s.setWatcherActive(true)

	lifecycle.Go(ctx, w.run, lifecycle.WithErrorHandler(func(err error) {
		s.logger.Error("watcher stopped", "error", err)
	}))
	return nil
}

func (w *watchWorker) run(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("watcher panic: %v", recovered)
			if w.store.logger.Enabled(ctx, slog.LevelDebug) {
				w.store.logger.Error("watcher panic", "error", err, "stack", string(debug.Stack()))
			} else {
				w.store.logger.Error("watcher panic", "error", err)
			}
		}
	}()
	defer w.store.setWatcherActive(false)
	defer w.watcher.Close()
	defer w.stopTimer()

	var gitLocked bool
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}

			if handled, locked := w.gitLockEvent(event, gitLocked); handled {
				if gitLocked && !locked {
					// Git finished; whatever it touched shows up as one change.
					w.schedule()
				}
				gitLocked = locked
				continue
			}
			if gitLocked || w.ignore(event) {
				continue
			}
			w.store.logger.Debug("vault changed", "path", event.Name, "op", event.Op.String())
			w.schedule()

		case wErr, ok := <-w.watcher.Errors:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			w.store.logger.Error("fsnotify error", "error", wErr)
		}
	}
}

// gitLockEvent tracks .git/index.lock so the many events of one git
// operation are not reported individually.
func (w *watchWorker) gitLockEvent(event fsnotify.Event, locked bool) (handled, nowLocked bool) {
	if filepath.Base(event.Name) != "index.lock" || filepath.Base(filepath.Dir(event.Name)) != ".git" {
		return false, locked
	}
	switch {
	case event.Has(fsnotify.Create):
		w.store.logger.Debug("git operation detected, pausing watcher")
		return true, true
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.store.logger.Debug("git operation finished")
		return true, false
	}
	return true, locked
}

func (w *watchWorker) ignore(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return true
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || name == git.LockFile {
		return true
	}
	return filepath.Dir(event.Name) == filepath.Join(w.store.Path, ".git")
}

func (w *watchWorker) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.store.recordChange()
		w.onChange()
	})
}

func (w *watchWorker) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
