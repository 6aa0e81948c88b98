package migrate_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tilvault/pkg/adapters/memory"
	"github.com/aretw0/tilvault/pkg/adapters/remote"
	"github.com/aretw0/tilvault/pkg/core"
	"github.com/aretw0/tilvault/pkg/migrate"
)

var day = time.Date(2026, 2, 23, 10, 0, 0, 0, time.UTC)

func newService(t *testing.T, name string) (*core.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return serviceOver(store, name), store
}

// serviceOver opens a new backend with an empty cache over store, the way a
// separate process would.
func serviceOver(store *memory.Store, name string) *core.Service {
	backend := remote.New(store, remote.Config{
		Name:        name,
		Location:    time.UTC,
		CallTimeout: time.Second,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	})
	clock := day
	var mu sync.Mutex
	return core.NewService(backend,
		core.WithLocation(time.UTC),
		core.WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Minute)
			return clock
		}),
	)
}

func seed(t *testing.T, svc *core.Service, titles ...string) []core.Note {
	t.Helper()
	notes := make([]core.Note, 0, len(titles))
	for _, title := range titles {
		n, err := svc.Create(context.Background(), core.NoteInput{
			Title:    title,
			Content:  "body of " + title,
			Category: "dev",
			Tags:     []string{"go", "Migration"},
		})
		require.NoError(t, err)
		notes = append(notes, n)
	}
	return notes
}

func all(t *testing.T, svc *core.Service) []core.Note {
	t.Helper()
	notes, err := svc.ListAll(context.Background())
	require.NoError(t, err)
	sort.Slice(notes, func(i, j int) bool { return notes[i].ID < notes[j].ID })
	return notes
}

func TestRun_CopiesEverything(t *testing.T) {
	ctx := context.Background()
	source, _ := newService(t, "source")
	target, _ := newService(t, "target")
	seed(t, source, "Python decorators", "Go contexts", "SQL window functions")

	report, err := migrate.New().Run(ctx, source, target, migrate.Options{SourceName: "memory", TargetName: "github"})
	require.NoError(t, err)

	assert.True(t, report.OK())
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Migrated)
	assert.Zero(t, report.Skipped)
	assert.Equal(t, "memory", report.Source)
	assert.Equal(t, "github", report.Target)
	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))

	assert.Equal(t, all(t, source), all(t, target), "target must hold the same notes, ids and timestamps included")
}

func TestRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	source, _ := newService(t, "source")
	target, targetFiles := newService(t, "target")
	seed(t, source, "One", "Two")

	_, err := migrate.New().Run(ctx, source, target, migrate.Options{})
	require.NoError(t, err)
	writes := len(targetFiles.Messages())

	report, err := migrate.New().Run(ctx, source, target, migrate.Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	assert.Zero(t, report.Migrated)
	assert.Equal(t, 2, report.Skipped)
	assert.Len(t, targetFiles.Messages(), writes, "re-run must not write")
	assert.Len(t, all(t, target), 2)
}

func TestRun_PartialFailureThenResume(t *testing.T) {
	ctx := context.Background()
	source, _ := newService(t, "source")
	target, targetFiles := newService(t, "target")
	seed(t, source, "Good note", "Broken note", "Another good note")

	var failing atomic.Bool
	failing.Store(true)
	targetFiles.Fault = func(op, p string) error {
		if failing.Load() && op == "put" && strings.Contains(p, "broken") {
			return errors.New("disk full")
		}
		return nil
	}

	report, err := migrate.New().Run(ctx, source, target, migrate.Options{})
	require.NoError(t, err, "per-note failures do not abort the run")

	assert.False(t, report.OK())
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Migrated)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "Broken note", report.Failed[0].Title)
	assert.Contains(t, report.Failed[0].Reason, "disk full")

	failing.Store(false)
	report, err = migrate.New().Run(ctx, source, target, migrate.Options{})
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 1, report.Migrated)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, all(t, source), all(t, target))
}

func TestRun_DryRun(t *testing.T) {
	ctx := context.Background()
	source, _ := newService(t, "source")
	target, targetFiles := newService(t, "target")
	notes := seed(t, source, "Alpha", "Beta")
	_, err := target.Import(ctx, notes[0])
	require.NoError(t, err)
	writes := len(targetFiles.Messages())

	report, err := migrate.New().Run(ctx, source, target, migrate.Options{DryRun: true})
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.WouldMigrate)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Migrated)
	assert.Len(t, targetFiles.Messages(), writes)
}

// cancelAfter cancels the run once n notes were imported.
type cancelAfter struct {
	*core.Service
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) Import(ctx context.Context, n core.Note) (core.Note, error) {
	out, err := c.Service.Import(ctx, n)
	c.n--
	if c.n == 0 {
		c.cancel()
	}
	return out, err
}

func TestRun_Cancelled(t *testing.T) {
	source, _ := newService(t, "source")
	target, _ := newService(t, "target")
	seed(t, source, "A", "B", "C", "D")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	report, err := migrate.New().Run(ctx, source, &cancelAfter{Service: target, n: 2, cancel: cancel}, migrate.Options{})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 2, report.Migrated)
	assert.Equal(t, 2, report.Total)
	assert.Empty(t, report.Failed)
	assert.Len(t, all(t, target), 2)

	// A second run picks up the rest.
	report, err = migrate.New().Run(context.Background(), source, target, migrate.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Migrated)
	assert.Equal(t, 2, report.Skipped)
}

func TestRun_SourceUnreadable(t *testing.T) {
	source, sourceFiles := newService(t, "source")
	target, _ := newService(t, "target")
	seed(t, source, "A")
	sourceFiles.Fault = func(op, _ string) error {
		if op == "list" {
			return remote.ErrUnauthorized
		}
		return nil
	}

	_, err := migrate.New().Run(context.Background(), source, target, migrate.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrAuth)
}

func TestRun_FreshBackends(t *testing.T) {
	ctx := context.Background()
	sourceFiles, targetFiles := memory.New(), memory.New()
	want := seed(t, serviceOver(sourceFiles, "source"), "Rust lifetimes", "Go generics", "Bash traps")
	sort.Slice(want, func(i, j int) bool { return want[i].ID < want[j].ID })

	report, err := migrate.New().Run(ctx, serviceOver(sourceFiles, "source"), serviceOver(targetFiles, "target"), migrate.Options{})
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 3, report.Migrated)

	assert.Equal(t, want, all(t, serviceOver(targetFiles, "target")), "notes must survive a reopen of the target")

	writes := len(targetFiles.Messages())
	report, err = migrate.New().Run(ctx, serviceOver(sourceFiles, "source"), serviceOver(targetFiles, "target"), migrate.Options{})
	require.NoError(t, err)
	assert.Zero(t, report.Migrated)
	assert.Equal(t, 3, report.Skipped)
	assert.Len(t, targetFiles.Messages(), writes, "re-run must not write")
}
