package platform_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tilvault/internal/platform"
	"github.com/aretw0/tilvault/pkg/adapters/memory"
	"github.com/aretw0/tilvault/pkg/codec"
	"github.com/aretw0/tilvault/pkg/config"
	"github.com/aretw0/tilvault/pkg/core"
)

var day = time.Date(2026, 2, 23, 14, 30, 0, 0, time.UTC)

func clock() platform.Option {
	t := day
	return platform.WithClock(func() time.Time {
		t = t.Add(time.Second)
		return t
	})
}

func baseConfig(backend string) config.Config {
	return config.Config{Backend: backend, Dir: "tils", Timezone: "UTC"}
}

func openVault(t *testing.T, cfg config.Config, opts ...platform.Option) *platform.Vault {
	t.Helper()
	v, err := platform.Init(context.Background(), cfg, append([]platform.Option{clock()}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func create(t *testing.T, v *platform.Vault, title string) core.Note {
	t.Helper()
	n, err := v.Service.Create(context.Background(), core.NoteInput{
		Title:   title,
		Content: "content of " + title,
		Tags:    []string{"go"},
	})
	require.NoError(t, err)
	return n
}

func TestOpen_Memory(t *testing.T) {
	v := openVault(t, baseConfig(config.BackendMemory))
	assert.Equal(t, "memory", v.Name)

	n := create(t, v, "Context cancellation")
	got, err := v.Service.Get(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, "Context cancellation", got.Title)
}

func TestOpen_InjectedStore(t *testing.T) {
	store := memory.New()
	v := openVault(t, baseConfig(config.BackendMemory), platform.WithFileStore(store))

	create(t, v, "Injected")
	assert.Equal(t, []string{"tils/2026-02-23-injected.md"}, store.Paths())
}

func TestOpen_FS(t *testing.T) {
	root := filepath.Join(t.TempDir(), "vault")
	cfg := baseConfig(config.BackendFS)
	cfg.FS = &config.FSConfig{Path: root, Gitless: true}

	v := openVault(t, cfg)
	n := create(t, v, "Python decorators")

	_, err := os.Stat(filepath.Join(root, "tils", "2026-02-23-python-decorators.md"))
	require.NoError(t, err)

	deleted, err := v.Service.Delete(context.Background(), n.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestOpen_FSWatchInvalidatesCache(t *testing.T) {
	root := filepath.Join(t.TempDir(), "vault")
	cfg := baseConfig(config.BackendFS)
	cfg.FS = &config.FSConfig{Path: root, Gitless: true, Watch: true}
	cfg.Remote.CacheTTL = config.Duration(time.Hour)

	// Initialize first so the directory exists when the watcher starts.
	openVault(t, cfg).Close()
	v := openVault(t, cfg)

	create(t, v, "Inside")
	notes, err := v.Service.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, notes, 1)

	external := core.Note{
		ID:        core.IDFromTime(day.Add(time.Hour)),
		Title:     "Written by hand",
		Content:   "edited outside the process",
		Tags:      []string{},
		CreatedAt: day.Add(time.Hour),
		UpdatedAt: day.Add(time.Hour),
	}
	data, err := codec.Encode(external)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "tils", "2026-02-23-written-by-hand.md"), data, 0o644))

	require.Eventually(t, func() bool {
		notes, err := v.Service.ListAll(context.Background())
		return err == nil && len(notes) == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestOpen_BadgerInMemory(t *testing.T) {
	cfg := baseConfig(config.BackendBadger)
	cfg.Badger = &config.BadgerConfig{InMemory: true}

	v := openVault(t, cfg)
	create(t, v, "Badger")

	tags, err := v.Service.Tags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, tags)
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid config", func(t *testing.T) {
		_, err := platform.Open(ctx, config.Config{Backend: "notion", Dir: "tils"})
		assert.ErrorIs(t, err, core.ErrValidation)
	})

	t.Run("no github token", func(t *testing.T) {
		t.Setenv("TIL_TEST_NO_TOKEN", "")
		cfg := baseConfig(config.BackendGitHub)
		cfg.GitHub = &config.GitHubConfig{
			Repo:         "alice/til-notes",
			TokenEnv:     "TIL_TEST_NO_TOKEN",
			TokenCommand: []string{"false"},
		}
		_, err := platform.Open(ctx, cfg)
		assert.ErrorIs(t, err, core.ErrAuth)
		assert.ErrorIs(t, err, config.ErrNoToken)
	})

	t.Run("missing postgres dsn", func(t *testing.T) {
		t.Setenv("TIL_TEST_NO_DSN", "")
		cfg := baseConfig(config.BackendPostgres)
		cfg.Postgres = &config.PostgresConfig{DSNEnv: "TIL_TEST_NO_DSN"}
		_, err := platform.Open(ctx, cfg)
		assert.ErrorIs(t, err, core.ErrAuth)
	})
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()

	from := baseConfig(config.BackendBadger)
	from.Badger = &config.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")}
	to := baseConfig(config.BackendFS)
	to.FS = &config.FSConfig{Path: filepath.Join(t.TempDir(), "vault"), Gitless: true}

	source, err := platform.Init(ctx, from, clock())
	require.NoError(t, err)
	for _, title := range []string{"One", "Two", "Three"} {
		create(t, source, title)
	}
	want, err := source.Service.ListAll(ctx)
	require.NoError(t, err)
	require.NoError(t, source.Close())

	report, err := platform.Migrate(ctx, from, to, true)
	require.NoError(t, err)
	assert.Equal(t, 3, report.WouldMigrate)
	_, err = os.Stat(to.FS.Path)
	assert.True(t, os.IsNotExist(err), "dry run must not initialize the target")

	report, err = platform.Migrate(ctx, from, to, false)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, "badger", report.Source)
	assert.Equal(t, "fs", report.Target)
	assert.Equal(t, 3, report.Migrated)

	report, err = platform.Migrate(ctx, from, to, false)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Skipped)

	target := openVault(t, to)
	got, err := target.Service.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
