package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tilvault/pkg/adapters/fs"
	"github.com/aretw0/tilvault/pkg/adapters/gcs"
	"github.com/aretw0/tilvault/pkg/adapters/github"
	"github.com/aretw0/tilvault/pkg/adapters/kv"
	"github.com/aretw0/tilvault/pkg/adapters/memory"
	"github.com/aretw0/tilvault/pkg/adapters/postgres"
	"github.com/aretw0/tilvault/pkg/adapters/remote"
	"github.com/aretw0/tilvault/pkg/adapters/s3store"
	"github.com/aretw0/tilvault/pkg/config"
	"github.com/aretw0/tilvault/pkg/core"
)

// Vault is an opened note store together with the resources behind it.
// One vault is opened per process invocation and closed on exit.
type Vault struct {
	Name    string
	Service *core.Service
	Backend *remote.Backend

	stopWatch context.CancelFunc
}

// Open builds the backend named by cfg.Backend. Nothing is created
// remotely; call Initialize for that.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Vault, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %w", core.ErrValidation, cfg.Timezone, err)
	}
	logger := o.logger.With("backend", cfg.Backend)

	store := o.fileStore
	if store == nil {
		store, err = newFileStore(ctx, cfg, o, logger)
		if err != nil {
			return nil, err
		}
	}

	backend := remote.New(store, remote.Config{
		Name:        cfg.Backend,
		Dir:         cfg.Dir,
		Location:    loc,
		Logger:      logger,
		CallTimeout: time.Duration(cfg.Remote.CallTimeout),
		MaxRetries:  cfg.Remote.MaxRetries,
		CacheTTL:    time.Duration(cfg.Remote.CacheTTL),
		Concurrency: cfg.Remote.Concurrency,
	})

	svcOpts := []core.Option{core.WithLocation(loc), core.WithLogger(logger)}
	if o.clock != nil {
		svcOpts = append(svcOpts, core.WithClock(o.clock))
	}
	v := &Vault{
		Name:    cfg.Backend,
		Service: core.NewService(backend, svcOpts...),
		Backend: backend,
	}

	if local, ok := store.(*fs.Store); ok && cfg.FS != nil && cfg.FS.Watch {
		v.watch(local, cfg.Dir, logger)
	}
	return v, nil
}

// watch invalidates the backend cache on external edits. A vault that
// cannot be watched still works; it just relies on the cache TTL.
func (v *Vault) watch(store *fs.Store, dir string, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	if err := store.Watch(ctx, dir, v.Backend.Invalidate); err != nil {
		cancel()
		logger.Warn("file watcher disabled", "error", err)
		return
	}
	v.stopWatch = cancel
}

// Close stops background work and releases the backend.
func (v *Vault) Close() error {
	if v.stopWatch != nil {
		v.stopWatch()
	}
	return v.Backend.Close()
}

// newFileStore is the closed backend switch.
func newFileStore(ctx context.Context, cfg config.Config, o *options, logger *slog.Logger) (remote.FileStore, error) {
	switch cfg.Backend {
	case config.BackendGitHub:
		token, err := cfg.GitHub.ResolveToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrAuth, err)
		}
		store, err := github.New(github.Config{
			Repo:              cfg.GitHub.Repo,
			Token:             token,
			Branch:            cfg.GitHub.Branch,
			BaseURL:           cfg.GitHub.BaseURL,
			AutoCreate:        cfg.GitHub.AutoCreate,
			Private:           cfg.GitHub.Private,
			RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
			HTTPClient:        o.httpClient,
			Logger:            logger,
		})
		if err != nil {
			return nil, classifyOpen(err)
		}
		return store, nil

	case config.BackendS3:
		access, err := config.Secret(cfg.S3.AccessKeyEnv)
		if err != nil {
			return nil, fmt.Errorf("%w: s3 credentials: %w", core.ErrAuth, err)
		}
		secret, err := config.Secret(cfg.S3.SecretKeyEnv)
		if err != nil {
			return nil, fmt.Errorf("%w: s3 credentials: %w", core.ErrAuth, err)
		}
		store, err := s3store.New(ctx, s3store.Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     access,
			SecretAccessKey: secret,
			UsePathStyle:    cfg.S3.UsePathStyle,
			AutoCreate:      cfg.S3.AutoCreate,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrStorage, err)
		}
		return store, nil

	case config.BackendGCS:
		store, err := gcs.New(ctx, gcs.Config{
			Bucket:          cfg.GCS.Bucket,
			Prefix:          cfg.GCS.Prefix,
			ProjectID:       cfg.GCS.ProjectID,
			CredentialsFile: cfg.GCS.CredentialsFile,
			Endpoint:        cfg.GCS.Endpoint,
			AutoCreate:      cfg.GCS.AutoCreate,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrStorage, err)
		}
		return store, nil

	case config.BackendBadger:
		kvCfg := kv.InMemoryConfig()
		if !cfg.Badger.InMemory {
			kvCfg = kv.DefaultConfig(localPath(cfg.Badger.Path, o, logger))
		}
		kvCfg.Logger = logger
		store, err := kv.Open(kvCfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrStorage, err)
		}
		return store, nil

	case config.BackendPostgres:
		dsn, err := config.Secret(cfg.Postgres.DSNEnv)
		if err != nil {
			return nil, fmt.Errorf("%w: postgres connection: %w", core.ErrAuth, err)
		}
		store, err := postgres.Open(dsn, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrStorage, err)
		}
		return store, nil

	case config.BackendFS:
		return fs.NewStore(fs.Config{
			Path:    localPath(cfg.FS.Path, o, logger),
			Gitless: cfg.FS.Gitless,
			Logger:  logger,
		}), nil

	case config.BackendMemory:
		logger.Warn("memory backend keeps notes only until the process exits")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", core.ErrValidation, cfg.Backend)
}

func classifyOpen(err error) error {
	if errors.Is(err, remote.ErrUnauthorized) {
		return fmt.Errorf("%w: %w", core.ErrAuth, err)
	}
	return fmt.Errorf("%w: %w", core.ErrValidation, err)
}

func localPath(p string, o *options, logger *slog.Logger) string {
	sandbox := o.devSafety && IsDevRun()
	resolved := ResolveLocalPath(p, sandbox)
	if resolved != p {
		logger.Warn("running in SAFE MODE (dev sandbox)", "original_path", p, "resolved_path", resolved)
	}
	return resolved
}
