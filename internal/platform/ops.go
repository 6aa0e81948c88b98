package platform

import (
	"context"
	"fmt"

	"github.com/aretw0/tilvault/pkg/config"
	"github.com/aretw0/tilvault/pkg/migrate"
)

// Initialize prepares the backend: creates the repository, bucket, schema
// or directory as the backend requires. It is safe to run repeatedly.
func (v *Vault) Initialize(ctx context.Context) error {
	if err := v.Backend.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize %s backend: %w", v.Name, err)
	}
	return nil
}

// Init opens the configured backend and initializes it.
func Init(ctx context.Context, cfg config.Config, opts ...Option) (*Vault, error) {
	v, err := Open(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := v.Initialize(ctx); err != nil {
		_ = v.Close()
		return nil, err
	}
	return v, nil
}

// Migrate copies every note from the backend described by from into the
// one described by to. The target is initialized first unless dryRun is
// set.
func Migrate(ctx context.Context, from, to config.Config, dryRun bool, opts ...Option) (migrate.Report, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	source, err := Open(ctx, from, opts...)
	if err != nil {
		return migrate.Report{}, fmt.Errorf("open source: %w", err)
	}
	defer source.Close()

	var target *Vault
	if dryRun {
		target, err = Open(ctx, to, opts...)
	} else {
		target, err = Init(ctx, to, opts...)
	}
	if err != nil {
		return migrate.Report{}, fmt.Errorf("open target: %w", err)
	}
	defer target.Close()

	engine := migrate.New(migrate.WithLogger(o.logger))
	return engine.Run(ctx, source.Service, target.Service, migrate.Options{
		DryRun:     dryRun,
		SourceName: source.Name,
		TargetName: target.Name,
	})
}
