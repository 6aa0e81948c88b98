// Package migrate copies every note from one store into another, keeping
// ids and timestamps. Runs are resumable: notes already present in the
// target are skipped, so re-running after a partial failure only copies
// what is missing.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/tilvault/internal/metrics"
	"github.com/aretw0/tilvault/pkg/core"
	"github.com/aretw0/tilvault/pkg/git"
)

// Options tunes a run.
type Options struct {
	// DryRun reads both stores but writes nothing.
	DryRun bool
	// SourceName and TargetName label the report, logs and metrics.
	SourceName string
	TargetName string
}

// Failure describes a note that could not be copied.
type Failure struct {
	ID     core.NoteID `json:"id"`
	Title  string      `json:"title"`
	Reason string      `json:"reason"`
}

// Report summarizes a run.
type Report struct {
	RunID        string    `json:"run_id"`
	Source       string    `json:"source"`
	Target       string    `json:"target"`
	DryRun       bool      `json:"dry_run"`
	Total        int       `json:"total"`
	Migrated     int       `json:"migrated"`
	WouldMigrate int       `json:"would_migrate,omitempty"`
	Skipped      int       `json:"skipped"`
	Failed       []Failure `json:"failed"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// OK reports whether every note was either copied or already present.
func (r Report) OK() bool {
	return len(r.Failed) == 0
}

// Engine runs migrations.
type Engine struct {
	logger        *slog.Logger
	now           func() time.Time
	progressEvery int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:        slog.New(slog.DiscardHandler),
		now:           time.Now,
		progressEvery: 50,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var errStop = errors.New("migration cancelled")

// Run streams source into target. It returns an error only when the run
// could not finish (source unreadable, ctx cancelled); per-note failures
// are in the report. The report is valid in both cases.
func (e *Engine) Run(ctx context.Context, source, target core.Store, opts Options) (Report, error) {
	if opts.SourceName == "" {
		opts.SourceName = "source"
	}
	if opts.TargetName == "" {
		opts.TargetName = "target"
	}
	report := Report{
		RunID:     uuid.NewString(),
		Source:    opts.SourceName,
		Target:    opts.TargetName,
		DryRun:    opts.DryRun,
		Failed:    []Failure{},
		StartedAt: e.now(),
	}
	logger := e.logger.With("run_id", report.RunID, "source", report.Source, "target", report.Target)
	logger.Info("migration started", "dry_run", opts.DryRun)

	var ctxErr error
	err := source.Walk(ctx, func(n core.Note) error {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			return errStop
		}
		report.Total++

		result, err := e.migrateOne(ctx, target, n, opts)
		if err != nil && ctx.Err() != nil {
			// The note was interrupted, not refused; it is retried next run.
			report.Total--
			ctxErr = ctx.Err()
			return errStop
		}
		switch result {
		case resultMigrated:
			report.Migrated++
		case resultWould:
			report.WouldMigrate++
		case resultSkipped:
			report.Skipped++
		case resultFailed:
			report.Failed = append(report.Failed, Failure{ID: n.ID, Title: n.Title, Reason: err.Error()})
			logger.Warn("note not migrated", "id", n.ID, "error", err)
		}
		metrics.MigratedNotes.WithLabelValues(report.Source, report.Target, string(result)).Inc()

		if report.Total%e.progressEvery == 0 {
			logger.Info("migration progress", "processed", report.Total, "migrated", report.Migrated, "skipped", report.Skipped, "failed", len(report.Failed))
		}
		return nil
	})
	report.FinishedAt = e.now()
	if err != nil && ctxErr == nil && ctx.Err() != nil {
		// Cancelled while the source was loading the next note.
		ctxErr, err = ctx.Err(), errStop
	}

	switch {
	case errors.Is(err, errStop):
		logger.Warn("migration cancelled", "processed", report.Total, "error", ctxErr)
		return report, ctxErr
	case err != nil:
		logger.Error("migration aborted", "processed", report.Total, "error", err)
		return report, fmt.Errorf("read %s: %w", report.Source, err)
	}

	logger.Info("migration finished",
		"total", report.Total,
		"migrated", report.Migrated,
		"would_migrate", report.WouldMigrate,
		"skipped", report.Skipped,
		"failed", len(report.Failed),
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	return report, nil
}

type result string

const (
	resultMigrated result = "migrated"
	resultWould    result = "would_migrate"
	resultSkipped  result = "skipped"
	resultFailed   result = "failed"
)

func (e *Engine) migrateOne(ctx context.Context, target core.Store, n core.Note, opts Options) (result, error) {
	_, err := target.Get(ctx, n.ID)
	switch {
	case err == nil:
		e.logger.Debug("note already in target", "id", n.ID)
		return resultSkipped, nil
	case !errors.Is(err, core.ErrNotFound):
		return resultFailed, err
	}

	if opts.DryRun {
		return resultWould, nil
	}

	msg := git.FormatCommitMessage(git.CommitTypeChore, "migrate",
		fmt.Sprintf("import %s from %s", n.ID, opts.SourceName), "")
	_, err = target.Import(core.WithChangeReason(ctx, msg), n)
	switch {
	case err == nil:
		e.logger.Debug("note migrated", "id", n.ID)
		return resultMigrated, nil
	case errors.Is(err, core.ErrConflict):
		// Another run imported it in the meantime; only an id clash can
		// make a fresh import conflict.
		if _, gerr := target.Get(ctx, n.ID); gerr == nil {
			return resultSkipped, nil
		}
	}
	return resultFailed, err
}
