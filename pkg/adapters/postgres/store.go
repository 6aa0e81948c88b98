// Package postgres keeps note files in a PostgreSQL table, one row per
// file. Revisions come from a sequence, so a re-created path never reuses
// an old revision.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/aretw0/tilvault/pkg/adapters/remote"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DefaultPageSize bounds the rows returned by one List call.
const DefaultPageSize = 500

// Store implements remote.FileStore on PostgreSQL.
type Store struct {
	db       *sql.DB
	pageSize int
	logger   *slog.Logger
}

var (
	_ remote.FileStore   = (*Store)(nil)
	_ remote.Initializer = (*Store)(nil)
	_ remote.Closer      = (*Store)(nil)
)

// Open connects with the pgx driver.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an open database.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, pageSize: DefaultPageSize, logger: logger}
}

// WithPageSize sets the List page size.
func (s *Store) WithPageSize(n int) *Store {
	if n > 0 {
		s.pageSize = n
	}
	return s
}

// Initialize applies the schema migrations.
func (s *Store) Initialize(ctx context.Context, _ string) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return translate(fmt.Errorf("migration error: %w", err), "")
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatRevision(rev int64) string {
	return strconv.FormatInt(rev, 10)
}

func parseRevision(p, rev string) (int64, error) {
	v, err := strconv.ParseInt(rev, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s at foreign revision %q", remote.ErrRevisionMismatch, p, rev)
	}
	return v, nil
}

// Fetch implements remote.FileStore.
func (s *Store) Fetch(ctx context.Context, p string) (remote.File, error) {
	var (
		content []byte
		rev     int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT content, revision FROM note_files WHERE path = $1`, p,
	).Scan(&content, &rev)
	if errors.Is(err, sql.ErrNoRows) {
		return remote.File{}, fmt.Errorf("%w: %s", remote.ErrFileNotFound, p)
	}
	if err != nil {
		return remote.File{}, translate(err, p)
	}
	return remote.File{Path: p, Content: content, Revision: formatRevision(rev)}, nil
}

// Put implements remote.FileStore.
func (s *Store) Put(ctx context.Context, p string, content []byte, revision, message string) (string, error) {
	var rev int64
	if revision == "" {
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO note_files (path, dir, content, revision, message)
			VALUES ($1, $2, $3, nextval('note_file_revisions'), $4)
			ON CONFLICT (path) DO NOTHING
			RETURNING revision`,
			p, path.Dir(p), content, message,
		).Scan(&rev)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", remote.ErrFileExists, p)
		}
		if err != nil {
			return "", translate(err, p)
		}
		return formatRevision(rev), nil
	}

	expected, err := parseRevision(p, revision)
	if err != nil {
		return "", err
	}
	err = s.db.QueryRowContext(ctx, `
		UPDATE note_files
		SET content = $1, revision = nextval('note_file_revisions'), message = $2, updated_at = now()
		WHERE path = $3 AND revision = $4
		RETURNING revision`,
		content, message, p, expected,
	).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", s.missed(ctx, p)
	}
	if err != nil {
		return "", translate(err, p)
	}
	return formatRevision(rev), nil
}

// Remove implements remote.FileStore.
func (s *Store) Remove(ctx context.Context, p, revision, message string) error {
	var (
		res sql.Result
		err error
	)
	if revision == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM note_files WHERE path = $1`, p)
	} else {
		expected, perr := parseRevision(p, revision)
		if perr != nil {
			return perr
		}
		res, err = s.db.ExecContext(ctx, `DELETE FROM note_files WHERE path = $1 AND revision = $2`, p, expected)
	}
	if err != nil {
		return translate(err, p)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return s.missed(ctx, p)
	}
	s.logger.Debug("file removed", "path", p, "change", message)
	return nil
}

// missed explains a conditional statement that matched no row.
func (s *Store) missed(ctx context.Context, p string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM note_files WHERE path = $1)`, p).Scan(&exists)
	if err != nil {
		return translate(err, p)
	}
	if exists {
		return fmt.Errorf("%w: %s", remote.ErrRevisionMismatch, p)
	}
	return fmt.Errorf("%w: %s", remote.ErrFileNotFound, p)
}

// List implements remote.FileStore with keyset pagination on path.
func (s *Store) List(ctx context.Context, dir, cursor string) (remote.Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, revision FROM note_files
		WHERE dir = $1 AND path > $2
		ORDER BY path
		LIMIT $3`,
		strings.Trim(dir, "/"), cursor, s.pageSize,
	)
	if err != nil {
		return remote.Page{}, translate(err, dir)
	}
	defer rows.Close()

	var (
		page remote.Page
		last string
		n    int
	)
	for rows.Next() {
		var (
			p   string
			rev int64
		)
		if err := rows.Scan(&p, &rev); err != nil {
			return remote.Page{}, err
		}
		n++
		last = p
		if strings.HasPrefix(path.Base(p), ".") {
			continue
		}
		page.Entries = append(page.Entries, remote.Entry{Path: p, Revision: formatRevision(rev)})
	}
	if err := rows.Err(); err != nil {
		return remote.Page{}, translate(err, dir)
	}
	if n == s.pageSize {
		page.Next = last
	}
	return page, nil
}

// translate classifies driver errors by SQLSTATE.
func translate(err error, p string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "28000", pgErr.Code == "28P01", pgErr.Code == "42501":
			return fmt.Errorf("%w: %w", remote.ErrUnauthorized, err)
		case pgErr.Code == "53300", pgErr.Code == "57P03":
			return fmt.Errorf("%w: %w", remote.ErrRateLimited, err)
		case strings.HasPrefix(pgErr.Code, "40"), strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%w: %s: %w", remote.ErrTransient, p, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %s: %w", remote.ErrTransient, p, err)
	}
	return err
}
