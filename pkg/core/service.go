package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Service handles the business rules of the storage contract on top of a
// Repository.
type Service struct {
	repo     Repository
	ids      *IDGenerator
	now      func() time.Time
	location *time.Location
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLocation sets the time zone used for "today", "this week" and export
// date ranges. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIDGenerator shares a generator between services.
func WithIDGenerator(g *IDGenerator) Option {
	return func(s *Service) {
		if g != nil {
			s.ids = g
		}
	}
}

// NewService creates a new Service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		ids:      &IDGenerator{},
		now:      time.Now,
		location: time.Local,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*Service)(nil)

// Repository exposes the underlying repository.
func (s *Service) Repository() Repository {
	return s.repo
}

// Location is the time zone used for calendar-based selections.
func (s *Service) Location() *time.Location {
	return s.location
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Create validates the input, assigns id and timestamps and persists it.
func (s *Service) Create(ctx context.Context, in NoteInput) (Note, error) {
	title, err := normalizeTitle(in.Title)
	if err != nil {
		return Note{}, err
	}
	content, err := normalizeContent(in.Content)
	if err != nil {
		return Note{}, err
	}
	if err := checkText("category", in.Category); err != nil {
		return Note{}, err
	}
	if err := checkText("tags", in.Tags...); err != nil {
		return Note{}, err
	}

	now := s.clock()
	n := Note{
		ID:        s.ids.Next(now),
		Title:     title,
		Content:   content,
		Category:  normalizeCategory(in.Category),
		Tags:      NormalizeTags(in.Tags),
		CreatedAt: now,
		UpdatedAt: now,
	}

	stored, err := s.repo.Create(ctx, n)
	if err != nil {
		return Note{}, err
	}
	s.logger.Debug("note created", "id", stored.ID, "title", stored.Title)
	return stored, nil
}

// Update applies a partial update. Supplied fields are validated before any
// remote call so an invalid patch never touches the stored note.
func (s *Service) Update(ctx context.Context, id NoteID, patch NotePatch) (Note, error) {
	var (
		title, content string
		err            error
	)
	if patch.Title != nil {
		if title, err = normalizeTitle(*patch.Title); err != nil {
			return Note{}, err
		}
	}
	if patch.Content != nil {
		if content, err = normalizeContent(*patch.Content); err != nil {
			return Note{}, err
		}
	}
	if patch.Category != nil {
		if err := checkText("category", *patch.Category); err != nil {
			return Note{}, err
		}
	}
	if patch.Tags != nil {
		if err := checkText("tags", *patch.Tags...); err != nil {
			return Note{}, err
		}
	}
	if patch.Empty() {
		return s.Get(ctx, id)
	}

	return s.repo.Update(ctx, id, func(n *Note) error {
		if patch.Title != nil {
			n.Title = title
		}
		if patch.Content != nil {
			n.Content = content
		}
		if patch.Category != nil {
			n.Category = normalizeCategory(*patch.Category)
		}
		if patch.Tags != nil {
			n.Tags = NormalizeTags(*patch.Tags)
		}
		n.UpdatedAt = s.touch(n.CreatedAt)
		return nil
	})
}

// touch returns the new updated_at, never earlier than created.
func (s *Service) touch(created time.Time) time.Time {
	now := s.clock()
	if now.Before(created) {
		return created
	}
	return now
}

// Delete removes a note. Deleting a missing id returns false and no error.
func (s *Service) Delete(ctx context.Context, id NoteID) (bool, error) {
	removed, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	s.logger.Debug("note delete", "id", id, "removed", removed)
	return removed, nil
}

// AddTag appends one normalized tag when the note does not carry it yet.
func (s *Service) AddTag(ctx context.Context, id NoteID, tag string) (Note, error) {
	if err := checkText("tag", tag); err != nil {
		return Note{}, err
	}
	tag = NormalizeTag(tag)
	if tag == "" {
		return Note{}, fmt.Errorf("%w: tag must not be empty", ErrValidation)
	}
	return s.repo.Update(ctx, id, func(n *Note) error {
		if n.HasTag(tag) {
			return ErrUnchanged
		}
		n.Tags = append(n.Tags, tag)
		n.UpdatedAt = s.touch(n.CreatedAt)
		return nil
	})
}

// Get retrieves a note by id.
func (s *Service) Get(ctx context.Context, id NoteID) (Note, error) {
	if id <= 0 {
		return Note{}, fmt.Errorf("%w: invalid note id %d", ErrValidation, id)
	}
	return s.repo.Get(ctx, id)
}

// Import writes a note keeping its identity. Fields are normalized the same
// way Create normalizes them.
func (s *Service) Import(ctx context.Context, n Note) (Note, error) {
	if err := n.Validate(); err != nil {
		return Note{}, err
	}
	n = n.Clone()
	n.Title = strings.TrimSpace(n.Title)
	n.Content = strings.TrimSpace(n.Content)
	n.Category = normalizeCategory(n.Category)
	n.Tags = NormalizeTags(n.Tags)
	n.CreatedAt = n.CreatedAt.UTC()
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	n.UpdatedAt = n.UpdatedAt.UTC()
	return s.repo.Create(ctx, n)
}

// Walk streams the collection from the repository.
func (s *Service) Walk(ctx context.Context, fn func(Note) error) error {
	return s.repo.Walk(ctx, fn)
}

// Search performs a case-insensitive substring match over title and
// content, narrowed by the optional tag and category filters.
func (s *Service) Search(ctx context.Context, q SearchQuery) ([]Note, error) {
	query := strings.ToLower(strings.TrimSpace(q.Query))
	if query == "" {
		return nil, fmt.Errorf("%w: search query must not be empty", ErrValidation)
	}
	tag := NormalizeTag(q.Tag)
	category := strings.TrimSpace(q.Category)

	return s.filter(ctx, func(n Note) bool {
		if tag != "" && !n.HasTag(tag) {
			return false
		}
		if category != "" && n.Category != category {
			return false
		}
		return strings.Contains(strings.ToLower(n.Title), query) ||
			strings.Contains(strings.ToLower(n.Content), query)
	})
}

// ListAll returns every note, newest first.
func (s *Service) ListAll(ctx context.Context) ([]Note, error) {
	return s.filter(ctx, func(Note) bool { return true })
}

// ListToday returns the notes created today, newest first.
func (s *Service) ListToday(ctx context.Context) ([]Note, error) {
	today := s.today()
	return s.filter(ctx, func(n Note) bool {
		return !s.day(n.CreatedAt).Before(today)
	})
}

// ListThisWeek returns the notes created during the last seven days
// (today included), newest first.
func (s *Service) ListThisWeek(ctx context.Context) ([]Note, error) {
	start := s.today().AddDate(0, 0, -6)
	return s.filter(ctx, func(n Note) bool {
		return !s.day(n.CreatedAt).Before(start)
	})
}

// ExportSelection selects notes by id or by an inclusive date range.
func (s *Service) ExportSelection(ctx context.Context, q ExportQuery) ([]Note, error) {
	if q.ID != 0 {
		n, err := s.Get(ctx, q.ID)
		if err != nil {
			return nil, err
		}
		return []Note{n}, nil
	}

	from, to := strings.TrimSpace(q.From), strings.TrimSpace(q.To)
	if from == "" && to == "" {
		return nil, fmt.Errorf("%w: export needs an id or a date range", ErrValidation)
	}

	var start, end time.Time
	var err error
	if from != "" {
		if start, err = time.ParseInLocation(dateLayout, from, s.location); err != nil {
			return nil, fmt.Errorf("%w: invalid from date %q", ErrValidation, from)
		}
	}
	if to != "" {
		if end, err = time.ParseInLocation(dateLayout, to, s.location); err != nil {
			return nil, fmt.Errorf("%w: invalid to date %q", ErrValidation, to)
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return nil, fmt.Errorf("%w: date range ends before it starts", ErrValidation)
	}

	return s.filter(ctx, func(n Note) bool {
		d := s.day(n.CreatedAt)
		if !start.IsZero() && d.Before(start) {
			return false
		}
		if !end.IsZero() && d.After(end) {
			return false
		}
		return true
	})
}

// Tags lists the distinct tags in use, sorted.
func (s *Service) Tags(ctx context.Context) ([]string, error) {
	counts, err := s.TagCounts(ctx)
	if err != nil {
		return nil, err
	}
	return names(counts), nil
}

// Categories lists the distinct categories in use, sorted.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	counts, err := s.CategoryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return names(counts), nil
}

// TagCounts counts notes per tag, most used first.
func (s *Service) TagCounts(ctx context.Context) ([]Count, error) {
	notes, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return CountTags(notes), nil
}

// CategoryCounts counts notes per category, most used first.
func (s *Service) CategoryCounts(ctx context.Context) ([]Count, error) {
	notes, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return CountCategories(notes), nil
}

// Stats summarizes the collection.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	notes, err := s.repo.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(notes, s.now().In(s.location)), nil
}

func (s *Service) filter(ctx context.Context, keep func(Note) bool) ([]Note, error) {
	notes, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Note, 0, len(notes))
	for _, n := range notes {
		if keep(n) {
			out = append(out, n)
		}
	}
	SortNewestFirst(out)
	return out, nil
}

func (s *Service) today() time.Time {
	return s.day(s.now())
}

func (s *Service) day(t time.Time) time.Time {
	y, m, d := t.In(s.location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.location)
}

// SortNewestFirst orders notes by created_at descending, ties by id
// descending.
func SortNewestFirst(notes []Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		if !notes[i].CreatedAt.Equal(notes[j].CreatedAt) {
			return notes[i].CreatedAt.After(notes[j].CreatedAt)
		}
		return notes[i].ID > notes[j].ID
	})
}
