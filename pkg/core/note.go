// Package core holds the note entity, the storage contract and the service
// that applies the contract's rules on top of any Repository.
package core

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// DefaultCategory is assigned when a note has no category.
	DefaultCategory = "general"

	// MaxTitleLength is measured in runes after trimming.
	MaxTitleLength = 200

	idLayout = "20060102150405"
)

// NoteID identifies a note. It is derived from the creation instant in UTC
// at millisecond granularity (YYYYMMDDhhmmssSSS). Second-granularity ids
// (YYYYMMDDhhmmss) written by older tools are accepted as well.
type NoteID int64

// String renders the id in its decimal form.
func (id NoteID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseID parses the decimal form of a NoteID.
func ParseID(s string) (NoteID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: invalid note id %q", ErrValidation, s)
	}
	return NoteID(v), nil
}

// Note is the central entity of the domain.
type Note struct {
	ID        NoteID    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTag reports whether the note carries the (normalized) tag.
func (n Note) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with n.
func (n Note) Clone() Note {
	c := n
	c.Tags = append([]string{}, n.Tags...)
	return c
}

// NoteInput carries the caller-supplied fields of a new note.
type NoteInput struct {
	Title    string
	Content  string
	Category string
	Tags     []string
}

// NotePatch is a partial update. Nil fields are left untouched.
type NotePatch struct {
	Title    *string
	Content  *string
	Category *string
	Tags     *[]string
}

// Empty reports whether the patch carries no field.
func (p NotePatch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.Category == nil && p.Tags == nil
}

// checkText rejects values that cannot be stored in a note file.
func checkText(field string, values ...string) error {
	for _, v := range values {
		if !utf8.ValidString(v) {
			return fmt.Errorf("%w: %s is not valid UTF-8", ErrValidation, field)
		}
	}
	return nil
}

func normalizeTitle(title string) (string, error) {
	if err := checkText("title", title); err != nil {
		return "", err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("%w: title must not be empty", ErrValidation)
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", fmt.Errorf("%w: title exceeds %d characters", ErrValidation, MaxTitleLength)
	}
	return title, nil
}

func normalizeContent(content string) (string, error) {
	if err := checkText("content", content); err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: content must not be empty", ErrValidation)
	}
	return content, nil
}

func normalizeCategory(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return DefaultCategory
	}
	return category
}

// Validate checks a fully formed note, as received by the import path.
func (n Note) Validate() error {
	if n.ID <= 0 {
		return fmt.Errorf("%w: note id must be positive", ErrValidation)
	}
	if _, err := normalizeTitle(n.Title); err != nil {
		return err
	}
	if _, err := normalizeContent(n.Content); err != nil {
		return err
	}
	if err := checkText("category", n.Category); err != nil {
		return err
	}
	if err := checkText("tags", n.Tags...); err != nil {
		return err
	}
	if n.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrValidation)
	}
	if !n.UpdatedAt.IsZero() && n.UpdatedAt.Before(n.CreatedAt) {
		return fmt.Errorf("%w: updated_at precedes created_at", ErrValidation)
	}
	return nil
}

// IDGenerator hands out strictly increasing ids derived from timestamps.
type IDGenerator struct {
	mu   sync.Mutex
	last NoteID
}

// Next returns the id for a note created at t. Two notes created within the
// same millisecond get consecutive ids.
func (g *IDGenerator) Next(t time.Time) NoteID {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := IDFromTime(t)
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}

// IDFromTime renders t (in UTC, truncated to the millisecond) as a NoteID.
func IDFromTime(t time.Time) NoteID {
	t = t.UTC()
	v, _ := strconv.ParseInt(t.Format(idLayout), 10, 64)
	return NoteID(v*1000 + int64(t.Nanosecond()/int(time.Millisecond)))
}
