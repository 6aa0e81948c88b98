package core

import (
	"context"
	"time"
)

// Store is the backend-agnostic storage contract. Every backend exposes it
// through Service, so the semantics below hold regardless of where notes
// live.
type Store interface {
	Create(ctx context.Context, in NoteInput) (Note, error)
	Update(ctx context.Context, id NoteID, patch NotePatch) (Note, error)
	Delete(ctx context.Context, id NoteID) (bool, error)
	AddTag(ctx context.Context, id NoteID, tag string) (Note, error)
	Get(ctx context.Context, id NoteID) (Note, error)

	Search(ctx context.Context, q SearchQuery) ([]Note, error)
	ListAll(ctx context.Context) ([]Note, error)
	ListToday(ctx context.Context) ([]Note, error)
	ListThisWeek(ctx context.Context) ([]Note, error)

	Stats(ctx context.Context) (Stats, error)
	ExportSelection(ctx context.Context, q ExportQuery) ([]Note, error)
	Tags(ctx context.Context) ([]string, error)
	Categories(ctx context.Context) ([]string, error)
	TagCounts(ctx context.Context) ([]Count, error)
	CategoryCounts(ctx context.Context) ([]Count, error)

	// Import writes a note keeping its id, tags and timestamps.
	Import(ctx context.Context, n Note) (Note, error)
	// Walk streams the collection without materializing it.
	Walk(ctx context.Context, fn func(Note) error) error
}

// SearchQuery filters Search. Query is required; Tag and Category narrow
// the result further when set.
type SearchQuery struct {
	Query    string
	Tag      string
	Category string
}

// ExportQuery selects notes for export, either one id or a date range.
// Dates use the YYYY-MM-DD layout and are inclusive; either end may be
// left open when the other is set.
type ExportQuery struct {
	ID   NoteID
	From string
	To   string
}

// Count pairs a tag or category with the number of notes carrying it.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DayCount is the number of notes created on one calendar day.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Stats summarizes the collection.
type Stats struct {
	Total      int        `json:"total"`
	Today      int        `json:"today"`
	ThisWeek   int        `json:"this_week"`
	TopTags    []Count    `json:"top_tags"`
	Categories []Count    `json:"categories"`
	DailyTrend []DayCount `json:"daily_trend"`
	// GeneratedAt is the instant the stats were computed.
	GeneratedAt time.Time `json:"generated_at"`
}
