package codec

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"github.com/aretw0/tilvault/pkg/core"
)

func sampleNote() core.Note {
	created := time.Date(2026, 2, 23, 14, 30, 0, 123000000, time.UTC)
	return core.Note{
		ID:        core.IDFromTime(created),
		Title:     "Decorators",
		Content:   "notes",
		Category:  "general",
		Tags:      []string{"python", "mcp"},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestEncode_Layout(t *testing.T) {
	data, err := Encode(sampleNote())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	want := `---
id: 20260223143000123
title: Decorators
category: general
tags: [python, mcp]
created_at: "2026-02-23T14:30:00.123Z"
updated_at: "2026-02-23T14:30:00.123Z"
---
notes`
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("encoded file mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_EmptyTags(t *testing.T) {
	n := sampleNote()
	n.Tags = []string{}

	data, err := Encode(n)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(string(data), "\ntags: []\n") {
		t.Errorf("expected explicit empty list, got:\n%s", data)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Tags == nil || len(got.Tags) != 0 {
		t.Errorf("expected empty non-nil tags, got %#v", got.Tags)
	}
}

func TestRoundTrip_HostileContent(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		content string
	}{
		{"delimiter in body", "Frontmatter", "before\n---\nafter\n---\n"},
		{"body starting with delimiter", "Rule", "---\nnot a header"},
		{"yaml in body", "Yaml", "id: 1\ntitle: fake\n"},
		{"unicode", "Ünïcödé 日本語 ✓", "emoji 🎉 and ümlauts\r\nCRLF line"},
		{"title looks like yaml", "key: value # comment", "x"},
		{"title looks like a number", "12345", "x"},
		{"title is a delimiter", "---", "x"},
		{"multi-line title", "line one\n---\nline two", "x"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n := sampleNote()
			n.Title = tc.title
			n.Content = tc.content

			data, err := Encode(n)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v\n%s", err, data)
			}
			if diff := cmp.Diff(n, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_LegacyHeader(t *testing.T) {
	data := []byte(`---
id: 20250101120000
title: Old note
tags: python, Go
created_at: '2025-01-01T12:00:00.123456'
---
legacy body
`)

	c := Codec{Location: time.FixedZone("BRT", -3*60*60)}
	got, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got.ID != 20250101120000 {
		t.Errorf("id = %d", got.ID)
	}
	if got.Category != core.DefaultCategory {
		t.Errorf("category = %q, want default", got.Category)
	}
	if diff := cmp.Diff([]string{"python", "Go"}, got.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	wantCreated := time.Date(2025, 1, 1, 15, 0, 0, 123456000, time.UTC)
	if !got.CreatedAt.Equal(wantCreated) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, wantCreated)
	}
	if !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Errorf("updated_at should default to created_at, got %v", got.UpdatedAt)
	}
	if got.Content != "legacy body\n" {
		t.Errorf("content = %q", got.Content)
	}
}

func TestDecode_EncodedFile(t *testing.T) {
	want := sampleNote()
	data, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode of freshly encoded file failed: %v\n%s", err, data)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_NullValues(t *testing.T) {
	data := []byte("---\nid: 7\ntitle: Nulls\ncategory: ~\ntags: null\ncreated_at: \"2026-01-01T00:00:00Z\"\nupdated_at:\n---\n")

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Category != core.DefaultCategory {
		t.Errorf("category = %q, want default", got.Category)
	}
	if got.Tags == nil || len(got.Tags) != 0 {
		t.Errorf("tags = %#v, want empty slice", got.Tags)
	}
	if !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Errorf("updated_at = %v, want created_at", got.UpdatedAt)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := map[string]string{
		"no frontmatter":  "just text",
		"unterminated":    "---\nid: 1\ntitle: x\n",
		"missing id":      "---\ntitle: x\ncreated_at: \"2026-01-01T00:00:00Z\"\n---\nbody",
		"bad id":          "---\nid: abc\ntitle: x\ncreated_at: \"2026-01-01T00:00:00Z\"\n---\nbody",
		"missing title":   "---\nid: 1\ncreated_at: \"2026-01-01T00:00:00Z\"\n---\nbody",
		"bad timestamp":   "---\nid: 1\ntitle: x\ncreated_at: yesterday\n---\nbody",
		"nested tags":     "---\nid: 1\ntitle: x\ntags: [[a]]\ncreated_at: \"2026-01-01T00:00:00Z\"\n---\nbody",
		"invalid yaml":    "---\nid: [\n---\nbody",
		"missing created": "---\nid: 1\ntitle: x\n---\nbody",
		"null title":      "---\nid: 1\ntitle: ~\ncreated_at: \"2026-01-01T00:00:00Z\"\n---\nbody",
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(input))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func noteGenerator() *rapid.Generator[core.Note] {
	return rapid.Custom(func(t *rapid.T) core.Note {
		created := time.Unix(
			rapid.Int64Range(0, 4102444800).Draw(t, "created"),
			rapid.Int64Range(0, 999999999).Draw(t, "nanos"),
		).UTC()
		updated := created.Add(time.Duration(rapid.Int64Range(0, int64(365*24*time.Hour)).Draw(t, "delta")))
		tags := rapid.SliceOf(rapid.StringMatching(`[a-z0-9\-ç]{1,12}`)).Draw(t, "tags")
		if tags == nil {
			tags = []string{}
		}
		return core.Note{
			ID:        core.NoteID(rapid.Int64Range(1, 1<<62).Draw(t, "id")),
			Title:     rapid.StringMatching(`[\p{L}\p{N} .,:;!?#&*'"\-\[\]{}|>%@~]{1,80}`).Draw(t, "title"),
			Content:   rapid.String().Draw(t, "content"),
			Category:  rapid.StringMatching(`[a-zA-Z0-9 _\-ü]{1,20}`).Draw(t, "category"),
			Tags:      tags,
			CreatedAt: created,
			UpdatedAt: updated,
		}
	})
}

func testRoundTrip_Properties(t *rapid.T) {
	n := noteGenerator().Draw(t, "note")

	data, err := Encode(n)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v\n%s", err, data)
	}
	if diff := cmp.Diff(n, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTrip_Properties(t *testing.T) {
	rapid.Check(t, testRoundTrip_Properties)
}

func FuzzRoundTrip(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testRoundTrip_Properties))
}
