package slug

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Decorators", "decorators"},
		{"Python Decorators & Closures!", "python-decorators-closures"},
		{"  --leading and trailing--  ", "leading-and-trailing"},
		{"multiple   spaces___and...dots", "multiple-spaces-and-dots"},
		{"Go 1.22 release", "go-1-22-release"},
		{"Ünïcödé títle", "ünïcödé-títle"},
		{"日本語のメモ", "日本語のメモ"},
		{"!!!", Fallback},
		{"", Fallback},
	}

	for _, tc := range tests {
		t.Run(tc.title, func(t *testing.T) {
			if got := Slugify(tc.title); got != tc.want {
				t.Errorf("Slugify(%q) = %q, want %q", tc.title, got, tc.want)
			}
		})
	}
}

func TestSlugify_Truncates(t *testing.T) {
	title := strings.Repeat("abcde ", 30)
	got := Slugify(title)

	if n := utf8.RuneCountInString(got); n > MaxLength {
		t.Errorf("slug has %d runes, want at most %d", n, MaxLength)
	}
	if strings.HasSuffix(got, "-") || strings.HasPrefix(got, "-") {
		t.Errorf("slug %q has dangling separators", got)
	}
	if got != Slugify(title) {
		t.Error("slug is not deterministic")
	}
}

func TestName(t *testing.T) {
	date := time.Date(2026, 2, 23, 23, 59, 0, 0, time.UTC)
	if got := Name("Decorators", date); got != "2026-02-23-decorators" {
		t.Errorf("Name = %q", got)
	}
}

func TestCandidate(t *testing.T) {
	base := "2026-02-23-title"
	tests := map[int]string{
		0: base,
		1: base,
		2: base + "-2",
		3: base + "-3",
	}
	for n, want := range tests {
		if got := Candidate(base, n); got != want {
			t.Errorf("Candidate(%d) = %q, want %q", n, got, want)
		}
	}
}
