// Package slug derives stable, path-safe file names from note titles.
package slug

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	// MaxLength bounds the slug, in runes.
	MaxLength = 60

	// Fallback is used when a title has no letters or digits.
	Fallback = "note"

	separator = '-'
)

// Slugify lower-cases title and collapses every run of characters that are
// not letters or digits into a single "-". Letters outside ASCII are kept.
func Slugify(title string) string {
	var sb strings.Builder
	pending := false
	n := 0
	for _, r := range strings.ToLower(title) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			pending = n > 0
			continue
		}
		if pending {
			if n+1 >= MaxLength {
				break
			}
			sb.WriteRune(separator)
			n++
			pending = false
		}
		if n >= MaxLength {
			break
		}
		sb.WriteRune(r)
		n++
	}
	if sb.Len() == 0 {
		return Fallback
	}
	return sb.String()
}

// Name is the base file name for a note: {YYYY-MM-DD}-{slug}.
func Name(title string, date time.Time) string {
	return date.Format("2006-01-02") + string(separator) + Slugify(title)
}

// Candidate returns the n-th name to try for base. The first attempt is
// base itself, later ones append -2, -3, and so on.
func Candidate(base string, n int) string {
	if n <= 1 {
		return base
	}
	return base + string(separator) + strconv.Itoa(n)
}
