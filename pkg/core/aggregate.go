package core

import (
	"sort"
	"time"
)

const topTagLimit = 5

// CountTags counts notes per tag. Tags are recomputed from the notes on
// every call; nothing is stored.
func CountTags(notes []Note) []Count {
	counts := make(map[string]int)
	for _, n := range notes {
		for _, t := range n.Tags {
			counts[t]++
		}
	}
	return sortCounts(counts)
}

// CountCategories counts notes per category.
func CountCategories(notes []Note) []Count {
	counts := make(map[string]int)
	for _, n := range notes {
		counts[normalizeCategory(n.Category)]++
	}
	return sortCounts(counts)
}

// Summarize computes Stats for notes relative to now. Calendar days are
// taken in now's location.
func Summarize(notes []Note, now time.Time) Stats {
	loc := now.Location()
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)
	weekStart := today.AddDate(0, 0, -6)

	trend := make([]DayCount, 7)
	for i := range trend {
		trend[i].Date = weekStart.AddDate(0, 0, i).Format(dateLayout)
	}

	stats := Stats{Total: len(notes), GeneratedAt: now}
	for _, n := range notes {
		cy, cm, cd := n.CreatedAt.In(loc).Date()
		day := time.Date(cy, cm, cd, 0, 0, 0, 0, loc)
		if day.Before(weekStart) || day.After(today) {
			continue
		}
		stats.ThisWeek++
		if day.Equal(today) {
			stats.Today++
		}
		// Day arithmetic instead of Sub: DST days are not 24h long.
		for i := range trend {
			if trend[i].Date == day.Format(dateLayout) {
				trend[i].Count++
				break
			}
		}
	}

	stats.TopTags = CountTags(notes)
	if len(stats.TopTags) > topTagLimit {
		stats.TopTags = stats.TopTags[:topTagLimit]
	}
	stats.Categories = CountCategories(notes)
	stats.DailyTrend = trend
	return stats
}

// sortCounts orders by count descending, then name ascending.
func sortCounts(counts map[string]int) []Count {
	out := make([]Count, 0, len(counts))
	for name, c := range counts {
		out = append(out, Count{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func names(counts []Count) []string {
	out := make([]string, 0, len(counts))
	for _, c := range counts {
		out = append(out, c.Name)
	}
	sort.Strings(out)
	return out
}
