package fieldtrace

import (
	"strings"
	"time"
)

// WaterfallEntry is one bar in a time-ordered field resolution waterfall.
type WaterfallEntry struct {
	Path           string  `json:"path"`
	StartMs        float64 `json:"startMs"`
	DurationMs     float64 `json:"durationMs"`
	PercentOfTotal float64 `json:"percentOfTotal"`
	Depth          int     `json:"depth"`
}

// BuildWaterfall maps traces onto waterfall entries relative to the total
// operation duration. Depth is inferred from the number of path separators;
// list-index segments count like field segments, so this is an approximation
// of nesting, not true schema depth.
func BuildWaterfall(traces []Trace, totalDuration time.Duration) []WaterfallEntry {
	entries := make([]WaterfallEntry, 0, len(traces))
	for _, tr := range traces {
		e := WaterfallEntry{
			Path:       tr.Path,
			StartMs:    float64(tr.StartOffset) / float64(time.Millisecond),
			DurationMs: float64(tr.Duration) / float64(time.Millisecond),
			Depth:      strings.Count(tr.Path, "."),
		}
		if totalDuration > 0 {
			e.PercentOfTotal = float64(tr.Duration) / float64(totalDuration) * 100
		}
		entries = append(entries, e)
	}
	return entries
}
