// Package enricher derives summary context from a batch of slow-query records.
package enricher

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/setevik/proxywatch/internal/event"
)

// Summary describes a batch at a glance.
type Summary struct {
	Count       int
	MaxLatency  float64
	MeanLatency float64
	Errors      int            // records logged with result ERR
	ByServer    map[string]int // backend -> count; "unknown" for foreign lines
	First       time.Time      // earliest record time, zero if none parsed
	Last        time.Time
	Slowest     event.Record
}

// Enricher builds summaries for alert bodies.
type Enricher struct{}

// New creates a new Enricher.
func New() *Enricher {
	return &Enricher{}
}

// Enrich summarises the batch. An empty batch yields a zero Summary.
func (e *Enricher) Enrich(b *event.Batch) Summary {
	s := Summary{ByServer: make(map[string]int)}
	if b.Empty() {
		return s
	}

	var total float64
	for i, r := range b.Records {
		s.Count++
		total += r.LatencyMillis
		if i == 0 || r.LatencyMillis > s.MaxLatency {
			s.MaxLatency = r.LatencyMillis
			s.Slowest = r
		}
		if r.Result == "ERR" {
			s.Errors++
		}

		server := r.Server
		if server == "" {
			server = "unknown"
		}
		s.ByServer[server]++

		if !r.Time.IsZero() {
			if s.First.IsZero() || r.Time.Before(s.First) {
				s.First = r.Time
			}
			if r.Time.After(s.Last) {
				s.Last = r.Time
			}
		}
	}
	s.MeanLatency = total / float64(s.Count)

	slog.Debug("batch summarised",
		"instance", b.Instance,
		"count", s.Count,
		"max_ms", s.MaxLatency,
		"servers", len(s.ByServer),
	)
	return s
}

// FormatBreakdown renders name counts as "a ×3, b ×1", busiest first.
func FormatBreakdown(counts map[string]int) string {
	type entry struct {
		name  string
		count int
	}

	entries := make([]entry, 0, len(counts))
	for name, count := range counts {
		entries = append(entries, entry{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})

	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%s ×%d", e.name, e.count)
	}
	return strings.Join(parts, ", ")
}
