// Package classifier decides which proxy log lines are slow queries.
package classifier

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/setevik/proxywatch/internal/event"
)

// DefaultLatencyField is the zero-based position of the latency in the
// proxy's SQL log line: "[date" "time]" "C:.." "S:.." "OK" "<ms>".
const DefaultLatencyField = 5

// Classifier extracts latencies from log lines and applies a threshold.
type Classifier struct {
	field int
}

// New creates a Classifier reading the latency from the given
// whitespace-delimited field index.
func New(field int) *Classifier {
	if field < 0 {
		field = DefaultLatencyField
	}
	return &Classifier{field: field}
}

// Classify parses a line into a Record. ok is false when the latency field
// is absent or not a finite number; such lines are skipped, not errors.
func (c *Classifier) Classify(line string) (rec event.Record, ok bool) {
	latency, ok := ParseLatency(line, c.field)
	if !ok {
		return event.Record{}, false
	}

	rec = event.Record{
		Text:          line,
		LatencyMillis: latency,
	}
	parseSQLLogFields(&rec)
	return rec, true
}

// Exceeds reports whether latency is strictly above threshold.
func Exceeds(latency, threshold float64) bool {
	return latency > threshold
}

// ParseLatency returns the numeric value at the given whitespace-delimited
// field of line.
func ParseLatency(line string, field int) (float64, bool) {
	raw, ok := fieldAt(line, field)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// fieldAt returns the n-th whitespace-delimited field without splitting the
// rest of the line (the query text can be long).
func fieldAt(line string, n int) (string, bool) {
	rest := line
	for i := 0; ; i++ {
		rest = strings.TrimLeft(rest, " \t\r")
		if rest == "" {
			return "", false
		}
		end := strings.IndexAny(rest, " \t\r")
		if end < 0 {
			end = len(rest)
		}
		if i == n {
			return rest[:end], true
		}
		rest = rest[end:]
	}
}

// parseSQLLogFields fills the structured fields when the line follows the
// proxy's SQL log layout.
func parseSQLLogFields(rec *event.Record) {
	m := sqlLogLineRe.FindStringSubmatch(rec.Text)
	if len(m) != 7 {
		return
	}
	if ts, err := time.ParseInLocation(sqlLogTimeLayout, m[1], time.Local); err == nil {
		rec.Time = ts
	}
	rec.Client = m[2]
	rec.Server = m[3]
	rec.Result = m[4]
	rec.Query = m[6]
}
