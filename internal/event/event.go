// Package event defines the data model shared by the scan, alert, and history stages.
package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ScanStatus is the outcome of one scan of one instance.
type ScanStatus string

const (
	StatusOK           ScanStatus = "ok"
	StatusFileMissing  ScanStatus = "file_missing"
	StatusTruncated    ScanStatus = "truncated"
	StatusReadError    ScanStatus = "read_error"
	StatusStorageError ScanStatus = "storage_error"
	StatusLocked       ScanStatus = "locked"
)

// Advances reports whether a scan with this status may persist a new cursor.
func (s ScanStatus) Advances() bool {
	return s == StatusOK || s == StatusTruncated
}

// Record is one log line whose latency field parsed as a number.
type Record struct {
	Text          string
	LatencyMillis float64

	// Fields from the proxy's SQL log format. Zero values when the line
	// did not follow that layout.
	Time   time.Time
	Client string
	Server string
	Result string // "OK" or "ERR"
	Query  string
}

// Batch is the ordered set of over-threshold records found in one scan.
type Batch struct {
	Instance        string
	LogPath         string
	ThresholdMillis float64
	Records         []Record
}

// Empty reports whether the batch holds no records.
func (b *Batch) Empty() bool {
	return b == nil || len(b.Records) == 0
}

// Text joins the raw record lines, one per line, in file order.
func (b *Batch) Text() string {
	if b.Empty() {
		return ""
	}
	lines := make([]string, len(b.Records))
	for i, r := range b.Records {
		lines[i] = r.Text
	}
	return strings.Join(lines, "\n")
}

// MaxLatency returns the largest latency in the batch, or 0 when empty.
func (b *Batch) MaxLatency() float64 {
	var highest float64
	if b == nil {
		return 0
	}
	for _, r := range b.Records {
		if r.LatencyMillis > highest {
			highest = r.LatencyMillis
		}
	}
	return highest
}

// Kind separates domain alerts from operational notices.
type Kind string

const (
	KindSlowQuery Kind = "slow_query"
	KindAdmin     Kind = "admin"
)

// Label returns a human-readable label for the kind.
func (k Kind) Label() string {
	switch k {
	case KindSlowQuery:
		return "Slow Query"
	case KindAdmin:
		return "Admin Notice"
	default:
		return string(k)
	}
}

// Alert is one outbound notification as recorded in history.
type Alert struct {
	ID         string
	Instance   string
	Timestamp  time.Time
	Kind       Kind
	Subject    string
	Records    int
	MaxLatency float64
	Body       string
	Notified   bool
	Error      string
}

// NewAlert creates an Alert with a generated UUID.
func NewAlert(instance string, ts time.Time, kind Kind, subject string) *Alert {
	return &Alert{
		ID:        uuid.NewString(),
		Instance:  instance,
		Timestamp: ts,
		Kind:      kind,
		Subject:   subject,
	}
}

// FromBatch creates a slow-query Alert describing the batch.
func FromBatch(b *Batch, ts time.Time, subject, body string) *Alert {
	a := NewAlert(b.Instance, ts, KindSlowQuery, subject)
	a.Records = len(b.Records)
	a.MaxLatency = b.MaxLatency()
	a.Body = body
	return a
}
