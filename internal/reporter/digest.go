package reporter

import (
	"fmt"
	"strings"
	"time"

	"github.com/setevik/proxywatch/internal/enricher"
	"github.com/setevik/proxywatch/internal/event"
	"github.com/setevik/proxywatch/internal/format"
)

// DigestSummary holds aggregated alert counts for a digest period.
type DigestSummary struct {
	Since time.Time
	Until time.Time

	Alerts       int
	AlertsBy     map[string]int // instance -> slow-query alerts
	SlowQueries  int            // matched lines across all alerts
	MaxLatency   float64
	Slowest      string // instance holding MaxLatency
	AdminNotices int
	AdminBy      map[string]int
	Undelivered  int
}

// BuildDigest aggregates stored alerts into a DigestSummary.
func BuildDigest(alerts []*event.Alert, since, until time.Time) *DigestSummary {
	d := &DigestSummary{
		Since:    since,
		Until:    until,
		AlertsBy: make(map[string]int),
		AdminBy:  make(map[string]int),
	}

	for _, a := range alerts {
		name := a.Instance
		if name == "" {
			name = "all"
		}
		if !a.Notified {
			d.Undelivered++
		}

		switch a.Kind {
		case event.KindSlowQuery:
			d.Alerts++
			d.AlertsBy[name]++
			d.SlowQueries += a.Records
			if a.MaxLatency > d.MaxLatency {
				d.MaxLatency = a.MaxLatency
				d.Slowest = name
			}
		case event.KindAdmin:
			d.AdminNotices++
			d.AdminBy[name]++
		}
	}

	return d
}

// FormatDigest formats a DigestSummary as human-readable text for mail,
// ntfy, or stdout.
func FormatDigest(d *DigestSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Period: %s - %s\n\n",
		d.Since.Local().Format("Jan 02 15:04"),
		d.Until.Local().Format("Jan 02 15:04"))

	fmt.Fprintf(&b, "Slow-query alerts: %d", d.Alerts)
	if d.Alerts > 0 {
		fmt.Fprintf(&b, " (%s)", enricher.FormatBreakdown(d.AlertsBy))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Slow queries:      %d\n", d.SlowQueries)
	if d.Slowest != "" {
		fmt.Fprintf(&b, "Slowest:           %s (%s)\n", format.Latency(d.MaxLatency), d.Slowest)
	}

	fmt.Fprintf(&b, "Admin notices:     %d", d.AdminNotices)
	if d.AdminNotices > 0 {
		fmt.Fprintf(&b, " (%s)", enricher.FormatBreakdown(d.AdminBy))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Undelivered:       %d\n", d.Undelivered)
	return b.String()
}

// FormatDigestTitle generates the subject for a digest notification.
func FormatDigestTitle(since, until time.Time) string {
	return fmt.Sprintf("DB Proxy slow-query digest (%s-%s)",
		since.Local().Format("Jan 02"),
		until.Local().Format("Jan 02"))
}
