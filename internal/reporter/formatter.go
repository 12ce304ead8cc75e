package reporter

import (
	"fmt"
	"strings"

	"github.com/setevik/proxywatch/internal/enricher"
	"github.com/setevik/proxywatch/internal/event"
	"github.com/setevik/proxywatch/internal/format"
)

// kindTags maps alert kinds to ntfy tag names.
var kindTags = map[event.Kind]string{
	event.KindSlowQuery: "hourglass,database",
	event.KindAdmin:     "warning,gear",
}

// FormatSubject builds the subject line for a batch alert.
func FormatSubject(base string, b *event.Batch) string {
	return fmt.Sprintf("%s [%s]", base, b.Instance)
}

// FormatBody builds the alert body: the raw matched lines, one per line, in
// file order. A non-nil summary is rendered as a header above them.
func FormatBody(b *event.Batch, s *enricher.Summary) string {
	if s == nil {
		return b.Text()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Instance:  %s\n", b.Instance)
	if b.LogPath != "" {
		fmt.Fprintf(&sb, "Log:       %s\n", b.LogPath)
	}
	fmt.Fprintf(&sb, "Threshold: %s\n", format.Latency(b.ThresholdMillis))
	fmt.Fprintf(&sb, "Matches:   %d (max %s, mean %s)\n",
		s.Count, format.Latency(s.MaxLatency), format.Latency(s.MeanLatency))
	if s.Errors > 0 {
		fmt.Fprintf(&sb, "Errors:    %d\n", s.Errors)
	}
	if len(s.ByServer) > 0 {
		fmt.Fprintf(&sb, "Servers:   %s\n", enricher.FormatBreakdown(s.ByServer))
	}
	if !s.First.IsZero() {
		fmt.Fprintf(&sb, "Window:    %s - %s\n",
			s.First.Format("2006-01-02 15:04:05"), s.Last.Format("15:04:05"))
	}
	sb.WriteString("\n")
	sb.WriteString(b.Text())
	return sb.String()
}

// FormatAdminSubject builds the subject line for an operational notice.
func FormatAdminSubject(base, instance string) string {
	if instance == "" {
		return base
	}
	return fmt.Sprintf("%s [%s]", base, instance)
}

// TagsForKind returns the ntfy tags string for an alert kind.
func TagsForKind(k event.Kind) string {
	if tags, ok := kindTags[k]; ok {
		return tags
	}
	return "warning"
}
