package reporter

import (
	"strings"
	"testing"
	"time"

	"github.com/setevik/proxywatch/internal/enricher"
	"github.com/setevik/proxywatch/internal/event"
)

func TestFormatBodyRawLines(t *testing.T) {
	b := &event.Batch{
		Instance: "sql_s3",
		Records:  []event.Record{{Text: "a 1 2 3 4 2500"}, {Text: "b 1 2 3 4 3000"}},
	}
	if got := FormatBody(b, nil); got != "a 1 2 3 4 2500\nb 1 2 3 4 3000" {
		t.Errorf("FormatBody() = %q", got)
	}
}

func TestFormatBodySummaryHeader(t *testing.T) {
	ts := time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)
	b := &event.Batch{
		Instance:        "sql_s3",
		LogPath:         "/usr/local/mysql-proxy/log/sql_s3.log",
		ThresholdMillis: 2000,
		Records: []event.Record{
			{Text: "x", LatencyMillis: 2500, Server: "db1:3306", Time: ts},
		},
	}
	s := enricher.New().Enrich(b)

	body := FormatBody(b, &s)
	for _, want := range []string{
		"Instance:  sql_s3",
		"Log:       /usr/local/mysql-proxy/log/sql_s3.log",
		"Threshold: 2.00 s",
		"Matches:   1 (max 2.50 s, mean 2.50 s)",
		"Servers:   db1:3306 ×1",
		"Window:    2026-10-19 14:00:00 - 14:00:00",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "Errors:") {
		t.Errorf("body should omit zero error count:\n%s", body)
	}
	if !strings.HasSuffix(body, "\n\nx") {
		t.Errorf("raw lines should follow the header:\n%s", body)
	}
}

func TestFormatAdminSubject(t *testing.T) {
	if got := FormatAdminSubject("DB Proxy Alarmer", ""); got != "DB Proxy Alarmer" {
		t.Errorf("got %q", got)
	}
	if got := FormatAdminSubject("DB Proxy Alarmer", "sql_s3"); got != "DB Proxy Alarmer [sql_s3]" {
		t.Errorf("got %q", got)
	}
}

func TestTagsForKind(t *testing.T) {
	if tags := TagsForKind(event.KindSlowQuery); tags != "hourglass,database" {
		t.Errorf("slow query tags = %q", tags)
	}
	if tags := TagsForKind(event.Kind("other")); tags != "warning" {
		t.Errorf("fallback tags = %q", tags)
	}
}
