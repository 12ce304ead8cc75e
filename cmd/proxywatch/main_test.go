package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/setevik/proxywatch/internal/config"
	"github.com/setevik/proxywatch/internal/cursor"
	"github.com/setevik/proxywatch/internal/event"
	"github.com/setevik/proxywatch/internal/store"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
		err   bool
	}{
		{"24h", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"xd", 0, true},
		{"bogus", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.input)
		if (err != nil) != tt.err {
			t.Errorf("parseDuration(%q) error = %v, want error %v", tt.input, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" sql_s3, ,sql_s4,")
	if len(got) != 2 || got[0] != "sql_s3" || got[1] != "sql_s4" {
		t.Errorf("splitList() = %q", got)
	}
	if got := splitList(""); got != nil {
		t.Errorf("splitList(\"\") = %q, want nil", got)
	}
}

func TestFilterTargets(t *testing.T) {
	targets := []config.WatchTarget{{Instance: "a"}, {Instance: "b"}, {Instance: "c"}}

	if got := filterTargets(targets, nil); len(got) != 3 {
		t.Errorf("no filter kept %d targets", len(got))
	}
	got := filterTargets(targets, []string{"c", "a", "zz"})
	if len(got) != 2 || got[0].Instance != "a" || got[1].Instance != "c" {
		t.Errorf("filterTargets() = %+v, want a and c in config order", got)
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"Instance", "Cursor"},
		[][]string{{"sql_s3", "150"}, {"sql_s4"}},
		[]columnAlignment{alignLeft, alignRight},
		false,
	)
	for _, want := range []string{"INSTANCE", "CURSOR", "sql_s3", "150", "sql_s4"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if renderTable(nil, nil, nil, false) != "" {
		t.Error("empty headers should render nothing")
	}
}

func TestStatusRows(t *testing.T) {
	dir := t.TempDir()
	cursors, err := cursor.New(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatal(err)
	}

	logPath := filepath.Join(dir, "sql_s3.log")
	if err := os.WriteFile(logPath, []byte(strings.Repeat("x", 2048)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := cursors.Save("sql_s3", 1024); err != nil {
		t.Fatal(err)
	}
	if err := cursors.Save("sql_s5", 4096); err != nil {
		t.Fatal(err)
	}
	short := filepath.Join(dir, "sql_s5.log")
	if err := os.WriteFile(short, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	last := map[string]store.ScanRecord{
		"sql_s3": {Instance: "sql_s3", Timestamp: now.Add(-5 * time.Minute), Status: event.StatusOK, Matches: 2},
	}
	targets := []config.WatchTarget{
		{Instance: "sql_s3", LogPath: logPath, ThresholdMillis: 2000},
		{Instance: "sql_s4", LogPath: filepath.Join(dir, "absent.log"), ThresholdMillis: 500},
		{Instance: "sql_s5", LogPath: short, ThresholdMillis: 2000},
	}

	rows := statusRows(targets, cursors, last, now)

	want := [][]string{
		{"sql_s3", "2.0 KB", "1024", "1.0 KB", "2.00 s", "5m ago", "ok", "2"},
		{"sql_s4", "missing", "-", "-", "500 ms", "never", "-", "-"},
		{"sql_s5", "1 B", "4096", "truncated", "2.00 s", "never", "-", "-"},
	}
	for i := range want {
		if strings.Join(rows[i], "|") != strings.Join(want[i], "|") {
			t.Errorf("row %d = %q, want %q", i, rows[i], want[i])
		}
	}
}

func TestAlertRows(t *testing.T) {
	ts := time.Date(2026, 10, 19, 12, 0, 0, 0, time.Local)
	alerts := []*event.Alert{
		{Timestamp: ts, Instance: "sql_s3", Kind: event.KindSlowQuery, Records: 3, MaxLatency: 2500, Notified: true, Subject: "s"},
		{Timestamp: ts, Instance: "sql_s3", Kind: event.KindAdmin, Notified: false, Error: "refused", Subject: "a"},
	}

	rows := alertRows(alerts)

	if got := strings.Join(rows[0], "|"); got != "2026-10-19 12:00:00|sql_s3|Slow Query|3|2.50 s|yes|s" {
		t.Errorf("row 0 = %q", got)
	}
	if got := strings.Join(rows[1], "|"); got != "2026-10-19 12:00:00|sql_s3|Admin Notice|-|-|no: refused|a" {
		t.Errorf("row 1 = %q", got)
	}
}

func TestRunBootstrapsAndWritesMetrics(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "log")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		t.Fatal(err)
	}
	content := `[10/19/2026 14:32:05] C:10.0.0.7:51234 S:10.0.0.21:3306 OK 9000.000 "SELECT 1"` + "\n"
	if err := os.WriteFile(filepath.Join(logDir, "sql_s3.log"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Watch.LogDir = logDir
	cfg.Watch.Instances = []string{"sql_s3", "sql_s4"}
	cfg.State.Dir = filepath.Join(dir, "state")
	cfg.History.Path = filepath.Join(dir, "history.db")
	cfg.Metrics.Textfile = filepath.Join(dir, "proxywatch.prom")
	cfg.Notify.Recipients = []string{"dba@example.com"}
	cfg.SMTP.Addr = "127.0.0.1:1"

	if err := run(cfg, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	cursors, err := cursor.New(cfg.State.Dir)
	if err != nil {
		t.Fatal(err)
	}
	offset, found, err := cursors.Peek("sql_s3")
	if err != nil || !found || offset != int64(len(content)) {
		t.Errorf("sql_s3 cursor = %d, %v, %v; want bootstrap to %d", offset, found, err, len(content))
	}
	if _, found, _ := cursors.Peek("sql_s4"); found {
		t.Error("sql_s4 has no log and should have no cursor")
	}

	prom, err := os.ReadFile(cfg.Metrics.Textfile)
	if err != nil {
		t.Fatalf("metrics textfile: %v", err)
	}
	if !strings.Contains(string(prom), `proxywatch_scan_success{instance="sql_s3",status="ok"} 1`) {
		t.Errorf("metrics missing sql_s3 success:\n%s", prom)
	}

	db, err := store.Open(cfg.History.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	last, err := db.LastScans()
	if err != nil {
		t.Fatal(err)
	}
	if last["sql_s3"].Status != event.StatusOK || last["sql_s4"].Status != event.StatusFileMissing {
		t.Errorf("last scans = %+v", last)
	}
}
