package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/setevik/proxywatch/internal/config"
	"github.com/setevik/proxywatch/internal/cursor"
	"github.com/setevik/proxywatch/internal/event"
	"github.com/setevik/proxywatch/internal/format"
	"github.com/setevik/proxywatch/internal/reporter"
	"github.com/setevik/proxywatch/internal/store"
)

func openHistory(cfg *config.Config) *store.DB {
	db, err := store.Open(cfg.HistoryPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening history: %v\n", err)
		os.Exit(1)
	}
	return db
}

// --- status subcommand ---

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	setupLogging("error")

	targets, err := cfg.Targets()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error resolving targets: %v\n", err)
		os.Exit(1)
	}

	cursors, err := cursor.New(cfg.StateDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening cursor store: %v\n", err)
		os.Exit(1)
	}

	var last map[string]store.ScanRecord
	if cfg.History.Enabled {
		db := openHistory(cfg)
		defer db.Close()
		if last, err = db.LastScans(); err != nil {
			fmt.Fprintf(os.Stderr, "error reading scan history: %v\n", err)
		}
	}

	fmt.Printf("Log dir:      %s\n", cfg.Watch.LogDir)
	fmt.Printf("State dir:    %s\n", cursors.Dir())
	fmt.Printf("Threshold:    %s\n", format.Latency(cfg.Watch.ThresholdMS))
	fmt.Printf("Transport:    %s\n", cfg.Notify.Transport)
	fmt.Println()

	if len(targets) == 0 {
		fmt.Println("No instances configured.")
		return
	}

	rows := statusRows(targets, cursors, last, time.Now())
	headers := []string{"Instance", "Log size", "Cursor", "Pending", "Threshold", "Last scan", "Status", "Matches"}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft, alignRight}
	fmt.Println(renderTable(headers, rows, aligns, stdoutIsTerminal()))
}

func statusRows(targets []config.WatchTarget, cursors *cursor.Store, last map[string]store.ScanRecord, now time.Time) [][]string {
	rows := make([][]string, 0, len(targets))
	for _, t := range targets {
		size := int64(-1)
		if info, err := os.Stat(t.LogPath); err == nil {
			size = info.Size()
		}

		offset, found, err := cursors.Peek(t.Instance)

		sizeCol, cursorCol, pendingCol := "missing", "-", "-"
		if size >= 0 {
			sizeCol = format.Bytes(size)
		}
		switch {
		case err != nil:
			cursorCol = "unreadable"
		case found:
			cursorCol = strconv.FormatInt(offset, 10)
			if size >= 0 {
				if offset > size {
					pendingCol = "truncated"
				} else {
					pendingCol = format.Bytes(size - offset)
				}
			}
		}

		lastCol, statusCol, matchesCol := format.Since(time.Time{}, now), "-", "-"
		if rec, ok := last[t.Instance]; ok {
			lastCol = format.Since(rec.Timestamp, now)
			statusCol = string(rec.Status)
			matchesCol = strconv.Itoa(rec.Matches)
		}

		rows = append(rows, []string{
			t.Instance,
			sizeCol,
			cursorCol,
			pendingCol,
			format.Latency(t.ThresholdMillis),
			lastCol,
			statusCol,
			matchesCol,
		})
	}
	return rows
}

// --- query subcommand ---

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	last := fs.String("last", "24h", "time window (e.g. 24h, 7d, 30d)")
	kind := fs.String("kind", "", "filter by kind (slow_query, admin)")
	instance := fs.String("instance", "", "filter by instance")
	limit := fs.Int("limit", 50, "max alerts to show")
	showBody := fs.Bool("body", false, "print the full alert body")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	setupLogging("error") // quiet for CLI output

	since, err := parseDuration(*last)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --last value %q: %v\n", *last, err)
		os.Exit(1)
	}

	db := openHistory(cfg)
	defer db.Close()

	alerts, err := db.Query(store.QueryFilter{
		Since:    time.Now().Add(-since),
		Kind:     strings.ToLower(*kind),
		Instance: *instance,
		Limit:    *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "query error: %v\n", err)
		os.Exit(1)
	}

	if len(alerts) == 0 {
		fmt.Println("No alerts found.")
		return
	}

	fmt.Println(renderTable(
		[]string{"Time", "Instance", "Kind", "Lines", "Max latency", "Delivered", "Subject"},
		alertRows(alerts),
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
		stdoutIsTerminal(),
	))
	if *showBody {
		for _, a := range alerts {
			fmt.Printf("\n--- %s %s ---\n%s\n", a.Timestamp.Local().Format("2006-01-02 15:04:05"), a.Subject, a.Body)
		}
	}
	fmt.Printf("Total: %d alert(s)\n", len(alerts))
}

func alertRows(alerts []*event.Alert) [][]string {
	rows := make([][]string, 0, len(alerts))
	for _, a := range alerts {
		delivered := "yes"
		if !a.Notified {
			delivered = "no"
			if a.Error != "" {
				delivered = "no: " + a.Error
			}
		}
		lines, latency := "-", "-"
		if a.Kind == event.KindSlowQuery {
			lines = strconv.Itoa(a.Records)
			latency = format.Latency(a.MaxLatency)
		}
		rows = append(rows, []string{
			a.Timestamp.Local().Format("2006-01-02 15:04:05"),
			a.Instance,
			a.Kind.Label(),
			lines,
			latency,
			delivered,
			a.Subject,
		})
	}
	return rows
}

// --- digest subcommand ---

func runDigest(args []string) {
	fs := flag.NewFlagSet("digest", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	send := fs.Bool("send", false, "send the digest to the alert recipients (otherwise print to stdout)")
	last := fs.String("last", "7d", "time window for digest")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	setupLogging("error")

	duration, err := parseDuration(*last)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --last value: %v\n", err)
		os.Exit(1)
	}

	db := openHistory(cfg)
	defer db.Close()

	until := time.Now()
	since := until.Add(-duration)

	alerts, err := db.Query(store.QueryFilter{Since: since, Until: until})
	if err != nil {
		fmt.Fprintf(os.Stderr, "query error: %v\n", err)
		os.Exit(1)
	}

	digest := reporter.BuildDigest(alerts, since, until)
	body := reporter.FormatDigest(digest)

	if !*send {
		fmt.Print(body)
		return
	}

	transport, err := reporter.NewTransport(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	title := reporter.FormatDigestTitle(since, until)
	if err := reporter.NewDispatcher(cfg, transport).SendDigest(context.Background(), title, body); err != nil {
		fmt.Fprintf(os.Stderr, "error sending digest: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Digest sent successfully.")
}
