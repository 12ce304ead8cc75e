// proxywatch scans DB proxy SQL logs for queries slower than a threshold,
// mails the offending lines, and remembers how far each log was read so the
// next scheduled run resumes from there.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/setevik/proxywatch/internal/config"
	"github.com/setevik/proxywatch/internal/cursor"
	"github.com/setevik/proxywatch/internal/metrics"
	"github.com/setevik/proxywatch/internal/probe"
	"github.com/setevik/proxywatch/internal/reporter"
	"github.com/setevik/proxywatch/internal/store"
	"github.com/setevik/proxywatch/internal/watcher"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			runProbe(os.Args[2:])
			return
		case "query":
			runQuery(os.Args[2:])
			return
		case "digest":
			runDigest(os.Args[2:])
			return
		case "status":
			runStatus(os.Args[2:])
			return
		case "test-notify":
			runTestNotify(os.Args[2:])
			return
		case "version":
			fmt.Println("proxywatch", version)
			return
		}
	}

	// Default: one scan cycle.
	runProbe(os.Args[1:])
}

// loadConfig loads and validates the config or exits.
func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runProbe(args []string) {
	fs := flag.NewFlagSet("proxywatch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	only := fs.String("instance", "", "comma-separated instances to scan (default: all)")
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.Parse(args)

	if *showVersion {
		fmt.Println("proxywatch", version)
		os.Exit(0)
	}

	cfg := loadConfig(*configPath)
	setupLogging(cfg.Log.Level)

	slog.Info("proxywatch starting", "version", version)

	if err := run(cfg, splitList(*only)); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run executes one cycle. Per-instance failures are reported, not returned;
// only setup failures produce an error.
func run(cfg *config.Config, only []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()

	targets, err := cfg.Targets()
	if err != nil {
		return fmt.Errorf("resolving watch targets: %w", err)
	}
	targets = filterTargets(targets, only)
	if len(targets) == 0 {
		slog.Warn("no instances to scan; set watch.instances, watch.target or watch.discover")
		return nil
	}

	cursors, err := cursor.New(cfg.StateDir())
	if err != nil {
		return fmt.Errorf("opening cursor store: %w", err)
	}

	transport, err := reporter.NewTransport(cfg)
	if err != nil {
		return err
	}

	deps := probe.Deps{
		Cursors:    cursors,
		Scanner:    watcher.NewScanner(nil, watcher.OptionsFromConfig(cfg)),
		Dispatcher: reporter.NewDispatcher(cfg, transport),
	}

	if cfg.History.Enabled {
		db, err := store.Open(cfg.HistoryPath())
		if err != nil {
			slog.Warn("history disabled for this run", "path", cfg.HistoryPath(), "error", err)
		} else {
			defer db.Close()
			deps.History = db
			purgeHistory(db, cfg.History.Retention.Duration)
		}
	}

	var rec *metrics.Recorder
	if cfg.Metrics.Textfile != "" {
		rec = metrics.New()
		deps.Metrics = rec
	}

	results := probe.New(deps).Run(ctx, targets)

	if rec != nil {
		rec.ObserveRun(time.Now(), time.Since(started))
		if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			slog.Warn("failed to write metrics", "path", cfg.Metrics.Textfile, "error", err)
		}
	}

	var alerted, failed int
	for _, r := range results {
		if r.Alerted {
			alerted++
		}
		if r.Err != nil {
			failed++
		}
	}
	slog.Info("proxywatch done",
		"instances", len(results),
		"alerted", alerted,
		"failed", failed,
		"took", time.Since(started).Truncate(time.Millisecond),
	)
	return nil
}

func purgeHistory(db *store.DB, retention time.Duration) {
	if retention <= 0 {
		return
	}
	purged, err := db.Purge(retention)
	if err != nil {
		slog.Warn("failed to purge old history", "error", err)
	} else if purged > 0 {
		slog.Info("purged old history", "count", purged, "retention", retention)
	}
}

func filterTargets(targets []config.WatchTarget, only []string) []config.WatchTarget {
	if len(only) == 0 {
		return targets
	}
	want := make(map[string]bool, len(only))
	for _, name := range only {
		want[name] = true
	}
	var out []config.WatchTarget
	for _, t := range targets {
		if want[t.Instance] {
			out = append(out, t)
		}
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// --- test-notify subcommand ---

func runTestNotify(args []string) {
	fs := flag.NewFlagSet("test-notify", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	setupLogging(cfg.Log.Level)

	transport, err := reporter.NewTransport(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := reporter.NewDispatcher(cfg, transport).SendTest(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error sending test notification: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Test notification sent successfully.")
}

// --- utilities ---

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// parseDuration extends time.ParseDuration with support for "d" (days) suffix.
func parseDuration(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		s = strings.TrimSuffix(s, "d")
		var days int
		if _, err := fmt.Sscanf(s, "%d", &days); err != nil {
			return 0, fmt.Errorf("invalid days format: %s", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
