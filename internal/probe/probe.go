// Package probe runs one scan cycle over every watch target.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/setevik/proxywatch/internal/config"
	"github.com/setevik/proxywatch/internal/cursor"
	"github.com/setevik/proxywatch/internal/event"
	"github.com/setevik/proxywatch/internal/store"
	"github.com/setevik/proxywatch/internal/watcher"
)

// Cursors persists per-instance offsets.
type Cursors interface {
	Lock(instance string) (func(), error)
	Load(instance, logPath string) (int64, error)
	Save(instance string, offset int64) error
}

// Scanner reads a log from an offset and returns over-threshold records.
type Scanner interface {
	Scan(ctx context.Context, path string, start int64, threshold float64) (watcher.Result, error)
}

// Dispatcher sends slow-query alerts and admin notices.
type Dispatcher interface {
	Notify(ctx context.Context, b *event.Batch) (*event.Alert, error)
	NotifyAdmin(ctx context.Context, instance, detail string) (*event.Alert, error)
}

// History records alerts and scan outcomes.
type History interface {
	InsertAlert(a *event.Alert) error
	RecordScan(r store.ScanRecord) error
}

// Metrics observes scan and delivery outcomes.
type Metrics interface {
	ObserveScan(instance string, status event.ScanStatus, offset, scanned int64, matches int)
	ObserveNotification(kind event.Kind, delivered bool)
}

// Deps are the collaborators of a Runner. History and Metrics are optional.
type Deps struct {
	Cursors    Cursors
	Scanner    Scanner
	Dispatcher Dispatcher
	History    History
	Metrics    Metrics
}

// Result is the outcome of one target in one run.
type Result struct {
	Instance    string
	LogPath     string
	Status      event.ScanStatus
	StartOffset int64
	EndOffset   int64
	Lines       int
	Matches     int
	Alerted     bool  // a slow-query alert was delivered
	Err         error // first failure for this target, nil on success
}

// Runner executes load, scan, notify and save for each target in turn.
type Runner struct {
	deps Deps
	now  func() time.Time
}

// New creates a Runner.
func New(deps Deps) *Runner {
	return &Runner{deps: deps, now: time.Now}
}

// Run processes targets sequentially. A failure in one target is reported
// through its Result and the admin channel and never stops the others.
func (r *Runner) Run(ctx context.Context, targets []config.WatchTarget) []Result {
	runID := uuid.NewString()
	slog.Info("run started", "run_id", runID, "targets", len(targets))

	results := make([]Result, 0, len(targets))
	failed := 0
	for _, t := range targets {
		res := r.runTarget(ctx, t)
		if res.Err != nil {
			failed++
		}
		r.recordScan(runID, res)
		if r.deps.Metrics != nil {
			r.deps.Metrics.ObserveScan(res.Instance, res.Status, res.EndOffset, res.EndOffset-res.StartOffset, res.Matches)
		}
		results = append(results, res)
	}

	slog.Info("run finished", "run_id", runID, "targets", len(targets), "failed", failed)
	return results
}

func (r *Runner) runTarget(ctx context.Context, t config.WatchTarget) Result {
	res := Result{Instance: t.Instance, LogPath: t.LogPath}
	log := slog.With("instance", t.Instance)

	unlock, err := r.deps.Cursors.Lock(t.Instance)
	if err != nil {
		if errors.Is(err, cursor.ErrLocked) {
			log.Warn("instance is being scanned by another run, skipping")
			res.Status = event.StatusLocked
			return res
		}
		return r.storageFailure(ctx, res, "lock the cursor", err)
	}
	defer unlock()

	start, err := r.deps.Cursors.Load(t.Instance, t.LogPath)
	if err != nil {
		if errors.Is(err, cursor.ErrFileMissing) {
			log.Info("log file not found, nothing to do", "path", t.LogPath)
			res.Status = event.StatusFileMissing
			return res
		}
		return r.storageFailure(ctx, res, "load the cursor", err)
	}
	res.StartOffset, res.EndOffset = start, start

	scan, err := r.deps.Scanner.Scan(ctx, t.LogPath, start, t.ThresholdMillis)
	if err != nil {
		res.Status = event.StatusReadError
		res.Err = err
		log.Error("scan failed, cursor left unchanged", "path", t.LogPath, "offset", start, "error", err)
		r.notifyAdmin(ctx, t.Instance, fmt.Sprintf(
			"Reading the SQL log of instance %s failed. The cursor was not advanced.\n\nLog: %s\nOffset: %d\nError: %v",
			t.Instance, t.LogPath, start, err))
		return res
	}

	res.Status = scan.Status
	res.StartOffset = scan.StartOffset
	res.EndOffset = scan.EndOffset
	res.Lines = scan.Lines
	res.Matches = len(scan.Matches)

	if scan.Status == event.StatusFileMissing {
		log.Info("log file not found, cursor kept", "path", t.LogPath, "offset", start)
		return res
	}

	if len(scan.Matches) > 0 {
		res.Alerted, res.Err = r.notify(ctx, t, scan.Matches)
	}

	// The cursor advances whether or not the alert went out.
	if err := r.deps.Cursors.Save(t.Instance, scan.EndOffset); err != nil {
		res.StartOffset, res.EndOffset = start, start
		return r.storageFailure(ctx, res, "save the cursor", err)
	}

	log.Info("instance scanned",
		"status", res.Status,
		"start", res.StartOffset,
		"end", res.EndOffset,
		"lines", res.Lines,
		"matches", res.Matches,
	)
	return res
}

func (r *Runner) notify(ctx context.Context, t config.WatchTarget, matches []event.Record) (bool, error) {
	batch := &event.Batch{
		Instance:        t.Instance,
		LogPath:         t.LogPath,
		ThresholdMillis: t.ThresholdMillis,
		Records:         matches,
	}

	alert, err := r.deps.Dispatcher.Notify(ctx, batch)
	r.recordAlert(alert)
	if r.deps.Metrics != nil {
		r.deps.Metrics.ObserveNotification(event.KindSlowQuery, err == nil)
	}
	if err == nil {
		return true, nil
	}

	slog.Error("slow query alert not delivered", "instance", t.Instance, "matches", len(matches), "error", err)
	r.notifyAdmin(ctx, t.Instance, fmt.Sprintf(
		"The slow query alert for instance %s could not be delivered. %d matching lines were found; the cursor was advanced past them.\n\nError: %v\n\n%s",
		t.Instance, len(matches), err, batch.Text()))
	return false, err
}

func (r *Runner) storageFailure(ctx context.Context, res Result, action string, err error) Result {
	res.Status = event.StatusStorageError
	res.Err = err
	slog.Error("cursor storage failed, instance skipped", "instance", res.Instance, "action", action, "error", err)
	r.notifyAdmin(ctx, res.Instance, fmt.Sprintf(
		"proxywatch could not %s for instance %s. The instance was skipped this run.\n\nError: %v",
		action, res.Instance, err))
	return res
}

// notifyAdmin reports an operational failure. A failure here is logged only.
func (r *Runner) notifyAdmin(ctx context.Context, instance, detail string) {
	alert, err := r.deps.Dispatcher.NotifyAdmin(ctx, instance, detail)
	r.recordAlert(alert)
	if r.deps.Metrics != nil {
		r.deps.Metrics.ObserveNotification(event.KindAdmin, err == nil)
	}
	if err != nil {
		slog.Error("admin notice not delivered", "instance", instance, "error", err)
	}
}

func (r *Runner) recordAlert(a *event.Alert) {
	if r.deps.History == nil || a == nil {
		return
	}
	if err := r.deps.History.InsertAlert(a); err != nil {
		slog.Warn("failed to record alert", "instance", a.Instance, "error", err)
	}
}

func (r *Runner) recordScan(runID string, res Result) {
	if r.deps.History == nil {
		return
	}
	rec := store.ScanRecord{
		RunID:       runID,
		Instance:    res.Instance,
		Timestamp:   r.now(),
		Status:      res.Status,
		LogPath:     res.LogPath,
		StartOffset: res.StartOffset,
		EndOffset:   res.EndOffset,
		Lines:       res.Lines,
		Matches:     res.Matches,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if err := r.deps.History.RecordScan(rec); err != nil {
		slog.Warn("failed to record scan", "instance", res.Instance, "error", err)
	}
}
