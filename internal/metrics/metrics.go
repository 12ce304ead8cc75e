// Package metrics exposes per-run probe results in the Prometheus textfile
// format, for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/setevik/proxywatch/internal/event"
)

const namespace = "proxywatch"

// Recorder collects the metrics of one probe run.
type Recorder struct {
	registry *prometheus.Registry

	cursorOffset  *prometheus.GaugeVec
	scannedBytes  *prometheus.GaugeVec
	slowQueries   *prometheus.GaugeVec
	scanSuccess   *prometheus.GaugeVec
	notifications *prometheus.GaugeVec
	lastRun       prometheus.Gauge
	runDuration   prometheus.Gauge
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		cursorOffset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cursor_offset_bytes",
			Help:      "Persisted log cursor after the last run",
		}, []string{"instance"}),
		scannedBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scanned_bytes",
			Help:      "Bytes of log read in the last run",
		}, []string{"instance"}),
		slowQueries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slow_queries",
			Help:      "Lines over the latency threshold found in the last run",
		}, []string{"instance"}),
		scanSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_success",
			Help:      "1 if the last scan of the instance completed, 0 otherwise",
		}, []string{"instance", "status"}),
		notifications: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications",
			Help:      "Notifications attempted in the last run",
		}, []string{"kind", "result"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
	}

	r.registry.MustRegister(
		r.cursorOffset,
		r.scannedBytes,
		r.slowQueries,
		r.scanSuccess,
		r.notifications,
		r.lastRun,
		r.runDuration,
	)
	return r
}

// ObserveScan records the outcome of one instance.
func (r *Recorder) ObserveScan(instance string, status event.ScanStatus, offset, scanned int64, matches int) {
	success := 0.0
	if status.Advances() {
		success = 1
		r.cursorOffset.WithLabelValues(instance).Set(float64(offset))
	}
	r.scanSuccess.WithLabelValues(instance, string(status)).Set(success)
	r.scannedBytes.WithLabelValues(instance).Set(float64(scanned))
	r.slowQueries.WithLabelValues(instance).Set(float64(matches))
}

// ObserveNotification counts one delivery attempt.
func (r *Recorder) ObserveNotification(kind event.Kind, delivered bool) {
	result := "sent"
	if !delivered {
		result = "failed"
	}
	r.notifications.WithLabelValues(string(kind), result).Inc()
}

// ObserveRun records when the run finished and how long it took.
func (r *Recorder) ObserveRun(finished time.Time, took time.Duration) {
	r.lastRun.Set(float64(finished.Unix()))
	r.runDuration.Set(took.Seconds())
}

// WriteTextfile writes the metrics to path atomically. The directory must
// exist.
func (r *Recorder) WriteTextfile(path string) error {
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		return fmt.Errorf("metrics textfile directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
