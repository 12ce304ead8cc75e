package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/setevik/proxywatch/internal/event"
)

// ScanRecord is the stored outcome of one instance in one run.
type ScanRecord struct {
	RunID       string
	Instance    string
	Timestamp   time.Time
	Status      event.ScanStatus
	LogPath     string
	StartOffset int64
	EndOffset   int64
	Lines       int
	Matches     int
	Error       string
}

// RecordScan stores the outcome of one scan.
func (d *DB) RecordScan(r ScanRecord) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO scans (run_id, instance, timestamp, status, log_path, start_offset, end_offset, lines, matches, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID,
		r.Instance,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		string(r.Status),
		r.LogPath,
		r.StartOffset,
		r.EndOffset,
		r.Lines,
		r.Matches,
		r.Error,
	)
	if err != nil {
		return fmt.Errorf("recording scan: %w", err)
	}
	return nil
}

// LastScans returns the most recent scan of every instance, keyed by
// instance name.
func (d *DB) LastScans() (map[string]ScanRecord, error) {
	rows, err := d.db.Query(`
		SELECT s.run_id, s.instance, s.timestamp, s.status, s.log_path, s.start_offset, s.end_offset, s.lines, s.matches, s.error
		FROM scans s
		JOIN (SELECT instance, MAX(timestamp) AS ts FROM scans GROUP BY instance) latest
			ON s.instance = latest.instance AND s.timestamp = latest.ts`)
	if err != nil {
		return nil, fmt.Errorf("querying last scans: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ScanRecord)
	for rows.Next() {
		var r ScanRecord
		var tsStr string
		var logPath, errText sql.NullString
		if err := rows.Scan(
			&r.RunID,
			&r.Instance,
			&tsStr,
			&r.Status,
			&logPath,
			&r.StartOffset,
			&r.EndOffset,
			&r.Lines,
			&r.Matches,
			&errText,
		); err != nil {
			return nil, fmt.Errorf("scanning scan row: %w", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, tsStr)
		r.LogPath = logPath.String
		r.Error = errText.String
		out[r.Instance] = r
	}
	return out, rows.Err()
}
