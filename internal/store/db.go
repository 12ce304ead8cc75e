// Package store provides SQLite-backed alert and scan history.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/setevik/proxywatch/internal/event"
)

// DB wraps an SQLite connection for history storage.
type DB struct {
	db *sql.DB
}

// Open opens or creates an SQLite database at the given path.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single writer connection to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertAlert stores an alert or admin notice.
func (d *DB) InsertAlert(a *event.Alert) error {
	_, err := d.db.Exec(`
		INSERT INTO alerts (id, instance, timestamp, kind, subject, records, max_latency_ms, body, notified, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.Instance,
		a.Timestamp.UTC().Format(time.RFC3339Nano),
		string(a.Kind),
		a.Subject,
		a.Records,
		a.MaxLatency,
		a.Body,
		a.Notified,
		a.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

// QueryFilter controls which alerts are returned by Query.
type QueryFilter struct {
	Since    time.Time
	Until    time.Time
	Kind     string
	Instance string
	Limit    int
}

// Query returns alerts matching the filter, ordered by timestamp descending.
func (d *DB) Query(f QueryFilter) ([]*event.Alert, error) {
	query := `SELECT id, instance, timestamp, kind, subject, records, max_latency_ms, body, notified, error
		FROM alerts WHERE 1=1`
	var args []interface{}

	if !f.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if !f.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, f.Until.UTC().Format(time.RFC3339Nano))
	}
	if f.Kind != "" {
		query += " AND kind = ?"
		args = append(args, f.Kind)
	}
	if f.Instance != "" {
		query += " AND instance = ?"
		args = append(args, f.Instance)
	}

	query += " ORDER BY timestamp DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*event.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Purge deletes alerts and scan records older than the retention duration.
func (d *DB) Purge(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339Nano)

	var total int64
	for _, table := range []string{"alerts", "scans"} {
		result, err := d.db.Exec(`DELETE FROM `+table+` WHERE timestamp < ?`, cutoff)
		if err != nil {
			return total, fmt.Errorf("purging old %s: %w", table, err)
		}
		n, _ := result.RowsAffected()
		total += n
	}
	return total, nil
}

func scanAlert(rows *sql.Rows) (*event.Alert, error) {
	var a event.Alert
	var tsStr string
	var subject, body, errText sql.NullString

	err := rows.Scan(
		&a.ID,
		&a.Instance,
		&tsStr,
		&a.Kind,
		&subject,
		&a.Records,
		&a.MaxLatency,
		&body,
		&a.Notified,
		&errText,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning alert row: %w", err)
	}

	a.Timestamp, _ = time.Parse(time.RFC3339Nano, tsStr)
	a.Subject = subject.String
	a.Body = body.String
	a.Error = errText.String
	return &a, nil
}

func migrate(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id             TEXT PRIMARY KEY,
			instance       TEXT NOT NULL,
			timestamp      TEXT NOT NULL,
			kind           TEXT NOT NULL,
			subject        TEXT,
			records        INTEGER NOT NULL DEFAULT 0,
			max_latency_ms REAL NOT NULL DEFAULT 0,
			body           TEXT,
			notified       BOOLEAN DEFAULT FALSE,
			error          TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_instance_ts ON alerts(instance, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_kind ON alerts(kind, timestamp)`,
		`CREATE TABLE IF NOT EXISTS scans (
			run_id       TEXT NOT NULL,
			instance     TEXT NOT NULL,
			timestamp    TEXT NOT NULL,
			status       TEXT NOT NULL,
			log_path     TEXT,
			start_offset INTEGER NOT NULL DEFAULT 0,
			end_offset   INTEGER NOT NULL DEFAULT 0,
			lines        INTEGER NOT NULL DEFAULT 0,
			matches      INTEGER NOT NULL DEFAULT 0,
			error        TEXT,
			PRIMARY KEY (run_id, instance)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_instance_ts ON scans(instance, timestamp)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	slog.Debug("database schema up to date")
	return nil
}
