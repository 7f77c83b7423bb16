package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jamesruggles/surfacewatch/internal/events"
)

const scanColumns = `id, target, profile, timestamp, status, error_message, duration_seconds`

// --- Scans ---

func (db *DB) CreateScan(ctx context.Context, s *Scan) error {
	if s.Status == "" {
		s.Status = ScanRunning
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO scans (target, profile, timestamp, status, error_message, duration_seconds) VALUES (?, ?, ?, ?, ?, ?)`,
		s.Target, s.Profile, s.Timestamp.UTC(), s.Status, s.ErrorMessage, s.DurationSeconds,
	)
	if err != nil {
		return &PersistenceError{Op: "insert scan", Err: err}
	}
	s.ID, _ = res.LastInsertId()
	return nil
}

func scanScan(row interface{ Scan(...any) error }, s *Scan) error {
	var errMsg sql.NullString
	var duration sql.NullFloat64
	if err := row.Scan(&s.ID, &s.Target, &s.Profile, &s.Timestamp, &s.Status, &errMsg, &duration); err != nil {
		return err
	}
	s.ErrorMessage = errMsg.String
	s.DurationSeconds = duration.Float64
	return nil
}

func (db *DB) GetScan(ctx context.Context, id int64) (*Scan, error) {
	s := &Scan{}
	err := scanScan(db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, id), s)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scan: %w", err)
	}
	return s, nil
}

// ListScans returns the most recent scans first. An empty target lists scans
// of every target.
func (db *DB) ListScans(ctx context.Context, target string, limit int) ([]Scan, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if target == "" {
		rows, err = db.QueryContext(ctx, `SELECT `+scanColumns+` FROM scans ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = db.QueryContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE target = ? ORDER BY id DESC LIMIT ?`, target, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var scans []Scan
	for rows.Next() {
		var s Scan
		if err := scanScan(rows, &s); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		scans = append(scans, s)
	}
	return scans, rows.Err()
}

// LastCompletedScan returns the newest completed scan of target created
// before beforeID, or nil when there is none. Failed and running scans are
// never returned, so they cannot become a diff baseline.
func (db *DB) LastCompletedScan(ctx context.Context, target string, beforeID int64) (*Scan, error) {
	s := &Scan{}
	err := scanScan(db.QueryRowContext(ctx,
		`SELECT `+scanColumns+` FROM scans
		 WHERE target = ? AND status = ? AND id < ?
		 ORDER BY id DESC LIMIT 1`,
		target, ScanCompleted, beforeID,
	), s)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last completed scan: %w", err)
	}
	return s, nil
}

func (db *DB) UpdateScanDuration(ctx context.Context, id int64, seconds float64) error {
	if _, err := db.ExecContext(ctx, `UPDATE scans SET duration_seconds = ? WHERE id = ?`, seconds, id); err != nil {
		return &PersistenceError{Op: "update scan duration", Err: err}
	}
	return nil
}

func (db *DB) FailScan(ctx context.Context, id int64, message string) error {
	if _, err := db.ExecContext(ctx,
		`UPDATE scans SET status = ?, error_message = ? WHERE id = ?`, ScanFailed, message, id,
	); err != nil {
		return &PersistenceError{Op: "fail scan", Err: err}
	}
	return nil
}

// CompleteScan marks a running scan as completed. It fails when the scan
// does not exist or is no longer running.
func (tx *Tx) CompleteScan(ctx context.Context, id int64) error {
	res, err := tx.tx.ExecContext(ctx,
		`UPDATE scans SET status = ? WHERE id = ? AND status = ?`, ScanCompleted, id, ScanRunning,
	)
	if err != nil {
		return &PersistenceError{Op: "complete scan", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &PersistenceError{Op: "complete scan", Err: fmt.Errorf("scan %d not found or not running", id)}
	}
	return nil
}

// --- Events ---

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (tx *Tx) InsertHost(ctx context.Context, scanID int64, ev events.HostDiscovered) error {
	var latency sql.NullFloat64
	if ev.LatencyMS != nil {
		latency = sql.NullFloat64{Float64: *ev.LatencyMS, Valid: true}
	}
	if _, err := tx.tx.ExecContext(ctx,
		`INSERT INTO hosts (scan_id, host, latency_ms) VALUES (?, ?, ?)`, scanID, ev.Host, latency,
	); err != nil {
		return &PersistenceError{Op: "insert host", Err: err}
	}
	return nil
}

func (tx *Tx) InsertPortEvent(ctx context.Context, scanID int64, ev events.PortState) error {
	if _, err := tx.tx.ExecContext(ctx,
		`INSERT INTO port_events (scan_id, host, port, protocol, state, service, product, version, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scanID, ev.Host, ev.Port, string(ev.Protocol), string(ev.State),
		nullString(ev.Service), nullString(ev.Product), nullString(ev.Version), ev.Timestamp.UTC(),
	); err != nil {
		return &PersistenceError{Op: "insert port event", Err: err}
	}
	return nil
}

func (db *DB) ListHosts(ctx context.Context, scanID int64) ([]HostRecord, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, scan_id, host, latency_ms FROM hosts WHERE scan_id = ? ORDER BY id`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []HostRecord
	for rows.Next() {
		var h HostRecord
		var latency sql.NullFloat64
		if err := rows.Scan(&h.ID, &h.ScanID, &h.Host, &latency); err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		if latency.Valid {
			v := latency.Float64
			h.LatencyMS = &v
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

func (db *DB) ListPortEvents(ctx context.Context, scanID int64) ([]PortEvent, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, scan_id, host, port, protocol, state, service, product, version, timestamp
		 FROM port_events WHERE scan_id = ? ORDER BY id`, scanID,
	)
	if err != nil {
		return nil, fmt.Errorf("list port events: %w", err)
	}
	defer rows.Close()

	var out []PortEvent
	for rows.Next() {
		var e PortEvent
		var service, product, version sql.NullString
		if err := rows.Scan(&e.ID, &e.ScanID, &e.Host, &e.Port, &e.Protocol, &e.State, &service, &product, &version, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan port event: %w", err)
		}
		e.Service, e.Product, e.Version = service.String, product.String, version.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// OpenEndpoints returns the distinct endpoints recorded open in a scan. An
// unknown scan id yields an empty result.
func (db *DB) OpenEndpoints(ctx context.Context, scanID int64) ([]PortKey, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT host, port, protocol FROM port_events WHERE scan_id = ? AND state = ?`,
		scanID, string(events.StateOpen),
	)
	if err != nil {
		return nil, fmt.Errorf("open endpoints: %w", err)
	}
	defer rows.Close()

	var keys []PortKey
	for rows.Next() {
		var k PortKey
		if err := rows.Scan(&k.Host, &k.Port, &k.Protocol); err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Reports ---

func (db *DB) CreateReport(ctx context.Context, r *Report) error {
	res, err := db.ExecContext(ctx,
		`INSERT INTO reports (scan_id, format, file_path) VALUES (?, ?, ?)`,
		r.ScanID, r.Format, r.FilePath,
	)
	if err != nil {
		return &PersistenceError{Op: "insert report", Err: err}
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

func (db *DB) GetReport(ctx context.Context, id int64) (*Report, error) {
	r := &Report{}
	err := db.QueryRowContext(ctx,
		`SELECT id, scan_id, format, file_path, created_at FROM reports WHERE id = ?`, id,
	).Scan(&r.ID, &r.ScanID, &r.Format, &r.FilePath, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

func (db *DB) ListReportsByScan(ctx context.Context, scanID int64) ([]Report, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, scan_id, format, file_path, created_at FROM reports WHERE scan_id = ? ORDER BY id`, scanID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.ScanID, &r.Format, &r.FilePath, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
