package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jamesruggles/surfacewatch/internal/events"
)

// ObservePort records an open sighting in the port history ledger. The
// first sighting of a key creates its record with seen_count 1; every later
// one increments seen_count by exactly one, advances last_seen and
// overwrites current_state. The upsert is a single statement, so two
// writers can never both insert the same key.
func (tx *Tx) ObservePort(ctx context.Context, ev events.PortState) error {
	if !ev.IsOpen() {
		return fmt.Errorf("observe %s: state is %q, want open", KeyOf(ev), ev.State)
	}
	ts := ev.Timestamp.UTC()
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO port_history (host, port, protocol, first_seen, last_seen, seen_count, current_state)
		 VALUES (?, ?, ?, ?, ?, 1, ?)
		 ON CONFLICT (host, port, protocol) DO UPDATE SET
		     seen_count = port_history.seen_count + 1,
		     last_seen = excluded.last_seen,
		     current_state = excluded.current_state`,
		ev.Host, ev.Port, string(ev.Protocol), ts, ts, string(ev.State),
	)
	if err != nil {
		return &PersistenceError{Op: "observe port", Err: err}
	}
	return nil
}

// RecordTransition stores a closed or filtered sighting of an endpoint the
// ledger already tracks. Only current_state changes. Endpoints that were
// never open are left without a record.
func (tx *Tx) RecordTransition(ctx context.Context, ev events.PortState) error {
	if ev.IsOpen() {
		return fmt.Errorf("record transition %s: open sightings go through ObservePort", KeyOf(ev))
	}
	_, err := tx.tx.ExecContext(ctx,
		`UPDATE port_history SET current_state = ? WHERE host = ? AND port = ? AND protocol = ?`,
		string(ev.State), ev.Host, ev.Port, string(ev.Protocol),
	)
	if err != nil {
		return &PersistenceError{Op: "record port transition", Err: err}
	}
	return nil
}

const historyColumns = `host, port, protocol, first_seen, last_seen, seen_count, current_state`

func lookupHistory(ctx context.Context, q querier, key PortKey) (*PortHistory, error) {
	h := &PortHistory{}
	err := q.QueryRowContext(ctx,
		`SELECT `+historyColumns+` FROM port_history WHERE host = ? AND port = ? AND protocol = ?`,
		key.Host, key.Port, key.Protocol,
	).Scan(&h.Host, &h.Port, &h.Protocol, &h.FirstSeen, &h.LastSeen, &h.SeenCount, &h.CurrentState)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup history %s: %w", key, err)
	}
	return h, nil
}

// LookupHistory returns the ledger record for key, or nil when the endpoint
// was never observed open.
func (db *DB) LookupHistory(ctx context.Context, key PortKey) (*PortHistory, error) {
	return lookupHistory(ctx, db.DB, key)
}

// LookupHistory reads through the transaction, so it sees the transaction's
// own uncommitted writes.
func (tx *Tx) LookupHistory(ctx context.Context, key PortKey) (*PortHistory, error) {
	return lookupHistory(ctx, tx.tx, key)
}

// ListHistory returns ledger records ordered by endpoint. An empty host lists
// every record.
func (db *DB) ListHistory(ctx context.Context, host string) ([]PortHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM port_history`
	args := []any{}
	if host != "" {
		query += ` WHERE host = ?`
		args = append(args, host)
	}
	query += ` ORDER BY host, protocol, port`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []PortHistory
	for rows.Next() {
		var h PortHistory
		if err := rows.Scan(&h.Host, &h.Port, &h.Protocol, &h.FirstSeen, &h.LastSeen, &h.SeenCount, &h.CurrentState); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
