package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jamesruggles/surfacewatch/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createScan(t *testing.T, db *DB, target string) *Scan {
	t.Helper()
	s := &Scan{Target: target, Profile: "fast", Timestamp: time.Now()}
	require.NoError(t, db.CreateScan(context.Background(), s))
	return s
}

func TestScanLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s := createScan(t, db, "10.0.0.0/24")
	assert.NotZero(t, s.ID)
	assert.Equal(t, ScanRunning, s.Status)

	require.NoError(t, db.UpdateScanDuration(ctx, s.ID, 12.5))
	require.NoError(t, db.WithTx(ctx, func(tx *Tx) error { return tx.CompleteScan(ctx, s.ID) }))

	got, err := db.GetScan(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ScanCompleted, got.Status)
	assert.Equal(t, 12.5, got.DurationSeconds)

	missing, err := db.GetScan(ctx, 9999)
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCompleteScanRequiresRunningScan(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *Tx) error { return tx.CompleteScan(ctx, 42) })
	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "complete scan", perr.Op)
}

func TestLastCompletedScanSkipsFailed(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := createScan(t, db, "example.org")
	require.NoError(t, db.WithTx(ctx, func(tx *Tx) error { return tx.CompleteScan(ctx, first.ID) }))

	failed := createScan(t, db, "example.org")
	require.NoError(t, db.FailScan(ctx, failed.ID, "nmap exited 1"))

	other := createScan(t, db, "other.org")
	require.NoError(t, db.WithTx(ctx, func(tx *Tx) error { return tx.CompleteScan(ctx, other.ID) }))

	current := createScan(t, db, "example.org")

	base, err := db.LastCompletedScan(ctx, "example.org", current.ID)
	require.NoError(t, err)
	require.NotNil(t, base)
	assert.Equal(t, first.ID, base.ID)

	none, err := db.LastCompletedScan(ctx, "example.org", first.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	scans, err := db.ListScans(ctx, "example.org", 10)
	require.NoError(t, err)
	require.Len(t, scans, 3)
	assert.Equal(t, current.ID, scans[0].ID)
	assert.Equal(t, "nmap exited 1", scans[1].ErrorMessage)
}

func TestEventsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := createScan(t, db, "h1")
	ts := time.Now().UTC()
	latency := 0.42

	require.NoError(t, db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertHost(ctx, s.ID, events.HostDiscovered{Base: events.Base{Host: "h1", Timestamp: ts}, LatencyMS: &latency}); err != nil {
			return err
		}
		open := portEvent("h1", 22, events.StateOpen, ts)
		open.Service, open.Product, open.Version = "ssh", "OpenSSH", "9.6p1"
		if err := tx.InsertPortEvent(ctx, s.ID, open); err != nil {
			return err
		}
		if err := tx.InsertPortEvent(ctx, s.ID, portEvent("h1", 23, events.StateClosed, ts)); err != nil {
			return err
		}
		// same endpoint twice in one scan collapses in OpenEndpoints
		return tx.InsertPortEvent(ctx, s.ID, portEvent("h1", 22, events.StateOpen, ts))
	}))

	hosts, err := db.ListHosts(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	require.NotNil(t, hosts[0].LatencyMS)
	assert.InDelta(t, 0.42, *hosts[0].LatencyMS, 1e-9)

	evs, err := db.ListPortEvents(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, "OpenSSH", evs[0].Product)
	assert.Equal(t, "", evs[1].Service)

	open, err := db.OpenEndpoints(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []PortKey{{Host: "h1", Port: 22, Protocol: "tcp"}}, open)

	unknown, err := db.OpenEndpoints(ctx, 777)
	require.NoError(t, err)
	assert.Empty(t, unknown)
}

func TestInsertPortEventRequiresScan(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertPortEvent(ctx, 404, portEvent("h", 80, events.StateOpen, time.Now()))
	})
	var perr *PersistenceError
	assert.True(t, errors.As(err, &perr))
}

func TestReports(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := createScan(t, db, "h")

	r := &Report{ScanID: s.ID, Format: "json", FilePath: "/tmp/report_scan_1.json"}
	require.NoError(t, db.CreateReport(ctx, r))
	assert.NotZero(t, r.ID)

	got, err := db.GetReport(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "json", got.Format)

	list, err := db.ListReportsByScan(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
