package changes

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jamesruggles/surfacewatch/internal/database"
	"github.com/jamesruggles/surfacewatch/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore map[int64][]database.PortKey

func (f fakeStore) OpenEndpoints(_ context.Context, scanID int64) ([]database.PortKey, error) {
	return f[scanID], nil
}

type failingStore struct{}

func (failingStore) OpenEndpoints(context.Context, int64) ([]database.PortKey, error) {
	return nil, errors.New("disk I/O error")
}

func tcp(host string, port int) database.PortKey {
	return database.PortKey{Host: host, Port: port, Protocol: "tcp"}
}

func TestDiffNewServiceOpened(t *testing.T) {
	d := NewDetector(fakeStore{
		1: {tcp("h1", 80)},
		2: {tcp("h1", 80), tcp("h1", 443)},
	})

	cs, err := d.Diff(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, NewEndpointSet(tcp("h1", 443)), cs.Opened)
	assert.Empty(t, cs.Closed)

	back, err := d.Diff(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.Empty(t, back.Opened)
	assert.Equal(t, NewEndpointSet(tcp("h1", 443)), back.Closed)
}

func TestDiffSameScanIsEmpty(t *testing.T) {
	d := NewDetector(fakeStore{7: {tcp("h1", 22), tcp("h2", 3389)}})
	cs, err := d.Diff(context.Background(), 7, 7)
	require.NoError(t, err)
	assert.True(t, cs.Empty())
}

func TestDiffSetsAreDisjoint(t *testing.T) {
	d := NewDetector(fakeStore{
		1: {tcp("a", 1), tcp("a", 2), tcp("b", 3)},
		2: {tcp("a", 2), tcp("b", 3), tcp("c", 4), tcp("c", 5)},
	})
	cs, err := d.Diff(context.Background(), 1, 2)
	require.NoError(t, err)
	for k := range cs.Opened {
		assert.False(t, cs.Closed.Has(k), k.String())
	}
	assert.Len(t, cs.Opened, 2)
	assert.Len(t, cs.Closed, 1)
}

func TestDiffUnknownScans(t *testing.T) {
	d := NewDetector(fakeStore{1: {tcp("h1", 80)}})

	cs, err := d.Diff(context.Background(), 1, 99)
	require.NoError(t, err)
	assert.Empty(t, cs.Opened)
	assert.Equal(t, NewEndpointSet(tcp("h1", 80)), cs.Closed)

	cs, err = d.Diff(context.Background(), 98, 99)
	require.NoError(t, err)
	assert.True(t, cs.Empty())
}

func TestDiffProtocolIsPartOfKey(t *testing.T) {
	udp := database.PortKey{Host: "h1", Port: 53, Protocol: "udp"}
	d := NewDetector(fakeStore{1: {tcp("h1", 53)}, 2: {udp}})

	cs, err := d.Diff(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, NewEndpointSet(udp), cs.Opened)
	assert.Equal(t, NewEndpointSet(tcp("h1", 53)), cs.Closed)
}

func TestDiffStoreError(t *testing.T) {
	_, err := NewDetector(failingStore{}).Diff(context.Background(), 1, 2)
	assert.ErrorContains(t, err, "baseline scan 1")
}

func TestChangeSetJSONIsSorted(t *testing.T) {
	cs := Compare(1, 2, NewEndpointSet(), NewEndpointSet(tcp("h2", 22), tcp("h1", 443), tcp("h1", 80)))
	raw, err := json.Marshal(cs)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"baseline_scan_id": 1,
		"current_scan_id": 2,
		"opened": [
			{"host": "h1", "port": 80, "protocol": "tcp"},
			{"host": "h1", "port": 443, "protocol": "tcp"},
			{"host": "h2", "port": 22, "protocol": "tcp"}
		],
		"closed": []
	}`, string(raw))
}

func TestDiffAgainstDatabase(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "diff.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	ts := time.Now().UTC()

	insert := func(ports ...int) int64 {
		s := &database.Scan{Target: "h1", Profile: "fast", Timestamp: ts}
		require.NoError(t, db.CreateScan(ctx, s))
		require.NoError(t, db.WithTx(ctx, func(tx *database.Tx) error {
			for _, p := range ports {
				ev := events.PortState{
					Base:     events.Base{Host: "h1", Timestamp: ts},
					Port:     p,
					Protocol: events.ProtocolTCP,
					State:    events.StateOpen,
				}
				if err := tx.InsertPortEvent(ctx, s.ID, ev); err != nil {
					return err
				}
			}
			return tx.CompleteScan(ctx, s.ID)
		}))
		return s.ID
	}

	a := insert(80)
	b := insert(80, 443)

	cs, err := NewDetector(db).Diff(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, []database.PortKey{tcp("h1", 443)}, cs.Opened.Sorted())
	assert.Empty(t, cs.Closed)
}

func TestEndpointSetJSONRoundTrip(t *testing.T) {
	in := NewEndpointSet(tcp("h1", 22), tcp("h2", 80))
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out EndpointSet
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}
