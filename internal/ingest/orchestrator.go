// Package ingest applies one scan's batch of events to the store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jamesruggles/surfacewatch/internal/database"
	"github.com/jamesruggles/surfacewatch/internal/events"
	"github.com/jamesruggles/surfacewatch/internal/telemetry"
)

type Orchestrator struct {
	db      *database.DB
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

func New(db *database.DB, logger *slog.Logger, metrics *telemetry.Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = telemetry.New(nil)
	}
	return &Orchestrator{db: db, logger: logger, metrics: metrics}
}

// Ingest persists evs for the running scan scanID, updates the port
// history ledger and marks the scan completed, all in one transaction.
// Events are applied in order.
//
// The returned index holds, for every endpoint that appears in the batch,
// the ledger record as it stood before the batch (nil when the endpoint had
// never been seen open). Scoring against it keeps "first time detected" and
// "reopened" meaningful for the scan that caused them.
//
// On error nothing is committed and the scan is still running; the caller
// is expected to fail it.
func (o *Orchestrator) Ingest(ctx context.Context, scanID int64, evs []events.Event) (database.HistoryIndex, error) {
	prior := make(database.HistoryIndex)
	counts := make(map[events.Type]int)
	var observed, transitions int

	err := o.db.WithTx(ctx, func(tx *database.Tx) error {
		for i, ev := range evs {
			if err := ev.Validate(); err != nil {
				o.metrics.EventsInvalid.Inc()
				return fmt.Errorf("event %d: %w", i, err)
			}

			switch e := ev.(type) {
			case events.HostDiscovered:
				if err := tx.InsertHost(ctx, scanID, e); err != nil {
					return fmt.Errorf("event %d: %w", i, err)
				}
			case events.PortState:
				if err := tx.InsertPortEvent(ctx, scanID, e); err != nil {
					return fmt.Errorf("event %d: %w", i, err)
				}
				key := database.KeyOf(e)
				if _, seen := prior[key]; !seen {
					rec, err := tx.LookupHistory(ctx, key)
					if err != nil {
						return fmt.Errorf("event %d: %w", i, err)
					}
					prior[key] = rec
				}
				if e.IsOpen() {
					if err := tx.ObservePort(ctx, e); err != nil {
						return fmt.Errorf("event %d: %w", i, err)
					}
					observed++
				} else {
					if err := tx.RecordTransition(ctx, e); err != nil {
						return fmt.Errorf("event %d: %w", i, err)
					}
					transitions++
				}
			default:
				return fmt.Errorf("event %d: unsupported event type %T", i, ev)
			}
			counts[ev.Type()]++
		}
		return tx.CompleteScan(ctx, scanID)
	})
	if err != nil {
		o.logger.Error("ingest failed", "scan_id", scanID, "events", len(evs), "error", err)
		return nil, fmt.Errorf("ingest scan %d: %w", scanID, err)
	}

	for t, n := range counts {
		o.metrics.EventsIngested.WithLabelValues(string(t)).Add(float64(n))
	}
	o.metrics.LedgerWrites.WithLabelValues("observe").Add(float64(observed))
	o.metrics.LedgerWrites.WithLabelValues("transition").Add(float64(transitions))

	o.logger.Info("ingest complete",
		"scan_id", scanID,
		"hosts", counts[events.TypeHostDiscovered],
		"ports", counts[events.TypePortState],
		"ledger_observed", observed,
		"endpoints", len(prior),
	)
	return prior, nil
}
