// Package telemetry holds the Prometheus metrics of the engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "surfacewatch"

// Metrics is shared by the pipeline, the ingest orchestrator and the HTTP
// server.
type Metrics struct {
	ScansTotal     *prometheus.CounterVec
	ScanDuration   prometheus.Histogram
	ScansRunning   prometheus.Gauge
	EventsIngested *prometheus.CounterVec
	EventsInvalid  prometheus.Counter
	LedgerWrites   *prometheus.CounterVec
	RiskScores     prometheus.Histogram
	PortChanges    *prometheus.CounterVec
	ReportsWritten *prometheus.CounterVec
	WSClients      prometheus.Gauge
	HTTPRequests   *prometheus.CounterVec
}

// New creates the metrics and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScansTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scans finished, by final status",
		}, []string{"status"}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of scan runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		ScansRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scans_running",
			Help:      "Scans currently executing",
		}),
		EventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Events committed to the store, by event type",
		}, []string{"type"}),
		EventsInvalid: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_invalid_total",
			Help:      "Malformed events that aborted an ingest",
		}),
		LedgerWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_writes_total",
			Help:      "Port history ledger writes, by operation",
		}, []string{"op"}),
		RiskScores: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Distribution of risk scores of open ports",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		PortChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "port_changes_total",
			Help:      "Endpoints opened or closed between consecutive scans",
		}, []string{"direction"}),
		ReportsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_written_total",
			Help:      "Rendered reports, by format",
		}, []string{"format"}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method and status code",
		}, []string{"method", "code"}),
	}
}
