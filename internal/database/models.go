package database

import (
	"fmt"
	"time"

	"github.com/jamesruggles/surfacewatch/internal/events"
)

const (
	ScanRunning   = "running"
	ScanCompleted = "completed"
	ScanFailed    = "failed"
)

type Scan struct {
	ID              int64     `json:"id"`
	Target          string    `json:"target"`
	Profile         string    `json:"profile"`
	Timestamp       time.Time `json:"timestamp"`
	Status          string    `json:"status"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
}

type HostRecord struct {
	ID        int64    `json:"id"`
	ScanID    int64    `json:"scan_id"`
	Host      string   `json:"host"`
	LatencyMS *float64 `json:"latency_ms,omitempty"`
}

type PortEvent struct {
	ID        int64     `json:"id"`
	ScanID    int64     `json:"scan_id"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Protocol  string    `json:"protocol"`
	State     string    `json:"state"`
	Service   string    `json:"service,omitempty"`
	Product   string    `json:"product,omitempty"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PortKey identifies one network endpoint. It keys both the history ledger
// and the change detector.
type PortKey struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

func (k PortKey) String() string {
	return fmt.Sprintf("%s:%d/%s", k.Host, k.Port, k.Protocol)
}

// KeyOf returns the ledger key of a port event.
func KeyOf(ev events.PortState) PortKey {
	return PortKey{Host: ev.Host, Port: ev.Port, Protocol: string(ev.Protocol)}
}

// PortHistory is the ledger record for one endpoint. It exists only for
// endpoints that were observed open at least once.
type PortHistory struct {
	PortKey
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	SeenCount    int       `json:"seen_count"`
	CurrentState string    `json:"current_state"`
}

// HistoryIndex maps endpoints to ledger records. A missing or nil entry
// means the endpoint had never been seen open.
type HistoryIndex map[PortKey]*PortHistory

func (h HistoryIndex) Get(key PortKey) *PortHistory {
	if h == nil {
		return nil
	}
	return h[key]
}

type Report struct {
	ID        int64     `json:"id"`
	ScanID    int64     `json:"scan_id"`
	Format    string    `json:"format"`
	FilePath  string    `json:"file_path"`
	CreatedAt time.Time `json:"created_at"`
}
