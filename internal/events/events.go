// Package events defines the normalized observations produced from scanner
// output. Every other part of the engine consumes these values instead of
// raw scanner data.
package events

import (
	"fmt"
	"time"
)

type Type string

const (
	TypeHostDiscovered Type = "host_discovered"
	TypePortState      Type = "port_state"
)

type State string

const (
	StateOpen     State = "open"
	StateClosed   State = "closed"
	StateFiltered State = "filtered"
)

type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// Event is implemented only by HostDiscovered and PortState.
type Event interface {
	Type() Type
	Meta() Base
	Validate() error
	sealed()
}

// Base carries the fields shared by every event variant.
type Base struct {
	Host      string    `json:"host"`
	Timestamp time.Time `json:"timestamp"`
}

// HostDiscovered is emitted once per live host in a scan.
type HostDiscovered struct {
	Base
	LatencyMS *float64 `json:"latency_ms,omitempty"`
}

// PortState is emitted for every port the scanner reported on a host.
// Empty Service, Product or Version means the scanner did not identify it.
type PortState struct {
	Base
	Port     int      `json:"port"`
	Protocol Protocol `json:"protocol"`
	State    State    `json:"state"`
	Service  string   `json:"service,omitempty"`
	Product  string   `json:"product,omitempty"`
	Version  string   `json:"version,omitempty"`
}

func (HostDiscovered) Type() Type { return TypeHostDiscovered }
func (e HostDiscovered) Meta() Base { return e.Base }
func (HostDiscovered) sealed() {}

func (PortState) Type() Type { return TypePortState }
func (e PortState) Meta() Base { return e.Base }
func (PortState) sealed() {}

// IsOpen reports whether the port was observed open.
func (e PortState) IsOpen() bool { return e.State == StateOpen }

// MalformedEventError reports an event that violates its field constraints.
type MalformedEventError struct {
	Type   Type
	Host   string
	Field  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event for host %q: %s %s", e.Type, e.Host, e.Field, e.Reason)
}

func validateBase(t Type, h Base) error {
	if h.Host == "" {
		return &MalformedEventError{Type: t, Field: "host", Reason: "is empty"}
	}
	if h.Timestamp.IsZero() {
		return &MalformedEventError{Type: t, Host: h.Host, Field: "timestamp", Reason: "is not set"}
	}
	return nil
}

func (e HostDiscovered) Validate() error {
	if err := validateBase(TypeHostDiscovered, e.Base); err != nil {
		return err
	}
	if e.LatencyMS != nil && *e.LatencyMS < 0 {
		return &MalformedEventError{Type: TypeHostDiscovered, Host: e.Host, Field: "latency_ms", Reason: "is negative"}
	}
	return nil
}

func (e PortState) Validate() error {
	if err := validateBase(TypePortState, e.Base); err != nil {
		return err
	}
	if e.Port < 0 || e.Port > 65535 {
		return &MalformedEventError{Type: TypePortState, Host: e.Host, Field: "port", Reason: fmt.Sprintf("%d out of range 0-65535", e.Port)}
	}
	switch e.Protocol {
	case ProtocolTCP, ProtocolUDP:
	default:
		return &MalformedEventError{Type: TypePortState, Host: e.Host, Field: "protocol", Reason: fmt.Sprintf("%q is not tcp or udp", e.Protocol)}
	}
	switch e.State {
	case StateOpen, StateClosed, StateFiltered:
	default:
		return &MalformedEventError{Type: TypePortState, Host: e.Host, Field: "state", Reason: fmt.Sprintf("%q is not open, closed or filtered", e.State)}
	}
	return nil
}

// PortStates returns the port events of a batch in their original order.
func PortStates(evs []Event) []PortState {
	var out []PortState
	for _, ev := range evs {
		if ps, ok := ev.(PortState); ok {
			out = append(out, ps)
		}
	}
	return out
}

// CountStates tallies port events by state.
func CountStates(evs []Event) map[State]int {
	counts := make(map[State]int)
	for _, ps := range PortStates(evs) {
		counts[ps.State]++
	}
	return counts
}
