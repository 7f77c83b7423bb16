// Package risk scores open services on a 0-10 scale from the service type,
// the port it listens on, the endpoint's history and the advertised
// software version. Scoring is pure and never fails.
package risk

import (
	"sort"

	"github.com/jamesruggles/surfacewatch/internal/database"
	"github.com/jamesruggles/surfacewatch/internal/events"
)

const (
	MinScore = 0
	MaxScore = 10
)

// Factor strings attached to assessments.
const (
	FactorLegacyProtocol   = "Unencrypted legacy protocol"
	FactorPrivilegedPort   = "Privileged port"
	FactorBackdoorPort     = "Known backdoor port"
	FactorEphemeralPort    = "Ephemeral port range"
	FactorFirstSeen        = "First time detected"
	FactorRecentlyAppeared = "Recently appeared"
	FactorEstablished      = "Established service"
	FactorReopened         = "Port reopened after being closed"
	FactorUnknownPatch     = "Unverifiable patch level"
	FactorOldOpenSSH       = "Outdated OpenSSH version"
	FactorOldApache        = "Outdated Apache version"
)

// Options adjusts the built-in tables. Zero value keeps the defaults.
type Options struct {
	// ServiceOverrides replaces or adds base scores by lowercase service name.
	ServiceOverrides map[string]int
	// ExtraBackdoorPorts extends the backdoor port set.
	ExtraBackdoorPorts []int
}

type Scorer struct {
	serviceRisk   map[string]int
	backdoorPorts map[int]bool
}

func NewScorer(opts Options) *Scorer {
	s := &Scorer{
		serviceRisk:   make(map[string]int, len(defaultServiceRisk)+len(opts.ServiceOverrides)),
		backdoorPorts: make(map[int]bool, len(defaultBackdoorPorts)+len(opts.ExtraBackdoorPorts)),
	}
	for name, score := range defaultServiceRisk {
		s.serviceRisk[name] = score
	}
	for name, score := range opts.ServiceOverrides {
		s.serviceRisk[name] = clamp(score)
	}
	for _, p := range defaultBackdoorPorts {
		s.backdoorPorts[p] = true
	}
	for _, p := range opts.ExtraBackdoorPorts {
		s.backdoorPorts[p] = true
	}
	return s
}

// Assessment is the scored view of one open endpoint.
type Assessment struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Protocol string   `json:"protocol"`
	Service  string   `json:"service"`
	Product  string   `json:"product,omitempty"`
	Version  string   `json:"version,omitempty"`
	Risk     int      `json:"risk"`
	Factors  []string `json:"risk_factors"`
}

// tally accumulates modifiers together with their explanation so the two
// can never disagree.
type tally struct {
	score   int
	factors []string
}

func (t *tally) add(delta int, factor string) {
	t.score += delta
	if factor != "" {
		t.factors = append(t.factors, factor)
	}
}

// Score rates a single port event. hist is the ledger record for the
// endpoint as it stood before this observation, nil if it had never been
// seen open. Events that are not open score 0 with no factors.
func (s *Scorer) Score(ev events.PortState, hist *database.PortHistory) (int, []string) {
	if !ev.IsOpen() {
		return 0, nil
	}

	var t tally

	// base
	base, ok := s.serviceRisk[ev.Service]
	if !ok {
		base = unknownServiceRisk
	}
	t.add(base, "")
	if legacyProtocols[ev.Service] {
		t.factors = append(t.factors, FactorLegacyProtocol)
	}

	// port context
	if ev.Port >= privilegedLow && ev.Port <= privilegedHigh {
		t.add(1, FactorPrivilegedPort)
	}
	if s.backdoorPorts[ev.Port] {
		t.add(3, FactorBackdoorPort)
	}
	if ev.Port >= ephemeralLow && ev.Port <= ephemeralHigh {
		t.add(2, FactorEphemeralPort)
	}

	// history
	if hist == nil {
		t.add(2, FactorFirstSeen)
	} else {
		switch {
		case hist.SeenCount <= 2:
			t.add(3, FactorRecentlyAppeared)
		case hist.SeenCount >= 10:
			t.add(-1, FactorEstablished)
		}
		if hist.CurrentState == string(events.StateClosed) {
			t.add(2, FactorReopened)
		}
	}

	// software version
	if ev.Product != "" && ev.Version == "" {
		t.add(1, FactorUnknownPatch)
	}
	if outdatedOpenSSH(ev.Product, ev.Version) {
		t.add(2, FactorOldOpenSSH)
	}
	if outdatedApache(ev.Product, ev.Version) {
		t.add(2, FactorOldApache)
	}

	return clamp(t.score), t.factors
}

// ScoreAll scores a batch of port events against histories, drops events
// that score 0 and orders the rest by descending risk. Events with equal
// risk keep their input order.
func (s *Scorer) ScoreAll(evs []events.PortState, histories database.HistoryIndex) []Assessment {
	var out []Assessment
	for _, ev := range evs {
		score, factors := s.Score(ev, histories.Get(database.KeyOf(ev)))
		if score == 0 {
			continue
		}
		out = append(out, Assessment{
			Host:     ev.Host,
			Port:     ev.Port,
			Protocol: string(ev.Protocol),
			Service:  ev.Service,
			Product:  ev.Product,
			Version:  ev.Version,
			Risk:     score,
			Factors:  factors,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Risk > out[j].Risk
	})
	return out
}

// Severity thresholds used by reports.
const (
	HighThreshold   = 8
	MediumThreshold = 5
)

// Severity names the band a score falls into: "high" (8-10), "medium" (5-7)
// or "low".
func Severity(score int) string {
	switch {
	case score >= HighThreshold:
		return "high"
	case score >= MediumThreshold:
		return "medium"
	default:
		return "low"
	}
}

func clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
