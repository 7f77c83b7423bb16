// Package changes compares the open endpoints of two scans.
package changes

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jamesruggles/surfacewatch/internal/database"
)

// Store is the read side the detector needs.
type Store interface {
	OpenEndpoints(ctx context.Context, scanID int64) ([]database.PortKey, error)
}

// EndpointSet is a set of endpoints. It marshals as a sorted JSON array.
type EndpointSet map[database.PortKey]struct{}

func NewEndpointSet(keys ...database.PortKey) EndpointSet {
	s := make(EndpointSet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s EndpointSet) Has(k database.PortKey) bool {
	_, ok := s[k]
	return ok
}

// Minus returns the endpoints in s that are not in other.
func (s EndpointSet) Minus(other EndpointSet) EndpointSet {
	out := make(EndpointSet)
	for k := range s {
		if !other.Has(k) {
			out[k] = struct{}{}
		}
	}
	return out
}

// Sorted orders by host, then port, then protocol.
func (s EndpointSet) Sorted() []database.PortKey {
	keys := make([]database.PortKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Host != b.Host {
			return a.Host < b.Host
		}
		if a.Port != b.Port {
			return a.Port < b.Port
		}
		return a.Protocol < b.Protocol
	})
	return keys
}

func (s EndpointSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *EndpointSet) UnmarshalJSON(data []byte) error {
	var keys []database.PortKey
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*s = NewEndpointSet(keys...)
	return nil
}

// ChangeSet holds what opened and what closed between a baseline and a
// current scan. The two sets are disjoint.
type ChangeSet struct {
	BaselineID int64       `json:"baseline_scan_id"`
	CurrentID  int64       `json:"current_scan_id"`
	Opened     EndpointSet `json:"opened"`
	Closed     EndpointSet `json:"closed"`
}

func (c ChangeSet) Empty() bool {
	return len(c.Opened) == 0 && len(c.Closed) == 0
}

type Detector struct {
	store Store
}

func NewDetector(store Store) *Detector {
	return &Detector{store: store}
}

// Diff returns the endpoints opened and closed going from baseline to
// current. A scan id with no recorded open ports, including one that does
// not exist, contributes the empty set.
func (d *Detector) Diff(ctx context.Context, baseline, current int64) (ChangeSet, error) {
	before, err := d.store.OpenEndpoints(ctx, baseline)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("baseline scan %d: %w", baseline, err)
	}
	after, err := d.store.OpenEndpoints(ctx, current)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("current scan %d: %w", current, err)
	}
	return Compare(baseline, current, NewEndpointSet(before...), NewEndpointSet(after...)), nil
}

// Compare is the set arithmetic behind Diff.
func Compare(baselineID, currentID int64, before, after EndpointSet) ChangeSet {
	return ChangeSet{
		BaselineID: baselineID,
		CurrentID:  currentID,
		Opened:     after.Minus(before),
		Closed:     before.Minus(after),
	}
}
