package pip

import (
	"time"

	"github.com/sunneed/sunneed/internal/device"
)

// Snapshot is one election result.
//
// An Unavailable snapshot has Available false and no source fields set.
// Priority and quality are always serialised since zero is a valid value
// for both.
type Snapshot struct {
	Available   bool                `json:"available" msgpack:"available"`
	DeviceID    int                 `json:"device_id,omitempty" msgpack:"device_id,omitempty"`
	Name        string              `json:"name,omitempty" msgpack:"name,omitempty"`
	Kind        device.Kind         `json:"kind,omitempty" msgpack:"kind,omitempty"`
	Priority    int                 `json:"priority" msgpack:"priority"`
	Coordinates *device.Coordinates `json:"coordinates,omitempty" msgpack:"coordinates,omitempty"`
	Quality     float64             `json:"quality" msgpack:"quality"`
	LastSeen    time.Time           `json:"last_seen,omitzero" msgpack:"last_seen,omitempty"`
	ResolvedAt  time.Time           `json:"resolved_at" msgpack:"resolved_at"`
}

// Unavailable returns the snapshot published when no device is active.
func Unavailable(now time.Time) *Snapshot {
	return &Snapshot{ResolvedAt: now}
}

// SameSource reports whether s and o were elected from the same device
// with the same reading. Two Unavailable snapshots are the same.
func (s *Snapshot) SameSource(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Available != o.Available {
		return false
	}
	if !s.Available {
		return true
	}
	if s.DeviceID != o.DeviceID || s.Quality != o.Quality || !s.LastSeen.Equal(o.LastSeen) {
		return false
	}
	t := device.Transition{
		Before: device.State{Coordinates: s.Coordinates},
		After:  device.State{Coordinates: o.Coordinates},
	}
	return !t.ReadingChanged()
}

// Resolve elects the provider among devices.
//
// Only active devices are candidates; status strictly dominates priority.
// Among candidates the highest priority wins, then the most recent
// LastSeen, then the smallest ID. With no active device the result is
// Unavailable. The input slice is not modified.
func Resolve(devices []device.State, now time.Time) *Snapshot {
	best := -1
	for i := range devices {
		if devices[i].Status != device.StatusActive {
			continue
		}
		if best < 0 || outranks(&devices[i], &devices[best]) {
			best = i
		}
	}
	if best < 0 {
		return Unavailable(now)
	}

	d := &devices[best]
	snap := &Snapshot{
		Available:  true,
		DeviceID:   d.ID,
		Name:       d.Name,
		Kind:       d.Kind,
		Priority:   d.Priority,
		Quality:    d.Quality,
		LastSeen:   d.LastSeen,
		ResolvedAt: now,
	}
	if d.Coordinates != nil {
		c := *d.Coordinates
		if c.Elevation != nil {
			elev := *c.Elevation
			c.Elevation = &elev
		}
		snap.Coordinates = &c
	}
	return snap
}

// outranks reports whether a beats b for election.
func outranks(a, b *device.State) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.LastSeen.Equal(b.LastSeen) {
		return a.LastSeen.After(b.LastSeen)
	}
	return a.ID < b.ID
}
