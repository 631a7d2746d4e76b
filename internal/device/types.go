package device

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// MaxDevices is the fixed capacity of a registry.
const MaxDevices = 32

// Priority bounds accepted by Load. Higher is preferred.
const (
	MinPriority = 0
	MaxPriority = 1000
)

// Kind identifies which capability a device is probed through.
type Kind string

// Supported device kinds.
const (
	KindGPS    Kind = "gps"
	KindManual Kind = "manual"
	KindNetGeo Kind = "netgeo"
	KindSensor Kind = "sensor"
)

// AllKinds returns every supported kind.
func AllKinds() []Kind {
	return []Kind{KindGPS, KindManual, KindNetGeo, KindSensor}
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	return slices.Contains(AllKinds(), k)
}

// kindList renders AllKinds for error messages.
func kindList() string {
	kinds := AllKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// Status is the liveness of a device as last observed by the monitor.
type Status string

// Device statuses. Only StatusActive devices can be elected.
const (
	StatusActive   Status = "active"
	StatusDegraded Status = "degraded"
	StatusInactive Status = "inactive"
	StatusUnknown  Status = "unknown"
)

// ParseStatus converts a configured status. Empty means StatusUnknown.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case "":
		return StatusUnknown, nil
	case StatusActive, StatusDegraded, StatusInactive, StatusUnknown:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidDevice, s)
}

// Coordinates is a WGS84 position. Elevation is metres above sea level.
type Coordinates struct {
	Latitude  float64  `json:"latitude" msgpack:"latitude"`
	Longitude float64  `json:"longitude" msgpack:"longitude"`
	Elevation *float64 `json:"elevation,omitempty" msgpack:"elevation,omitempty"`
}

// Validate checks latitude and longitude ranges.
func (c Coordinates) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", c.Longitude)
	}
	if c.Elevation != nil && (math.IsNaN(*c.Elevation) || math.IsInf(*c.Elevation, 0)) {
		return fmt.Errorf("elevation %v is not finite", *c.Elevation)
	}
	return nil
}

// Record is one entry yielded by a Source.
type Record struct {
	ID       int            `yaml:"id" json:"id"`
	Name     string         `yaml:"name" json:"name"`
	Kind     Kind           `yaml:"kind" json:"kind"`
	Priority int            `yaml:"priority" json:"priority"`
	Status   string         `yaml:"status" json:"status,omitempty"`
	Params   map[string]any `yaml:"params" json:"params,omitempty"`
}

// Device is the immutable identity of a registry entry.
type Device struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Priority int    `json:"priority"`
}

// State is a point-in-time copy of a device and its monitor-owned fields.
type State struct {
	Device
	Status      Status       `json:"status"`
	LastSeen    time.Time    `json:"last_seen"`
	Quality     float64      `json:"quality"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
}

// Reading is what a capability reports on a successful probe.
// Quality is normalised to [0, 1].
type Reading struct {
	Coordinates Coordinates
	Quality     float64
	At          time.Time
}

// Observation is the monitor's verdict for one device after one probe.
// Reading is nil when the probe failed.
type Observation struct {
	Status  Status
	Reading *Reading
	Err     error
	At      time.Time
}

// Transition is the before/after pair produced by Registry.Update.
type Transition struct {
	Before State
	After  State
}

// StatusChanged reports whether the device moved between statuses.
func (t Transition) StatusChanged() bool {
	return t.Before.Status != t.After.Status
}

// ReadingChanged reports whether the position or quality moved.
func (t Transition) ReadingChanged() bool {
	if t.Before.Quality != t.After.Quality {
		return true
	}
	a, b := t.Before.Coordinates, t.After.Coordinates
	if a == nil || b == nil {
		return a != b
	}
	if a.Latitude != b.Latitude || a.Longitude != b.Longitude {
		return true
	}
	if a.Elevation == nil || b.Elevation == nil {
		return a.Elevation != b.Elevation
	}
	return *a.Elevation != *b.Elevation
}
