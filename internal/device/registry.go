package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Capability is the opaque means by which a device obtains raw coordinates.
type Capability interface {
	Probe(ctx context.Context) (Reading, error)
}

// Builder binds a validated record to its capability.
type Builder interface {
	Build(rec Record) (Capability, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(rec Record) (Capability, error)

// Build calls f(rec).
func (f BuilderFunc) Build(rec Record) (Capability, error) {
	return f(rec)
}

// Source yields the ordered device records a registry is loaded from.
type Source interface {
	Devices(ctx context.Context) ([]Record, error)
	String() string
}

// entry is one registry slot. dev and capability never change after Load;
// everything else is guarded by Registry.mu.
type entry struct {
	dev        Device
	capability Capability

	status   Status
	lastSeen time.Time
	quality  float64
	coords   *Coordinates
	lastErr  string
}

// Registry is the bounded, load-once collection of configured devices.
//
// Devices are addressed by their stable index in load order. There is no
// add or remove operation.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Only the monitor calls Update; readers get value copies.
type Registry struct {
	entries []entry
	byID    map[int]int
	loaded  int

	mu sync.RWMutex
}

// Load reads src, validates every record and binds each to its capability.
//
// Checks run in this order: capacity, duplicate ids, then each record in
// source order (id, kind, priority, name, status, params, capability).
//
// Parameters:
//   - ctx: Context for the source read
//   - src: Device source collaborator
//   - caps: Capability builder
//   - logger: Optional logger (nil for none)
//
// Returns:
//   - *Registry: Loaded registry with len equal to the number of records
//   - error: *LoadError wrapping ErrConfig, ErrUnknownKind, ErrInvalidDevice,
//     ErrDuplicateID or ErrCapacityExceeded
func Load(ctx context.Context, src Source, caps Builder, logger Logger) (*Registry, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	name := src.String()
	logger.Info("Loading devices...", "source", name)

	records, err := src.Devices(ctx)
	if err != nil {
		return nil, &LoadError{Source: name, Entry: -1, Err: err}
	}

	if len(records) > MaxDevices {
		return nil, &LoadError{
			Source: name,
			Entry:  -1,
			Err:    fmt.Errorf("%w: %d devices, limit is %d", ErrCapacityExceeded, len(records), MaxDevices),
		}
	}

	if i := findDuplicate(records); i >= 0 {
		return nil, &LoadError{Source: name, Entry: i, ID: records[i].ID, Err: ErrDuplicateID}
	}

	r := &Registry{
		entries: make([]entry, len(records)),
		byID:    make(map[int]int, len(records)),
		loaded:  len(records),
	}

	for i := range records {
		rec := records[i]
		status, err := normaliseRecord(&rec)
		if err != nil {
			return nil, &LoadError{Source: name, Entry: i, ID: rec.ID, Err: err}
		}

		capability, err := caps.Build(rec)
		if err != nil {
			return nil, &LoadError{Source: name, Entry: i, ID: rec.ID, Err: fmt.Errorf("%w: %w", ErrConfig, err)}
		}

		r.entries[i] = entry{
			dev: Device{
				ID:       rec.ID,
				Name:     rec.Name,
				Kind:     rec.Kind,
				Priority: rec.Priority,
			},
			capability: capability,
			status:     status,
		}
		r.byID[rec.ID] = i

		logger.Debug("device loaded", "id", rec.ID, "name", rec.Name, "kind", rec.Kind, "priority", rec.Priority)
	}

	if len(records) == 0 {
		logger.Warn("device source is empty, no provider can be elected", "source", name)
	} else {
		logger.Info("devices loaded", "count", len(records))
	}
	return r, nil
}

// Len returns the number of devices. It never changes after Load.
func (r *Registry) Len() int {
	return len(r.entries)
}

// States returns a copy of every device state in index order.
func (r *Registry) States() []State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]State, len(r.entries))
	for i := range r.entries {
		out[i] = r.entries[i].state()
	}
	return out
}

// State returns a copy of the device at index i.
func (r *Registry) State(i int) (State, error) {
	if i < 0 || i >= len(r.entries) {
		return State{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[i].state(), nil
}

// Lookup returns the state of the device with the given id.
func (r *Registry) Lookup(id int) (State, bool) {
	i, ok := r.byID[id]
	if !ok {
		return State{}, false
	}
	st, err := r.State(i)
	return st, err == nil
}

// Probe asks the capability at index i for a reading.
//
// Capability errors are wrapped with ErrDeviceRead; ErrNoSignal is kept in
// the chain so callers can tell "no fix" from "broken". Readings with
// out-of-range coordinates or quality are rejected with ErrDeviceRead.
func (r *Registry) Probe(ctx context.Context, i int) (Reading, error) {
	if i < 0 || i >= len(r.entries) {
		return Reading{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	e := &r.entries[i]

	reading, err := e.capability.Probe(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: %s: %w", ErrDeviceRead, e.dev.Name, err)
	}
	if err := reading.Coordinates.Validate(); err != nil {
		return Reading{}, fmt.Errorf("%w: %s: %w", ErrDeviceRead, e.dev.Name, err)
	}
	if reading.Quality < 0 || reading.Quality > 1 {
		return Reading{}, fmt.Errorf("%w: %s: quality %v outside [0, 1]", ErrDeviceRead, e.dev.Name, reading.Quality)
	}
	return reading, nil
}

// Update applies the monitor's observation to the device at index i.
//
// A successful reading refreshes coordinates, quality and last_seen. A
// failed probe only changes status and the recorded error; the last good
// position is kept so a recovering device does not flap its coordinates.
func (r *Registry) Update(i int, obs Observation) (Transition, error) {
	if i < 0 || i >= len(r.entries) {
		return Transition{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := &r.entries[i]
	before := e.state()

	e.status = obs.Status
	if obs.Reading != nil {
		coords := obs.Reading.Coordinates
		if coords.Elevation != nil {
			elev := *coords.Elevation
			coords.Elevation = &elev
		}
		e.coords = &coords
		e.quality = obs.Reading.Quality
		e.lastSeen = obs.At
		if !obs.Reading.At.IsZero() {
			e.lastSeen = obs.Reading.At
		}
	}
	if obs.Err != nil {
		e.lastErr = obs.Err.Error()
	} else {
		e.lastErr = ""
	}

	return Transition{Before: before, After: e.state()}, nil
}

// Verify checks that the registry still matches what Load produced.
// Any mismatch is reported as ErrRegistryCorruption.
func (r *Registry) Verify() error {
	if len(r.entries) != r.loaded {
		return fmt.Errorf("%w: %d devices, loaded %d", ErrRegistryCorruption, len(r.entries), r.loaded)
	}
	if len(r.byID) != len(r.entries) {
		return fmt.Errorf("%w: id index has %d entries for %d devices", ErrRegistryCorruption, len(r.byID), len(r.entries))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.entries {
		e := &r.entries[i]
		if j, ok := r.byID[e.dev.ID]; !ok || j != i {
			return fmt.Errorf("%w: device %d not at index %d", ErrRegistryCorruption, e.dev.ID, i)
		}
		if e.capability == nil {
			return fmt.Errorf("%w: device %d has no capability", ErrRegistryCorruption, e.dev.ID)
		}
		switch e.status {
		case StatusActive, StatusDegraded, StatusInactive, StatusUnknown:
		default:
			return fmt.Errorf("%w: device %d has status %q", ErrRegistryCorruption, e.dev.ID, e.status)
		}
	}
	return nil
}

func (e *entry) state() State {
	st := State{
		Device:    e.dev,
		Status:    e.status,
		LastSeen:  e.lastSeen,
		Quality:   e.quality,
		LastError: e.lastErr,
	}
	if e.coords != nil {
		c := *e.coords
		if c.Elevation != nil {
			elev := *c.Elevation
			c.Elevation = &elev
		}
		st.Coordinates = &c
	}
	return st
}
