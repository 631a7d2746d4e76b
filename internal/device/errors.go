package device

import (
	"errors"
	"fmt"
)

// Domain errors for the device package.
//
// Load failures are always returned as *LoadError; use errors.Is() on the
// result to learn which rule was broken:
//
//	if errors.Is(err, device.ErrDuplicateID) {
//	    // two entries share an id
//	}
var (
	// ErrConfig is the umbrella for malformed device configuration.
	ErrConfig = errors.New("device: invalid configuration")

	// ErrInvalidDevice is returned when a single entry fails validation.
	ErrInvalidDevice = fmt.Errorf("%w: invalid device", ErrConfig)

	// ErrUnknownKind is returned when an entry names a kind with no capability.
	ErrUnknownKind = fmt.Errorf("%w: unknown kind", ErrConfig)

	// ErrDuplicateID is returned when two entries share an id.
	ErrDuplicateID = errors.New("device: duplicate id")

	// ErrCapacityExceeded is returned when the source yields more than MaxDevices entries.
	ErrCapacityExceeded = errors.New("device: capacity exceeded")

	// ErrDeviceRead is returned by Probe when a capability fails or yields
	// an unusable reading. The device is degraded and retried next poll.
	ErrDeviceRead = errors.New("device: read failed")

	// ErrNoSignal is returned by a capability that is reachable but has no
	// position to offer (no GPS fix, stale sensor feed). The device is
	// marked inactive rather than degraded.
	ErrNoSignal = errors.New("device: no signal")

	// ErrIndexOutOfRange is returned when a registry index does not exist.
	ErrIndexOutOfRange = errors.New("device: index out of range")

	// ErrRegistryCorruption is returned by Verify when the registry no
	// longer matches what was loaded. It is fatal to the daemon.
	ErrRegistryCorruption = errors.New("device: registry corruption")
)

// LoadError describes why Load refused a device source.
//
// Entry is the zero-based position of the offending record, or -1 when the
// failure concerns the source as a whole.
type LoadError struct {
	Source string
	Entry  int
	ID     int
	Err    error
}

func (e *LoadError) Error() string {
	switch {
	case e.Entry < 0:
		return fmt.Sprintf("loading devices from %s: %v", e.Source, e.Err)
	case e.ID != 0:
		return fmt.Sprintf("loading devices from %s: entry %d (id %d): %v", e.Source, e.Entry, e.ID, e.Err)
	default:
		return fmt.Sprintf("loading devices from %s: entry %d: %v", e.Source, e.Entry, e.Err)
	}
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
