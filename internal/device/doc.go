// Package device provides the Device Registry for sunneed.
//
// A registry is the bounded collection of configured position sources
// ("devices"), loaded once at startup from a Source and never resized.
// Each device carries an immutable identity (id, name, kind, priority) and
// monitor-owned liveness fields (status, last_seen, quality, coordinates).
//
// # Sources
//
//   - FileSource: YAML file with a top-level devices list
//   - SQLiteSource: the devices table created by the embedded migrations
//   - Records: in-memory list
//
// # Load rules
//
//   - more than MaxDevices entries fails with ErrCapacityExceeded
//   - two entries sharing an id fail with ErrDuplicateID
//   - a non-positive id, out-of-range priority, unknown status or oversized
//     params fail with ErrInvalidDevice; an unknown kind with ErrUnknownKind
//
// Every failure is a *LoadError. ErrInvalidDevice and ErrUnknownKind both
// match ErrConfig under errors.Is.
//
// # Capabilities
//
// Load binds every record to a Capability through a Builder (see the
// capability package). Probe wraps capability failures with ErrDeviceRead.
//
// # Thread Safety
//
// Identity fields are immutable after Load and read without locking.
// Status fields are guarded by a read-write mutex; States and State return
// copies.
package device
