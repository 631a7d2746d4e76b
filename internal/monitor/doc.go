// Package monitor keeps the published PIP current.
//
// A Monitor owns the only write path into the device registry's mutable
// fields and into pip.State. It cycles through
//
//	INIT -> POLL -> RESOLVE -> PUBLISH -> SLEEP -> POLL ...
//
// Init runs the first POLL, RESOLVE and PUBLISH before returning, so the
// shared state never holds an election made without probed readings once
// Run starts.
//
// POLL probes every device concurrently with a per-probe timeout. A failed
// probe marks that device degraded and leaves the others alone; a device
// that answers but has nothing to report is marked inactive. RESOLVE and
// PUBLISH only run when a status or the reading of an active device moved.
// SLEEP waits for the poll interval or for cancellation.
//
// Registry corruption detected by Verify ends Run with an error wrapping
// device.ErrRegistryCorruption; everything else is logged and retried.
package monitor
