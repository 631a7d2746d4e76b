// Package pip elects the position information provider (PIP) and holds the
// currently published election.
//
// Resolve is a pure function from device states to a Snapshot. State is the
// single-slot holder the monitor publishes into and every client reader
// takes from. Snapshots are never mutated after construction; a new election
// always produces a new Snapshot.
//
// Usage:
//
//	state := pip.NewState(pip.Resolve(reg.States(), time.Now()))
//	// monitor goroutine
//	state.Publish(pip.Resolve(reg.States(), time.Now()))
//	// any reader goroutine
//	if snap := state.Current(); snap.Available {
//	    fmt.Println(snap.Name)
//	}
package pip
