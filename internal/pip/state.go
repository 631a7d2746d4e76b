package pip

import (
	"errors"
	"sync/atomic"
)

// ErrNilSnapshot is returned by Publish when given nil.
var ErrNilSnapshot = errors.New("pip: nil snapshot")

// State holds the current Snapshot.
//
// Thread Safety:
//   - Current may be called from any number of goroutines and never blocks.
//   - Publish is meant for a single writer (the monitor); concurrent
//     publishers are safe but the last swap wins.
type State struct {
	current    atomic.Pointer[Snapshot]
	generation atomic.Uint64
}

// NewState creates a State whose first snapshot is initial. A nil initial
// is treated as an Unavailable snapshot with a zero timestamp.
func NewState(initial *Snapshot) *State {
	s := &State{}
	if initial == nil {
		initial = &Snapshot{}
	}
	s.current.Store(initial)
	return s
}

// Publish makes snap the current snapshot. The caller must not modify snap
// afterwards.
func (s *State) Publish(snap *Snapshot) error {
	if snap == nil {
		return ErrNilSnapshot
	}
	s.current.Store(snap)
	s.generation.Add(1)
	return nil
}

// Current returns the current snapshot. Callers must treat it as read-only.
func (s *State) Current() *Snapshot {
	return s.current.Load()
}

// Generation returns how many snapshots have been published since NewState.
func (s *State) Generation() uint64 {
	return s.generation.Load()
}
