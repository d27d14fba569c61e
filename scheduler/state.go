package scheduler

import (
	"sync/atomic"
)

// State is the phase of the trigger/execute/complete/consume protocol.
//
//	StateIdle      → StateTriggered  [Frame, render loop]
//	StateTriggered → StateExecuting  [Run, worker]
//	StateExecuting → StateComplete   [Run, pass finished]
//	StateExecuting → StateFaulted    [Run, pass raised a script fault]
//	StateComplete  → StateIdle       [Frame, after swap and drain]
//	StateFaulted   → StateIdle       [Frame, after swap and drain]
//
// Every transition is a CAS from a known state. At most one pass is in
// flight, since only StateIdle may be triggered.
type State uint64

const (
	StateIdle State = iota
	StateTriggered
	StateExecuting
	StateComplete
	StateFaulted
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateTriggered:
		return "Triggered"
	case StateExecuting:
		return "Executing"
	case StateComplete:
		return "Complete"
	case StateFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// frameState is the lock-free state cell, padded to its own cache line.
type frameState struct { // betteralign:ignore
	_ [64]byte //nolint:unused
	v atomic.Uint64
	_ [56]byte //nolint:unused
}

func (s *frameState) load() State {
	return State(s.v.Load())
}

func (s *frameState) tryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}
