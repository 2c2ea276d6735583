package session

import "sync/atomic"

// State is the process-wide session lifecycle state.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// stateAtom wraps an atomic.Int32 with the CAS edges the lifecycle allows.
type stateAtom struct {
	v atomic.Int32
}

func (s *stateAtom) Load() State {
	return State(s.v.Load())
}

func (s *stateAtom) Store(v State) {
	s.v.Store(int32(v))
}

// CompareAndSwap performs the state transition iff the current value is
// `from`, returning whether it succeeded.
func (s *stateAtom) CompareAndSwap(from, to State) bool {
	return s.v.CompareAndSwap(int32(from), int32(to))
}
