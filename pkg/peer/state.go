package peer

import "sync/atomic"

// SessionState is the peer's one-to-one chat state.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateNegotiating
	StateActive
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// sessionSlot is the single-slot busy reservation shared by the listener and
// the initiator. Reserve is a CompareAndSwap, so of any number of racing
// chat requests exactly one holds the slot.
type sessionSlot struct {
	state atomic.Int32
}

// TryReserve moves Idle to Negotiating. Returns false when the slot is taken.
func (s *sessionSlot) TryReserve() bool {
	return s.state.CompareAndSwap(int32(StateIdle), int32(StateNegotiating))
}

// Activate moves Negotiating to Active once the handshake completes.
func (s *sessionSlot) Activate() bool {
	return s.state.CompareAndSwap(int32(StateNegotiating), int32(StateActive))
}

// Release returns the slot to Idle from any state.
func (s *sessionSlot) Release() {
	s.state.Store(int32(StateIdle))
}

// State returns the current state.
func (s *sessionSlot) State() SessionState {
	return SessionState(s.state.Load())
}
