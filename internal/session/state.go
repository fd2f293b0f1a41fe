package session

// State is the event bridge state.
//
//	Uninitialized ──ready──▶ Ready ◀──buffering edges──▶ Buffering
//	      │                    │                            │
//	      └───────── ended ────┴──────── ended ─────────────┴──▶ Ended
//	any state ──error──▶ Errored
//
// Ended and Errored are terminal: a new session starts at Uninitialized.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateBuffering
	StateEnded
	StateErrored
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateReady:
		return "Ready"
	case StateBuffering:
		return "Buffering"
	case StateEnded:
		return "Ended"
	case StateErrored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// IsTerminal returns true for Ended and Errored.
func (s State) IsTerminal() bool {
	return s == StateEnded || s == StateErrored
}
