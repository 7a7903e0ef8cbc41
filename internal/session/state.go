// File: internal/session/state.go
package session

// State describes where the session is in its lifecycle. Exactly one Manager
// (and therefore one State) exists per process.
type State int

const (
	// Uninitialized is the zero state before Initialize is called.
	Uninitialized State = iota
	// LoggingIn covers the primary credential submission flow.
	LoggingIn
	// AwaitingChallenge means the provider raised an additional verification
	// step and the manager is blocked on out-of-band input.
	AwaitingChallenge
	// Authenticated means the browser and page are live and reusable.
	Authenticated
	// Failed is terminal: login failed and all resources were released.
	Failed
	// Closed is terminal: the session was shut down and resources released.
	Closed
)

// String returns the lower-case state name used in logs.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case LoggingIn:
		return "logging_in"
	case AwaitingChallenge:
		return "awaiting_challenge"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// terminal reports whether no further transitions are allowed out of s.
func (s State) terminal() bool {
	return s == Failed || s == Closed
}
