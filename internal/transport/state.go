package transport

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateChange is emitted on every lifecycle transition.
type StateChange struct {
	From State
	To   State
}

// transitions is the legal transition table. Closed is terminal.
var transitions = map[State]map[State]bool{
	StateDisconnected: {StateConnecting: true, StateClosed: true},
	StateConnecting:   {StateConnected: true, StateReconnecting: true, StateClosed: true},
	StateConnected:    {StateReconnecting: true, StateClosed: true},
	StateReconnecting: {StateConnecting: true, StateClosed: true},
	StateClosed:       {},
}

func canTransition(from, to State) bool {
	return transitions[from][to]
}
