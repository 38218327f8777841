package session

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	// StateClosed follows an unexpected close. A reconnect may be pending.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
