package room

type TransportState int

const (
	StateDisconnected TransportState = iota
	StateConnecting
	StateConnected
)

func (s TransportState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
