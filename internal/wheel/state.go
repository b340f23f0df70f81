package wheel

import "errors"

// State is the lifecycle of the virtual device owned by a Wheel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyConnected = errors.New("virtual device already connected")
	ErrNotConnected     = errors.New("virtual device not connected")
	ErrBusy             = errors.New("virtual device transition in progress")
)

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
