package protocol

import "sync"

// State is the lifecycle of one controller session.
type State int

const (
	Handshaking State = iota
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type ConnState struct {
	mu         sync.Mutex
	state      State
	clientName string
	sessionID  string
}

func NewConnState() *ConnState {
	return &ConnState{state: Handshaking}
}

func (cs *ConnState) Set(state State) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.state = state
}

func (cs *ConnState) Get() State {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

func (cs *ConnState) SetClientName(name string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.clientName = name
}

func (cs *ConnState) GetClientName() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.clientName
}

func (cs *ConnState) SetSessionID(id string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.sessionID = id
}

func (cs *ConnState) GetSessionID() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.sessionID
}
