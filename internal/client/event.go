package client

import "github.com/omochice/toy-private-chat/pkg/protocol"

// State is the lifecycle stage of a Manager's connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Joined
	Closing
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Authenticating:
		return "AUTHENTICATING"
	case Joined:
		return "JOINED"
	case Closing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered on Manager.Events. It is one of StateChanged,
// FrameReceived or FrameSent.
type Event interface {
	event()
}

// StateChanged reports a lifecycle transition. Err is set when the transition
// was caused by a transport failure.
type StateChanged struct {
	State State
	Err   error
}

// FrameReceived carries a decoded inbound frame.
type FrameReceived struct {
	Frame protocol.Frame
}

// FrameSent reports that a frame queued with Send was written to the transport.
type FrameSent struct {
	Frame protocol.Frame
}

func (StateChanged) event()  {}
func (FrameReceived) event() {}
func (FrameSent) event()     {}
