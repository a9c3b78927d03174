package connection

import (
	"strconv"
)

// State lifecycle of the transport connection
type State int32

// nolint: golint
const (
	StateUnknown State = iota
	StateManaged
	StateUnconnected
	StateConnected
	StateReconnecting
	StateFinished
)

var stateName = [...]string{
	StateUnknown:      "UNKNOWN",
	StateManaged:      "MANAGED",
	StateUnconnected:  "UNCONNECTED",
	StateConnected:    "CONNECTED",
	StateReconnecting: "RECONNECTING",
	StateFinished:     "FINISHED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateName) {
		return stateName[s]
	}

	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Mode handshake progress of connected transport
type Mode int32

// nolint: golint
const (
	ModeStarting Mode = iota
	ModeWelcomed
	ModeNegotiating
	ModeResubscribing
	ModeDispatching
)

var modeName = [...]string{
	ModeStarting:      "STARTING",
	ModeWelcomed:      "WELCOMED",
	ModeNegotiating:   "NEGOTIATING",
	ModeResubscribing: "RESUBSCRIBING",
	ModeDispatching:   "DISPATCHING",
}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeName) {
		return modeName[m]
	}

	return "Mode(" + strconv.Itoa(int(m)) + ")"
}
