package connection

import (
	"github.com/VolantMQ/vlbolt/packet"
)

// Event connection state change delivered to listeners
type Event struct {
	Err    error
	Server string
	State  State
}

// EventListener receives connection events.
// Called from connection internal goroutines, must not block
type EventListener interface {
	OnEvent(Event)
}

// EventListenerFunc adapter to use ordinary function as listener
type EventListenerFunc func(Event)

// OnEvent calls f(e)
func (f EventListenerFunc) OnEvent(e Event) {
	f(e)
}

// Handler receives packets dispatched by reader goroutine
type Handler func(*packet.Packet)
