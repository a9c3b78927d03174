package metrics

import (
	"github.com/VolantMQ/vlbolt/packet"
)

// Bytes counts raw socket traffic
type Bytes interface {
	OnSent(int)
	OnRecv(int)
}

// Packets counts frames by type
type Packets interface {
	OnSent(p packet.Type)
	OnRecv(p packet.Type)
	OnRejected(n int)
}

// Connections tracks transport connection lifecycle and delivery outcomes
type Connections interface {
	OnConnected()
	OnDisconnected()
	OnReconnect()
	OnDuplicate()
	OnOrphanReply()
}

// Informer bundle of metric sinks handed to components
type Informer interface {
	Bytes() Bytes
	Packets() Packets
	Connections() Connections
}
