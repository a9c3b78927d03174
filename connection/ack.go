package connection

import (
	"sync"

	"github.com/VolantMQ/vlbolt/packet"
)

// ackTable ACK waiters keyed by ID of acknowledged packet
type ackTable struct {
	lock    sync.Mutex
	waiters map[string]chan *packet.Packet
}

func (a *ackTable) expect(id string) <-chan *packet.Packet {
	ch := make(chan *packet.Packet, 1)

	a.lock.Lock()
	if a.waiters == nil {
		a.waiters = make(map[string]chan *packet.Packet)
	}
	a.waiters[id] = ch
	a.lock.Unlock()

	return ch
}

func (a *ackTable) forget(id string) {
	a.lock.Lock()
	delete(a.waiters, id)
	a.lock.Unlock()
}

func (a *ackTable) release(pkt *packet.Packet) bool {
	id := pkt.Meta().ID()

	a.lock.Lock()
	ch, ok := a.waiters[id]
	delete(a.waiters, id)
	a.lock.Unlock()

	if ok {
		ch <- pkt
	}

	return ok
}
