package connection

import (
	"time"

	"github.com/VolantMQ/vlbolt/packet"
)

// keepAlive sends ECHO every ping interval while dispatching
func (c *Connection) keepAlive() {
	defer c.wg.Done()

	if c.opts.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.ping()
		}
	}
}

func (c *Connection) ping() {
	if c.state.State() != StateConnected || c.state.Mode() != ModeDispatching {
		return
	}

	p := packet.New(packet.ECHO)
	if err := p.Meta().Add(packet.NewID(c.NextID())); err != nil {
		c.log.Errorw("ping", "error", err)
		return
	}

	if err := c.Put(p); err != nil {
		c.log.Debugw("ping", "error", err)
	}
}
