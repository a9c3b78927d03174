package transport

import (
	"net"

	"github.com/VolantMQ/vlbolt/metrics"
)

// Conn is wrapper to net.Conn
// implemented to encapsulate bytes statistic
type Conn interface {
	net.Conn
}

type conn struct {
	net.Conn
	stat metrics.Bytes
}

var _ Conn = (*conn)(nil)

// Handler accepts connections produced by a listener
type Handler interface {
	OnConnection(Conn) error
}

func newConn(cn net.Conn, stat metrics.Bytes) *conn {
	return &conn{
		Conn: cn,
		stat: stat,
	}
}

// Read ...
func (c *conn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.stat.OnRecv(n)

	return n, err
}

// Write ...
func (c *conn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.stat.OnSent(n)

	return n, err
}
