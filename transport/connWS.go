package transport

import (
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/VolantMQ/vlbolt/metrics"
	"github.com/gorilla/websocket"
)

// connWs adapts client side websocket to a byte stream.
// Messages are pumped by a dedicated goroutine so read deadlines can expire
// without poisoning the websocket connection
type connWs struct {
	conn     *websocket.Conn
	stat     metrics.Bytes
	frames   chan []byte
	done     chan struct{}
	rem      []byte
	lock     sync.Mutex
	deadline time.Time
	once     sync.Once
}

var _ Conn = (*connWs)(nil)

func newConnWs(cn *websocket.Conn, stat metrics.Bytes) *connWs {
	c := &connWs{
		conn:   cn,
		stat:   stat,
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}

	go c.pump()

	return c
}

func (c *connWs) pump() {
	defer close(c.frames)

	for {
		mType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		// text, ping and pong messages carry no protocol bytes
		if mType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}

		select {
		case c.frames <- data:
		case <-c.done:
			return
		}
	}
}

func (c *connWs) readDeadline() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.deadline
}

// Read
func (c *connWs) Read(b []byte) (int, error) {
	if len(c.rem) == 0 {
		var expired <-chan time.Time

		if d := c.readDeadline(); !d.IsZero() {
			timer := time.NewTimer(time.Until(d))
			defer timer.Stop()
			expired = timer.C
		}

		select {
		case data, ok := <-c.frames:
			if !ok {
				return 0, io.EOF
			}
			c.rem = data
		case <-expired:
			return 0, os.ErrDeadlineExceeded
		}
	}

	n := copy(b, c.rem)
	c.rem = c.rem[n:]
	c.stat.OnRecv(n)

	return n, nil
}

func (c *connWs) Write(b []byte) (int, error) {
	err := c.conn.WriteMessage(websocket.BinaryMessage, b)
	n := 0
	if err == nil {
		n = len(b)
		c.stat.OnSent(n)
	}

	return n, err
}

func (c *connWs) Close() error {
	var err error

	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})

	return err
}

func (c *connWs) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *connWs) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *connWs) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}

	return c.SetWriteDeadline(t)
}

func (c *connWs) SetReadDeadline(t time.Time) error {
	c.lock.Lock()
	c.deadline = t
	c.lock.Unlock()

	return nil
}

func (c *connWs) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}
