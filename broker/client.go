package broker

import (
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/VolantMQ/vlbolt/packet"
	"github.com/VolantMQ/vlbolt/transport"
)

// nolint: golint
const (
	PropertyVersion = "VERSION"
	PropertyError   = "ERROR"
)

const writeTimeout = 10 * time.Second

type client struct {
	id      uint64
	srv     *Server
	conn    transport.Conn
	log     *zap.SugaredLogger
	wLock   sync.Mutex
	lock    sync.Mutex
	filters map[string]struct{}
	done    chan struct{}
	onClose sync.Once
}

var _ subscriber = (*client)(nil)

func newClient(srv *Server, id uint64, cn transport.Conn) *client {
	return &client{
		id:      id,
		srv:     srv,
		conn:    cn,
		filters: make(map[string]struct{}),
		done:    make(chan struct{}),
		log: srv.log.Named("client").With(
			"id", id,
			"remote", cn.RemoteAddr().String()),
	}
}

// Hash subscriber identity in topics tree
func (c *client) Hash() uint64 {
	return c.id
}

func (c *client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// serve blocks until client disconnects
func (c *client) serve() {
	defer c.close()

	welcome := packet.New(packet.WELCOME)
	if err := welcome.Meta().Add(packet.NewString(PropertyVersion, c.srv.Version)); err != nil {
		c.log.Errorw("welcome", "error", err)
		return
	}

	if !c.put(welcome) {
		return
	}

	c.log.Debug("connected")

	for {
		if c.srv.InactivityTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.InactivityTimeout))
		}

		p, err := packet.ReadFrame(c.conn, c.srv.MaxPacketSize)
		if err != nil {
			c.readError(err)
			return
		}

		c.srv.Metrics.Packets().OnRecv(p.Type())

		if !c.handle(p) {
			return
		}
	}
}

func (c *client) readError(err error) {
	if c.closed() {
		return
	}

	var ne net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.log.Debug("disconnected")
	case errors.As(err, &ne) && ne.Timeout():
		c.log.Infow("extended inactivity. disconnecting", "timeout", c.srv.InactivityTimeout.String())
	case errors.Is(err, packet.ErrInvalidLength):
		c.srv.Metrics.Packets().OnRejected(0)
		c.log.Warnw("frame rejected. disconnecting", "error", err)
	default:
		c.log.Warnw("read failed. disconnecting", "error", err)
	}
}

// handle returns false when client should be disconnected
func (c *client) handle(p *packet.Packet) bool {
	switch p.Type() {
	case packet.NEGOTIATE:
		return c.ack(p.Meta().ID(), nil)
	case packet.SUBSCRIBE:
		return c.ack(p.Meta().ID(), c.subscribe(topicsOf(p)))
	case packet.UNSUBSCRIBE:
		return c.ack(p.Meta().ID(), c.unsubscribe(topicsOf(p)))
	case packet.PUBLISH, packet.REQUEST:
		buf, err := packet.Encode(p)
		if err != nil {
			c.log.Errorw("encode", "error", err)
			return true
		}

		if p.Type() == packet.REQUEST && len(p.Meta().ID()) != 0 {
			c.srv.requests.Add(p.Meta().ID(), c)
		}

		c.srv.route(c, p, buf)
	case packet.REPLY:
		buf, err := packet.Encode(p)
		if err != nil {
			c.log.Errorw("encode", "error", err)
			return true
		}

		c.srv.routeReply(c, p, buf)
	case packet.ECHO:
		return c.put(p)
	case packet.GOODBYE:
		c.log.Debug("goodbye")
		return false
	default:
		c.log.Warnw("unexpected packet", "type", p.Type().Name())
		e := packet.New(packet.ERROR)
		e.SetPayload([]byte("unexpected " + p.Type().Name()))
		return c.put(e)
	}

	return true
}

// topicsOf TOPIC, TOPIC-2 ... TOPIC-n properties of subscribe request
func topicsOf(p *packet.Packet) []string {
	var res []string

	if t := p.Meta().Topic(); len(t) != 0 {
		res = append(res, t)
	}

	for _, name := range p.Meta().Names() {
		if !strings.HasPrefix(name, packet.NameTopic+"-") {
			continue
		}

		if _, err := strconv.Atoi(strings.TrimPrefix(name, packet.NameTopic+"-")); err != nil {
			continue
		}

		if prop, ok := p.Meta().Get(name); ok {
			res = append(res, prop.AsString())
		}
	}

	return res
}

func (c *client) subscribe(filters []string) error {
	if len(filters) == 0 {
		return errors.Wrap(ErrInvalidTopic, "no topic")
	}

	var failed []string

	for _, f := range filters {
		if _, err := c.srv.topics.subscribe(f, c); err != nil {
			failed = append(failed, err.Error())
			continue
		}

		c.lock.Lock()
		c.filters[f] = struct{}{}
		c.lock.Unlock()

		c.log.Debugw("subscribed", "topic", f)
	}

	if len(failed) != 0 {
		return errors.New(strings.Join(failed, "; "))
	}

	return nil
}

func (c *client) unsubscribe(filters []string) error {
	if len(filters) == 0 {
		return errors.Wrap(ErrInvalidTopic, "no topic")
	}

	var failed []string

	for _, f := range filters {
		c.lock.Lock()
		delete(c.filters, f)
		c.lock.Unlock()

		if err := c.srv.topics.unsubscribe(f, c); err != nil {
			failed = append(failed, f+": "+err.Error())
		}
	}

	if len(failed) != 0 {
		return errors.New(strings.Join(failed, "; "))
	}

	return nil
}

// ack echoes request ID back. Failure reason goes to ERROR property
func (c *client) ack(id string, reason error) bool {
	a := packet.New(packet.ACK)

	if len(id) != 0 {
		if err := a.Meta().Add(packet.NewID(id)); err != nil {
			c.log.Errorw("ack", "error", err)
		}
	}

	if reason != nil {
		c.log.Infow("request rejected", "id", id, "reason", reason)
		if err := a.Meta().Add(packet.NewString(PropertyError, reason.Error())); err != nil {
			c.log.Errorw("ack", "error", err)
		}
	}

	return c.put(a)
}

func (c *client) put(p *packet.Packet) bool {
	buf, err := packet.Encode(p)
	if err != nil {
		c.log.Errorw("encode", "type", p.Type().Name(), "error", err)
		return false
	}

	return c.send(p.Type(), buf)
}

// send pre-encoded frame. Write failure closes the client
func (c *client) send(t packet.Type, buf []byte) bool {
	if c.closed() {
		return false
	}

	c.wLock.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(buf)
	c.wLock.Unlock()

	if err != nil {
		c.log.Debugw("write failed", "error", err)
		c.close()
		return false
	}

	c.srv.Metrics.Packets().OnSent(t)

	return true
}

// goodbye server side shutdown of the client
func (c *client) goodbye() {
	c.put(packet.New(packet.GOODBYE))
	c.close()
}

func (c *client) close() {
	c.onClose.Do(func() {
		close(c.done)

		c.lock.Lock()
		filters := c.filters
		c.filters = make(map[string]struct{})
		c.lock.Unlock()

		for f := range filters {
			_ = c.srv.topics.unsubscribe(f, c)
		}

		if err := c.conn.Close(); err != nil {
			c.log.Debugw("close", "error", err)
		}
	})
}
