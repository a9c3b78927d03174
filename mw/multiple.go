package mw

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/VolantMQ/vlbolt/connection"
	"github.com/VolantMQ/vlbolt/packet"
	"github.com/VolantMQ/vlbolt/transport"
)

// Multiple connections to a set of servers acting as one.
// Outgoing operations go to every server, incoming messages are deduplicated by id
type Multiple struct {
	*base
	conns []*connection.Connection
}

var _ ConnectionInterface = (*Multiple)(nil)

// multiStatus operation succeeds if succeeded on any connection
type multiStatus struct {
	errs []error
}

func (s *multiStatus) result(op string, fallback connection.Kind) error {
	var first error

	for _, err := range s.errs {
		if err == nil {
			return nil
		}

		if first == nil {
			first = err
		}
	}

	if first == nil {
		return connection.NewError(connection.KindState, op, connection.ErrNoServers)
	}

	return connection.Classify(op, fallback, first)
}

func newMultiple(s *settings, servers []transport.Server, opts ...Option) (*Multiple, error) {
	b, err := newBase(s, servers, opts...)
	if err != nil {
		return nil, err
	}

	b.log = b.log.Named("mw.multi")

	m := &Multiple{
		base: b,
	}

	for _, srv := range servers {
		c, e := connection.New(srv, b.connectionOptions(true)...)
		if e != nil {
			for _, prev := range m.conns {
				_ = prev.Disconnect()
			}

			return nil, connection.Classify("new", connection.KindState, e)
		}

		m.conns = append(m.conns, c)
	}

	b.attach(m.conns...)
	b.put = m.transmit

	return m, nil
}

// fanOut run f concurrently on every connection
func (m *Multiple) fanOut(op string, fallback connection.Kind, f func(*connection.Connection) error) error {
	status := &multiStatus{
		errs: make([]error, len(m.conns)),
	}

	var g errgroup.Group

	for i, c := range m.conns {
		i, c := i, c
		g.Go(func() error {
			status.errs[i] = f(c)
			return nil
		})
	}

	_ = g.Wait()

	return status.result(op, fallback)
}

// transmit encodes p once, connections share the frame read-only
func (m *Multiple) transmit(op string, p *packet.Packet) error {
	buf, err := packet.Encode(p)
	if err != nil {
		return connection.Classify(op, connection.KindBug, err)
	}

	t := p.Type()

	return m.fanOut(op, connection.KindIO, func(c *connection.Connection) error {
		return c.PutEncoded(t, buf)
	})
}

// Connect every server. Servers which failed keep reconnecting in background
func (m *Multiple) Connect(ctx context.Context) error {
	err := m.fanOut("connect", connection.KindConnect, func(c *connection.Connection) error {
		return c.Connect(ctx)
	})

	m.refresh()

	return err
}

// Disconnect ...
func (m *Multiple) Disconnect() error {
	err := m.fanOut("disconnect", connection.KindState, func(c *connection.Connection) error {
		return c.Disconnect()
	})

	m.shutdown()
	m.refresh()

	return err
}

// Subscribe ...
func (m *Multiple) Subscribe(subject string, _ Config) error {
	return m.fanOut("subscribe", connection.KindState, func(c *connection.Connection) error {
		return c.Subscribe(subject)
	})
}

// Unsubscribe ...
func (m *Multiple) Unsubscribe(subject string) error {
	return m.fanOut("unsubscribe", connection.KindState, func(c *connection.Connection) error {
		return c.Unsubscribe(subject)
	})
}

// States of underlying connections in configuration order
func (m *Multiple) States() []connection.State {
	res := make([]connection.State, 0, len(m.conns))
	for _, c := range m.conns {
		res = append(res, c.State())
	}

	return res
}
