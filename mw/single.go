package mw

import (
	"context"

	"github.com/VolantMQ/vlbolt/connection"
	"github.com/VolantMQ/vlbolt/packet"
	"github.com/VolantMQ/vlbolt/transport"
)

// Single connection to one server
type Single struct {
	*base
	conn *connection.Connection
}

var _ ConnectionInterface = (*Single)(nil)

func newSingle(s *settings, srv transport.Server, opts ...Option) (*Single, error) {
	b, err := newBase(s, []transport.Server{srv}, opts...)
	if err != nil {
		return nil, err
	}

	b.log = b.log.Named("mw.single")

	c, err := connection.New(srv, b.connectionOptions(false)...)
	if err != nil {
		return nil, connection.Classify("new", connection.KindState, err)
	}

	m := &Single{
		base: b,
		conn: c,
	}

	b.attach(c)
	b.put = m.transmit

	return m, nil
}

func (m *Single) transmit(op string, p *packet.Packet) error {
	return connection.Classify(op, connection.KindIO, m.conn.Put(p))
}

// Connect ...
func (m *Single) Connect(ctx context.Context) error {
	err := m.conn.Connect(ctx)
	m.refresh()

	return connection.Classify("connect", connection.KindConnect, err)
}

// Disconnect ...
func (m *Single) Disconnect() error {
	err := m.conn.Disconnect()
	m.shutdown()
	m.refresh()

	return connection.Classify("disconnect", connection.KindState, err)
}

// Subscribe ...
func (m *Single) Subscribe(subject string, _ Config) error {
	return connection.Classify("subscribe", connection.KindState, m.conn.Subscribe(subject))
}

// Unsubscribe ...
func (m *Single) Unsubscribe(subject string) error {
	return connection.Classify("unsubscribe", connection.KindState, m.conn.Unsubscribe(subject))
}

// State of the underlying connection
func (m *Single) State() connection.State {
	return m.conn.State()
}
