package mw

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/troian/healthcheck"
	"go.uber.org/zap"

	"github.com/VolantMQ/vlbolt/configuration"
	"github.com/VolantMQ/vlbolt/connection"
	"github.com/VolantMQ/vlbolt/metrics"
	"github.com/VolantMQ/vlbolt/packet"
	"github.com/VolantMQ/vlbolt/transport"
)

// requestTTL how long Request id is remembered for routing its reply into Receive
const requestTTL = 5 * time.Minute

// nolint: golint
var (
	ErrReservedField = errors.New("reserved header field")
	ErrNoRequestID   = errors.New("request has no id")
)

// transmit sends packet over every transport connection, succeeds if any succeeded
type transmit func(op string, p *packet.Packet) error

// base logic common to single and multiple server connections
type base struct {
	settings *settings
	servers  []transport.Server
	tag      string
	counter  atomic.Uint64
	log      *zap.SugaredLogger
	metric   metrics.Informer
	connOpts []connection.Option
	filter   *connection.UniqueFilter
	replies  *connection.Correlator
	incoming *queue
	endpoint atomic.Value
	put      transmit
	attached []*connection.Connection
	refLock  sync.Mutex

	// requested ids issued by Request whose replies go to Receive
	requested *expirable.LRU[string, struct{}]

	listeners struct {
		lock     sync.RWMutex
		events   []connection.EventListener
		messages []MessageListener
	}
}

func newBase(s *settings, servers []transport.Server, opts ...Option) (*base, error) {
	b := &base{
		settings: s,
		servers:  servers,
		tag:      uuid.NewString()[:8],
		metric:   metrics.Nop(),
		incoming: newQueue(),
	}

	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}

	if b.log == nil {
		b.log = configuration.GetLogger()
	}

	b.filter = connection.NewUniqueFilter(s.filterSize, s.filterTTL)
	b.replies = connection.NewCorrelator(b.log, b.metric.Connections())
	b.requested = expirable.NewLRU[string, struct{}](connection.DefaultFilterSize, nil, requestTTL)
	b.endpoint.Store("")

	return b, nil
}

// connectionOptions options every transport connection is created with
func (b *base) connectionOptions(managed bool) []connection.Option {
	opts := []connection.Option{
		connection.Logger(b.log),
		connection.Metric(b.metric),
		connection.Managed(managed),
	}

	opts = append(opts, b.settings.options...)
	opts = append(opts, b.connOpts...)

	return append(opts,
		connection.ExposeReplies(false),
		connection.OnPacket(b.handlePacket),
		connection.OnReplyPacket(b.handleReply),
		connection.OnEvent(connection.EventListenerFunc(b.onEvent)),
	)
}

// UniqueID tag_counter, unique across all connections of the process
func (b *base) UniqueID() string {
	return b.tag + "_" + strconv.FormatUint(b.counter.Add(1), 10)
}

// Endpoint connected servers, comma separated
func (b *base) Endpoint() string {
	return b.endpoint.Load().(string)
}

// LibraryVersion ...
func (b *base) LibraryVersion() string {
	return "Bolt " + Version
}

// MWInfo ...
func (b *base) MWInfo() string {
	return RootName
}

// OnEvent register connection event listener
func (b *base) OnEvent(l connection.EventListener) {
	b.listeners.lock.Lock()
	b.listeners.events = append(b.listeners.events, l)
	b.listeners.lock.Unlock()
}

// OnMessage register listener invoked by Dispatch
func (b *base) OnMessage(l MessageListener) {
	b.listeners.lock.Lock()
	b.listeners.messages = append(b.listeners.messages, l)
	b.listeners.lock.Unlock()
}

// attach transport connections, must be called before any of them is connected
func (b *base) attach(conns ...*connection.Connection) {
	b.attached = conns
}

// refresh endpoint. Incoming queue closes once every connection is finished
func (b *base) refresh() {
	b.refLock.Lock()
	defer b.refLock.Unlock()

	var endpoints []string

	finished := 0

	for _, c := range b.attached {
		switch c.State() {
		case connection.StateConnected:
			endpoints = append(endpoints, c.Server().String())
		case connection.StateFinished:
			finished++
		}
	}

	b.endpoint.Store(strings.Join(endpoints, ","))

	if len(b.attached) > 0 && finished == len(b.attached) {
		b.shutdown()
	}
}

func (b *base) onEvent(e connection.Event) {
	b.refresh()

	b.listeners.lock.RLock()
	listeners := append([]connection.EventListener{}, b.listeners.events...)
	b.listeners.lock.RUnlock()

	for _, l := range listeners {
		l.OnEvent(e)
	}
}

// HealthCheck succeeds when at least one configured server accepts TCP connections
func (b *base) HealthCheck() healthcheck.Check {
	checks := make([]healthcheck.Check, 0, len(b.servers))
	for _, s := range b.servers {
		checks = append(checks, healthcheck.TCPDialCheck(s.Address(), time.Second))
	}

	return func() error {
		var err error

		for _, check := range checks {
			if err = check(); err == nil {
				return nil
			}
		}

		return err
	}
}

// makePacket packet of type t carrying message headers, subject and payload
func (b *base) makePacket(op string, msg *Message, t packet.Type, id string) (*packet.Packet, error) {
	if msg == nil {
		return nil, connection.NewError(connection.KindState, op, errors.New("nil message"))
	}

	if len(msg.Subject) == 0 {
		return nil, connection.NewError(connection.KindState, op, connection.ErrInvalidSubject)
	}

	p := packet.New(t)
	m := p.Meta()

	for _, name := range msg.Fields() {
		if packet.IsWellKnownName(name) {
			return nil, connection.NewError(connection.KindState, op, errors.Wrap(ErrReservedField, name))
		}

		var prop packet.Property

		switch v := msg.fields[name].(type) {
		case string:
			prop = packet.NewString(name, v)
		case bool:
			prop = packet.NewFlag(name, v)
		case int32:
			prop = packet.NewInteger(name, v)
		case float64:
			prop = packet.NewReal(name, v)
		default:
			return nil, connection.NewError(connection.KindState, op, errors.Errorf("field %s: unsupported type %T", name, v))
		}

		if err := m.Add(prop); err != nil {
			return nil, connection.Classify(op, connection.KindState, errors.Wrap(err, name))
		}
	}

	if err := m.Add(packet.NewID(id)); err != nil {
		return nil, connection.Classify(op, connection.KindState, err)
	}

	if err := m.Add(packet.NewTopic(msg.Subject)); err != nil {
		return nil, connection.Classify(op, connection.KindState, err)
	}

	p.SetPayload(msg.Payload)

	return p, nil
}

// fromPacket message out of received packet. Packet without subject is rejected
func (b *base) fromPacket(p *packet.Packet) (*Message, error) {
	kind, ok := kindOf(p.Type())
	if !ok {
		return nil, connection.NewError(connection.KindProtocol, "receive",
			errors.Wrapf(packet.ErrInvalidMessageType, "unable to decode message kind from %s", p.Type().Name()))
	}

	m := p.Meta()

	msg := NewMessage(m.Topic(), kind)
	if len(msg.Subject) == 0 {
		return nil, connection.NewError(connection.KindProtocol, "receive", errors.Wrap(connection.ErrInvalidSubject, "no TOPIC"))
	}

	msg.id = m.ID()
	msg.corrID = m.CorrID()
	msg.replyTo = m.ReplyTo()
	msg.Payload = p.Payload()

	m.ForEach(func(prop packet.Property) {
		switch prop.Type() {
		case packet.PropertyString:
			msg.fields[prop.Name()] = prop.AsString()
		case packet.PropertyFlag:
			msg.fields[prop.Name()] = prop.AsFlag()
		case packet.PropertyI32:
			if v, err := prop.AsInteger(); err == nil {
				msg.fields[prop.Name()] = v
			}
		case packet.PropertyF64:
			if v, err := prop.AsReal(); err == nil {
				msg.fields[prop.Name()] = v
			}
		case packet.PropertyID, packet.PropertyTopic, packet.PropertyCorrID, packet.PropertyReplyTo:
		default:
			b.log.Debugw("ignoring property", "name", prop.Name(), "type", prop.Type())
		}
	})

	return msg, nil
}

// publishPacket PUBLISH, REQUEST or REPLY according to message kind
func (b *base) publishPacket(msg *Message) (*packet.Packet, error) {
	if msg == nil {
		return nil, connection.NewError(connection.KindState, "publish", errors.New("nil message"))
	}

	id := b.UniqueID()

	p, err := b.makePacket("publish", msg, msg.Kind.packetType(), id)
	if err != nil {
		return nil, err
	}

	switch msg.Kind {
	case KindRequest:
		err = p.Meta().Add(packet.NewCorrID(id))
	case KindReply:
		if len(msg.corrID) != 0 {
			err = p.Meta().Add(packet.NewCorrID(msg.corrID))
		}
	}

	if err != nil {
		return nil, connection.Classify("publish", connection.KindState, err)
	}

	return p, nil
}

// requestPacket REQUEST with ID == CORR_ID == id
func (b *base) requestPacket(msg *Message, id string) (*packet.Packet, error) {
	p, err := b.makePacket("request", msg, packet.REQUEST, id)
	if err != nil {
		return nil, err
	}

	if err = p.Meta().Add(packet.NewCorrID(id)); err != nil {
		return nil, connection.Classify("request", connection.KindState, err)
	}

	if len(b.settings.replyTo) != 0 {
		if err = p.Meta().Add(packet.NewReplyTo(b.settings.replyTo)); err != nil {
			return nil, connection.Classify("request", connection.KindState, err)
		}
	}

	return p, nil
}

// Publish message according to its kind
func (b *base) Publish(msg *Message, _ Config) error {
	p, err := b.publishPacket(msg)
	if err != nil {
		return err
	}

	if err = b.put("publish", p); err != nil {
		return err
	}

	msg.id = p.Meta().ID()

	return nil
}

// Request send request. Reply is delivered through Receive
func (b *base) Request(msg *Message) (string, error) {
	id := b.UniqueID()

	p, err := b.requestPacket(msg, id)
	if err != nil {
		return "", err
	}

	b.requested.Add(id, struct{}{})

	if err = b.put("request", p); err != nil {
		b.requested.Remove(id)
		return "", err
	}

	msg.id = id

	return id, nil
}

// RequestReply send request and wait for its reply.
// Returns nil, nil if no reply arrived within timeout. Negative timeout waits until ctx done
func (b *base) RequestReply(ctx context.Context, msg *Message, timeout time.Duration) (*Message, error) {
	id := b.UniqueID()

	p, err := b.requestPacket(msg, id)
	if err != nil {
		return nil, err
	}

	ch := b.replies.Register(id)

	if err = b.put("request", p); err != nil {
		b.replies.Remove(id)
		return nil, err
	}

	msg.id = id

	reply, err := b.replies.Wait(ctx, id, ch, timeout)
	if err != nil {
		return nil, connection.NewError(connection.KindState, "request", err)
	}

	if reply == nil {
		return nil, nil
	}

	return b.fromPacket(reply)
}

// RequestAsync send request, cb receives reply on reader goroutine
func (b *base) RequestAsync(msg *Message, cb OnReply) (string, error) {
	id := b.UniqueID()

	p, err := b.requestPacket(msg, id)
	if err != nil {
		return "", err
	}

	b.replies.RegisterCallback(id, func(reply *packet.Packet) {
		m, e := b.fromPacket(reply)
		if e != nil {
			b.log.Warnw("bad reply", "corrID", id, "error", e)
			return
		}

		cb(m)
	})

	if err = b.put("request", p); err != nil {
		b.replies.Remove(id)
		return "", err
	}

	msg.id = id

	return id, nil
}

// Reply answer request. Reply goes to request REPLY_TO when set, otherwise to reply subject
func (b *base) Reply(request, reply *Message) error {
	if request == nil || reply == nil {
		return connection.NewError(connection.KindState, "reply", errors.New("nil message"))
	}

	corrID := request.corrID
	if len(corrID) == 0 {
		corrID = request.id
	}

	if len(corrID) == 0 {
		return connection.NewError(connection.KindState, "reply", ErrNoRequestID)
	}

	msg := *reply
	if len(request.replyTo) != 0 {
		msg.Subject = request.replyTo
	}

	p, err := b.makePacket("reply", &msg, packet.REPLY, b.UniqueID())
	if err != nil {
		return err
	}

	if err = p.Meta().Add(packet.NewCorrID(corrID)); err != nil {
		return connection.Classify("reply", connection.KindState, err)
	}

	if err = b.put("reply", p); err != nil {
		return err
	}

	reply.id = p.Meta().ID()
	reply.corrID = corrID
	reply.Kind = KindReply

	return nil
}

// handlePacket PUBLISH and REQUEST from any transport connection
func (b *base) handlePacket(p *packet.Packet) {
	id := p.Meta().ID()

	if !b.filter.Update(id) {
		b.metric.Connections().OnDuplicate()
		b.log.Debugw("duplicate dropped", "id", id)
		return
	}

	if len(p.Meta().Topic()) == 0 {
		b.log.Warnw("bad packet: no subject", "type", p.Type().Name(), "id", id)
		return
	}

	b.incoming.push(p)
}

// handleReply waiting requester first, then Receive if reply was asked for or exposed
func (b *base) handleReply(p *packet.Packet) {
	if !b.filter.Update(p.Meta().ID()) {
		b.metric.Connections().OnDuplicate()
		return
	}

	corrID := p.Meta().CorrID()

	if _, ok := b.requested.Peek(corrID); ok {
		b.requested.Remove(corrID)
		b.incoming.push(p)
		return
	}

	if !b.replies.Deliver(p) && b.settings.expose {
		b.incoming.push(p)
	}
}

// receive next message from shared queue. nil, nil on timeout
func (b *base) receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	for {
		p, err := b.incoming.pop(ctx, timeout)
		if err != nil {
			if _, ok := err.(*connection.Error); ok {
				return nil, err
			}
			return nil, connection.NewError(connection.KindState, "receive", err)
		}

		if p == nil {
			return nil, nil
		}

		msg, err := b.fromPacket(p)
		if err != nil {
			// already filtered by handlePacket. Should not happen
			b.log.Warnw("dropping message", "error", err)
			continue
		}

		return msg, nil
	}
}

// Receive next message. Returns nil, nil on timeout, negative timeout waits forever
func (b *base) Receive(timeout time.Duration) (*Message, error) {
	return b.receive(context.Background(), timeout)
}

// Dispatch deliver received messages to OnMessage listeners until ctx done or disconnected
func (b *base) Dispatch(ctx context.Context) error {
	for {
		msg, err := b.receive(ctx, -1)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		b.listeners.lock.RLock()
		listeners := append([]MessageListener{}, b.listeners.messages...)
		b.listeners.lock.RUnlock()

		for _, l := range listeners {
			l.OnMessage(msg)
		}
	}
}

func (b *base) shutdown() {
	b.incoming.close(connection.NewError(connection.KindState, "receive", connection.ErrFinished))
}
