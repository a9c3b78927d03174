package connection

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/VolantMQ/vlbolt/configuration"
	"github.com/VolantMQ/vlbolt/metrics"
	"github.com/VolantMQ/vlbolt/packet"
	"github.com/VolantMQ/vlbolt/transport"
)

// PropertyVersion WELCOME property carrying broker version
const PropertyVersion = "VERSION"

// PropertyError ACK property carrying rejection reason
const PropertyError = "ERROR"

// Connection transport connection to single broker.
// Owns socket, reader goroutine, keep-alive and reconnect supervisor
type Connection struct {
	server   transport.Server
	socket   *transport.Socket
	state    *shared
	rx       *reader
	log      *zap.SugaredLogger
	metric   metrics.Informer
	ctx      context.Context
	cancel   context.CancelFunc
	acks     ackTable
	opts     Options
	tag      string
	counter  atomic.Uint64
	connLock sync.Mutex
	wg       sync.WaitGroup
	onStart  sync.Once
	onStop   sync.Once

	subs struct {
		lock   sync.Mutex
		topics []string
	}

	handlers struct {
		lock      sync.RWMutex
		onPacket  Handler
		onReply   Handler
		listeners []EventListener
	}
}

// New allocate connection to server. Nothing is dialed until Connect
func New(srv transport.Server, opts ...Option) (*Connection, error) {
	c := &Connection{
		server: srv,
		state:  newShared(),
		opts:   DefaultOptions(),
		metric: metrics.Nop(),
		tag:    uuid.NewString()[:8],
	}

	if err := c.SetOptions(opts...); err != nil {
		return nil, err
	}

	if c.log == nil {
		c.log = configuration.GetLogger()
	}

	c.log = c.log.Named("bolt.conn[" + c.tag + "]").With("server", srv.String())

	c.ctx, c.cancel = context.WithCancel(context.Background())

	dial := c.opts.Dial
	dial.Metric = c.metric.Bytes()
	c.socket = transport.NewSocket(dial)

	c.rx = newReader()
	if err := c.rx.setOptions(
		rdSource(c.socket),
		rdState(c.state),
		rdOnPacket(c.handle),
		rdOnError(c.ioError),
		rdLog(c.log),
		rdMetric(c.metric.Packets()),
		rdMaxPacketSize(c.opts.MaxPacketSize),
		rdReadTimeout(c.opts.ReadTimeout),
		rdInactivity(c.opts.InactivityTimeout),
	); err != nil {
		return nil, err
	}

	if c.opts.Managed {
		c.state.set(StateManaged)
	} else {
		c.state.set(StateUnconnected)
	}

	return c, nil
}

// Server connection endpoint
func (c *Connection) Server() transport.Server {
	return c.server
}

// State current lifecycle state
func (c *Connection) State() State {
	return c.state.State()
}

// Mode current handshake mode
func (c *Connection) Mode() Mode {
	return c.state.Mode()
}

// Tag short unique tag of this connection
func (c *Connection) Tag() string {
	return c.tag
}

// Options tunables connection runs with
func (c *Connection) Options() Options {
	return c.opts
}

// NextID unique within connection lifetime, reconnects included
func (c *Connection) NextID() string {
	return c.tag + ":" + strconv.FormatUint(c.counter.Add(1), 10)
}

// Await blocks until pred satisfied or timeout. Negative timeout waits forever
func (c *Connection) Await(timeout time.Duration, pred StatePredicate) bool {
	return c.state.await(timeout, pred)
}

// SetHandler default handler of PUBLISH and REQUEST packets
func (c *Connection) SetHandler(h Handler) {
	c.handlers.lock.Lock()
	c.handlers.onPacket = h
	c.handlers.lock.Unlock()
}

// SetReplyHandler handler of REPLY packets
func (c *Connection) SetReplyHandler(h Handler) {
	c.handlers.lock.Lock()
	c.handlers.onReply = h
	c.handlers.lock.Unlock()
}

// RegisterEventListener listener receives state changes
func (c *Connection) RegisterEventListener(l EventListener) {
	c.handlers.lock.Lock()
	c.handlers.listeners = append(c.handlers.listeners, l)
	c.handlers.lock.Unlock()
}

func (c *Connection) notify(st State, err error) {
	c.handlers.lock.RLock()
	listeners := append([]EventListener{}, c.handlers.listeners...)
	c.handlers.lock.RUnlock()

	e := Event{
		Server: c.server.String(),
		State:  st,
		Err:    err,
	}

	for _, l := range listeners {
		l.OnEvent(e)
	}
}

func (c *Connection) start() {
	c.onStart.Do(func() {
		c.rx.run()

		c.wg.Add(2)
		go c.supervise()
		go c.keepAlive()
	})
}

// Connect dial server and wait for handshake to complete.
// Failure leaves connection UNCONNECTED, managed connection goes on retrying in background
func (c *Connection) Connect(ctx context.Context) error {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	prev := c.state.State()

	switch prev {
	case StateConnected:
		return newError(KindState, "connect", ErrAlreadyConnected)
	case StateFinished:
		return newError(KindState, "connect", ErrFinished)
	case StateReconnecting:
		return newError(KindState, "connect", errors.New("reconnect in progress"))
	}

	c.start()

	fallback := StateUnconnected
	if prev == StateManaged {
		fallback = StateReconnecting
	}

	if err := c.socket.Connect(ctx, c.server); err != nil {
		c.log.Warnw("connect failed", "error", err)
		c.state.set(fallback)
		return newError(KindConnect, "connect", err)
	}

	epoch, ok := c.state.connectedWith(fallback)
	if !ok {
		_ = c.socket.Disconnect()
		return newError(KindState, "connect", ErrFinished)
	}

	c.metric.Connections().OnConnected()

	if err := c.awaitHandshake(ctx, epoch); err != nil {
		c.log.Warnw("handshake failed", "error", err)
		c.drop(epoch, fallback, err)
		return newError(KindConnect, "connect", err)
	}

	c.log.Infow("connected")
	c.notify(StateConnected, nil)

	return nil
}

// awaitHandshake waits until connection reaches DISPATCHING mode on the same socket
func (c *Connection) awaitHandshake(ctx context.Context, epoch uint64) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	ok := c.state.awaitContext(ctx, func(st State, m Mode) bool {
		return st != StateConnected || m == ModeDispatching
	})

	if c.state.Epoch() != epoch || c.state.State() != StateConnected {
		if err := c.state.Reason(); err != nil {
			return err
		}

		return ErrNotConnected
	}

	if !ok {
		return ErrHandshakeTimeout
	}

	return nil
}

// awaitDispatching operations issued during reconnect handshake wait for it to complete
func (c *Connection) awaitDispatching(op string, timeout time.Duration) error {
	c.state.await(timeout, func(st State, m Mode) bool {
		return st != StateConnected || m == ModeDispatching
	})

	if st := c.state.State(); st != StateConnected {
		if st == StateFinished {
			return newError(KindState, op, ErrFinished)
		}

		return newError(KindState, op, errors.Wrapf(ErrNotConnected, "state %s", st))
	}

	if c.state.Mode() != ModeDispatching {
		return newError(KindIO, op, ErrHandshakeTimeout)
	}

	return nil
}

// drop tear down socket if failure belongs to its epoch
func (c *Connection) drop(epoch uint64, to State, reason error) bool {
	if !c.state.drop(epoch, to, reason) {
		return false
	}

	_ = c.socket.Disconnect()
	c.metric.Connections().OnDisconnected()

	return true
}

// ioError CONNECTED -> RECONNECTING. Supervisor takes it from there.
// Failure during handshake of plain initial connect goes to UNCONNECTED and is reported by Connect
func (c *Connection) ioError(epoch uint64, reason error) {
	to, ok := c.state.ioErrorTo(epoch, reason)
	if !ok {
		return
	}

	_ = c.socket.Disconnect()
	c.metric.Connections().OnDisconnected()

	if to != StateReconnecting {
		c.log.Warnw("connection lost during handshake", "error", reason)
		return
	}

	c.log.Warnw("connection broken. reconnecting", "error", reason)
	c.notify(StateReconnecting, reason)
}

// Disconnect send GOODBYE if possible, close socket and stop all goroutines.
// State becomes FINISHED and never changes after. Must not be called from handlers
func (c *Connection) Disconnect() error {
	c.onStop.Do(func() {
		prev := c.state.State()
		if prev == StateConnected {
			if err := c.Put(packet.New(packet.GOODBYE)); err != nil {
				c.log.Debugw("goodbye", "error", err)
			}
		}

		c.finish(nil)
		c.wg.Wait()
		c.rx.shutdown()

		c.log.Infow("disconnected")
	})

	return nil
}

// finish terminal transition shared by Disconnect and exhausted reconnect
func (c *Connection) finish(reason error) {
	prev, ok := c.state.finish()
	if !ok {
		return
	}

	c.cancel()
	_ = c.socket.Disconnect()

	if prev == StateConnected {
		c.metric.Connections().OnDisconnected()
	}

	c.notify(StateFinished, reason)
}

// Put write packet to the socket. Valid only in CONNECTED state
func (c *Connection) Put(p *packet.Packet) error {
	buf, err := packet.Encode(p)
	if err != nil {
		return classify("put", KindBug, err)
	}

	return c.PutEncoded(p.Type(), buf)
}

// PutEncoded write already encoded frame of type t. buf is not modified,
// the same frame may be written to several connections concurrently
func (c *Connection) PutEncoded(t packet.Type, buf []byte) error {
	if st := c.state.State(); st != StateConnected {
		if st == StateFinished {
			return newError(KindState, "put", ErrFinished)
		}

		return newError(KindState, "put", errors.Wrapf(ErrNotConnected, "state %s", st))
	}

	epoch := c.state.Epoch()

	if err := c.socket.Write(buf); err != nil {
		c.ioError(epoch, errors.Wrap(err, "write"))
		return newError(KindIO, "put", err)
	}

	c.metric.Packets().OnSent(t)

	return nil
}

// Subscribe topic and wait for ACK. Topic is resubscribed after reconnect,
// also when subscribing failed while connection was being re-established
func (c *Connection) Subscribe(topic string) error {
	if len(topic) == 0 {
		return newError(KindState, "subscribe", ErrInvalidSubject)
	}

	if err := c.exchange("subscribe", packet.SUBSCRIBE, topic); err != nil {
		if st := c.state.State(); st == StateReconnecting || st == StateManaged {
			// restored by resubscribe once connected
			c.remember(topic)
		}
		return err
	}

	c.remember(topic)

	return nil
}

func (c *Connection) remember(topic string) {
	c.subs.lock.Lock()
	defer c.subs.lock.Unlock()

	for _, t := range c.subs.topics {
		if t == topic {
			return
		}
	}

	c.subs.topics = append(c.subs.topics, topic)
}

// Unsubscribe topic and wait for ACK
func (c *Connection) Unsubscribe(topic string) error {
	if len(topic) == 0 {
		return newError(KindState, "unsubscribe", ErrInvalidSubject)
	}

	c.subs.lock.Lock()
	for i, t := range c.subs.topics {
		if t == topic {
			c.subs.topics = append(c.subs.topics[:i], c.subs.topics[i+1:]...)
			break
		}
	}
	c.subs.lock.Unlock()

	return c.exchange("unsubscribe", packet.UNSUBSCRIBE, topic)
}

// Subscriptions topics to be restored after reconnect
func (c *Connection) Subscriptions() []string {
	c.subs.lock.Lock()
	defer c.subs.lock.Unlock()

	return append([]string{}, c.subs.topics...)
}

// exchange send packet stamped with fresh ID and wait for its ACK
func (c *Connection) exchange(op string, t packet.Type, topic string) error {
	if err := c.awaitDispatching(op, c.opts.HandshakeTimeout); err != nil {
		return err
	}

	id := c.NextID()

	p := packet.New(t)
	if err := p.Meta().Add(packet.NewID(id)); err != nil {
		return classify(op, KindBug, err)
	}

	if err := p.Meta().Add(packet.NewTopic(topic)); err != nil {
		return classify(op, KindProtocol, err)
	}

	ack := c.acks.expect(id)
	defer c.acks.forget(id)

	if err := c.Put(p); err != nil {
		return err
	}

	timer := time.NewTimer(c.opts.AckTimeout)
	defer timer.Stop()

	select {
	case a := <-ack:
		if reason, ok := a.Meta().Get(PropertyError); ok {
			return newError(KindProtocol, op, errors.Wrap(ErrRejected, reason.AsString()))
		}
		return nil
	case <-timer.C:
		return newError(KindIO, op, ErrAckTimeout)
	case <-c.ctx.Done():
		return newError(KindState, op, ErrFinished)
	}
}

// resubscribe all remembered topics in single SUBSCRIBE.
// Returns false if there is nothing to resubscribe
func (c *Connection) resubscribe() bool {
	topics := c.Subscriptions()
	if len(topics) == 0 {
		return false
	}

	p := packet.New(packet.SUBSCRIBE)
	m := p.Meta()

	if err := m.Add(packet.NewID(c.NextID())); err != nil {
		c.log.Errorw("resubscribe", "error", err)
		return false
	}

	for i, topic := range topics {
		var err error
		if i == 0 {
			err = m.Add(packet.NewTopic(topic))
		} else {
			err = m.Add(packet.NewString(packet.NameTopic+"-"+strconv.Itoa(i+1), topic))
		}

		if err != nil {
			c.log.Errorw("resubscribe", "topic", topic, "error", err)
		}
	}

	if err := c.Put(p); err != nil {
		c.log.Warnw("resubscribe", "error", err)
		return false
	}

	c.log.Debugw("resubscribing", "topics", topics)

	return true
}

// handle packet delivered by reader
func (c *Connection) handle(p *packet.Packet) {
	t := p.Type()

	switch t {
	case packet.ECHO:
		c.log.Debugw("echo", "id", p.Meta().ID())
		return
	case packet.GOODBYE:
		c.ioError(c.state.Epoch(), ErrGoodbye)
		return
	case packet.ERROR:
		c.log.Warnw("peer reported error", "meta", p.Meta().Names(), "payload", string(p.Payload()))
		return
	}

	if mode := c.state.Mode(); mode != ModeDispatching {
		c.handshake(mode, p)
		return
	}

	c.handlers.lock.RLock()
	onPacket := c.handlers.onPacket
	onReply := c.handlers.onReply
	c.handlers.lock.RUnlock()

	switch t {
	case packet.ACK:
		if !c.acks.release(p) {
			c.log.Debugw("unexpected ack", "id", p.Meta().ID())
		}
	case packet.PUBLISH, packet.REQUEST:
		if onPacket == nil {
			c.log.Debugw("no handler. dropping", "type", t.Name(), "id", p.Meta().ID())
			return
		}
		onPacket(p)
	case packet.REPLY:
		if onReply != nil {
			onReply(p)
		}

		if c.opts.ExposeReplies && onPacket != nil {
			onPacket(p)
		}
	default:
		c.log.Warnw("unexpected packet", "type", t.Name())
	}
}

// handshake WELCOME -> NEGOTIATE -> ACK [-> SUBSCRIBE -> ACK]
func (c *Connection) handshake(mode Mode, p *packet.Packet) {
	epoch := c.state.Epoch()

	switch {
	case mode == ModeStarting && p.Type() == packet.WELCOME:
		c.state.advance(epoch, ModeStarting, ModeWelcomed)

		if v, ok := p.Meta().Get(PropertyVersion); ok {
			c.log.Debugw("welcome", "version", v.AsString())
		} else {
			c.log.Warnw("welcome: missing VERSION")
		}

		c.state.advance(epoch, ModeWelcomed, ModeNegotiating)

		if err := c.Put(packet.New(packet.NEGOTIATE)); err != nil {
			c.log.Warnw("negotiate", "error", err)
		}
	case mode == ModeNegotiating && p.Type() == packet.ACK:
		if c.resubscribe() {
			c.state.advance(epoch, ModeNegotiating, ModeResubscribing)
		} else {
			c.state.advance(epoch, ModeNegotiating, ModeDispatching)
		}
	case mode == ModeResubscribing && p.Type() == packet.ACK:
		if reason, ok := p.Meta().Get(PropertyError); ok {
			c.log.Warnw("resubscribe rejected", "reason", reason.AsString())
		}
		c.state.advance(epoch, ModeResubscribing, ModeDispatching)
	default:
		c.log.Warnw("unexpected packet during handshake", "mode", mode.String(), "type", p.Type().Name())
	}
}
