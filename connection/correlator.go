package connection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/VolantMQ/vlbolt/metrics"
	"github.com/VolantMQ/vlbolt/packet"
)

// OnReply receives reply of asynchronous request
type OnReply func(*packet.Packet)

type pendingRequest struct {
	ch chan *packet.Packet
	cb OnReply
}

// Correlator matches replies to requests by CORR_ID
type Correlator struct {
	lock    sync.Mutex
	pending map[string]pendingRequest
	log     *zap.SugaredLogger
	metric  metrics.Connections
}

// NewCorrelator allocate correlator
func NewCorrelator(log *zap.SugaredLogger, metric metrics.Connections) *Correlator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if metric == nil {
		metric = metrics.Nop().Connections()
	}

	return &Correlator{
		pending: make(map[string]pendingRequest),
		log:     log,
		metric:  metric,
	}
}

// Register blocking waiter for id. Channel receives at most one reply
func (c *Correlator) Register(id string) <-chan *packet.Packet {
	ch := make(chan *packet.Packet, 1)

	c.lock.Lock()
	c.pending[id] = pendingRequest{ch: ch}
	c.lock.Unlock()

	return ch
}

// RegisterCallback cb invoked from delivering goroutine when reply arrives
func (c *Correlator) RegisterCallback(id string, cb OnReply) {
	c.lock.Lock()
	c.pending[id] = pendingRequest{cb: cb}
	c.lock.Unlock()
}

// Remove registration. Returns false if id is not pending
func (c *Correlator) Remove(id string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	_, ok := c.pending[id]
	delete(c.pending, id)

	return ok
}

// Len number of pending requests
func (c *Correlator) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return len(c.pending)
}

// Deliver reply to its requester. Replies nobody waits for are dropped
func (c *Correlator) Deliver(reply *packet.Packet) bool {
	id := reply.Meta().CorrID()

	c.lock.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.lock.Unlock()

	if !ok {
		c.metric.OnOrphanReply()
		c.log.Debugw("dropping reply. no pending request", "corrID", id)
		return false
	}

	if req.cb != nil {
		req.cb(reply)
	} else {
		req.ch <- reply
	}

	return true
}

// Wait reply registered with Register. Returns nil, nil on timeout and removes registration.
// Negative timeout waits until ctx done
func (c *Correlator) Wait(ctx context.Context, id string, ch <-chan *packet.Packet, timeout time.Duration) (*packet.Packet, error) {
	if timeout >= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
	}

	if !c.Remove(id) {
		// Deliver already claimed the entry, its send is on the way
		return <-ch, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return nil, nil
	}

	return nil, ctx.Err()
}
