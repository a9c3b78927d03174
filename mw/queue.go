package mw

import (
	"context"
	"sync"
	"time"

	"github.com/VolantMQ/vlbolt/packet"
)

// queue incoming packets shared by all transport connections.
// Waiters are woken by closing change channel
type queue struct {
	lock   sync.Mutex
	items  []*packet.Packet
	change chan struct{}
	err    error
}

func newQueue() *queue {
	return &queue{
		change: make(chan struct{}),
	}
}

func (q *queue) broadcastLocked() {
	close(q.change)
	q.change = make(chan struct{})
}

func (q *queue) push(p *packet.Packet) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.err != nil {
		return
	}

	q.items = append(q.items, p)
	q.broadcastLocked()
}

// close wakes all waiters. Queued packets are still handed out, then err is returned
func (q *queue) close(err error) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.err != nil {
		return
	}

	q.err = err
	q.broadcastLocked()
}

func (q *queue) len() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return len(q.items)
}

// pop next packet. Returns nil, nil on timeout. Negative timeout waits until ctx done
func (q *queue) pop(ctx context.Context, timeout time.Duration) (*packet.Packet, error) {
	if timeout >= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		q.lock.Lock()
		if len(q.items) > 0 {
			p := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.lock.Unlock()
			return p, nil
		}

		err := q.err
		change := q.change
		q.lock.Unlock()

		if err != nil {
			return nil, err
		}

		select {
		case <-change:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded && timeout >= 0 {
				return nil, nil
			}
			return nil, ctx.Err()
		}
	}
}
