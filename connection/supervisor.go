package connection

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// supervise waits for RECONNECTING and reconnects with backoff until connected or finished
func (c *Connection) supervise() {
	defer c.wg.Done()

	for {
		c.state.await(-1, func(st State, _ Mode) bool {
			return st == StateReconnecting || st == StateFinished
		})

		if c.state.State() == StateFinished {
			return
		}

		c.reconnect()
	}
}

func (c *Connection) reconnect() {
	op := func() error {
		switch c.state.State() {
		case StateFinished:
			return backoff.Permanent(ErrFinished)
		case StateReconnecting:
		default:
			return nil
		}

		c.metric.Connections().OnReconnect()

		return c.attempt()
	}

	notify := func(err error, d time.Duration) {
		c.log.Warnw("reconnect failed", "error", err, "retryIn", d.Truncate(time.Millisecond).String())
	}

	err := backoff.RetryNotify(op, backoff.WithContext(c.opts.Reconnect.backOff(), c.ctx), notify)
	if err == nil || errors.Is(err, ErrFinished) || errors.Is(err, context.Canceled) {
		return
	}

	c.log.Errorw("giving up reconnect", "error", err)
	c.finish(newError(KindIO, "reconnect", errors.Wrap(ErrReconnectFailed, err.Error())))
}

// attempt single reconnect. Connected socket must pass handshake to count
func (c *Connection) attempt() error {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	if st := c.state.State(); st != StateReconnecting {
		if st == StateFinished {
			return backoff.Permanent(ErrFinished)
		}
		return nil
	}

	if err := c.socket.Connect(c.ctx, c.server); err != nil {
		return err
	}

	epoch, ok := c.state.connected()
	if !ok {
		_ = c.socket.Disconnect()
		return backoff.Permanent(ErrFinished)
	}

	c.metric.Connections().OnConnected()

	if err := c.awaitHandshake(c.ctx, epoch); err != nil {
		c.drop(epoch, StateReconnecting, err)
		return err
	}

	c.log.Infow("reconnected")
	c.notify(StateConnected, nil)

	return nil
}
