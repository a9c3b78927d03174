package connection

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// StatePredicate condition over state and handshake mode
type StatePredicate func(State, Mode) bool

// shared single source of truth for connection lifecycle.
// State changes are broadcast by closing change channel and replacing it.
// epoch is written under lock only and may be read without it
type shared struct {
	lock   sync.Mutex
	change chan struct{}
	reason error
	epoch  atomic.Uint64
	state  State
	mode   Mode

	// fallback state an I/O failure of current socket leads to
	fallback State
}

func newShared() *shared {
	return &shared{
		change: make(chan struct{}),
		state:  StateUnknown,
		mode:   ModeStarting,
	}
}

// State point in time state
func (s *shared) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.state
}

// Mode point in time handshake mode
func (s *shared) Mode() Mode {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.mode
}

// Reason of the last connection drop
func (s *shared) Reason() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.reason
}

// Epoch socket generation. Changes every time socket is replaced or dropped
func (s *shared) Epoch() uint64 {
	return s.epoch.Load()
}

func (s *shared) broadcastLocked() {
	close(s.change)
	s.change = make(chan struct{})
}

func (s *shared) setLocked(st State) (State, bool) {
	prev := s.state
	if prev == StateFinished || prev == st {
		return prev, false
	}

	s.state = st
	s.broadcastLocked()

	return prev, true
}

// set unconditional transition. FINISHED is terminal
func (s *shared) set(st State) (State, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.setLocked(st)
}

// connected socket has been replaced with live one
// returns epoch of the new socket and false if state is already FINISHED
func (s *shared) connected() (uint64, bool) {
	return s.connectedWith(StateReconnecting)
}

// connectedWith as connected, I/O failure before handshake completes leads to fallback.
// Once DISPATCHING is reached failures always lead to RECONNECTING
func (s *shared) connectedWith(fallback State) (uint64, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state == StateFinished {
		return s.epoch.Load(), false
	}

	epoch := s.epoch.Add(1)
	s.mode = ModeStarting
	s.reason = nil
	s.fallback = fallback
	if _, changed := s.setLocked(StateConnected); !changed {
		s.broadcastLocked()
	}

	return epoch, true
}

// drop moves CONNECTED to the given state if failure belongs to the current socket
func (s *shared) drop(epoch uint64, to State, reason error) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state != StateConnected || s.epoch.Load() != epoch {
		return false
	}

	s.epoch.Add(1)
	s.reason = reason
	s.setLocked(to)

	return true
}

// ioError CONNECTED -> RECONNECTING, or to fallback of initial connect still in handshake.
// Does not reconnect by itself
func (s *shared) ioError(epoch uint64, reason error) bool {
	_, ok := s.ioErrorTo(epoch, reason)
	return ok
}

// ioErrorTo as ioError, also returns state connection was moved to
func (s *shared) ioErrorTo(epoch uint64, reason error) (State, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state != StateConnected || s.epoch.Load() != epoch {
		return s.state, false
	}

	to := s.fallback
	if to != StateUnconnected {
		to = StateReconnecting
	}

	s.epoch.Add(1)
	s.reason = reason
	s.setLocked(to)

	return to, true
}

// advance mode when socket epoch and current mode still match
func (s *shared) advance(epoch uint64, from Mode, to Mode) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state != StateConnected || s.epoch.Load() != epoch || s.mode != from {
		return false
	}

	s.mode = to
	if to == ModeDispatching {
		s.fallback = StateReconnecting
	}
	s.broadcastLocked()

	return true
}

// finish terminal transition. Returns previous state and false if already finished
func (s *shared) finish() (State, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	prev := s.state
	if prev == StateFinished {
		return prev, false
	}

	s.epoch.Add(1)
	s.setLocked(StateFinished)

	return prev, true
}

// await blocks until predicate satisfied or timeout elapsed. Negative timeout waits forever
func (s *shared) await(timeout time.Duration, pred StatePredicate) bool {
	ctx := context.Background()

	if timeout >= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return s.awaitContext(ctx, pred)
}

// awaitContext blocks until predicate satisfied or ctx done
func (s *shared) awaitContext(ctx context.Context, pred StatePredicate) bool {
	for {
		s.lock.Lock()
		ok := pred(s.state, s.mode)
		change := s.change
		s.lock.Unlock()

		if ok {
			return true
		}

		select {
		case <-change:
		case <-ctx.Done():
			return false
		}
	}
}
