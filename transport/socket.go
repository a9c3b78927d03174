package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// maxNoProgress write attempts in a row which moved no bytes before giving up
const maxNoProgress = 3

var (
	// ErrNotConnected socket has no live connection
	ErrNotConnected = errors.New("transport: not connected")

	// ErrNoProgress write did not move any bytes several times in a row
	ErrNoProgress = errors.New("transport: write makes no progress")
)

// Socket client side byte stream to a single server.
// Read is expected to be called from single goroutine, Write is serialized internally
type Socket struct {
	cfg   DialConfig
	lock  sync.RWMutex
	wLock sync.Mutex
	conn  Conn
	srv   Server
}

// NewSocket allocate socket
func NewSocket(cfg DialConfig) *Socket {
	return &Socket{cfg: cfg}
}

// Connect dial server. Previously open connection, if any, is closed
func (s *Socket) Connect(ctx context.Context, srv Server) error {
	cn, err := Dial(ctx, srv, s.cfg)
	if err != nil {
		return err
	}

	s.lock.Lock()
	prev := s.conn
	s.conn = cn
	s.srv = srv
	s.lock.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	return nil
}

// Server last server socket connected to
func (s *Socket) Server() Server {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.srv
}

// Connected either socket has live connection
func (s *Socket) Connected() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.conn != nil
}

func (s *Socket) current() Conn {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.conn
}

// Read up to len(b) bytes waiting no longer than timeout.
// Returns 0, nil when no data arrived in time
func (s *Socket) Read(b []byte, timeout time.Duration) (int, error) {
	cn := s.current()
	if cn == nil {
		return 0, ErrNotConnected
	}

	if err := cn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}

	n, err := cn.Read(b)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, nil
		}
	}

	return n, err
}

// Write whole buffer. Partial writes retried until complete or error
func (s *Socket) Write(b []byte) error {
	s.wLock.Lock()
	defer s.wLock.Unlock()

	cn := s.current()
	if cn == nil {
		return ErrNotConnected
	}

	if s.cfg.WriteTimeout > 0 {
		if err := cn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return err
		}
	}

	noProgress := 0

	for offset := 0; offset < len(b); {
		n, err := cn.Write(b[offset:])
		offset += n

		if err != nil {
			return err
		}

		if n == 0 {
			noProgress++
			if noProgress >= maxNoProgress {
				return ErrNoProgress
			}
		} else {
			noProgress = 0
		}
	}

	return nil
}

// Disconnect close connection. Safe to call several times
func (s *Socket) Disconnect() error {
	s.lock.Lock()
	cn := s.conn
	s.conn = nil
	s.lock.Unlock()

	if cn == nil {
		return nil
	}

	return cn.Close()
}
