package connection

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/VolantMQ/vlbolt/metrics"
	"github.com/VolantMQ/vlbolt/packet"
)

// source of raw bytes. Read returns 0, nil when nothing arrived within timeout
type source interface {
	Read(b []byte, timeout time.Duration) (int, error)
}

type signalPacket func(*packet.Packet)
type signalError func(uint64, error)

// reader turns byte stream into packets. Only reader goroutine reads the socket
type reader struct {
	src           source
	state         *shared
	onPacket      signalPacket
	onError       signalError
	log           *zap.SugaredLogger
	metric        metrics.Packets
	warn          *rate.Limiter
	lastRead      time.Time
	in            inputState
	wg            sync.WaitGroup
	readTimeout   time.Duration
	idle          time.Duration
	inactivity    time.Duration
	maxPacketSize int32
}

type readerOption func(*reader) error

func newReader() *reader {
	return &reader{
		log:           zap.NewNop().Sugar(),
		metric:        metrics.Nop().Packets(),
		warn:          rate.NewLimiter(rate.Every(time.Second), 1),
		readTimeout:   100 * time.Millisecond,
		idle:          time.Second,
		maxPacketSize: packet.DefaultMaxPacketSize,
	}
}

func (r *reader) run() {
	r.wg.Add(1)
	go r.routine()
}

func (r *reader) shutdown() {
	r.wg.Wait()
}

// routine exits only when state reaches FINISHED
func (r *reader) routine() {
	defer r.wg.Done()

	for r.poll() {
	}
}

// poll single step of reader loop. Returns false once state is FINISHED
func (r *reader) poll() bool {
	switch r.state.State() {
	case StateFinished:
		return false
	case StateConnected:
	default:
		r.state.await(r.idle, func(st State, _ Mode) bool {
			return st == StateConnected || st == StateFinished
		})
		return true
	}

	epoch := r.state.Epoch()
	if epoch != r.in.epoch {
		if r.in.partial() {
			r.log.Debugw("socket replaced. discarding partial frame", "epoch", epoch, "received", r.in.pos)
		}

		r.in.reset()
		r.in.epoch = epoch
		r.lastRead = time.Now()
	}

	n, err := r.src.Read(r.in.pending(), r.readTimeout)
	if err != nil {
		r.onError(epoch, classify("read", KindIO, err))
		return true
	}

	if n == 0 {
		r.checkActivity(epoch)
		return true
	}

	r.lastRead = time.Now()
	r.in.pos += n

	if err = r.advance(); err != nil {
		r.log.Errorw("dropping connection", "error", err)
		r.onError(epoch, err)
	}

	return true
}

func (r *reader) checkActivity(epoch uint64) {
	if r.inactivity <= 0 {
		return
	}

	idle := time.Since(r.lastRead)

	if idle >= r.inactivity {
		r.onError(epoch, newError(KindIO, "read", ErrInactivity))
		return
	}

	if idle >= r.inactivity/2 && r.warn.Allow() {
		r.log.Warnw("inactivity", "nothing read for", idle.Truncate(time.Millisecond).String())
	}
}

// advance completes header or body phase when enough bytes accumulated
func (r *reader) advance() error {
	if r.in.hdr == nil {
		if r.in.pos < packet.HeaderSize {
			return nil
		}

		h, err := packet.ParseHeader(r.in.header[:])
		if err != nil {
			r.in.reset()
			return classify("read header", KindProtocol, err)
		}

		if r.maxPacketSize > 0 && h.Size() > r.maxPacketSize {
			r.in.reset()
			r.metric.OnRejected(int(h.Size()))
			return newError(KindProtocol, "read header",
				errors.Wrapf(packet.ErrInvalidLength, "size %d exceeds limit %d", h.Size(), r.maxPacketSize))
		}

		r.in.hdr = h
		r.in.pos = 0

		if h.Size() > 0 {
			r.in.body = make([]byte, h.Size())
			return nil
		}
	} else if r.in.pos < len(r.in.body) {
		return nil
	}

	pkt, err := packet.FromContent(r.in.hdr, r.in.body)
	r.in.reset()

	if err != nil {
		return classify("read body", KindProtocol, err)
	}

	r.metric.OnRecv(pkt.Type())
	r.dispatch(pkt)

	return nil
}

// dispatch hands packet over to handler. Handler panic must not kill the reader
func (r *reader) dispatch(pkt *packet.Packet) {
	defer func() {
		if e := recover(); e != nil {
			r.log.Errorw("packet handler panic", "type", pkt.Type().Name(), "panic", e)
		}
	}()

	r.onPacket(pkt)
}
