package connection

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/VolantMQ/vlbolt/packet"
)

type packetCounter struct {
	sent     int
	recv     int
	rejected int
}

func (c *packetCounter) OnSent(packet.Type) { c.sent++ }
func (c *packetCounter) OnRecv(packet.Type) { c.recv++ }
func (c *packetCounter) OnRejected(int)     { c.rejected++ }

// chunkSource hands out queued bytes at most chunk bytes per read
type chunkSource struct {
	lock  sync.Mutex
	data  []byte
	chunk int
	err   error
}

func (s *chunkSource) push(b []byte) {
	s.lock.Lock()
	s.data = append(s.data, b...)
	s.lock.Unlock()
}

func (s *chunkSource) empty() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.data) == 0
}

func (s *chunkSource) Read(b []byte, _ time.Duration) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.err != nil {
		return 0, s.err
	}

	n := len(b)
	if s.chunk > 0 && n > s.chunk {
		n = s.chunk
	}

	if n > len(s.data) {
		n = len(s.data)
	}

	copy(b, s.data[:n])
	s.data = s.data[n:]

	return n, nil
}

type readerHarness struct {
	r       *reader
	src     *chunkSource
	state   *shared
	packets []*packet.Packet
	errs    []error
}

func newReaderHarness(t *testing.T, chunk int, opts ...readerOption) *readerHarness {
	t.Helper()

	h := &readerHarness{
		src:   &chunkSource{chunk: chunk},
		state: newShared(),
	}

	h.r = newReader()
	h.r.idle = 5 * time.Millisecond

	require.NoError(t, h.r.setOptions(
		rdSource(h.src),
		rdState(h.state),
		rdOnPacket(func(p *packet.Packet) {
			h.packets = append(h.packets, p)
		}),
		rdOnError(func(_ uint64, err error) {
			h.errs = append(h.errs, err)
		}),
	))
	require.NoError(t, h.r.setOptions(opts...))

	h.state.set(StateUnconnected)
	_, ok := h.state.connected()
	require.True(t, ok)

	return h
}

func (h *readerHarness) drain(t *testing.T) {
	t.Helper()

	for i := 0; !h.src.empty(); i++ {
		require.Less(t, i, 1<<20, "reader does not make progress")
		require.True(t, h.r.poll())
	}
}

func encodeAll(t *testing.T, pkts ...*packet.Packet) []byte {
	t.Helper()

	var buf bytes.Buffer
	for _, p := range pkts {
		b, err := packet.Encode(p)
		require.NoError(t, err)
		buf.Write(b)
	}

	return buf.Bytes()
}

func samplePackets(t *testing.T) []*packet.Packet {
	t.Helper()

	pub := packet.New(packet.PUBLISH)
	require.NoError(t, pub.Meta().Add(packet.NewID("id_1")))
	require.NoError(t, pub.Meta().Add(packet.NewTopic("GMSEC.A.B")))
	require.NoError(t, pub.Meta().Add(packet.NewInteger("COUNT", -7)))
	require.NoError(t, pub.Meta().Add(packet.NewReal("RATE", 2.5)))
	pub.SetPayload(bytes.Repeat([]byte("xyz"), 100))

	echo := packet.New(packet.ECHO)

	ack := packet.New(packet.ACK)
	require.NoError(t, ack.Meta().Add(packet.NewID("sub:1")))

	req := packet.New(packet.REQUEST)
	require.NoError(t, req.Meta().Add(packet.NewCorrID("id_2")))
	require.NoError(t, req.Meta().Add(packet.NewFlag("URGENT", true)))

	return []*packet.Packet{pub, echo, ack, req}
}

func requireSamePackets(t *testing.T, exp, got []*packet.Packet) {
	t.Helper()

	require.Len(t, got, len(exp))

	for i := range exp {
		require.Equal(t, exp[i].Type(), got[i].Type())
		require.Equal(t, exp[i].Meta().Names(), got[i].Meta().Names())
		exp[i].Meta().ForEach(func(p packet.Property) {
			g, ok := got[i].Meta().Get(p.Name())
			require.True(t, ok)
			require.Equal(t, p.Type(), g.Type())
			require.Equal(t, p.AsString(), g.AsString())
		})
		require.Equal(t, len(exp[i].Payload()), len(got[i].Payload()))
		if len(exp[i].Payload()) > 0 {
			require.Equal(t, exp[i].Payload(), got[i].Payload())
		}
	}
}

func TestReaderChunkingIsTransparent(t *testing.T) {
	exp := samplePackets(t)
	stream := encodeAll(t, exp...)

	var results [][]*packet.Packet

	for _, chunk := range []int{1, 2, 5, 7, 1 << 16} {
		counter := &packetCounter{}
		h := newReaderHarness(t, chunk, rdMetric(counter))
		h.src.push(stream)
		h.drain(t)

		require.Empty(t, h.errs, "chunk %d", chunk)
		require.Equal(t, len(exp), counter.recv)
		require.False(t, h.r.in.partial())
		requireSamePackets(t, exp, h.packets)

		results = append(results, h.packets)
	}

	for i := 1; i < len(results); i++ {
		requireSamePackets(t, results[0], results[i])
	}
}

func TestReaderEpochChangeMidFrame(t *testing.T) {
	h := newReaderHarness(t, 0)

	stale := packet.New(packet.PUBLISH)
	stale.SetPayload([]byte{1, 2, 3, 4})
	staleBuf := encodeAll(t, stale)
	require.Len(t, staleBuf, packet.HeaderSize+10)

	// header and 3 of 10 body bytes
	h.src.push(staleBuf[:packet.HeaderSize+3])
	require.True(t, h.r.poll())
	require.True(t, h.r.poll())
	require.NotNil(t, h.r.in.hdr)
	require.Equal(t, 3, h.r.in.pos)

	// socket replaced
	require.True(t, h.state.ioError(h.state.Epoch(), errors.New("reset")))
	_, ok := h.state.connected()
	require.True(t, ok)

	fresh := packet.New(packet.ACK)
	require.NoError(t, fresh.Meta().Add(packet.NewID("after")))
	h.src.push(encodeAll(t, fresh))

	require.True(t, h.r.poll())
	require.Equal(t, h.state.Epoch(), h.r.in.epoch)
	require.NotNil(t, h.r.in.hdr)
	require.Equal(t, packet.ACK, h.r.in.hdr.Type())

	h.drain(t)

	require.Empty(t, h.errs)
	require.Len(t, h.packets, 1)
	require.Equal(t, packet.ACK, h.packets[0].Type())
	require.Equal(t, "after", h.packets[0].Meta().ID())
}

func TestReaderInvalidHeader(t *testing.T) {
	h := newReaderHarness(t, 0)

	h.src.push([]byte{0xEE, 0, 0, 0, 0, 0})
	h.drain(t)

	require.Len(t, h.errs, 1)
	require.Equal(t, KindProtocol, KindOf(h.errs[0]))
	require.False(t, h.r.in.partial())
	require.Empty(t, h.packets)
}

func TestReaderMalformedMeta(t *testing.T) {
	h := newReaderHarness(t, 3)

	// declared body of 8 bytes holds meta claiming 2 properties but none
	h.src.push([]byte{byte(packet.PUBLISH), 0, 0, 0, 0, 8, 0, 0, 0, 8, 0, 2, 0xFF, 0xFF})
	h.drain(t)

	require.Len(t, h.errs, 1)
	require.Equal(t, KindProtocol, KindOf(h.errs[0]))
	require.Empty(t, h.packets)
}

func TestReaderOversizedFrame(t *testing.T) {
	counter := &packetCounter{}
	h := newReaderHarness(t, 0, rdMaxPacketSize(16), rdMetric(counter))

	big := packet.New(packet.PUBLISH)
	big.SetPayload(make([]byte, 64))
	h.src.push(encodeAll(t, big)[:packet.HeaderSize])
	h.drain(t)

	require.Len(t, h.errs, 1)
	require.Equal(t, KindProtocol, KindOf(h.errs[0]))
	require.True(t, errors.Is(h.errs[0], packet.ErrInvalidLength))
	require.Equal(t, 1, counter.rejected)
	require.Zero(t, counter.recv)
}

func TestReaderReadError(t *testing.T) {
	h := newReaderHarness(t, 0)
	h.src.err = errors.New("connection reset by peer")

	require.True(t, h.r.poll())
	require.Len(t, h.errs, 1)
	require.Equal(t, KindIO, KindOf(h.errs[0]))
}

func TestReaderInactivity(t *testing.T) {
	h := newReaderHarness(t, 0, rdInactivity(20*time.Millisecond))

	deadline := time.Now().Add(5 * time.Second)
	for len(h.errs) == 0 && time.Now().Before(deadline) {
		require.True(t, h.r.poll())
		time.Sleep(time.Millisecond)
	}

	require.NotEmpty(t, h.errs)
	require.True(t, errors.Is(h.errs[0], ErrInactivity))
}

func TestReaderParksWhileDisconnected(t *testing.T) {
	h := newReaderHarness(t, 0)
	h.src.push(encodeAll(t, packet.New(packet.ECHO)))

	require.True(t, h.state.ioError(h.state.Epoch(), errors.New("down")))

	start := time.Now()
	require.True(t, h.r.poll())
	require.GreaterOrEqual(t, time.Since(start), h.r.idle)
	require.Empty(t, h.packets)

	h.state.finish()
	require.False(t, h.r.poll())
}

func TestReaderRoutineExitsOnFinish(t *testing.T) {
	h := newReaderHarness(t, 0)

	h.r.run()
	h.src.push(encodeAll(t, packet.New(packet.ECHO)))

	time.Sleep(20 * time.Millisecond)
	h.state.finish()

	done := make(chan struct{})
	go func() {
		h.r.shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "reader did not exit")
	}
}

func TestReaderSurvivesHandlerPanic(t *testing.T) {
	h := newReaderHarness(t, 0)

	calls := 0
	h.r.onPacket = func(p *packet.Packet) {
		calls++
		if calls == 1 {
			panic("handler bug")
		}
	}

	h.src.push(encodeAll(t, packet.New(packet.ECHO), packet.New(packet.ECHO)))
	h.drain(t)

	require.Equal(t, 2, calls)
	require.Empty(t, h.errs)
}
