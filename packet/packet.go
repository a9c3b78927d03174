package packet

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Packet frame: header, meta and opaque payload.
// Packet is exclusively owned by its creator until handed to a writer or packet handler
type Packet struct {
	header  Header
	meta    *Meta
	payload []byte
}

// New allocate packet of given type with empty meta and payload
func New(t Type) *Packet {
	return &Packet{
		header: NewHeader(t),
		meta:   NewMeta(),
	}
}

// Type of the packet
func (p *Packet) Type() Type {
	return p.header.Type()
}

// Header of the packet. Size is recomputed on every Encode
func (p *Packet) Header() *Header {
	return &p.header
}

// Meta returns packet meta, never nil
func (p *Packet) Meta() *Meta {
	if p.meta == nil {
		p.meta = NewMeta()
	}

	return p.meta
}

// SetMeta replaces packet meta. Ownership of m transfers to the packet
func (p *Packet) SetMeta(m *Meta) {
	p.meta = m
}

// Payload opaque body bytes
func (p *Packet) Payload() []byte {
	return p.payload
}

// SetPayload sets opaque body bytes
func (p *Packet) SetPayload(b []byte) {
	p.payload = b
}

func (p *Packet) bodySize() int {
	m := p.Meta()
	if m.Len() == 0 && len(p.payload) == 0 {
		return 0
	}

	return m.Size() + len(p.payload)
}

// Size of whole frame
func (p *Packet) Size() (int, error) {
	body := p.bodySize()
	if body > math.MaxInt32-HeaderSize {
		return 0, ErrInvalidLength
	}

	return HeaderSize + body, nil
}

// Encode packet into buffer, Size() should be called to determine expected buffer size
func (p *Packet) Encode(to []byte) (int, error) {
	expected, err := p.Size()
	if err != nil {
		return 0, err
	}

	if len(to) < expected {
		return 0, ErrInsufficientBufferSize
	}

	if err = p.header.setSize(int32(expected - HeaderSize)); err != nil {
		return 0, err
	}

	offset, _ := p.header.Encode(to)

	if p.header.Size() == 0 {
		return offset, nil
	}

	var n int
	if n, err = p.meta.Encode(to[offset:]); err != nil {
		return offset + n, err
	}

	offset += n
	offset += copy(to[offset:], p.payload)

	if offset != expected {
		return offset, errors.Wrapf(ErrEncodeMismatch, "packet: predicted %d bytes, wrote %d", expected, offset)
	}

	return offset, nil
}

// String short description for logs
func (p *Packet) String() string {
	m := p.Meta()
	return fmt.Sprintf("%s[id=%q topic=%q size=%d]", p.Type().Name(), m.ID(), m.Topic(), p.header.Size())
}

// Encode try encode packet into newly allocated buffer
func Encode(p *Packet) ([]byte, error) {
	var sz int
	var buf []byte
	var err error

	if sz, err = p.Size(); err == nil {
		buf = make([]byte, sz)
		_, err = p.Encode(buf)
	}

	return buf, err
}

// FromContent builds a packet from a parsed header and its complete body bytes.
// Payload is copied so body may be reused by the caller
func FromContent(h *Header, body []byte) (*Packet, error) {
	if int(h.Size()) != len(body) {
		return nil, errors.Wrapf(ErrInvalidLength, "packet: header size %d, body %d", h.Size(), len(body))
	}

	p := &Packet{
		header: *h,
		meta:   NewMeta(),
	}

	if len(body) == 0 {
		return p, nil
	}

	n, err := p.meta.Decode(body)
	if err != nil {
		return nil, err
	}

	if n < len(body) {
		p.payload = append([]byte{}, body[n:]...)
	}

	return p, nil
}

// Decode single frame from buf. Returns number of bytes consumed.
// ErrInsufficientDataSize means buf holds only part of the frame
func Decode(buf []byte) (*Packet, int, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, 0, err
	}

	total := HeaderSize + int(h.Size())
	if len(buf) < total {
		return nil, 0, ErrInsufficientDataSize
	}

	var p *Packet
	if p, err = FromContent(h, buf[HeaderSize:total]); err != nil {
		return nil, 0, err
	}

	return p, total, nil
}
