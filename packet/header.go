package packet

import "encoding/binary"

const (
	// HeaderSize fixed size of the frame header: type, flags and 32-bit body size
	HeaderSize = 6

	// DefaultMaxPacketSize is the largest body accepted unless configured otherwise
	DefaultMaxPacketSize int32 = 10 * 1024 * 1024
)

const (
	offsetType  = 0
	offsetFlags = 1
	offsetSize  = 2
)

// Header is the fixed-size frame prefix
type Header struct {
	mType Type
	flags byte
	size  int32
}

// NewHeader header of given type with empty body
func NewHeader(t Type) Header {
	return Header{mType: t}
}

// Type returns the packet type
func (h *Header) Type() Type {
	return h.mType
}

// Flags returns protocol version/flags byte
func (h *Header) Flags() byte {
	return h.flags
}

// SetFlags sets protocol version/flags byte
func (h *Header) SetFlags(f byte) {
	h.flags = f
}

// Size returns the body length (meta plus payload). Zero means a control packet without body
func (h *Header) Size() int32 {
	return h.size
}

// setSize sets the length of the body
// It returns error if the length is negative
func (h *Header) setSize(sz int32) error {
	if sz < 0 {
		return ErrInvalidLength
	}

	h.size = sz

	return nil
}

// Encode header into buffer
func (h *Header) Encode(to []byte) (int, error) {
	if len(to) < HeaderSize {
		return 0, ErrInsufficientBufferSize
	}

	to[offsetType] = byte(h.mType)
	to[offsetFlags] = h.flags
	binary.BigEndian.PutUint32(to[offsetSize:], uint32(h.size))

	return HeaderSize, nil
}

// ParseHeader decodes a header from the first HeaderSize bytes of buf.
// ErrInsufficientDataSize means the caller has to wait for more bytes,
// any other error means the stream is corrupt.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, ErrInsufficientDataSize
	}

	h := &Header{
		mType: Type(buf[offsetType]),
		flags: buf[offsetFlags],
		size:  int32(binary.BigEndian.Uint32(buf[offsetSize:])),
	}

	if !h.mType.Valid() {
		return nil, ErrInvalidMessageType
	}

	if h.size < 0 {
		return nil, ErrInvalidLength
	}

	return h, nil
}
