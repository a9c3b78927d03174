package connection

import (
	"github.com/VolantMQ/vlbolt/packet"
)

// inputState partial frame accumulated across reads
type inputState struct {
	header [packet.HeaderSize]byte
	hdr    *packet.Header
	body   []byte
	pos    int
	epoch  uint64
}

func (in *inputState) reset() {
	in.hdr = nil
	in.body = nil
	in.pos = 0
}

// pending unfilled part of current phase
func (in *inputState) pending() []byte {
	if in.hdr == nil {
		return in.header[in.pos:]
	}

	return in.body[in.pos:]
}

// partial either any bytes of the frame have been accumulated
func (in *inputState) partial() bool {
	return in.hdr != nil || in.pos > 0
}
