package packet

import (
	"io"

	"github.com/pkg/errors"
)

// ReadFrame reads exactly one frame from a blocking stream.
// Bodies larger than max are rejected before allocation
func ReadFrame(r io.Reader, max int32) (*Packet, error) {
	var hdr [HeaderSize]byte

	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	h, err := ParseHeader(hdr[:])
	if err != nil {
		return nil, err
	}

	if max > 0 && h.Size() > max {
		return nil, errors.Wrapf(ErrInvalidLength, "frame: size %d exceeds limit %d", h.Size(), max)
	}

	body := make([]byte, h.Size())
	if _, err = io.ReadFull(r, body); err != nil {
		return nil, err
	}

	return FromContent(h, body)
}

// WriteFrame encodes p and writes it in full
func WriteFrame(w io.Writer, p *Packet) error {
	buf, err := Encode(p)
	if err != nil {
		return err
	}

	_, err = w.Write(buf)

	return err
}
