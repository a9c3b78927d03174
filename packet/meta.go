package packet

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
)

const (
	// MaxProperties upper bound of properties a single meta block may declare
	MaxProperties = 10000

	// metaPrefixSize 4-byte length plus 2-byte count
	metaPrefixSize = 6
)

// Meta property bag attached to a frame.
// Zero value is an empty meta ready to use
type Meta struct {
	props     map[string]Property
	size      int
	sizeValid bool
}

// NewMeta allocate empty meta
func NewMeta() *Meta {
	return &Meta{
		props: make(map[string]Property),
	}
}

// Add property replacing any previous property with the same name
func (m *Meta) Add(p Property) error {
	if err := p.validate(); err != nil {
		return errors.Wrapf(err, "meta: property %q", p.name)
	}

	if m.props == nil {
		m.props = make(map[string]Property)
	}

	if _, ok := m.props[p.name]; !ok && len(m.props) >= MaxProperties {
		return ErrTooManyProperties
	}

	m.props[p.name] = p
	m.sizeValid = false

	return nil
}

// Remove property by name
func (m *Meta) Remove(name string) {
	if _, ok := m.props[name]; ok {
		delete(m.props, name)
		m.sizeValid = false
	}
}

// Get property by name
func (m *Meta) Get(name string) (Property, bool) {
	p, ok := m.props[name]
	return p, ok
}

// Len number of properties
func (m *Meta) Len() int {
	return len(m.props)
}

// Names of all properties in encoding order
func (m *Meta) Names() []string {
	names := make([]string, 0, len(m.props))
	for n := range m.props {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// ForEach iterate over properties in encoding order
func (m *Meta) ForEach(f func(Property)) {
	for _, n := range m.Names() {
		f(m.props[n])
	}
}

func (m *Meta) str(name string) string {
	if p, ok := m.props[name]; ok {
		return p.AsString()
	}

	return ""
}

// ID unique message identifier, empty if not set
func (m *Meta) ID() string {
	return m.str(NameID)
}

// Topic subject, empty if not set
func (m *Meta) Topic() string {
	return m.str(NameTopic)
}

// CorrID correlation id, empty if not set
func (m *Meta) CorrID() string {
	return m.str(NameCorrID)
}

// ReplyTo reply topic, empty if not set
func (m *Meta) ReplyTo() string {
	return m.str(NameReplyTo)
}

// Clone deep copy of meta
func (m *Meta) Clone() *Meta {
	c := &Meta{
		props:     make(map[string]Property, len(m.props)),
		size:      m.size,
		sizeValid: m.sizeValid,
	}

	for n, p := range m.props {
		c.props[n] = p.clone()
	}

	return c
}

// Size of encoded meta including the 6-byte prefix.
// Result is cached until next Add or Remove
func (m *Meta) Size() int {
	if m.sizeValid {
		return m.size
	}

	total := metaPrefixSize
	for _, p := range m.props {
		count, prefix, _ := p.encoding()
		total += prefix + count
	}

	m.size = total
	m.sizeValid = true

	return total
}

// Encode meta into buffer, Size() should be called to determine expected buffer size
func (m *Meta) Encode(to []byte) (int, error) {
	expected := m.Size()

	if len(to) < expected {
		return 0, ErrInsufficientBufferSize
	}

	if len(m.props) > MaxProperties {
		return 0, ErrTooManyProperties
	}

	binary.BigEndian.PutUint32(to, uint32(expected))
	binary.BigEndian.PutUint16(to[4:], uint16(len(m.props)))

	offset := metaPrefixSize
	for _, n := range m.Names() {
		offset += m.props[n].encode(to[offset:])
	}

	if offset != expected {
		return offset, errors.Wrapf(ErrEncodeMismatch, "meta: predicted %d bytes, wrote %d", expected, offset)
	}

	return offset, nil
}

// Decode meta from buffer. On error meta is left untouched.
// Returns number of bytes consumed
func (m *Meta) Decode(from []byte) (int, error) {
	if len(from) < metaPrefixSize {
		return 0, errors.Wrapf(ErrMalformedMeta, "meta: %d bytes available", len(from))
	}

	size := int32(binary.BigEndian.Uint32(from))
	if size < metaPrefixSize {
		return 0, errors.Wrapf(ErrMalformedMeta, "meta: invalid size %d", size)
	}

	count := int16(binary.BigEndian.Uint16(from[4:]))
	if count < 0 || count > MaxProperties {
		return 0, errors.Wrapf(ErrTooManyProperties, "meta: invalid item count %d", count)
	}

	if int(size) > len(from) {
		return 0, errors.Wrapf(ErrMalformedMeta, "meta: size %d exceeds %d available bytes", size, len(from))
	}

	body := from[metaPrefixSize:size]
	props := make(map[string]Property, count)

	offset := 0
	for i := 0; i < int(count); i++ {
		p, n, err := decodeProperty(body[offset:])
		if err != nil {
			return 0, errors.Wrapf(err, "meta: property %d of %d", i+1, count)
		}

		offset += n
		props[p.name] = p
	}

	if offset != len(body) {
		return 0, errors.Wrapf(ErrMalformedMeta, "meta: %d trailing bytes", len(body)-offset)
	}

	m.props = props
	m.sizeValid = false

	return int(size), nil
}
