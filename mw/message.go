package mw

import (
	"fmt"
	"sort"

	"github.com/VolantMQ/vlbolt/packet"
)

// Kind of message
type Kind int

// nolint: golint
const (
	KindPublish Kind = iota + 1
	KindRequest
	KindReply
)

func (k Kind) String() string {
	switch k {
	case KindPublish:
		return "PUBLISH"
	case KindRequest:
		return "REQUEST"
	case KindReply:
		return "REPLY"
	}

	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) packetType() packet.Type {
	switch k {
	case KindRequest:
		return packet.REQUEST
	case KindReply:
		return packet.REPLY
	default:
		return packet.PUBLISH
	}
}

func kindOf(t packet.Type) (Kind, bool) {
	switch t {
	case packet.PUBLISH:
		return KindPublish, true
	case packet.REQUEST:
		return KindRequest, true
	case packet.REPLY:
		return KindReply, true
	}

	return 0, false
}

// Message unit exchanged through ConnectionInterface.
// Header fields travel as named properties, payload is opaque
type Message struct {
	Subject string
	Kind    Kind
	Payload []byte

	fields  map[string]interface{}
	id      string
	corrID  string
	replyTo string
}

// NewMessage allocate message of given kind
func NewMessage(subject string, kind Kind) *Message {
	return &Message{
		Subject: subject,
		Kind:    kind,
		fields:  make(map[string]interface{}),
	}
}

func (m *Message) set(name string, v interface{}) *Message {
	if m.fields == nil {
		m.fields = make(map[string]interface{})
	}

	m.fields[name] = v

	return m
}

// SetString header field
func (m *Message) SetString(name, v string) *Message {
	return m.set(name, v)
}

// SetBool header field
func (m *Message) SetBool(name string, v bool) *Message {
	return m.set(name, v)
}

// SetInt32 header field
func (m *Message) SetInt32(name string, v int32) *Message {
	return m.set(name, v)
}

// SetFloat64 header field
func (m *Message) SetFloat64(name string, v float64) *Message {
	return m.set(name, v)
}

// Field value of header field. One of string, bool, int32 or float64
func (m *Message) Field(name string) (interface{}, bool) {
	v, ok := m.fields[name]
	return v, ok
}

// String header field if it is a string
func (m *Message) String(name string) (string, bool) {
	v, ok := m.fields[name].(string)
	return v, ok
}

// Fields names of header fields, sorted
func (m *Message) Fields() []string {
	names := make([]string, 0, len(m.fields))
	for n := range m.fields {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// ID unique identifier assigned when message was sent
func (m *Message) ID() string {
	return m.id
}

// CorrID identifier of the request this reply answers
func (m *Message) CorrID() string {
	return m.corrID
}

// ReplyTo subject replies to this request are expected on
func (m *Message) ReplyTo() string {
	return m.replyTo
}
