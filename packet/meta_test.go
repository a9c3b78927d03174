package packet

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestMetaAddReplaces(t *testing.T) {
	m := NewMeta()

	require.NoError(t, m.Add(NewString("KEY", "a")))
	first := m.Size()

	require.NoError(t, m.Add(NewString("KEY", "abc")))
	require.Equal(t, 1, m.Len())
	require.Equal(t, first+2, m.Size())

	p, ok := m.Get("KEY")
	require.True(t, ok)
	require.Equal(t, "abc", p.AsString())

	m.Remove("KEY")
	require.Equal(t, 0, m.Len())
	require.Equal(t, metaPrefixSize, m.Size())
}

func TestMetaAddInvalid(t *testing.T) {
	var m Meta

	err := m.Add(NewString("", "v"))
	require.Equal(t, ErrInvalidPropertyName, errors.Cause(err))

	err = m.Add(NewString(strings.Repeat("n", 256), "v"))
	require.Equal(t, ErrInvalidPropertyName, errors.Cause(err))

	err = m.Add(NewBinary("BIG", make([]byte, 1<<24)))
	require.Equal(t, ErrPropertyTooLarge, errors.Cause(err))

	require.Equal(t, 0, m.Len())
}

func TestMetaAddWellKnownNameCollision(t *testing.T) {
	var m Meta
	require.NoError(t, m.Add(NewID("id_1")))
	require.NoError(t, m.Add(NewTopic("A.B")))

	for _, p := range []Property{
		NewString(NameID, "other"),
		NewInteger(NameTopic, 1),
		NewReal(NameCorrID, 1),
		NewFlag(NameSelector, true),
		NewBinary(NameCompress, []byte{1}),
		NewString(NameReplyTo, "R"),
	} {
		err := m.Add(p)
		require.Equal(t, ErrInvalidPropertyName, errors.Cause(err), p.Name())
	}

	require.Equal(t, 2, m.Len())
	require.Equal(t, "id_1", m.ID())
	require.Equal(t, "A.B", m.Topic())

	require.True(t, IsWellKnownName(NameSelector))
	require.False(t, IsWellKnownName("id"))
}

func TestMetaWellKnown(t *testing.T) {
	m := NewMeta()
	require.NoError(t, m.Add(NewID("1")))
	require.NoError(t, m.Add(NewTopic("A.B")))
	require.NoError(t, m.Add(NewCorrID("2")))
	require.NoError(t, m.Add(NewReplyTo("R")))

	require.Equal(t, "1", m.ID())
	require.Equal(t, "A.B", m.Topic())
	require.Equal(t, "2", m.CorrID())
	require.Equal(t, "R", m.ReplyTo())
	require.Equal(t, []string{NameCorrID, NameID, NameReplyTo, NameTopic}, m.Names())
}

func TestMetaRoundTrip(t *testing.T) {
	m := NewMeta()
	require.NoError(t, m.Add(NewID("abc_1")))
	require.NoError(t, m.Add(NewTopic("GMSEC.A.B")))
	require.NoError(t, m.Add(NewInteger("COUNT", 7)))
	require.NoError(t, m.Add(NewReal("RATE", 0.5)))
	require.NoError(t, m.Add(NewFlag("OK", false)))

	buf := make([]byte, m.Size())
	n, err := m.Encode(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	d := NewMeta()
	n, err = d.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, m.Names(), d.Names())

	m.ForEach(func(p Property) {
		q, ok := d.Get(p.Name())
		require.True(t, ok)
		require.Equal(t, p, q)
	})
}

func TestMetaCloneIsDeep(t *testing.T) {
	m := NewMeta()
	raw := []byte{1, 2, 3}
	require.NoError(t, m.Add(NewBinary("B", raw)))

	c := m.Clone()
	require.NoError(t, c.Add(NewString("X", "y")))

	p, _ := m.Get("B")
	p.AsBinary()[0] = 9

	q, _ := c.Get("B")
	require.Equal(t, byte(1), q.AsBinary()[0])
	require.Equal(t, 1, m.Len())
	require.Equal(t, 2, c.Len())
}

func TestMetaDecodeCountExceedsEntries(t *testing.T) {
	m := NewMeta()
	require.NoError(t, m.Add(NewString("A", "1")))
	require.NoError(t, m.Add(NewString("B", "2")))

	buf := make([]byte, m.Size())
	_, err := m.Encode(buf)
	require.NoError(t, err)

	// declare three properties while only two follow
	binary.BigEndian.PutUint16(buf[4:], 3)

	d := NewMeta()
	require.NoError(t, d.Add(NewString("KEEP", "me")))

	_, err = d.Decode(buf)
	require.Error(t, err)
	require.Equal(t, ErrMalformedProperty, errors.Cause(err))

	require.Equal(t, []string{"KEEP"}, d.Names())
}

func TestMetaDecodeInvalidPrefix(t *testing.T) {
	d := NewMeta()

	_, err := d.Decode([]byte{0, 0, 0})
	require.Equal(t, ErrMalformedMeta, errors.Cause(err))

	// negative size
	_, err = d.Decode([]byte{0xff, 0xff, 0xff, 0xfe, 0, 0})
	require.Equal(t, ErrMalformedMeta, errors.Cause(err))

	// negative count
	_, err = d.Decode([]byte{0, 0, 0, 6, 0xff, 0xff})
	require.Equal(t, ErrTooManyProperties, errors.Cause(err))

	// count above limit
	_, err = d.Decode([]byte{0, 0, 0, 6, 0x27, 0x11})
	require.Equal(t, ErrTooManyProperties, errors.Cause(err))

	// size beyond buffer
	_, err = d.Decode([]byte{0, 0, 0, 9, 0, 0, 0})
	require.Equal(t, ErrMalformedMeta, errors.Cause(err))

	// trailing garbage inside declared size
	_, err = d.Decode([]byte{0, 0, 0, 7, 0, 0, 0})
	require.Equal(t, ErrMalformedMeta, errors.Cause(err))

	n, err := d.Decode([]byte{0, 0, 0, 6, 0, 0})
	require.NoError(t, err)
	require.Equal(t, 6, n)
}

func TestMetaEncodeMismatchIsBug(t *testing.T) {
	m := NewMeta()
	require.NoError(t, m.Add(NewString("A", "1")))

	// corrupt the cached size to simulate a serializer bug
	m.size = m.Size() + 3

	buf := make([]byte, m.Size())
	_, err := m.Encode(buf)
	require.Error(t, err)
	require.True(t, IsBug(err))
	require.False(t, IsIncomplete(err))
}
