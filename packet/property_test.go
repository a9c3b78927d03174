package packet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPropertyConversions(t *testing.T) {
	p := NewInteger("COUNT", 42)
	require.Equal(t, "42", p.AsString())
	require.True(t, p.AsFlag())

	v, err := p.AsReal()
	require.NoError(t, err)
	require.Equal(t, float64(42), v)

	p = NewString("FLAG", "No")
	require.False(t, p.AsFlag())
	p = NewString("FLAG", "0")
	require.False(t, p.AsFlag())
	p = NewString("FLAG", "yes")
	require.True(t, p.AsFlag())

	_, err = NewString("NUM", "abc").AsInteger()
	require.EqualError(t, err, ErrPropertyTypeMismatch.Error())

	i, err := NewString("NUM", "-17").AsInteger()
	require.NoError(t, err)
	require.Equal(t, int32(-17), i)

	_, err = NewReal("R", 1.5).AsInteger()
	require.Error(t, err)

	require.Equal(t, "true", NewFlag("F", true).AsString())
	require.Equal(t, []byte("raw"), NewBinary("B", []byte("raw")).AsBinary())
}

func TestPropertyNamed(t *testing.T) {
	require.True(t, PropertyString.Named())
	require.True(t, PropertyBinary.Named())
	require.False(t, PropertyID.Named())
	require.False(t, PropertyCompress.Named())
	require.False(t, PropertyUnknown.Named())

	require.Equal(t, NameTopic, NewTopic("A.B").Name())
}

func TestPropertyEncodingModes(t *testing.T) {
	_, prefix, mode := NewString("K", "v").encoding()
	require.Equal(t, enc1, mode)
	require.Equal(t, 2, prefix)

	_, prefix, mode = NewString("K", string(bytes.Repeat([]byte{'x'}, 300))).encoding()
	require.Equal(t, enc2, mode)
	require.Equal(t, 3, prefix)

	_, prefix, mode = NewBinary("K", make([]byte, 70000)).encoding()
	require.Equal(t, enc3, mode)
	require.Equal(t, 4, prefix)

	_, _, mode = NewBinary("K", make([]byte, 1<<24)).encoding()
	require.Equal(t, encNull, mode)
}

func TestPropertyEncodeDecode(t *testing.T) {
	props := []Property{
		NewString("NAME", "value"),
		NewInteger("I", -5),
		NewReal("F", 3.25),
		NewFlag("B", true),
		NewBinary("BIN", []byte{0, 1, 2, 0xff}),
		NewID("id-1"),
		NewTopic("GMSEC.TEST"),
		NewCorrID("corr"),
		NewReplyTo("REPLY.TOPIC"),
		NewSelector("x > 1"),
		NewCompress(true),
		NewString("LONG", string(bytes.Repeat([]byte{'y'}, 1000))),
	}

	for _, p := range props {
		count, prefix, _ := p.encoding()
		buf := make([]byte, count+prefix)

		n := p.encode(buf)
		require.Equal(t, len(buf), n, p.Name())

		d, m, err := decodeProperty(buf)
		require.NoError(t, err, p.Name())
		require.Equal(t, n, m)
		require.Equal(t, p, d)
	}
}

func TestPropertyDecodeMalformed(t *testing.T) {
	// truncated
	_, _, err := decodeProperty([]byte{byte(enc1)<<offsetEncMode | byte(PropertyString)})
	require.EqualError(t, err, ErrMalformedProperty.Error())

	// length exceeds buffer
	_, _, err = decodeProperty([]byte{byte(enc1)<<offsetEncMode | byte(PropertyString), 10, 0})
	require.EqualError(t, err, ErrMalformedProperty.Error())

	// null encoding mode
	_, _, err = decodeProperty([]byte{byte(PropertyString), 1, 0})
	require.EqualError(t, err, ErrMalformedProperty.Error())

	// unknown type
	_, _, err = decodeProperty([]byte{byte(enc1)<<offsetEncMode | 0x3f, 1, 0})
	require.EqualError(t, err, ErrMalformedProperty.Error())

	// name longer than entry
	_, _, err = decodeProperty([]byte{byte(enc1)<<offsetEncMode | byte(PropertyString), 2, 5, 'a'})
	require.EqualError(t, err, ErrMalformedProperty.Error())

	// integer with wrong width
	_, _, err = decodeProperty([]byte{byte(enc1)<<offsetEncMode | byte(PropertyI32), 4, 1, 'a', 0, 1})
	require.EqualError(t, err, ErrMalformedProperty.Error())

	// generic property named as well-known one
	_, _, err = decodeProperty([]byte{byte(enc1)<<offsetEncMode | byte(PropertyString), 4, 2, 'I', 'D', 'x'})
	require.EqualError(t, err, ErrMalformedProperty.Error())
}
