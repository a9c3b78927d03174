package packet

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
)

// PropertyType value type of the property, low 6 bits of the entry type byte
type PropertyType byte

// nolint: golint
const (
	PropertyUnknown PropertyType = iota
	PropertyString
	PropertyI32
	PropertyF64
	PropertyFlag
	PropertyID
	PropertyTopic
	PropertyCorrID
	PropertyReplyTo
	PropertySelector
	PropertyCompress
	PropertyBinary
)

// Well-known property names. Properties of these types are transmitted without name
const (
	NameID       = "ID"
	NameTopic    = "TOPIC"
	NameCorrID   = "CORR_ID"
	NameReplyTo  = "REPLY_TO"
	NameSelector = "SELECTOR"
	NameCompress = "COMPRESS"
)

// maxNameLength property name must fit into single length byte
const maxNameLength = 255

type encMode byte

const (
	encNull encMode = iota
	enc1
	enc2
	enc3
)

const (
	offsetEncMode = 6
	maskPropType  = 0x3f
)

var wellKnownNames = map[PropertyType]string{
	PropertyID:       NameID,
	PropertyTopic:    NameTopic,
	PropertyCorrID:   NameCorrID,
	PropertyReplyTo:  NameReplyTo,
	PropertySelector: NameSelector,
	PropertyCompress: NameCompress,
}

var wellKnownTypes = func() map[string]PropertyType {
	m := make(map[string]PropertyType, len(wellKnownNames))
	for t, name := range wellKnownNames {
		m[name] = t
	}
	return m
}()

// IsWellKnownName reports whether name is reserved by one of well-known property types.
// Generic properties may not use it
func IsWellKnownName(name string) bool {
	_, ok := wellKnownTypes[name]
	return ok
}

// Named reports whether properties of this type carry their name on the wire
func (t PropertyType) Named() bool {
	_, ok := wellKnownNames[t]
	return !ok && t != PropertyUnknown
}

func (t PropertyType) valid() bool {
	return t > PropertyUnknown && t <= PropertyBinary
}

// Property single typed name/value pair carried by Meta
type Property struct {
	value interface{}
	name  string
	kind  PropertyType
}

// NewString generic string property
func NewString(name, v string) Property {
	return Property{name: name, kind: PropertyString, value: v}
}

// NewInteger generic 32-bit integer property
func NewInteger(name string, v int32) Property {
	return Property{name: name, kind: PropertyI32, value: v}
}

// NewReal generic 64-bit floating point property
func NewReal(name string, v float64) Property {
	return Property{name: name, kind: PropertyF64, value: v}
}

// NewFlag generic boolean property
func NewFlag(name string, v bool) Property {
	return Property{name: name, kind: PropertyFlag, value: v}
}

// NewBinary generic opaque bytes property. The slice is copied
func NewBinary(name string, v []byte) Property {
	return Property{name: name, kind: PropertyBinary, value: append([]byte{}, v...)}
}

// NewID unique message identifier
func NewID(id string) Property {
	return Property{name: NameID, kind: PropertyID, value: id}
}

// NewTopic subject/subscription string
func NewTopic(topic string) Property {
	return Property{name: NameTopic, kind: PropertyTopic, value: topic}
}

// NewCorrID correlation id of a reply
func NewCorrID(id string) Property {
	return Property{name: NameCorrID, kind: PropertyCorrID, value: id}
}

// NewReplyTo topic the reply should be published on
func NewReplyTo(topic string) Property {
	return Property{name: NameReplyTo, kind: PropertyReplyTo, value: topic}
}

// NewSelector subscription selector
func NewSelector(selector string) Property {
	return Property{name: NameSelector, kind: PropertySelector, value: selector}
}

// NewCompress payload compression flag
func NewCompress(v bool) Property {
	return Property{name: NameCompress, kind: PropertyCompress, value: v}
}

// Name of the property
func (p Property) Name() string {
	return p.name
}

// Type of the property
func (p Property) Type() PropertyType {
	return p.kind
}

// AsString value converted to string
func (p Property) AsString() string {
	switch v := p.value.(type) {
	case string:
		return v
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []byte:
		return string(v)
	}

	return ""
}

// AsInteger value converted to int32
func (p Property) AsInteger() (int32, error) {
	switch v := p.value.(type) {
	case int32:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt32 || v < math.MinInt32 {
			return int32(v), ErrPropertyTypeMismatch
		}
		return int32(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return 0, ErrPropertyTypeMismatch
		}
		return int32(n), nil
	}

	return 0, ErrPropertyTypeMismatch
}

// AsReal value converted to float64
func (p Property) AsReal() (float64, error) {
	switch v := p.value.(type) {
	case float64:
		return v, nil
	case int32:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, ErrPropertyTypeMismatch
		}
		return f, nil
	}

	return 0, ErrPropertyTypeMismatch
}

// AsFlag value converted to bool. Strings "false", "no" and "0" are false, any other string is true
func (p Property) AsFlag() bool {
	switch v := p.value.(type) {
	case bool:
		return v
	case int32:
		return v != 0
	case float64:
		return v != 0
	case string:
		return !(strings.EqualFold(v, "false") || strings.EqualFold(v, "no") || v == "0")
	case []byte:
		return len(v) > 0
	}

	return false
}

// AsBinary raw value bytes
func (p Property) AsBinary() []byte {
	if v, ok := p.value.([]byte); ok {
		return v
	}

	return []byte(p.AsString())
}

func (p Property) clone() Property {
	if v, ok := p.value.([]byte); ok {
		p.value = append([]byte{}, v...)
	}

	return p
}

func (p Property) dataSize() int {
	switch v := p.value.(type) {
	case string:
		return len(v)
	case int32:
		return 4
	case float64:
		return 8
	case bool:
		return 1
	case []byte:
		return len(v)
	}

	return 0
}

// encoding returns the entry length (name length byte, name and value),
// the size of the type+length prefix and the length encoding mode
func (p Property) encoding() (count int, prefix int, mode encMode) {
	count = p.dataSize() + 1
	if p.kind.Named() {
		count += len(p.name)
	}

	switch {
	case count < 1<<8:
		return count, 2, enc1
	case count < 1<<16:
		return count, 3, enc2
	case count < 1<<24:
		return count, 4, enc3
	}

	return count, 0, encNull
}

func (p Property) validate() error {
	if !p.kind.valid() {
		return ErrPropertyTypeMismatch
	}

	if p.kind.Named() && (len(p.name) == 0 || len(p.name) > maxNameLength || IsWellKnownName(p.name)) {
		return ErrInvalidPropertyName
	}

	if _, _, mode := p.encoding(); mode == encNull {
		return ErrPropertyTooLarge
	}

	return nil
}

// encode writes the property entry. Buffer capacity is verified by caller
func (p Property) encode(to []byte) int {
	count, _, mode := p.encoding()

	offset := 0
	to[offset] = byte(mode)<<offsetEncMode | byte(p.kind)
	offset++

	switch mode {
	case enc1:
		to[offset] = byte(count)
		offset++
	case enc2:
		binary.BigEndian.PutUint16(to[offset:], uint16(count))
		offset += 2
	case enc3:
		to[offset] = byte(count >> 16)
		binary.BigEndian.PutUint16(to[offset+1:], uint16(count))
		offset += 3
	}

	if p.kind.Named() {
		to[offset] = byte(len(p.name))
		offset++
		offset += copy(to[offset:], p.name)
	} else {
		to[offset] = 0
		offset++
	}

	switch v := p.value.(type) {
	case string:
		offset += copy(to[offset:], v)
	case int32:
		binary.BigEndian.PutUint32(to[offset:], uint32(v))
		offset += 4
	case float64:
		binary.BigEndian.PutUint64(to[offset:], math.Float64bits(v))
		offset += 8
	case bool:
		to[offset] = 0
		if v {
			to[offset] = 1
		}
		offset++
	case []byte:
		offset += copy(to[offset:], v)
	}

	return offset
}

// decodeProperty reads single property entry
// returns number of consumed bytes
func decodeProperty(from []byte) (Property, int, error) {
	var p Property

	if len(from) < 2 {
		return p, 0, ErrMalformedProperty
	}

	mode := encMode(from[0] >> offsetEncMode)
	p.kind = PropertyType(from[0] & maskPropType)

	if !p.kind.valid() {
		return p, 0, ErrMalformedProperty
	}

	offset := 1
	var count int

	switch mode {
	case enc1:
		count = int(from[offset])
		offset++
	case enc2:
		if len(from) < offset+2 {
			return p, 0, ErrMalformedProperty
		}
		count = int(binary.BigEndian.Uint16(from[offset:]))
		offset += 2
	case enc3:
		if len(from) < offset+3 {
			return p, 0, ErrMalformedProperty
		}
		count = int(from[offset])<<16 | int(binary.BigEndian.Uint16(from[offset+1:]))
		offset += 3
	default:
		return p, 0, ErrMalformedProperty
	}

	if count < 1 || len(from) < offset+count {
		return p, 0, ErrMalformedProperty
	}

	entry := from[offset : offset+count]
	offset += count

	nameLen := int(entry[0])
	if 1+nameLen > len(entry) {
		return p, 0, ErrMalformedProperty
	}

	if p.kind.Named() {
		if nameLen == 0 {
			return p, 0, ErrMalformedProperty
		}
		p.name = string(entry[1 : 1+nameLen])
		if IsWellKnownName(p.name) {
			return p, 0, ErrMalformedProperty
		}
	} else {
		p.name = wellKnownNames[p.kind]
	}

	data := entry[1+nameLen:]

	switch p.kind {
	case PropertyI32:
		if len(data) != 4 {
			return p, 0, ErrMalformedProperty
		}
		p.value = int32(binary.BigEndian.Uint32(data))
	case PropertyF64:
		if len(data) != 8 {
			return p, 0, ErrMalformedProperty
		}
		p.value = math.Float64frombits(binary.BigEndian.Uint64(data))
	case PropertyFlag, PropertyCompress:
		if len(data) != 1 {
			return p, 0, ErrMalformedProperty
		}
		p.value = data[0] != 0
	case PropertyBinary:
		p.value = append([]byte{}, data...)
	default:
		p.value = string(data)
	}

	return p, offset, nil
}
