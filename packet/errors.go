package packet

import (
	"github.com/pkg/errors"
)

// Error errors
type Error byte

// nolint: golint
const (
	// ErrInsufficientBufferSize destination buffer too small for encode
	ErrInsufficientBufferSize Error = iota
	// ErrInsufficientDataSize more bytes are needed to complete decode
	ErrInsufficientDataSize
	// ErrInvalidMessageType Invalid packet type
	ErrInvalidMessageType
	// ErrInvalidLength Invalid (negative or oversized) length
	ErrInvalidLength
	// ErrMalformedMeta meta block is structurally invalid
	ErrMalformedMeta
	// ErrMalformedProperty property entry is structurally invalid
	ErrMalformedProperty
	// ErrTooManyProperties meta declares more properties than allowed
	ErrTooManyProperties
	// ErrInvalidPropertyName property name is empty, too long or reserved by well-known property
	ErrInvalidPropertyName
	// ErrPropertyTooLarge property entry does not fit 3-byte length encoding
	ErrPropertyTooLarge
	ErrPropertyTypeMismatch
	// ErrEncodeMismatch encoded size differs from the predicted one
	ErrEncodeMismatch
)

// Error returns the corresponding error string
func (e Error) Error() string {
	switch e {
	case ErrInsufficientBufferSize:
		return "Insufficient buffer size"
	case ErrInsufficientDataSize:
		return "Insufficient data size"
	case ErrInvalidMessageType:
		return "Invalid packet type"
	case ErrInvalidLength:
		return "Invalid length"
	case ErrMalformedMeta:
		return "Malformed meta"
	case ErrMalformedProperty:
		return "Malformed property"
	case ErrTooManyProperties:
		return "Too many properties"
	case ErrInvalidPropertyName:
		return "Invalid property name"
	case ErrPropertyTooLarge:
		return "Property too large"
	case ErrPropertyTypeMismatch:
		return "Property value type mismatch"
	case ErrEncodeMismatch:
		return "Encoded size mismatch"
	}

	return "Unknown error"
}

// IsBug reports whether err signals an internal serializer inconsistency
// rather than a malformed peer stream or an I/O condition.
func IsBug(err error) bool {
	return errors.Cause(err) == ErrEncodeMismatch
}

// IsIncomplete reports whether err only means more bytes are needed.
func IsIncomplete(err error) bool {
	return errors.Cause(err) == ErrInsufficientDataSize
}
