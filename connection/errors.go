package connection

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/VolantMQ/vlbolt/packet"
)

// Kind class of failure reported to callers
type Kind int

// nolint: golint
const (
	KindUnknown Kind = iota
	// KindConnect transport connection cannot be established
	KindConnect
	// KindIO established connection failed
	KindIO
	// KindProtocol peer sent structurally invalid frame
	KindProtocol
	// KindBug encoder produced unexpected size or similar internal fault
	KindBug
	// KindState operation is not valid in current connection state
	KindState
)

var kindName = [...]string{
	KindUnknown:  "unknown",
	KindConnect:  "connect",
	KindIO:       "io",
	KindProtocol: "protocol",
	KindBug:      "bug",
	KindState:    "state",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindName) {
		return kindName[k]
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// nolint: golint
var (
	ErrFinished         = errors.New("connection finished")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrAckTimeout       = errors.New("timed out waiting for ack")
	ErrHandshakeTimeout = errors.New("timed out waiting for handshake")
	ErrReconnectFailed  = errors.New("reconnect attempts exhausted")
	ErrInactivity       = errors.New("extended inactivity. assuming broken connection")
	ErrGoodbye          = errors.New("peer said goodbye")
	ErrRejected         = errors.New("rejected by peer")
	ErrInvalidSubject   = errors.New("invalid subject")
	ErrNoServers        = errors.New("no servers")
)

// Error classified failure
type Error struct {
	Err  error
	Op   string
	Kind Kind
}

var _ error = (*Error)(nil)

func newError(kind Kind, op string, err error) *Error {
	return &Error{
		Kind: kind,
		Op:   op,
		Err:  err,
	}
}

// NewError classified error for layers built on top of connections
func NewError(kind Kind, op string, err error) *Error {
	return newError(kind, op, err)
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "bolt: " + e.Op + ": " + e.Kind.String()
	}

	return "bolt: " + e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

// Cause underlying error
func (e *Error) Cause() error {
	return e.Err
}

// Unwrap underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf class of the error. KindUnknown if err is not classified
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

// IsKind either err belongs to class k
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// classify wraps err into *Error. Codec errors are protocol or bug class,
// anything else is treated as fallback kind
func classify(op string, fallback Kind, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	kind := fallback

	if packet.IsBug(err) {
		kind = KindBug
	} else if _, ok := errors.Cause(err).(packet.Error); ok {
		kind = KindProtocol
	}

	return newError(kind, op, err)
}

// Classify wraps err into *Error unless it is already classified
func Classify(op string, fallback Kind, err error) error {
	return classify(op, fallback, err)
}
