package connection

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/VolantMQ/vlbolt/configuration"
	"github.com/VolantMQ/vlbolt/metrics"
	"github.com/VolantMQ/vlbolt/packet"
	"github.com/VolantMQ/vlbolt/transport"
)

// ReconnectPolicy exponential backoff between reconnect attempts
type ReconnectPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
	// MaxAttempts zero retries forever
	MaxAttempts int
}

// DefaultReconnectPolicy 100ms doubling up to 10s, retried forever
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Initial:    100 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

func (p ReconnectPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	if p.MaxAttempts > 0 {
		return backoff.WithMaxRetries(b, uint64(p.MaxAttempts))
	}

	return b
}

// Options tunables of transport connection
type Options struct {
	Dial              transport.DialConfig
	Reconnect         ReconnectPolicy
	PingInterval      time.Duration
	InactivityTimeout time.Duration
	AckTimeout        time.Duration
	HandshakeTimeout  time.Duration
	ReadTimeout       time.Duration
	MaxPacketSize     int32
	ExposeReplies     bool
	Managed           bool
}

// DefaultOptions options used unless overridden
func DefaultOptions() Options {
	return Options{
		Dial: transport.DialConfig{
			Timeout:      5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Reconnect:         DefaultReconnectPolicy(),
		PingInterval:      5 * time.Second,
		InactivityTimeout: 10 * time.Second,
		AckTimeout:        5 * time.Second,
		HandshakeTimeout:  5 * time.Second,
		ReadTimeout:       100 * time.Millisecond,
		MaxPacketSize:     packet.DefaultMaxPacketSize,
	}
}

// Option configures connection
type Option func(*Connection) error

// SetOptions apply options
func (c *Connection) SetOptions(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}

	return nil
}

// FromConfig tunables from client section of configuration file.
// Zero values keep defaults
func FromConfig(val *configuration.ClientConfig) Option {
	return func(t *Connection) error {
		if val.PingInterval > 0 {
			t.opts.PingInterval = val.PingInterval
		}

		if val.InactivityTimeout > 0 {
			t.opts.InactivityTimeout = val.InactivityTimeout
		}

		if val.AckTimeout > 0 {
			t.opts.AckTimeout = val.AckTimeout
		}

		if val.HandshakeTimeout > 0 {
			t.opts.HandshakeTimeout = val.HandshakeTimeout
		}

		if val.MaxPacketSize > 0 {
			t.opts.MaxPacketSize = val.MaxPacketSize
		}

		if val.Reconnect.Initial > 0 {
			t.opts.Reconnect.Initial = val.Reconnect.Initial
		}

		if val.Reconnect.Max > 0 {
			t.opts.Reconnect.Max = val.Reconnect.Max
		}

		if val.Reconnect.Multiplier >= 1 {
			t.opts.Reconnect.Multiplier = val.Reconnect.Multiplier
		}

		if val.Reconnect.MaxAttempts > 0 {
			t.opts.Reconnect.MaxAttempts = val.Reconnect.MaxAttempts
		}

		t.opts.ExposeReplies = val.ExposeReplies

		return nil
	}
}

// PingInterval period of keep-alive ECHO. Zero disables pings
func PingInterval(val time.Duration) Option {
	return func(t *Connection) error {
		t.opts.PingInterval = val
		return nil
	}
}

// InactivityTimeout nothing read for this long breaks the connection. Zero disables check
func InactivityTimeout(val time.Duration) Option {
	return func(t *Connection) error {
		t.opts.InactivityTimeout = val
		return nil
	}
}

// AckTimeout how long subscribe/unsubscribe wait for ACK
func AckTimeout(val time.Duration) Option {
	return func(t *Connection) error {
		if val <= 0 {
			return errors.New("ack timeout must be positive")
		}
		t.opts.AckTimeout = val
		return nil
	}
}

// HandshakeTimeout how long connect waits for WELCOME/NEGOTIATE exchange
func HandshakeTimeout(val time.Duration) Option {
	return func(t *Connection) error {
		if val <= 0 {
			return errors.New("handshake timeout must be positive")
		}
		t.opts.HandshakeTimeout = val
		return nil
	}
}

// Reconnect backoff policy
func Reconnect(val ReconnectPolicy) Option {
	return func(t *Connection) error {
		if val.Initial <= 0 || val.Max < val.Initial || val.Multiplier < 1 {
			return errors.Errorf("invalid reconnect policy %+v", val)
		}
		t.opts.Reconnect = val
		return nil
	}
}

// MaxPacketSize largest frame body accepted from peer
func MaxPacketSize(val int32) Option {
	return func(t *Connection) error {
		t.opts.MaxPacketSize = val
		return nil
	}
}

// ExposeReplies REPLY packets also passed to default handler
func ExposeReplies(val bool) Option {
	return func(t *Connection) error {
		t.opts.ExposeReplies = val
		return nil
	}
}

// Managed connection owned by multi-server connection.
// Failed initial connect is retried in background
func Managed(val bool) Option {
	return func(t *Connection) error {
		t.opts.Managed = val
		return nil
	}
}

// Dial transport parameters
func Dial(val transport.DialConfig) Option {
	return func(t *Connection) error {
		t.opts.Dial = val
		return nil
	}
}

// Metric statistic sink
func Metric(val metrics.Informer) Option {
	return func(t *Connection) error {
		if val == nil {
			return errors.New("nil metric")
		}
		t.metric = val
		return nil
	}
}

// Logger parent logger
func Logger(val *zap.SugaredLogger) Option {
	return func(t *Connection) error {
		t.log = val
		return nil
	}
}

// OnPacket default handler for PUBLISH and REQUEST
func OnPacket(val Handler) Option {
	return func(t *Connection) error {
		t.SetHandler(val)
		return nil
	}
}

// OnReplyPacket handler for REPLY
func OnReplyPacket(val Handler) Option {
	return func(t *Connection) error {
		t.SetReplyHandler(val)
		return nil
	}
}

// OnEvent register event listener
func OnEvent(val EventListener) Option {
	return func(t *Connection) error {
		t.RegisterEventListener(val)
		return nil
	}
}
