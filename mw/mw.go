// Package mw messaging middleware facade over Bolt transport connections.
// Config with single server gives Single, comma separated list gives Multiple
package mw

import (
	"context"
	"time"

	"github.com/troian/healthcheck"
	"go.uber.org/zap"

	"github.com/VolantMQ/vlbolt/connection"
	"github.com/VolantMQ/vlbolt/metrics"
	"github.com/VolantMQ/vlbolt/transport"
)

// nolint: golint
const (
	Version  = "1.0.0"
	RootName = "bolt"
)

// ConnectionInterface operations exposed to messaging framework.
// Every error returned is *connection.Error
type ConnectionInterface interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(subject string, cfg Config) error
	Unsubscribe(subject string) error
	Publish(msg *Message, cfg Config) error
	Request(msg *Message) (string, error)
	RequestReply(ctx context.Context, msg *Message, timeout time.Duration) (*Message, error)
	RequestAsync(msg *Message, cb OnReply) (string, error)
	Reply(request, reply *Message) error
	Receive(timeout time.Duration) (*Message, error)
	Dispatch(ctx context.Context) error
	OnEvent(l connection.EventListener)
	OnMessage(l MessageListener)
	UniqueID() string
	Endpoint() string
	HealthCheck() healthcheck.Check
	LibraryVersion() string
	MWInfo() string
}

// OnReply asynchronous reply callback
type OnReply func(*Message)

// MessageListener receives messages from Dispatch
type MessageListener interface {
	OnMessage(*Message)
}

// MessageListenerFunc adapter to use ordinary function as listener
type MessageListenerFunc func(*Message)

// OnMessage calls f(msg)
func (f MessageListenerFunc) OnMessage(msg *Message) {
	f(msg)
}

// Option of facade
type Option func(*base) error

// WithLogger ...
func WithLogger(val *zap.SugaredLogger) Option {
	return func(b *base) error {
		b.log = val
		return nil
	}
}

// WithMetrics ...
func WithMetrics(val metrics.Informer) Option {
	return func(b *base) error {
		if val != nil {
			b.metric = val
		}
		return nil
	}
}

// WithConnectionOptions applied to every transport connection after options from Config
func WithConnectionOptions(val ...connection.Option) Option {
	return func(b *base) error {
		b.connOpts = append(b.connOpts, val...)
		return nil
	}
}

// New facade for servers listed in cfg
func New(cfg Config, opts ...Option) (ConnectionInterface, error) {
	s, err := cfg.settings()
	if err != nil {
		return nil, err
	}

	servers, err := transport.ParseServers(s.servers)
	if err != nil {
		return nil, connection.NewError(connection.KindState, "config", err)
	}

	if len(servers) == 1 {
		c, e := newSingle(s, servers[0], opts...)
		if e != nil {
			return nil, e
		}

		return c, nil
	}

	c, err := newMultiple(s, servers, opts...)
	if err != nil {
		return nil, err
	}

	return c, nil
}
