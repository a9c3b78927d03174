package transport

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/VolantMQ/vlbolt/configuration"
)

var errListenerClosed = errors.New("transport: listener closed")

// ConfigTCP configuration of tcp transport
type ConfigTCP struct {
	Scheme    string
	TLS       *tls.Config
	transport Config
}

type tcp struct {
	baseConfig

	listener net.Listener
}

// NewConfigTCP allocate new transport config for tcp transport
// Use of this function is preferable instead of direct allocation of ConfigTCP
func NewConfigTCP(transport Config) *ConfigTCP {
	return &ConfigTCP{
		Scheme:    "tcp",
		transport: transport,
	}
}

// NewTCP create new tcp transport
func NewTCP(config *ConfigTCP) (Provider, error) {
	l := &tcp{}

	l.init(config.transport)

	var err error
	var ln net.Listener

	if ln, err = net.Listen("tcp", l.hostPort()); err != nil {
		return nil, err
	}

	if config.TLS != nil {
		l.protocol = "ssl"
		l.listener = tls.NewListener(ln, config.TLS)
	} else {
		l.protocol = "tcp"
		l.listener = ln
	}

	l.addr = ln.Addr()
	l.log = configuration.GetLogger().Named("listener: " + l.protocol + "://" + l.addr.String())

	return l, nil
}

// Close tcp listener
func (l *tcp) Close() error {
	var err error

	l.onceStop.Do(func() {
		close(l.quit)

		err = l.listener.Close()
		l.onConnection.Wait()
	})

	return err
}

// Serve start serving connections
func (l *tcp) Serve() error {
	var tempDelay time.Duration // how long to sleep on accept failure

	for {
		var cn net.Conn
		var err error

		if cn, err = l.listener.Accept(); err != nil {
			select {
			case <-l.quit:
				return nil
			default:
			}

			// nolint: staticcheck
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				l.log.Errorw("couldn't accept connection. retrying",
					"error", err,
					"retryIn", tempDelay)

				time.Sleep(tempDelay)
				continue
			}
			return err
		}

		tempDelay = 0

		l.onConnection.Add(1)
		go func(cn net.Conn) {
			defer l.onConnection.Done()
			l.handleConnection(newConn(cn, l.config.Metric))
		}(cn)
	}
}
