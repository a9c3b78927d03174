package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/VolantMQ/vlbolt/metrics"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// DialConfig client side connection parameters
type DialConfig struct {
	TLS          *tls.Config
	Metric       metrics.Bytes
	Timeout      time.Duration
	WriteTimeout time.Duration
}

// Dial opens connection to the server. Does not retry
func Dial(ctx context.Context, srv Server, cfg DialConfig) (Conn, error) {
	stat := cfg.Metric
	if stat == nil {
		stat = metrics.Nop().Bytes()
	}

	switch srv.Scheme {
	case "", "tcp":
		d := net.Dialer{Timeout: cfg.Timeout}

		var cn net.Conn
		var err error

		if cn, err = d.DialContext(ctx, "tcp", srv.Address()); err != nil {
			return nil, err
		}

		if cfg.TLS != nil {
			cn = tls.Client(cn, cfg.TLS)
		}

		return newConn(cn, stat), nil
	case "ws", "wss":
		d := websocket.Dialer{
			HandshakeTimeout: cfg.Timeout,
			Subprotocols:     []string{SubProtocol},
			TLSClientConfig:  cfg.TLS,
		}

		cn, resp, err := d.DialContext(ctx, srv.URL(), nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}

		if err != nil {
			return nil, err
		}

		return newConnWs(cn, stat), nil
	}

	return nil, errors.Wrapf(ErrInvalidServer, "unsupported scheme %q", srv.Scheme)
}
