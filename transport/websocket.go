package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strings"
	"time"

	gws "github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/VolantMQ/vlbolt/configuration"
)

type httpServer struct {
	http *http.Server     // nolint:structcheck
	up   gws.HTTPUpgrader // nolint:structcheck
}

// wsConn server side websocket connection as a byte stream
type wsConn struct {
	*conn
	rem []byte
}

// Read ...
func (c *wsConn) Read(b []byte) (int, error) {
	for len(c.rem) == 0 {
		data, err := wsutil.ReadClientBinary(c.Conn)
		if err != nil {
			return 0, err
		}
		c.rem = data
	}

	n := copy(b, c.rem)
	c.rem = c.rem[n:]
	c.stat.OnRecv(n)

	return n, nil
}

// Write ...
func (c *wsConn) Write(b []byte) (int, error) {
	err := wsutil.WriteServerBinary(c.Conn, b)
	n := 0
	if err == nil {
		n = len(b)
		c.stat.OnSent(n)
	}

	return n, err
}

// ConfigWS listener object for websocket server
type ConfigWS struct {
	TLS       *tls.Config
	Path      string
	transport Config
}

type ws struct {
	baseConfig
	httpServer
	listener net.Listener
	path     string
}

// NewConfigWS allocate new transport config for websocket transport
// Use of this function is preferable instead of direct allocation of ConfigWS
func NewConfigWS(transport Config) *ConfigWS {
	return &ConfigWS{
		Path:      "/",
		transport: transport,
	}
}

// NewWS create new websocket transport
func NewWS(config *ConfigWS) (Provider, error) {
	l := &ws{}

	l.init(config.transport)

	if config.TLS != nil {
		l.protocol = "wss"
	} else {
		l.protocol = "ws"
	}

	l.path = config.Path
	if len(l.path) == 0 {
		l.path = "/"
	} else if l.path[0] != '/' {
		l.path = "/" + l.path
	}

	ln, err := net.Listen("tcp", l.hostPort())
	if err != nil {
		return nil, err
	}

	l.addr = ln.Addr()

	if config.TLS != nil {
		l.listener = tls.NewListener(ln, config.TLS)
	} else {
		l.listener = ln
	}

	l.log = configuration.GetLogger().Named("listener: " + l.protocol + "://" + l.addr.String() + l.path)

	mux := http.NewServeMux()
	mux.Handle(l.path, l)

	l.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// sub-protocol is prevalidated by ServeHTTP below
	l.up.Protocol = func(proto string) bool {
		return proto == SubProtocol
	}

	return l, nil
}

func (l *ws) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	proto := r.Header.Get("Sec-WebSocket-Protocol")
	if proto == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad \"Sec-WebSocket-Protocol\""))
		return
	}

	if !hasSubProtocol(proto) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		_, _ = w.Write([]byte("unsupported \"Sec-WebSocket-Protocol\""))
		return
	}

	cn, _, _, err := l.up.Upgrade(r, w)
	if err != nil {
		l.log.Errorf("upgrade error: %s", err)
		return
	}

	l.onConnection.Add(1)
	go func() {
		defer l.onConnection.Done()
		l.handleConnection(&wsConn{conn: newConn(cn, l.config.Metric)})
	}()
}

// Serve ...
func (l *ws) Serve() error {
	if err := l.http.Serve(l.listener); err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Close websocket listener
func (l *ws) Close() error {
	var err error

	l.onceStop.Do(func() {
		close(l.quit)

		ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer ctxCancel()

		err = l.http.Shutdown(ctx)
		l.onConnection.Wait()
	})

	return err
}

func hasSubProtocol(header string) bool {
	for _, p := range strings.Split(header, ",") {
		if strings.TrimSpace(p) == SubProtocol {
			return true
		}
	}

	return false
}
