package transport

import (
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/VolantMQ/vlbolt/metrics"
)

// Config listener
type Config struct {
	// Handler receives accepted connections
	Handler Handler

	// Metric bytes statistic
	Metric metrics.Bytes

	// Host address to bind to. Empty means all interfaces
	Host string

	// Port to listen on. Zero picks ephemeral port
	Port int
}

// Provider listener
type Provider interface {
	Protocol() string
	Serve() error
	Close() error
	Port() int
	Addr() net.Addr
	Ready() error
	Alive() error
}

type baseConfig struct {
	config       Config
	quit         chan struct{}
	log          *zap.SugaredLogger
	addr         net.Addr
	onConnection sync.WaitGroup
	onceStop     sync.Once
	protocol     string
}

func (c *baseConfig) init(config Config) {
	c.quit = make(chan struct{})
	c.config = config

	if c.config.Metric == nil {
		c.config.Metric = metrics.Nop().Bytes()
	}
}

func (c *baseConfig) hostPort() string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

// Port actual port listener bound to
func (c *baseConfig) Port() int {
	if a, ok := c.addr.(*net.TCPAddr); ok {
		return a.Port
	}

	return c.config.Port
}

func (c *baseConfig) Addr() net.Addr {
	return c.addr
}

func (c *baseConfig) Protocol() string {
	return c.protocol
}

// Alive listener is alive until closed
func (c *baseConfig) Alive() error {
	select {
	case <-c.quit:
		return errListenerClosed
	default:
		return nil
	}
}

// Ready listener accepts connections
func (c *baseConfig) Ready() error {
	return c.Alive()
}

// handleConnection pass incoming connection to the handler
// connection is closed if handler refuses it
func (c *baseConfig) handleConnection(cn Conn) {
	if err := c.config.Handler.OnConnection(cn); err != nil {
		c.log.Warnw("connection refused", "remote", cn.RemoteAddr().String(), "error", err)
		_ = cn.Close()
	}
}
