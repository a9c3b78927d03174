package broker

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/troian/healthcheck"
	"go.uber.org/zap"

	"github.com/VolantMQ/vlbolt/configuration"
	"github.com/VolantMQ/vlbolt/metrics"
	"github.com/VolantMQ/vlbolt/packet"
	"github.com/VolantMQ/vlbolt/transport"
)

// nolint: golint
const (
	DefaultVersion         = "vlbolt 1.0"
	DefaultRequestTTL      = 5 * time.Minute
	DefaultPendingRequests = 100000
)

// nolint: golint
var (
	ErrInvalidListenerType    = errors.New("broker: invalid listener type")
	ErrTransportAlreadyExists = errors.New("broker: transport already exists")
	ErrShutdown               = errors.New("broker: shutting down")
)

// Config of the broker
type Config struct {
	Listeners []configuration.ListenerConfig

	// MaxPacketSize frames with larger body close the client
	MaxPacketSize int32

	// InactivityTimeout client silent for this long is disconnected. Zero disables
	InactivityTimeout time.Duration

	// RequestTTL how long REQUEST sender is remembered for routing replies
	RequestTTL time.Duration

	// Version sent to clients in WELCOME
	Version string

	Metrics metrics.Informer
	Health  healthcheck.Checks

	// TransportStatus optional callback to track listener status
	TransportStatus func(id string, status string)
}

// Server Bolt broker
type Server struct {
	Config
	log      *zap.SugaredLogger
	topics   *topics
	requests *expirable.LRU[string, *client]
	quit     chan struct{}
	lastID   atomic.Uint64
	lock     sync.Mutex
	onClose  sync.Once
	clients  struct {
		list map[uint64]*client
		wg   sync.WaitGroup
	}
	transports struct {
		list map[int]*listener
		wg   sync.WaitGroup
	}
}

type listener struct {
	transport.Provider
	config configuration.ListenerConfig
}

var _ transport.Handler = (*Server)(nil)

// New allocate broker. Listeners from config are started by Start
func New(config Config) (*Server, error) {
	s := &Server{
		Config: config,
		topics: newTopics(),
		quit:   make(chan struct{}),
	}

	if s.MaxPacketSize <= 0 {
		s.MaxPacketSize = packet.DefaultMaxPacketSize
	}

	if s.RequestTTL <= 0 {
		s.RequestTTL = DefaultRequestTTL
	}

	if len(s.Version) == 0 {
		s.Version = DefaultVersion
	}

	if s.Metrics == nil {
		s.Metrics = metrics.Nop()
	}

	if s.TransportStatus == nil {
		s.TransportStatus = func(string, string) {}
	}

	s.log = configuration.GetLogger().Named("broker")
	s.requests = expirable.NewLRU[string, *client](DefaultPendingRequests, nil, s.RequestTTL)
	s.clients.list = make(map[uint64]*client)
	s.transports.list = make(map[int]*listener)

	return s, nil
}

// NewFromConfig broker from configuration file section
func NewFromConfig(cfg *configuration.BrokerConfig, m metrics.Informer, health healthcheck.Checks) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return New(Config{
		Listeners:         cfg.Listeners,
		MaxPacketSize:     cfg.MaxPacketSize,
		InactivityTimeout: cfg.InactivityTimeout,
		Metrics:           m,
		Health:            health,
	})
}

// Start all configured listeners
func (s *Server) Start() error {
	for _, l := range s.Listeners {
		if err := s.ListenAndServe(l); err != nil {
			return err
		}
	}

	return nil
}

// ListenAndServe configure listener and serve it in background.
// Returns once listener is bound
func (s *Server) ListenAndServe(lc configuration.ListenerConfig) error {
	select {
	case <-s.quit:
		return ErrShutdown
	default:
	}

	base := transport.Config{
		Handler: s,
		Metric:  s.Metrics.Bytes(),
		Host:    lc.Host,
		Port:    lc.Port,
	}

	var l transport.Provider
	var err error

	switch lc.Scheme {
	case "tcp", "ssl", "":
		c := transport.NewConfigTCP(base)
		if lc.Scheme == "ssl" || lc.TLS.Enabled() {
			if c.TLS, err = lc.TLS.LoadConfig(); err != nil {
				return err
			}
		}
		l, err = transport.NewTCP(c)
	case "ws", "wss":
		c := transport.NewConfigWS(base)
		c.Path = lc.Path
		if lc.Scheme == "wss" || lc.TLS.Enabled() {
			if c.TLS, err = lc.TLS.LoadConfig(); err != nil {
				return err
			}
		}
		l, err = transport.NewWS(c)
	default:
		return errors.Wrapf(ErrInvalidListenerType, "%q", lc.Scheme)
	}

	if err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.transports.list[l.Port()]; ok {
		_ = l.Close()
		return ErrTransportAlreadyExists
	}

	s.transports.list[l.Port()] = &listener{Provider: l, config: lc}

	name := "listener:" + l.Protocol() + ":" + strconv.Itoa(l.Port())
	addr := l.Addr().String()

	if s.Health != nil {
		_ = s.Health.AddReadinessCheck(name, func() error {
			if e := l.Ready(); e != nil {
				return e
			}

			return healthcheck.TCPDialCheck(addr, time.Second)()
		})

		_ = s.Health.AddLivenessCheck(name, l.Alive)
	}

	s.transports.wg.Add(1)
	go func() {
		defer s.transports.wg.Done()

		s.TransportStatus(name, "started")
		s.log.Infow("listening", "protocol", l.Protocol(), "addr", addr)

		status := "stopped"
		if e := l.Serve(); e != nil {
			status = e.Error()
		}

		s.TransportStatus(name, status)
	}()

	return nil
}

// Endpoints client side addresses of running listeners.
// Wildcard bind address is reported as loopback
func (s *Server) Endpoints() []transport.Server {
	s.lock.Lock()
	defer s.lock.Unlock()

	res := make([]transport.Server, 0, len(s.transports.list))

	for _, l := range s.transports.list {
		srv := transport.Server{
			Scheme: l.Protocol(),
			Host:   l.config.Host,
			Port:   l.Port(),
			Path:   l.config.Path,
		}

		if srv.Scheme == "ssl" {
			srv.Scheme = "tcp"
		}

		if len(srv.Host) == 0 || srv.Host == "0.0.0.0" || srv.Host == "::" {
			srv.Host = "127.0.0.1"
		}

		res = append(res, srv)
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].Port < res[j].Port
	})

	return res
}

// OnConnection new client accepted by one of listeners
func (s *Server) OnConnection(cn transport.Conn) error {
	select {
	case <-s.quit:
		return ErrShutdown
	default:
	}

	c := newClient(s, s.lastID.Add(1), cn)

	s.lock.Lock()
	s.clients.list[c.id] = c
	s.clients.wg.Add(1)
	s.lock.Unlock()

	s.Metrics.Connections().OnConnected()

	go func() {
		defer s.clients.wg.Done()

		c.serve()

		s.lock.Lock()
		delete(s.clients.list, c.id)
		s.lock.Unlock()

		s.Metrics.Connections().OnDisconnected()
	}()

	return nil
}

// Clients number of connected clients
func (s *Server) Clients() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.clients.list)
}

// Shutdown close listeners then say goodbye to clients
func (s *Server) Shutdown() error {
	s.onClose.Do(func() {
		close(s.quit)

		s.lock.Lock()
		listeners := make([]*listener, 0, len(s.transports.list))
		for _, l := range s.transports.list {
			listeners = append(listeners, l)
		}
		s.lock.Unlock()

		for _, l := range listeners {
			if err := l.Close(); err != nil {
				s.log.Errorw("close listener", "protocol", l.Protocol(), "port", l.Port(), "error", err)
			}
		}

		s.transports.wg.Wait()

		s.lock.Lock()
		clients := make([]*client, 0, len(s.clients.list))
		for _, c := range s.clients.list {
			clients = append(clients, c)
		}
		s.transports.list = make(map[int]*listener)
		s.lock.Unlock()

		for _, c := range clients {
			c.goodbye()
		}

		s.clients.wg.Wait()

		s.requests.Purge()

		s.log.Info("stopped")
	})

	return nil
}

// route PUBLISH or REQUEST to every matching subscriber
func (s *Server) route(from *client, p *packet.Packet, buf []byte) int {
	subs, err := s.topics.search(p.Meta().Topic())
	if err != nil {
		from.log.Debugw("dropping packet", "type", p.Type().Name(), "error", err)
		return 0
	}

	for _, sub := range subs {
		sub.(*client).send(p.Type(), buf)
	}

	return len(subs)
}

// routeReply REPLY goes back to requester, otherwise to subscribers of its topic
func (s *Server) routeReply(from *client, p *packet.Packet, buf []byte) {
	if requester, ok := s.requests.Get(p.Meta().CorrID()); ok && !requester.closed() {
		requester.send(p.Type(), buf)
		return
	}

	if len(p.Meta().Topic()) != 0 && s.route(from, p, buf) > 0 {
		return
	}

	s.Metrics.Connections().OnOrphanReply()
	from.log.Debugw("reply has no destination", "corrID", p.Meta().CorrID())
}
