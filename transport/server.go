package transport

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultPort Bolt broker port used when none given
const DefaultPort = 9100

// SubProtocol websocket sub-protocol negotiated by dialer and listener
const SubProtocol = "bolt"

// ErrInvalidServer server string cannot be parsed
var ErrInvalidServer = errors.New("transport: invalid server")

// Server broker endpoint
type Server struct {
	Scheme string
	Host   string
	Path   string
	Port   int
}

// Address host:port
func (s Server) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL websocket url of the endpoint
func (s Server) URL() string {
	u := url.URL{
		Scheme: s.Scheme,
		Host:   s.Address(),
		Path:   s.Path,
	}

	return u.String()
}

// String endpoint as accepted by ParseServer
func (s Server) String() string {
	if s.Scheme == "tcp" {
		return s.Address()
	}

	return s.URL()
}

// ParseServer accepts "host", "host:port", "tcp://host:port" and "ws(s)://host:port/path"
func ParseServer(str string) (Server, error) {
	str = strings.TrimSpace(str)
	if len(str) == 0 {
		return Server{}, errors.Wrap(ErrInvalidServer, "empty")
	}

	srv := Server{
		Scheme: "tcp",
		Port:   DefaultPort,
	}

	hostPort := str

	if strings.Contains(str, "://") {
		u, err := url.Parse(str)
		if err != nil {
			return Server{}, errors.Wrapf(ErrInvalidServer, "%s: %s", str, err.Error())
		}

		switch u.Scheme {
		case "tcp", "ws", "wss":
		default:
			return Server{}, errors.Wrapf(ErrInvalidServer, "%s: unsupported scheme %q", str, u.Scheme)
		}

		srv.Scheme = u.Scheme
		srv.Path = u.Path
		hostPort = u.Host
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		// no port given
		host = hostPort
		port = ""
	}

	if len(host) == 0 {
		return Server{}, errors.Wrapf(ErrInvalidServer, "%s: missing host", str)
	}

	srv.Host = host

	if len(port) > 0 {
		if srv.Port, err = strconv.Atoi(port); err != nil || srv.Port <= 0 || srv.Port > 65535 {
			return Server{}, errors.Wrapf(ErrInvalidServer, "%s: invalid port %q", str, port)
		}
	}

	return srv, nil
}

// ParseServers comma separated list of servers
func ParseServers(list string) ([]Server, error) {
	var servers []Server

	for _, item := range strings.Split(list, ",") {
		if len(strings.TrimSpace(item)) == 0 {
			continue
		}

		srv, err := ParseServer(item)
		if err != nil {
			return nil, err
		}

		servers = append(servers, srv)
	}

	if len(servers) == 0 {
		return nil, errors.Wrap(ErrInvalidServer, "no servers")
	}

	return servers, nil
}
