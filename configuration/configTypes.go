package configuration

import (
	"crypto/tls"
	"os"
	"time"

	"github.com/pkg/errors"
)

// TimestampConfig entry in log.console.timestamp
type TimestampConfig struct {
	Format string `yaml:"format,omitempty"`
}

// ConsoleLogConfig entry in log.console
type ConsoleLogConfig struct {
	Level     string           `yaml:"level,omitempty"`
	Timestamp *TimestampConfig `yaml:"timestamp,omitempty"`
}

// LogConfig entry in log
type LogConfig struct {
	Console ConsoleLogConfig `yaml:"console,omitempty"`
}

// TLSConfig used by wss/ssl listeners and secure clients
type TLSConfig struct {
	Cert string `yaml:"cert,omitempty"`
	Key  string `yaml:"key,omitempty"`
}

// ReconnectConfig backoff policy of the reconnect supervisor
type ReconnectConfig struct {
	Initial     time.Duration `yaml:"initial,omitempty"`
	Max         time.Duration `yaml:"max,omitempty"`
	Multiplier  float64       `yaml:"multiplier,omitempty"`
	MaxAttempts int           `yaml:"maxAttempts,omitempty"`
}

// ClientConfig entry in client
type ClientConfig struct {
	Servers           string          `yaml:"servers,omitempty"`
	PingInterval      time.Duration   `yaml:"pingInterval,omitempty"`
	InactivityTimeout time.Duration   `yaml:"inactivity,omitempty"`
	AckTimeout        time.Duration   `yaml:"ackTimeout,omitempty"`
	HandshakeTimeout  time.Duration   `yaml:"handshakeTimeout,omitempty"`
	MaxPacketSize     int32           `yaml:"maxPacketSize,omitempty"`
	ReplyTo           string          `yaml:"replyTo,omitempty"`
	ExposeReplies     bool            `yaml:"exposeReplies,omitempty"`
	Reconnect         ReconnectConfig `yaml:"reconnect,omitempty"`
}

// ListenerConfig configuration of tcp/ssl/ws(s) listener
type ListenerConfig struct {
	Scheme string    `yaml:"scheme,omitempty"`
	Host   string    `yaml:"host,omitempty"`
	Port   int       `yaml:"port"`
	Path   string    `yaml:"path,omitempty"`
	TLS    TLSConfig `yaml:"tls,omitempty"`
}

// BrokerConfig entry in broker
type BrokerConfig struct {
	MaxPacketSize     int32            `yaml:"maxPacketSize,omitempty"`
	InactivityTimeout time.Duration    `yaml:"inactivity,omitempty"`
	Listeners         []ListenerConfig `yaml:"listeners,omitempty"`
}

// HTTPConfig health and metrics endpoints
type HTTPConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Config system-wide config
type Config struct {
	Version string       `yaml:"version,omitempty"`
	Log     LogConfig    `yaml:"log,omitempty"`
	Client  ClientConfig `yaml:"client,omitempty"`
	Broker  BrokerConfig `yaml:"broker,omitempty"`
	HTTP    HTTPConfig   `yaml:"http,omitempty"`
}

// Enabled either certificate and key provided
func (t *TLSConfig) Enabled() bool {
	return len(t.Cert) != 0 || len(t.Key) != 0
}

// Validate load key pair
func (t *TLSConfig) Validate() (tls.Certificate, error) {
	if len(t.Cert) == 0 {
		return tls.Certificate{}, errors.New("empty certificate name")
	}

	if len(t.Key) == 0 {
		return tls.Certificate{}, errors.New("empty key name")
	}

	certPEMBlock, err := os.ReadFile(t.Cert)
	if err != nil {
		return tls.Certificate{}, errors.Wrapf(err, "tls: read certificate: %s", t.Cert)
	}

	keyPEMBlock, err := os.ReadFile(t.Key)
	if err != nil {
		return tls.Certificate{}, errors.Wrapf(err, "tls: read key: %s", t.Key)
	}

	return tls.X509KeyPair(certPEMBlock, keyPEMBlock)
}

// LoadConfig server side tls config
func (t *TLSConfig) LoadConfig() (*tls.Config, error) {
	certs, err := t.Validate()
	if err != nil {
		return nil, err
	}

	c := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	c.Certificates = append(c.Certificates, certs)

	return c, nil
}

// Validate broker section
func (b *BrokerConfig) Validate() error {
	if len(b.Listeners) == 0 {
		return errors.New("broker: no listeners")
	}

	for i, l := range b.Listeners {
		switch l.Scheme {
		case "tcp", "ssl", "ws", "wss":
		default:
			return errors.Errorf("broker: listener #%d: unsupported scheme %q", i, l.Scheme)
		}

		if l.Port < 0 || l.Port > 65535 {
			return errors.Errorf("broker: listener #%d: invalid port %d", i, l.Port)
		}
	}

	return nil
}
