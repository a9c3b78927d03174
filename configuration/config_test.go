package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()

	require.Equal(t, "127.0.0.1:9100", c.Client.Servers)
	require.Equal(t, 5*time.Second, c.Client.PingInterval)
	require.Equal(t, 10*time.Second, c.Client.InactivityTimeout)
	require.Equal(t, 100*time.Millisecond, c.Client.Reconnect.Initial)
	require.Equal(t, 10*time.Second, c.Client.Reconnect.Max)
	require.Equal(t, 2.0, c.Client.Reconnect.Multiplier)
	require.Len(t, c.Broker.Listeners, 2)
	require.Equal(t, "ws", c.Broker.Listeners[1].Scheme)
	require.Equal(t, "/bolt", c.Broker.Listeners[1].Path)
	require.NoError(t, c.Broker.Validate())
}

func TestParseConfigMergesOverDefault(t *testing.T) {
	c, err := ParseConfig([]byte(`
client:
  servers: a:1,b:2
  ackTimeout: 250ms
http:
  addr: ":9999"
`))
	require.NoError(t, err)

	require.Equal(t, "a:1,b:2", c.Client.Servers)
	require.Equal(t, 250*time.Millisecond, c.Client.AckTimeout)
	require.Equal(t, 5*time.Second, c.Client.PingInterval)
	require.Equal(t, ":9999", c.HTTP.Addr)
}

func TestParseConfigInvalid(t *testing.T) {
	_, err := ParseConfig([]byte("client: [unterminated"))
	require.Error(t, err)
}

func TestReadConfig(t *testing.T) {
	c, err := ReadConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), c)

	_, err = ReadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "boltd.yaml")
	require.NoError(t, os.WriteFile(file, []byte("broker:\n  listeners:\n    - scheme: tcp\n      port: 0\n"), 0600))

	c, err = ReadConfig(file)
	require.NoError(t, err)
	require.Len(t, c.Broker.Listeners, 1)
	require.Equal(t, 0, c.Broker.Listeners[0].Port)
}

func TestBrokerValidate(t *testing.T) {
	b := BrokerConfig{}
	require.Error(t, b.Validate())

	b.Listeners = []ListenerConfig{{Scheme: "udp", Port: 1}}
	require.Error(t, b.Validate())

	b.Listeners = []ListenerConfig{{Scheme: "ssl", Port: 70000}}
	require.Error(t, b.Validate())

	b.Listeners = []ListenerConfig{{Scheme: "wss", Port: 443}}
	require.NoError(t, b.Validate())
}

func TestTLSConfig(t *testing.T) {
	c := TLSConfig{}
	require.False(t, c.Enabled())

	_, err := c.Validate()
	require.Error(t, err)

	c.Cert = "cert.pem"
	require.True(t, c.Enabled())

	_, err = c.Validate()
	require.Error(t, err)

	c.Key = filepath.Join(t.TempDir(), "missing.key")
	_, err = c.LoadConfig()
	require.Error(t, err)
}

func TestConfigureLoggers(t *testing.T) {
	prev := GetLogger()
	defer SetLogger(prev)

	require.Error(t, ConfigureLoggers(&LogConfig{Console: ConsoleLogConfig{Level: "loud"}}))

	lc := &LogConfig{
		Console: ConsoleLogConfig{
			Level:     "debug",
			Timestamp: &TimestampConfig{Format: "RFC822"},
		},
	}
	require.NoError(t, ConfigureLoggers(lc))
	require.Equal(t, time.RFC822, lc.Console.Timestamp.Format)
	require.NotEqual(t, prev, GetLogger())

	lc.Console.Timestamp.Format = "whenever"
	require.NoError(t, ConfigureLoggers(lc))
	require.Equal(t, time.RFC3339, lc.Console.Timestamp.Format)
}
