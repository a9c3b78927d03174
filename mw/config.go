package mw

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/VolantMQ/vlbolt/configuration"
	"github.com/VolantMQ/vlbolt/connection"
)

// Config string map handed over by the messaging framework
type Config map[string]string

// nolint: golint
const (
	KeyServer    = "server"
	OptionPrefix = "MW-"

	OptPingInterval = "PING-INTERVAL"
	OptInactivity   = "INACTIVITY"
	OptAckTimeout   = "ACK-TIMEOUT"
	OptReplyTo      = "REPLY-TO"
	OptReplyExpose  = "REPLY-EXPOSE"
	OptReconnectMax = "RECONNECT-MAX"
	OptMaxPacket    = "MAX-PACKET"
	OptFilterTTL    = "FILTER-TTL"
	OptFilterSize   = "FILTER-SIZE"
)

// settings parsed from Config
type settings struct {
	servers    string
	options    []connection.Option
	replyTo    string
	expose     bool
	filterSize int
	filterTTL  time.Duration
}

// Get value by key, case insensitive
func (c Config) Get(key string) (string, bool) {
	if v, ok := c[key]; ok {
		return v, true
	}

	for k, v := range c {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}

	return "", false
}

// middleware options, keys with MW- prefix stripped and upper cased
func (c Config) middleware() map[string]string {
	res := make(map[string]string)

	for k, v := range c {
		if len(k) > len(OptionPrefix) && strings.EqualFold(k[:len(OptionPrefix)], OptionPrefix) {
			res[strings.ToUpper(k[len(OptionPrefix):])] = v
		}
	}

	return res
}

// duration accepts Go duration string or integer milliseconds
func duration(key, v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "%s%s", OptionPrefix, key)
	}

	return d, nil
}

func (c Config) settings() (*settings, error) {
	s := &settings{
		filterSize: connection.DefaultFilterSize,
		filterTTL:  connection.DefaultFilterTTL,
	}

	var ok bool
	if s.servers, ok = c.Get(KeyServer); !ok || len(strings.TrimSpace(s.servers)) == 0 {
		return nil, connection.NewError(connection.KindState, "config", connection.ErrNoServers)
	}

	policy := connection.DefaultReconnectPolicy()
	withPolicy := false

	for key, v := range c.middleware() {
		var err error
		var d time.Duration
		var n int

		switch key {
		case OptPingInterval:
			if d, err = duration(key, v); err == nil {
				s.options = append(s.options, connection.PingInterval(d))
			}
		case OptInactivity:
			if d, err = duration(key, v); err == nil {
				s.options = append(s.options, connection.InactivityTimeout(d))
			}
		case OptAckTimeout:
			if d, err = duration(key, v); err == nil {
				s.options = append(s.options, connection.AckTimeout(d))
			}
		case OptReplyTo:
			s.replyTo = v
		case OptReplyExpose:
			s.expose, err = strconv.ParseBool(v)
		case OptReconnectMax:
			if n, err = strconv.Atoi(v); err == nil {
				policy.MaxAttempts = n
				withPolicy = true
			}
		case OptMaxPacket:
			if n, err = strconv.Atoi(v); err == nil {
				s.options = append(s.options, connection.MaxPacketSize(int32(n)))
			}
		case OptFilterTTL:
			s.filterTTL, err = duration(key, v)
		case OptFilterSize:
			s.filterSize, err = strconv.Atoi(v)
		default:
			continue
		}

		if err != nil {
			return nil, connection.NewError(connection.KindState, "config", errors.Wrapf(err, "%s%s=%q", OptionPrefix, key, v))
		}
	}

	if withPolicy {
		s.options = append(s.options, connection.Reconnect(policy))
	}

	return s, nil
}

// ConfigFromClient facade config equivalent of client section of configuration file
func ConfigFromClient(cc *configuration.ClientConfig) Config {
	cfg := Config{
		KeyServer: cc.Servers,
	}

	ms := func(d time.Duration) string {
		return strconv.FormatInt(d.Milliseconds(), 10)
	}

	if cc.PingInterval > 0 {
		cfg[OptionPrefix+OptPingInterval] = ms(cc.PingInterval)
	}

	if cc.InactivityTimeout > 0 {
		cfg[OptionPrefix+OptInactivity] = ms(cc.InactivityTimeout)
	}

	if cc.AckTimeout > 0 {
		cfg[OptionPrefix+OptAckTimeout] = ms(cc.AckTimeout)
	}

	if len(cc.ReplyTo) > 0 {
		cfg[OptionPrefix+OptReplyTo] = cc.ReplyTo
	}

	if cc.ExposeReplies {
		cfg[OptionPrefix+OptReplyExpose] = "true"
	}

	if cc.Reconnect.MaxAttempts > 0 {
		cfg[OptionPrefix+OptReconnectMax] = strconv.Itoa(cc.Reconnect.MaxAttempts)
	}

	if cc.MaxPacketSize > 0 {
		cfg[OptionPrefix+OptMaxPacket] = strconv.Itoa(int(cc.MaxPacketSize))
	}

	return cfg
}
