package metrics

import (
	"github.com/VolantMQ/vlbolt/packet"
	"github.com/prometheus/client_golang/prometheus"
)

type bytes struct {
	sent prometheus.Counter
	recv prometheus.Counter
}

type packets struct {
	sent     *prometheus.CounterVec
	recv     *prometheus.CounterVec
	rejected prometheus.Counter
}

type connections struct {
	active     prometheus.Gauge
	reconnects prometheus.Counter
	duplicates prometheus.Counter
	orphans    prometheus.Counter
}

var _ Bytes = (*bytes)(nil)
var _ Packets = (*packets)(nil)
var _ Connections = (*connections)(nil)

// Metrics prometheus backed Informer
type Metrics struct {
	bytes       bytes
	packets     packets
	connections connections
}

var _ Informer = (*Metrics)(nil)

// New allocate metrics under given namespace and register them with reg.
// nil reg leaves collectors unregistered
func New(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		bytes: bytes{
			sent: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_sent_total",
				Help:      "Bytes written to sockets.",
			}),
			recv: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_received_total",
				Help:      "Bytes read from sockets.",
			}),
		},
		packets: packets{
			sent: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packets_sent_total",
				Help:      "Frames written, by packet type.",
			}, []string{"type"}),
			recv: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packets_received_total",
				Help:      "Frames read, by packet type.",
			}, []string{"type"}),
			rejected: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packets_rejected_total",
				Help:      "Malformed or oversized frames.",
			}),
		},
		connections: connections{
			active: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections_active",
				Help:      "Connected transport connections.",
			}),
			reconnects: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_total",
				Help:      "Successful reconnects.",
			}),
			duplicates: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicates_dropped_total",
				Help:      "Inbound packets dropped by the unique filter.",
			}),
			orphans: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orphan_replies_total",
				Help:      "Replies without a pending request.",
			}),
		},
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.bytes.sent,
		m.bytes.recv,
		m.packets.sent,
		m.packets.recv,
		m.packets.rejected,
		m.connections.active,
		m.connections.reconnects,
		m.connections.duplicates,
		m.connections.orphans,
	}
}

// Nop metrics which are never registered anywhere
func Nop() *Metrics {
	m, _ := New("", nil)
	return m
}

// Bytes sink
func (m *Metrics) Bytes() Bytes {
	return &m.bytes
}

// Packets sink
func (m *Metrics) Packets() Packets {
	return &m.packets
}

// Connections sink
func (m *Metrics) Connections() Connections {
	return &m.connections
}

func (b *bytes) OnSent(n int) {
	if n > 0 {
		b.sent.Add(float64(n))
	}
}

func (b *bytes) OnRecv(n int) {
	if n > 0 {
		b.recv.Add(float64(n))
	}
}

func (p *packets) OnSent(t packet.Type) {
	p.sent.WithLabelValues(t.Name()).Inc()
}

func (p *packets) OnRecv(t packet.Type) {
	p.recv.WithLabelValues(t.Name()).Inc()
}

func (p *packets) OnRejected(n int) {
	p.rejected.Add(float64(n))
}

func (c *connections) OnConnected() {
	c.active.Inc()
}

func (c *connections) OnDisconnected() {
	c.active.Dec()
}

func (c *connections) OnReconnect() {
	c.reconnects.Inc()
}

func (c *connections) OnDuplicate() {
	c.duplicates.Inc()
}

func (c *connections) OnOrphanReply() {
	c.orphans.Inc()
}
