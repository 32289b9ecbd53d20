package host

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-rendezvous/internal/rendezvous"
)

const metricsNamespace = "rendezvous"

// metrics 宿主的 Prometheus 指标
type metrics struct {
	received      *prometheus.CounterVec
	sent          *prometheus.CounterVec
	events        *prometheus.CounterVec
	registrations prometheus.Gauge
	connected     prometheus.Gauge
}

// newMetrics 创建指标并注册到 reg，reg 为 nil 时只在内存中计数
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Rendezvous messages received grouped by type",
		}, []string{"type"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Rendezvous messages sent grouped by type",
		}, []string{"type"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Engine events grouped by kind",
		}, []string{"kind"}),
		registrations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "registrations",
			Help:      "Registrations held by this rendezvous point",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected_peers",
			Help:      "Peers with an established rendezvous stream",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.received, m.sent, m.events, m.registrations, m.connected} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) messageReceived(msg rendezvous.Message) {
	m.received.WithLabelValues(msg.Type().String()).Inc()
}

func (m *metrics) messageSent(msg rendezvous.Message) {
	m.sent.WithLabelValues(msg.Type().String()).Inc()
}

func (m *metrics) event(ev rendezvous.Event) {
	m.events.WithLabelValues(string(ev.Kind())).Inc()
}
