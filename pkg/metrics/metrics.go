package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ordertrack"

// StatsFunc reports the live room and connection counts.
type StatsFunc func() (rooms, connections int)

// Metrics owns a private registry so tests and multiple servers in one
// process never collide on the default one. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry  *prometheus.Registry
	relayed   *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	remote    *prometheus.CounterVec
	delivered prometheus.Counter
	dropped   prometheus.Counter
}

func New(stats StatsFunc) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_relayed_total",
			Help:      "Inbound events accepted and fanned out, by event name.",
		}, []string{"event"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Inbound events rejected before relay, by event name and reason.",
		}, []string{"event", "reason"}),
		remote: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_frames_received_total",
			Help:      "Frames received from other nodes, by event name.",
		}, []string{"event"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_delivered_total",
			Help:      "Outbound frames queued on a connection.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Outbound frames dropped because the connection was closed or too slow.",
		}),
	}
	reg.MustRegister(m.relayed, m.rejected, m.remote, m.delivered, m.dropped)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if stats != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rooms",
				Help:      "Order rooms with at least one member.",
			}, func() float64 {
				rooms, _ := stats()
				return float64(rooms)
			}),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections",
				Help:      "Open WebSocket connections.",
			}, func() float64 {
				_, conns := stats()
				return float64(conns)
			}),
		)
	}
	return m
}

func (m *Metrics) EventRelayed(event string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(event).Inc()
}

func (m *Metrics) EventRejected(event, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(event, reason).Inc()
}

func (m *Metrics) RemoteReceived(event string) {
	if m == nil {
		return
	}
	m.remote.WithLabelValues(event).Inc()
}

func (m *Metrics) FramesDelivered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.delivered.Add(float64(n))
}

func (m *Metrics) FramesDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dropped.Add(float64(n))
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
