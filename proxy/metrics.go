package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts the proxy's datagram traffic. Exposed over the HTTP
// endpoint next to /health.
type Metrics struct {
	Received      *prometheus.CounterVec
	Forwarded     prometheus.Counter
	LocalReplies  *prometheus.CounterVec
	Dropped       prometheus.Counter
	Registrations prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Received: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "siproxy_messages_received_total",
			Help: "SIP messages received, by method or response class.",
		}, []string{"method"}),
		Forwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "siproxy_messages_forwarded_total",
			Help: "SIP messages forwarded to a registered contact.",
		}),
		LocalReplies: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "siproxy_local_replies_total",
			Help: "Responses generated by the proxy itself, by status code.",
		}, []string{"code"}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "siproxy_messages_dropped_total",
			Help: "Datagrams dropped: non-SIP, unroutable or silent-drop cases.",
		}),
		Registrations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "siproxy_registrations",
			Help: "Entries currently held in the registrar table.",
		}),
	}
}
