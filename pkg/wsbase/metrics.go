package wsbase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	connections      prometheus.Gauge
	connectsTotal    prometheus.Counter
	disconnectsTotal prometheus.Counter
	receivedTotal    prometheus.Counter
	sentTotal        prometheus.Counter
	reportsTotal     *prometheus.CounterVec
	hookFailures     *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, namespace string) *metrics {
	factory := promauto.With(reg) // nil reg: created, not registered

	return &metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of live connections",
		}),
		connectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Total number of registered connections",
		}),
		disconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Total number of removed connections",
		}),
		receivedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages delivered to OnMessage",
		}),
		sentTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of queued messages handed to the transport",
		}),
		reportsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Total number of reported non-fatal errors",
		}, []string{"kind"}),
		hookFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_failures_total",
			Help:      "Total number of failed or panicked hooks",
		}, []string{"hook"}),
	}
}
