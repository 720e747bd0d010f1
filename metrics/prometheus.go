package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func NewPromCounter(m prometheus.Counter) Observer {
	return &PrometheusMetric{
		observe: func(val float64, labels ...string) {
			m.Add(val)
		},
		Collector: m,
	}
}

// for counters partitioned by labels
func NewPromCounterVec(m *prometheus.CounterVec) Observer {
	return &PrometheusMetric{
		observe: func(val float64, labels ...string) {
			m.WithLabelValues(labels...).Add(val)
		},
		Collector: m,
	}
}

// for histogram or summary vecs
func NewPromObserverVec(m prometheus.ObserverVec) Observer {
	return &PrometheusMetric{
		observe: func(val float64, labels ...string) {
			m.WithLabelValues(labels...).Observe(val)
		},
		Collector: m,
	}
}

func NewPromHistogram(m prometheus.Histogram) Observer {
	return &PrometheusMetric{
		observe: func(val float64, labels ...string) {
			m.Observe(val)
		},
		Collector: m,
	}
}

type PrometheusMetric struct {
	observe func(val float64, labels ...string)
	prometheus.Collector
}

func (m *PrometheusMetric) Observe(val float64, labels ...string) {
	m.observe(val, labels...)
}

// New creates the default set of metrics under a namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		MessagesReceived: NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Subsystem: "chat",
					Name:      "received",
					Help:      "Number of chat messages received from the adapter.",
				},
			),
		),
		MessagesSent: NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Subsystem: "chat",
					Name:      "sent",
					Help:      "Number of chat messages sent through the adapter.",
				},
			),
		),
		RoutesTriggered: NewPromCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Subsystem: "chat",
					Name:      "routes",
					Help:      "Number of chat messages dispatched to each handler.",
				},
				[]string{"handler"},
			),
		),
		UnhandledMessages: NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Subsystem: "chat",
					Name:      "unhandled",
					Help:      "Number of chat messages which matched no route.",
				},
			),
		),
		CallbackErrors: NewPromCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Subsystem: "dispatch",
					Name:      "errors",
					Help:      "Number of errors from handler callbacks.",
				},
				[]string{"handler"},
			),
		),
		EventsTriggered: NewPromCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Subsystem: "events",
					Name:      "triggered",
					Help:      "Number of events triggered.",
				},
				[]string{"event"},
			),
		),
		DispatchLatency: NewPromHistogram(
			prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.2, 0.5, 1, 5},
					Namespace: namespace,
					Subsystem: "chat",
					Name:      "dispatch_latency",
					Help:      "How long it takes to dispatch a message to every handler in seconds.",
				},
			),
		),
		HTTPLatency: NewPromObserverVec(
			prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.2, 0.5, 1, 5},
					Namespace: namespace,
					Subsystem: "http",
					Name:      "latency",
					Help:      "How long HTTP routes take to serve in seconds.",
				},
				[]string{"handler"},
			),
		),
	}
}
