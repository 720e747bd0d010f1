package metrics

import "github.com/prometheus/client_golang/prometheus"

type Observer interface {
	Observe(val float64, labels ...string)

	// for now we will tightly couple to the prometheus collector type
	// the go otel metrics sdk also has a prometheus adapter that implements this interface.
	prometheus.Collector
}

type Metrics struct {
	// MessagesReceived counts chat messages received from the adapter.
	MessagesReceived Observer
	// MessagesSent counts chat messages sent through the adapter.
	MessagesSent Observer
	// RoutesTriggered counts messages which matched at least one route of a
	// handler, labeled by handler.
	RoutesTriggered Observer
	// UnhandledMessages counts messages which matched no route.
	UnhandledMessages Observer
	// CallbackErrors counts errors from chat, HTTP, event, and timer
	// callbacks, labeled by handler.
	CallbackErrors Observer
	// EventsTriggered counts triggered events, labeled by event name.
	EventsTriggered Observer
	// DispatchLatency observes how long a message takes to dispatch to every
	// handler in seconds.
	DispatchLatency Observer
	// HTTPLatency observes HTTP route latency in seconds, labeled by handler.
	HTTPLatency Observer
}

func (m Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesReceived,
		m.MessagesSent,
		m.RoutesTriggered,
		m.UnhandledMessages,
		m.CallbackErrors,
		m.EventsTriggered,
		m.DispatchLatency,
		m.HTTPLatency,
	}
}
