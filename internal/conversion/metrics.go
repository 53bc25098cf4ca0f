package conversion

import "github.com/prometheus/client_golang/prometheus"

var eventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "conversion_events_total",
		Help: "Conversion events by name and delivery outcome (sent, failed, skipped).",
	},
	[]string{"event", "outcome"},
)

func init() {
	prometheus.MustRegister(eventsTotal)
}

func observe(name EventName, outcome string) {
	eventsTotal.WithLabelValues(string(name), outcome).Inc()
}
