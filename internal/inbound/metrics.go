package inbound

import "github.com/prometheus/client_golang/prometheus"

var (
	// messagesTotal counts reconciled events by channel and outcome.
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbound_messages_total",
			Help: "Inbound WhatsApp messages by source and reconciliation outcome.",
		},
		[]string{"source", "outcome"},
	)

	// pollFailures counts per-instance poll cycles that could not fetch.
	pollFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inbound_poll_failures_total",
			Help: "Poll cycles that failed to fetch messages for an instance.",
		},
	)
)

func init() {
	prometheus.MustRegister(messagesTotal, pollFailures)
}

func observe(src Source, outcome Outcome) {
	messagesTotal.WithLabelValues(string(src), string(outcome)).Inc()
}
