package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Channel metrics. The "channel" label is "assistant" or "search".
var (
	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm_assistant_frames_sent_total",
			Help: "Total number of frames written to a channel socket",
		},
		[]string{"channel"},
	)

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm_assistant_frames_received_total",
			Help: "Total number of frames read from a channel socket",
		},
		[]string{"channel", "type"},
	)

	ReconnectsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm_assistant_reconnects_scheduled_total",
			Help: "Total number of reconnect attempts scheduled after a close",
		},
		[]string{"channel"},
	)

	ConnectionsExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm_assistant_connections_exhausted_total",
			Help: "Total number of connections that gave up after the maximum attempts",
		},
		[]string{"channel"},
	)

	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pm_assistant_connection_state",
			Help: "Current connection state (0 idle, 1 connecting, 2 open, 3 closing, 4 closed)",
		},
		[]string{"channel"},
	)

	QueuedMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pm_assistant_queued_messages",
			Help: "Messages waiting in the outbound queue",
		},
		[]string{"channel"},
	)

	MalformedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pm_assistant_malformed_responses_total",
			Help: "Completed responses whose buffer was not a valid JSON document",
		},
	)

	SearchesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pm_assistant_searches_sent_total",
			Help: "Debounced search frames actually transmitted",
		},
	)

	StaleSearchResults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pm_assistant_stale_search_results_total",
			Help: "search_results frames dropped because they answer a superseded query",
		},
	)
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
