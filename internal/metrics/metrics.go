// Package metrics exposes Prometheus instrumentation for GuestPipe.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// InboundMessages counts every inbound message accepted for processing,
	// labeled by outcome: processed, duplicate or error.
	InboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guestpipe",
		Name:      "inbound_messages_total",
		Help:      "Inbound guest messages by processing outcome.",
	}, []string{"outcome"})

	// SessionsStarted counts new conversation sessions by flow category.
	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guestpipe",
		Name:      "sessions_started_total",
		Help:      "Conversation sessions created, by flow category.",
	}, []string{"flow"})

	// OutboundMessages counts delivery attempts by result.
	OutboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guestpipe",
		Name:      "outbound_messages_total",
		Help:      "Outbound message delivery attempts by result.",
	}, []string{"result"})

	// SaveConflicts counts optimistic-concurrency retries on session saves.
	SaveConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "guestpipe",
		Name:      "session_save_conflicts_total",
		Help:      "Session save attempts that hit a version conflict.",
	})

	// ProcessDuration observes end-to-end handling time for one message.
	ProcessDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "guestpipe",
		Name:      "message_process_duration_seconds",
		Help:      "Time to process one inbound message.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Outcome label values for InboundMessages.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)

// Result label values for OutboundMessages.
const (
	ResultSent   = "sent"
	ResultFailed = "failed"
)

// Handler returns the HTTP handler serving the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
