package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesPosted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fair_messages_posted_total",
			Help: "Total number of listing messages posted",
		},
	)

	ThreadsMarkedRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fair_messages_marked_read_total",
			Help: "Total number of messages flipped to read",
		},
	)

	RequestDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fair_request_decisions_total",
			Help: "Moderation decisions by request kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ApprovalConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fair_request_conflicts_total",
			Help: "Approve or reject attempts on requests that already left pending",
		},
		[]string{"kind"},
	)

	AuditProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fair_audit_events_processed_total",
			Help: "Audit events consumed by workers, by result",
		},
		[]string{"result"},
	)

	AuditWorkersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fair_audit_workers_active",
			Help: "Number of running audit worker goroutines",
		},
	)

	ConsumerChannelClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fair_consumer_channel_closed_total",
			Help: "Delivery channels closed by the broker while consuming",
		},
		[]string{"queue"},
	)

	Deletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fair_deletions_total",
			Help: "Accounts, listings and pavilions removed, by entity",
		},
		[]string{"entity"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fair_queue_depth",
			Help: "Current RabbitMQ queue depth",
		},
		[]string{"queue"},
	)
)

var once sync.Once

// Init registers metrics with Prometheus. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(MessagesPosted)
		prometheus.MustRegister(ThreadsMarkedRead)
		prometheus.MustRegister(RequestDecisions)
		prometheus.MustRegister(ApprovalConflicts)
		prometheus.MustRegister(AuditProcessed)
		prometheus.MustRegister(AuditWorkersActive)
		prometheus.MustRegister(ConsumerChannelClosed)
		prometheus.MustRegister(Deletions)
		prometheus.MustRegister(QueueDepth)
	})
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
