package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesProcessed The total number of processed messages (counter)
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "messages",
			Name:      "processed_total",
			Help:      "The total number of processed messages",
		},
		[]string{"topic", "handler"},
	)

	// MessagesProcessingFailed total number of message processing failures (counter)
	MessagesProcessingFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "messages",
			Name:      "processing_failed_total",
			Help:      "The total number of message processing failures",
		},
		[]string{"topic", "handler"},
	)

	MessagesProcessingDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace:  "messages",
			Name:       "processing_duration_seconds",
			Help:       "The total time spent processing messages",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"topic", "handler"},
	)

	TicketsReserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tickets",
			Name:      "reserved_total",
			Help:      "Tickets reserved, by source",
		},
		[]string{"source"},
	)

	TicketsCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tickets",
			Name:      "cancelled_total",
			Help:      "Tickets cancelled, by reason",
		},
		[]string{"reason"},
	)

	TransactionsPaid = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transactions",
			Name:      "paid_total",
			Help:      "Transactions marked as paid, by payment method",
		},
		[]string{"method"},
	)

	GatewayCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "callbacks_total",
			Help:      "Payment gateway callbacks, by outcome",
		},
		[]string{"outcome"},
	)

	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sweep",
			Name:      "runs_total",
			Help:      "Sweep runs, by tier and whether the lock was taken",
		},
		[]string{"tier", "locked"},
	)

	WaitingListAllocations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sweep",
			Name:      "allocations_total",
			Help:      "Waiting list entries turned into reservations",
		},
	)

	OperatorAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "operators",
			Name:      "alerts_total",
			Help:      "Security and integrity failures raised to operators",
		},
		[]string{"kind"},
	)
)
