package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	teamsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crosstalk",
		Subsystem: "hub",
		Name:      "teams_created_total",
		Help:      "Total teams created.",
	})

	sendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crosstalk",
		Subsystem: "hub",
		Name:      "send_requests_total",
		Help:      "Total send requests, by status.",
	}, []string{"status"})

	messagesDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crosstalk",
		Subsystem: "hub",
		Name:      "messages_delivered_total",
		Help:      "Total per-recipient deliveries, by message type.",
	}, []string{"type"})

	sendDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "crosstalk",
		Subsystem: "hub",
		Name:      "send_duration_seconds",
		Help:      "Send request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	streamConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "crosstalk",
		Subsystem: "hub",
		Name:      "stream_connections_active",
		Help:      "Number of active agent event streams.",
	})

	livePushDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crosstalk",
		Subsystem: "hub",
		Name:      "live_push_drops_total",
		Help:      "Total live pushes dropped because a stream lagged behind.",
	})
)
