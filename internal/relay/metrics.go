package relay

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crosstalk",
		Subsystem: "relay",
		Name:      "publishes_total",
		Help:      "Total events published, by kind.",
	}, []string{"kind"})

	publishRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crosstalk",
		Subsystem: "relay",
		Name:      "publish_rejected_total",
		Help:      "Total publishes explicitly rejected by the relay.",
	})

	eventsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crosstalk",
		Subsystem: "relay",
		Name:      "events_received_total",
		Help:      "Total verified events received, by kind.",
	}, []string{"kind"})

	framesDiscardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crosstalk",
		Subsystem: "relay",
		Name:      "frames_discarded_total",
		Help:      "Malformed or unverifiable relay frames dropped.",
	})

	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crosstalk",
		Subsystem: "relay",
		Name:      "reconnects_total",
		Help:      "Successful relay reconnections.",
	})

	bufferedMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "crosstalk",
		Subsystem: "relay",
		Name:      "buffered_messages",
		Help:      "Messages waiting in the local delivery buffer.",
	})
)

func kindLabel(kind int) string {
	switch kind {
	case KindMessage:
		return "message"
	case KindPresence:
		return "presence"
	}
	return strconv.Itoa(kind)
}
