package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	composedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bubu",
			Subsystem: "dispatcher",
			Name:      "composed_total",
			Help:      "Composed messages by slot and compose status.",
		},
		[]string{"slot", "status"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bubu",
			Subsystem: "dispatcher",
			Name:      "deliveries_total",
			Help:      "Send attempts by slot and delivery status.",
		},
		[]string{"slot", "status"},
	)

	songsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bubu",
			Subsystem: "dispatcher",
			Name:      "song_recommendations_total",
			Help:      "Composed messages with and without a song line.",
		},
		[]string{"slot", "result"},
	)

	skippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bubu",
			Subsystem: "dispatcher",
			Name:      "skipped_total",
			Help:      "Scheduled fires that did not send, by reason.",
		},
		[]string{"slot", "reason"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bubu",
			Subsystem: "dispatcher",
			Name:      "send_duration_seconds",
			Help:      "Messenger send latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)
