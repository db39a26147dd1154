package feed

import "github.com/prometheus/client_golang/prometheus"

var (
	changesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "therapy_sync_feed_changes_published_total",
			Help: "Change signals published, by collection.",
		},
		[]string{"collection"},
	)
	changesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "therapy_sync_feed_changes_received_total",
			Help: "Change signals received, by collection.",
		},
		[]string{"collection"},
	)
)

func init() {
	prometheus.MustRegister(changesPublished, changesReceived)
}
