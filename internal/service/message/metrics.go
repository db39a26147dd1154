package message

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "therapy_sync_messages_sent_total",
			Help: "Messages stored, by write path.",
		},
		[]string{"path"},
	)
	messagesRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "therapy_sync_messages_rejected_total",
			Help: "Messages rejected by content validation.",
		},
	)
	messagesDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "therapy_sync_messages_deleted_total",
			Help: "Messages hard-deleted.",
		},
	)
	activeStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "therapy_sync_message_streams_active",
			Help: "Open message streams.",
		},
	)
	streamReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "therapy_sync_message_stream_reconnects_total",
			Help: "Message feeds reopened after an interruption.",
		},
	)
)

func init() {
	prometheus.MustRegister(messagesSent, messagesRejected, messagesDeleted, activeStreams, streamReconnects)
}
