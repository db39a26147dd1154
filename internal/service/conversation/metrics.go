package conversation

import "github.com/prometheus/client_golang/prometheus"

var (
	conversationsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "therapy_sync_conversations_created_total",
			Help: "Conversations created for a new pair.",
		},
	)
	conversationsReactivated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "therapy_sync_conversations_reactivated_total",
			Help: "Archived conversations reactivated by a booking.",
		},
	)
	conversationsArchived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "therapy_sync_conversations_archived_total",
			Help: "Conversations archived.",
		},
	)
	duplicatesResolved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "therapy_sync_conversation_duplicates_resolved_total",
			Help: "Duplicate conversations deleted in favour of the canonical one.",
		},
	)
)

func init() {
	prometheus.MustRegister(conversationsCreated, conversationsReactivated, conversationsArchived, duplicatesResolved)
}
