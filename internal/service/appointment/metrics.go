package appointment

import "github.com/prometheus/client_golang/prometheus"

var (
	appointmentsBooked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "therapy_sync_appointments_booked_total",
			Help: "Appointments stored as scheduled.",
		},
	)
	bookingsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "therapy_sync_bookings_rejected_overlap_total",
			Help: "Bookings rejected because the therapist slot was taken.",
		},
	)
	appointmentsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "therapy_sync_appointments_finished_total",
			Help: "Appointments moved to a terminal status.",
		},
		[]string{"status"},
	)
	conversationSetupFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "therapy_sync_conversation_setup_failures_total",
			Help: "Bookings stored whose conversation step failed.",
		},
	)
)

func init() {
	prometheus.MustRegister(appointmentsBooked, bookingsRejected, appointmentsFinished, conversationSetupFailures)
}
