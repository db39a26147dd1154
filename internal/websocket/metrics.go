package websocket

import "github.com/prometheus/client_golang/prometheus"

var (
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "therapy_sync_ws_connections",
			Help: "Current number of active websocket connections.",
		},
	)
	wsRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "therapy_sync_ws_rooms",
			Help: "Current number of websocket rooms.",
		},
	)
	wsFramesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "therapy_sync_ws_frames_delivered_total",
			Help: "Frames written to websocket clients, by type.",
		},
		[]string{"type"},
	)
	wsFramesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "therapy_sync_ws_frames_dropped_total",
			Help: "Room broadcasts dropped because a client fell behind.",
		},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsRooms, wsFramesDelivered, wsFramesDropped)
}

func incConnections() {
	wsConnections.Inc()
}

func decConnections() {
	wsConnections.Dec()
}

func setRooms(count int) {
	wsRooms.Set(float64(count))
}
