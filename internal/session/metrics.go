package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walkingpad_commands_total",
			Help: "Device commands by outcome",
		},
		[]string{"command", "status"},
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walkingpad_command_duration_seconds",
			Help:    "Time taken by device commands",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"command"},
	)

	telemetrySamples = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walkingpad_telemetry_samples_total",
			Help: "Status readings processed, by how they arrived",
		},
		[]string{"source"},
	)

	counterResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walkingpad_counter_resets_total",
			Help: "Times a raw device counter went backwards",
		},
		[]string{"counter"},
	)

	autoPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "walkingpad_auto_pauses_total",
			Help: "Sessions paused because the belt stopped on its own",
		},
	)

	disconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walkingpad_disconnects_total",
			Help: "Device disconnects by reason",
		},
		[]string{"reason"},
	)

	connectionStateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walkingpad_connection_state",
			Help: "1 for the current connection state, 0 for the others",
		},
		[]string{"state"},
	)

	sessionDistance = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "walkingpad_session_distance_km",
			Help: "Distance walked in the current session",
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "walkingpad_queue_depth",
			Help: "Requests waiting for the device worker",
		},
	)
)

func setConnectionGauge(current ConnectionState) {
	for _, s := range connectionStates {
		v := 0.0
		if s == current {
			v = 1
		}
		connectionStateGauge.WithLabelValues(s.String()).Set(v)
	}
}
