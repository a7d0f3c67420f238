package tasmota

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connected indicates whether the MQTT broker connection is up.
	Connected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "airdancer",
			Subsystem: "mqtt",
			Name:      "connected",
			Help:      "Whether the MQTT broker connection is up (1=connected, 0=disconnected)",
		},
	)

	// MessagesTotal counts handled MQTT messages.
	// Labels: kind (discovery, lwt, power)
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "airdancer",
			Subsystem: "mqtt",
			Name:      "messages_total",
			Help:      "Total number of MQTT messages handled by kind",
		},
		[]string{"kind"},
	)

	// CommandsTotal counts commands published to switches.
	// Labels: command (bother, on, off, toggle, query)
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "airdancer",
			Subsystem: "mqtt",
			Name:      "commands_total",
			Help:      "Total number of power commands published to switches",
		},
		[]string{"command"},
	)

	// Switches tracks known switches by availability.
	// Labels: status (online, offline)
	Switches = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "airdancer",
			Name:      "switches",
			Help:      "Number of known switches by availability",
		},
		[]string{"status"},
	)
)
