package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SlackConnected indicates whether the Socket Mode connection is up.
	SlackConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "airdancer",
			Subsystem: "slack",
			Name:      "connected",
			Help:      "Whether the Slack Socket Mode connection is up (1=connected, 0=disconnected)",
		},
	)

	// CommandsTotal counts dispatched bot commands.
	// Labels: command, outcome (ok, error, denied, unknown)
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "airdancer",
			Subsystem: "bot",
			Name:      "commands_total",
			Help:      "Total number of bot commands dispatched by outcome",
		},
		[]string{"command", "outcome"},
	)

	// BothersTotal counts bother deliveries.
	// Labels: outcome (ok, refused, skipped, error)
	BothersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "airdancer",
			Subsystem: "bot",
			Name:      "bothers_total",
			Help:      "Total number of bother attempts by outcome",
		},
		[]string{"outcome"},
	)
)
