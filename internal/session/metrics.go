package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks currently open sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ssh_mcp",
		Subsystem: "session",
		Name:      "active",
		Help:      "Number of currently open SSH sessions",
	})

	// SessionsTotal counts connect attempts by result.
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ssh_mcp",
		Subsystem: "session",
		Name:      "connects_total",
		Help:      "Total session connect attempts by result",
	}, []string{"result"})

	// CommandsSubmittedTotal counts commands that reached the shell.
	CommandsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ssh_mcp",
		Subsystem: "session",
		Name:      "commands_submitted_total",
		Help:      "Total commands written to the shell by source",
	}, []string{"source"})

	// CommandsCompletedTotal counts command resolutions by source and outcome.
	CommandsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ssh_mcp",
		Subsystem: "session",
		Name:      "commands_completed_total",
		Help:      "Total command resolutions by source and outcome",
	}, []string{"source", "outcome"})

	// CommandsCancelledTotal counts cancellations by reason.
	CommandsCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ssh_mcp",
		Subsystem: "session",
		Name:      "commands_cancelled_total",
		Help:      "Total command cancellations by reason",
	}, []string{"reason"})

	// GatingRejectsTotal counts exec calls rejected because a human ran
	// commands in the browser first.
	GatingRejectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ssh_mcp",
		Subsystem: "session",
		Name:      "gating_rejects_total",
		Help:      "Total exec requests rejected by browser-command gating",
	})
)
