package web

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WSConnectionsActive tracks open WebSocket connections by endpoint.
	WSConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ssh_mcp",
		Subsystem: "web",
		Name:      "ws_connections_active",
		Help:      "Open WebSocket connections by endpoint",
	}, []string{"endpoint"})

	// WSInboundTotal counts dispatched inbound messages by type.
	WSInboundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ssh_mcp",
		Subsystem: "web",
		Name:      "ws_inbound_messages_total",
		Help:      "Inbound WebSocket messages by type",
	}, []string{"type"})

	// WSOutboundTotal counts messages written to subscriber sockets.
	WSOutboundTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ssh_mcp",
		Subsystem: "web",
		Name:      "ws_outbound_messages_total",
		Help:      "Outbound WebSocket messages on subscriber sockets",
	})

	// WSMalformedTotal counts dropped malformed inbound messages.
	WSMalformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ssh_mcp",
		Subsystem: "web",
		Name:      "ws_malformed_messages_total",
		Help:      "Malformed inbound WebSocket messages dropped",
	})
)
