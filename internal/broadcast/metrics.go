package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubscribersActive is a gauge of attached WebSocket subscribers.
	SubscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ssh_mcp",
			Subsystem: "broadcast",
			Name:      "subscribers_active",
			Help:      "Number of currently attached output subscribers",
		},
	)

	// SubscriberOverflowsTotal counts subscribers dropped for queue overflow.
	SubscriberOverflowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ssh_mcp",
			Subsystem: "broadcast",
			Name:      "subscriber_overflows_total",
			Help:      "Total subscribers detached due to outbound queue overflow",
		},
	)

	// ChunksPublishedTotal counts normalized chunks published to the hub.
	ChunksPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ssh_mcp",
			Subsystem: "broadcast",
			Name:      "chunks_published_total",
			Help:      "Total normalized output chunks published",
		},
	)

	// BytesPublishedTotal counts normalized output bytes published.
	BytesPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ssh_mcp",
			Subsystem: "broadcast",
			Name:      "bytes_published_total",
			Help:      "Total normalized output bytes published",
		},
	)
)
