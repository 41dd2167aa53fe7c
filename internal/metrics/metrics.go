// Package metrics holds the Prometheus collectors shared by the HTTP layer and the room engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveroom_http_requests_total",
			Help: "HTTP requests by path and status code",
		},
		[]string{"path", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liveroom_http_request_duration_seconds",
			Help:    "HTTP request latency by path",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
	JoinResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveroom_join_results_total",
			Help: "Join attempts by outcome",
		},
		[]string{"result"},
	)
	RoomTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveroom_room_events_total",
			Help: "Committed room events by kind",
		},
		[]string{"kind"},
	)
	FeedConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "liveroom_room_feed_connections",
			Help: "Open room feed websockets",
		},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequests)
	prometheus.MustRegister(HTTPDuration)
	prometheus.MustRegister(JoinResults)
	prometheus.MustRegister(RoomTransitions)
	prometheus.MustRegister(FeedConnections)
}
