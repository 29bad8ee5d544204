package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptsync_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptsync_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Room metrics
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptsync_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	RoomsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptsync_rooms_closed_total",
			Help: "Total rooms closed",
		},
		[]string{"reason"}, // "empty" or "controller_left"
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptsync_auth_failures_total",
			Help: "Total rejected WebSocket authentications",
		},
		[]string{"reason"},
	)

	// Session metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "promptsync_active_connections",
			Help: "Live WebSocket connections on this process",
		},
	)

	MessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptsync_messages_relayed_total",
			Help: "Total client messages relayed",
		},
		[]string{"scope"}, // "local" or "remote"
	)

	DroppedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptsync_dropped_frames_total",
			Help: "Malformed client frames dropped",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptsync_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	// Infrastructure metrics
	BrokerPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptsync_broker_publish_failures_total",
			Help: "Failed broker publishes",
		},
	)

	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "promptsync_redis_latency_seconds",
			Help:    "Redis room store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
