package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relaywire"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "route", "status"},
	)
	framesEncoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "frames_encoded_total",
			Help:      "Tunnel frames encoded by message type.",
		},
		[]string{"type"},
	)
	framesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "frames_decoded_total",
			Help:      "Tunnel frames decoded by message type.",
		},
		[]string{"type"},
	)
	decodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "decode_failures_total",
			Help:      "Tunnel frames that could not be decoded, by reason.",
		},
		[]string{"reason"},
	)
	frameBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "frame_body_bytes",
			Help:      "Tunnel frame body sizes.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"direction"},
	)
	forwardedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "forwarded_requests_total",
			Help:      "Tunnelled HTTP requests forwarded upstream.",
		},
		[]string{"method", "status"},
	)
	forwardDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "forward_duration_seconds",
			Help:      "Upstream round trip for tunnelled HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
	relayConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connection_events_total",
			Help:      "Relay connection lifecycle events.",
		},
		[]string{"event"},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "active_connections",
			Help:      "Relay connections currently open.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			framesEncoded, framesDecoded, decodeFailures, frameBytes,
			forwardedRequests, forwardDuration,
			relayConnections, activeConnections,
		)
	})
}

func RecordHTTPRequest(node, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, route, statusLabel).Observe(duration.Seconds())
}

func RecordForward(method string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	forwardedRequests.WithLabelValues(method, statusLabel).Inc()
	forwardDuration.WithLabelValues(method, statusLabel).Observe(duration.Seconds())
}

// RecordConnection counts a lifecycle event; "open" and "closed" also move
// the active gauge.
func RecordConnection(event string) {
	RegisterMetrics()
	relayConnections.WithLabelValues(event).Inc()
	switch event {
	case "open":
		activeConnections.Inc()
	case "closed":
		activeConnections.Dec()
	}
}

// CodecMetrics feeds tunnel codec events into the process registry.
type CodecMetrics struct{}

func (CodecMetrics) FrameEncoded(kind string, bodyBytes int) {
	RegisterMetrics()
	framesEncoded.WithLabelValues(kind).Inc()
	frameBytes.WithLabelValues("out").Observe(float64(bodyBytes))
}

func (CodecMetrics) FrameDecoded(kind string, bodyBytes int) {
	RegisterMetrics()
	framesDecoded.WithLabelValues(kind).Inc()
	frameBytes.WithLabelValues("in").Observe(float64(bodyBytes))
}

func (CodecMetrics) DecodeFailed(reason string) {
	RegisterMetrics()
	decodeFailures.WithLabelValues(reason).Inc()
}
