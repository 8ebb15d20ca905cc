/*
Package metrics declares the Prometheus collectors exported by the server and the
HTTP middleware recording per-route request metrics.
*/
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "linkroom"

var (
	// RoomOperations counts session commands by operation (create, join, leave) and result.
	RoomOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "room_operations_total",
		Help:      "Room session operations by result",
	}, []string{"operation", "result"})

	// SessionsInRoom tracks sessions currently in the InRoom phase.
	SessionsInRoom = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_in_room",
		Help:      "Sessions currently subscribed to a room",
	})

	// DocumentUpdates counts applied document changes by origin (local, remote).
	DocumentUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "document_updates_total",
		Help:      "Document changes applied to session state",
	}, []string{"origin"})

	// DocumentSnapshotFailures counts failed writes of the document snapshot to the directory.
	DocumentSnapshotFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "document_snapshot_failures_total",
		Help:      "Failed document snapshot writes to the room directory",
	})

	// PresenceSyncs counts presence sync snapshots applied to session state.
	PresenceSyncs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "presence_syncs_total",
		Help:      "Presence sync snapshots applied",
	})

	// DeliveriesDropped counts substrate deliveries dropped because a subscriber queue was full.
	DeliveriesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_deliveries_dropped_total",
		Help:      "Realtime deliveries dropped due to back-pressure",
	}, []string{"backend"})

	// FramesDropped counts outbound WebSocket frames dropped because a client send queue was full.
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_frames_dropped_total",
		Help:      "Outbound WebSocket frames dropped due to a full send queue",
	})

	// RateLimitRejections counts requests rejected by an IP rate limiter.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejections_total",
		Help:      "Requests rejected by IP rate limiting",
	}, []string{"limiter"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_in_flight_requests",
		Help:      "Current number of in-flight HTTP requests",
	})
)

// Middleware records request metrics labelled by the matched chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(status),
		}
		httpRequests.With(labels).Inc()
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
