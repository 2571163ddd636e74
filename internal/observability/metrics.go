package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_http_requests_total",
			Help: "Total number of HTTP requests processed by the IM service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "im_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "im_ws_active_connections",
			Help: "Number of open websocket connections, authenticated or not.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	wsInboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_ws_inbound_messages_total",
			Help: "Inbound websocket frames by type and outcome.",
		},
		[]string{"type", "outcome"},
	)
	routedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_routed_messages_total",
			Help: "Private messages handled by the router by result.",
		},
		[]string{"result"},
	)
	routeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "im_route_duration_seconds",
			Help:    "Time spent routing one private message.",
			Buckets: prometheus.DefBuckets,
		},
	)
	presenceBroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_presence_broadcasts_total",
			Help: "Presence status changes broadcast, by status.",
		},
		[]string{"status"},
	)
	presenceDeliveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "im_presence_deliveries_total",
			Help: "Presence notifications pushed to connected buddies.",
		},
	)
	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by scope.",
		},
		[]string{"scope"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "im_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		wsInboundTotal,
		routedMessagesTotal,
		routeDuration,
		presenceBroadcastsTotal,
		presenceDeliveriesTotal,
		rateLimitedTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncWSInbound(msgType, outcome string) {
	wsInboundTotal.WithLabelValues(msgType, outcome).Inc()
}

func ObserveRoute(result string, started time.Time) {
	routedMessagesTotal.WithLabelValues(result).Inc()
	routeDuration.Observe(time.Since(started).Seconds())
}

func IncPresenceBroadcast(status string, delivered int) {
	presenceBroadcastsTotal.WithLabelValues(status).Inc()
	presenceDeliveriesTotal.Add(float64(delivered))
}

func IncRateLimited(scope string) {
	rateLimitedTotal.WithLabelValues(scope).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
