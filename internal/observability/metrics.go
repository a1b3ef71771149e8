package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	transportConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_transport_connected",
			Help: "Whether the event transport for a namespace is connected (1) or not (0).",
		},
		[]string{"namespace"},
	)
	transportReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_transport_reconnects_total",
			Help: "Total number of transport reconnect attempts.",
		},
		[]string{"namespace"},
	)
	eventsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_received_total",
			Help: "Total number of inbound events delivered to subscribers.",
		},
		[]string{"namespace", "event"},
	)
	eventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_emitted_total",
			Help: "Total number of outbound events written to the transport.",
		},
		[]string{"namespace", "event"},
	)
	eventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_dropped_total",
			Help: "Total number of events dropped (disconnected emit or full subscriber).",
		},
		[]string{"namespace", "event", "reason"},
	)
	eventsMalformedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_malformed_total",
			Help: "Total number of inbound events discarded as malformed.",
		},
		[]string{"namespace", "event"},
	)
	restRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_rest_requests_total",
			Help: "Total number of REST collaborator requests.",
		},
		[]string{"method", "status"},
	)
	restRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_rest_request_duration_seconds",
			Help:    "REST collaborator request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	reconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_message_reconciliations_total",
			Help: "Total number of inbound message reconciliations by outcome.",
		},
		[]string{"outcome"},
	)
	callOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_call_outcomes_total",
			Help: "Total number of call sessions reaching a terminal state.",
		},
		[]string{"state"},
	)
	notificationsUnread = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_notifications_unread",
			Help: "Current number of unread notifications.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_http_requests_total",
			Help: "Total number of HTTP requests served by the ops endpoint.",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		transportConnected,
		transportReconnectsTotal,
		eventsReceivedTotal,
		eventsEmittedTotal,
		eventsDroppedTotal,
		eventsMalformedTotal,
		restRequestsTotal,
		restRequestDuration,
		reconciliationsTotal,
		callOutcomesTotal,
		notificationsUnread,
		amqpPublishErrorsTotal,
		httpRequestsTotal,
	)
}

// HTTPMetricsMiddleware records request counts for the ops router.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func SetTransportConnected(namespace string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	transportConnected.WithLabelValues(namespace).Set(v)
}

func IncTransportReconnect(namespace string) {
	transportReconnectsTotal.WithLabelValues(namespace).Inc()
}

func IncEventReceived(namespace, event string) {
	eventsReceivedTotal.WithLabelValues(namespace, event).Inc()
}

func IncEventEmitted(namespace, event string) {
	eventsEmittedTotal.WithLabelValues(namespace, event).Inc()
}

func IncEventDropped(namespace, event, reason string) {
	eventsDroppedTotal.WithLabelValues(namespace, event, reason).Inc()
}

func IncEventMalformed(namespace, event string) {
	eventsMalformedTotal.WithLabelValues(namespace, event).Inc()
}

func ObserveRESTRequest(method, status string, elapsed time.Duration) {
	restRequestsTotal.WithLabelValues(method, status).Inc()
	restRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func IncReconciliation(outcome string) {
	reconciliationsTotal.WithLabelValues(outcome).Inc()
}

func IncCallOutcome(state string) {
	callOutcomesTotal.WithLabelValues(state).Inc()
}

func SetUnreadNotifications(n int) {
	notificationsUnread.Set(float64(n))
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
