package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailroom_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	emailsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_emails_enqueued_total",
			Help: "Total emails enqueued by type and priority",
		},
		[]string{"email_type", "priority"},
	)

	emailsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_emails_processed_total",
			Help: "Total queue items processed by outcome",
		},
		[]string{"outcome"},
	)

	deliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailroom_delivery_latency_seconds",
			Help:    "Time from enqueue to successful delivery",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"email_type"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailroom_queue_depth",
			Help: "Queue items by status, refreshed each poll cycle",
		},
		[]string{"status"},
	)

	campaignRecipients = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_campaign_recipients_total",
			Help: "Campaign fanout recipients by result",
		},
		[]string{"result"},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailroom_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
	)

	retentionDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_retention_deleted_total",
			Help: "Rows removed by retention cleanup, by table",
		},
		[]string{"table"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailroom_db_connections_active",
			Help: "Active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordEmailEnqueued records an enqueue event
func RecordEmailEnqueued(emailType, priority string) {
	emailsEnqueued.WithLabelValues(emailType, priority).Inc()
}

// RecordEmailProcessed records the outcome of one delivery attempt
func RecordEmailProcessed(outcome string) {
	emailsProcessed.WithLabelValues(outcome).Inc()
}

// RecordDeliveryLatency records enqueue-to-sent time
func RecordDeliveryLatency(emailType string, latency time.Duration) {
	deliveryLatency.WithLabelValues(emailType).Observe(latency.Seconds())
}

// SetQueueDepth sets the gauge for one status
func SetQueueDepth(status string, count int) {
	queueDepth.WithLabelValues(status).Set(float64(count))
}

// RecordCampaignRecipient records one fanout recipient result
func RecordCampaignRecipient(result string) {
	campaignRecipients.WithLabelValues(result).Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// RecordRetentionDeleted records rows removed by cleanup
func RecordRetentionDeleted(table string, count int64) {
	retentionDeleted.WithLabelValues(table).Add(float64(count))
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
