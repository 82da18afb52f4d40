package metrics

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gin-gonic/gin"

	"github.com/transacta/paymentid/internal/config"
)

// Setup starts pushing metrics when a push URL is configured.
func Setup(cfg config.Metrics, logger *slog.Logger) {
	if cfg.PushURL == "" {
		return
	}

	err := metrics.InitPush(cfg.PushURL, cfg.PushInterval, `service="paymentid"`, true)
	if err != nil {
		logger.Error("Error initializing metrics push", "error", err)
	}
}

// Handler exposes every registered metric in Prometheus text format.
func Handler(c *gin.Context) {
	c.Header("Content-Type", "text/plain; version=0.0.4")
	metrics.WritePrometheus(c.Writer, true)
}

// TransactionRecorded counts persisted transactions by status.
func TransactionRecorded(status string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`paymentid_transactions_recorded_total{status=%q}`, status)).Inc()
}

// ReconciliationQueued counts captures handed to the reconciliation queue.
func ReconciliationQueued() {
	metrics.GetOrCreateCounter(`paymentid_reconciliation_queued_total`).Inc()
}

// WebhookReceived counts webhook notifications by event type and outcome.
func WebhookReceived(eventType, outcome string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`paymentid_webhook_events_total{event_type=%q,outcome=%q}`, eventType, outcome)).Inc()
}

// SweepCompleted records the result of one expiry sweep.
func SweepCompleted(scanned, updated, unpublished int) {
	metrics.GetOrCreateCounter(`paymentid_sweep_runs_total`).Inc()
	metrics.GetOrCreateCounter(`paymentid_sweep_products_scanned_total`).Add(scanned)
	metrics.GetOrCreateCounter(`paymentid_sweep_products_updated_total`).Add(updated)
	metrics.GetOrCreateCounter(`paymentid_sweep_products_unpublished_total`).Add(unpublished)
}

// PayPalCall records latency of an outbound PayPal request.
func PayPalCall(operation string, started time.Time) {
	metrics.GetOrCreateHistogram(fmt.Sprintf(`paymentid_paypal_request_duration_seconds{operation=%q}`, operation)).UpdateDuration(started)
}

// HTTPRequests is a gin middleware counting requests per route and status.
func HTTPRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.GetOrCreateCounter(fmt.Sprintf(`paymentid_http_requests_total{route=%q,method=%q,code="%d"}`, route, c.Request.Method, c.Writer.Status())).Inc()
		metrics.GetOrCreateHistogram(fmt.Sprintf(`paymentid_http_request_duration_seconds{route=%q}`, route)).UpdateDuration(started)
	}
}
