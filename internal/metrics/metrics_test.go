package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestHandler_ExposesRecordedCounters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPRequests())
	r.GET("/metrics", Handler)

	TransactionRecorded("COMPLETED")
	WebhookReceived("PAYMENT.CAPTURE.COMPLETED", "applied")
	SweepCompleted(3, 2, 1)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `paymentid_transactions_recorded_total{status="COMPLETED"}`)
	assert.Contains(t, body, `paymentid_webhook_events_total{event_type="PAYMENT.CAPTURE.COMPLETED",outcome="applied"}`)
	assert.Contains(t, body, `paymentid_sweep_products_unpublished_total`)
}
