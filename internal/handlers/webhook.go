package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/transacta/paymentid/internal/paypal"
	"github.com/transacta/paymentid/internal/webhook"
)

// The webhook keeps PayPal-facing shapes: {error} on failure and
// {status, event, orderId} on success.
func (a *api) registerWebhookRoutes(r *gin.RouterGroup) {
	r.GET("/paypal/webhook", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.webhook.Health())
	})
	r.POST("/paypal/webhook", a.handleWebhook)
}

func (a *api) handleWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook payload"})
		return
	}

	headers := paypal.SignatureHeaders{
		TransmissionID:   c.GetHeader("paypal-transmission-id"),
		TransmissionSig:  c.GetHeader("paypal-transmission-sig"),
		TransmissionTime: c.GetHeader("paypal-transmission-time"),
		CertURL:          c.GetHeader("paypal-cert-url"),
		AuthAlgo:         c.GetHeader("paypal-auth-algo"),
	}

	resp, err := a.webhook.Handle(ctx, headers, body)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, resp)
	case webhook.IsRejection(err):
		a.logger.WarnContext(ctx, "Webhook rejected", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": rejectionMessage(err)})
	case errors.Is(err, webhook.ErrInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "Notification is already being processed"})
	default:
		a.logger.ErrorContext(ctx, "Webhook handler failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook handler failed"})
	}
}

// rejectionMessage strips the detail off a wrapped rejection.
func rejectionMessage(err error) string {
	for _, sentinel := range []error{
		webhook.ErrMissingSignature,
		webhook.ErrWebhookMismatch,
		webhook.ErrInvalidSignature,
		webhook.ErrMalformedEvent,
		webhook.ErrUnverifiedOrder,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "Invalid webhook"
}
