package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/transacta/paymentid/internal/idempotency"
	"github.com/transacta/paymentid/internal/ledger"
	"github.com/transacta/paymentid/internal/metrics"
	"github.com/transacta/paymentid/internal/paypal"
	"github.com/transacta/paymentid/internal/transactions"
)

// DeniedMessage is stored on transactions PayPal denied.
const DeniedMessage = "Payment was denied by PayPal"

// Rejections answered with 400; nothing has been written when they occur.
var (
	ErrMissingSignature = errors.New("Missing PayPal signature")
	ErrWebhookMismatch  = errors.New("Invalid webhook ID")
	ErrInvalidSignature = errors.New("Invalid webhook signature")
	ErrMalformedEvent   = errors.New("Invalid webhook payload")
	ErrUnverifiedOrder  = errors.New("Invalid webhook data")
)

// ErrInProgress means another delivery of the same notification is being
// handled; PayPal retries on the non-2xx answer.
var ErrInProgress = errors.New("notification is already being processed")

// IsRejection reports whether err is one of the 400 validation failures.
func IsRejection(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrWebhookMismatch) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrMalformedEvent) ||
		errors.Is(err, ErrUnverifiedOrder)
}

type Gateway interface {
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
	ConfirmCapture(ctx context.Context, orderID string)
	AcknowledgeDenial(ctx context.Context, orderID string)
	VerifyWebhookSignature(ctx context.Context, h paypal.SignatureHeaders, rawEvent []byte) error
}

type StatusWriter interface {
	ApplyWebhookStatus(ctx context.Context, u transactions.StatusUpdate) error
}

type LedgerWriter interface {
	Append(ctx context.Context, e ledger.Entry) error
	PutRefund(ctx context.Context, r ledger.Refund) error
}

type Deduper interface {
	Begin(ctx context.Context, key, subject string) (idempotency.Outcome, *idempotency.Record, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// Config is the listener's slice of the PayPal settings.
type Config struct {
	WebhookID       string
	VerifySignature bool
	Mode            string
}

// Response is the body returned to PayPal for an accepted notification.
type Response struct {
	Status  string `json:"status"`
	Event   string `json:"event"`
	OrderID string `json:"orderId"`
}

// Listener validates PayPal webhook notifications and applies them to the
// transaction records.
type Listener struct {
	cfg          Config
	gateway      Gateway
	transactions StatusWriter
	ledger       LedgerWriter
	dedupe       Deduper
	logger       *slog.Logger
	nowFunc      func() time.Time
}

func NewListener(cfg Config, gateway Gateway, transactions StatusWriter, ledger LedgerWriter, dedupe Deduper, logger *slog.Logger) *Listener {
	return &Listener{
		cfg:          cfg,
		gateway:      gateway,
		transactions: transactions,
		ledger:       ledger,
		dedupe:       dedupe,
		logger:       logger,
		nowFunc:      time.Now,
	}
}

// Health is the GET answer of the webhook endpoint.
func (l *Listener) Health() map[string]string {
	return map[string]string{
		"message":   "PayPal webhook endpoint is working",
		"webhookId": l.cfg.WebhookID,
		"mode":      l.cfg.Mode,
	}
}

// Handle runs one notification through validation, verification against
// PayPal, redelivery dedupe and dispatch.
func (l *Listener) Handle(ctx context.Context, h paypal.SignatureHeaders, body []byte) (*Response, error) {
	if h.TransmissionSig == "" {
		return nil, ErrMissingSignature
	}
	// without a configured webhook id nothing can be attributed to us
	if l.cfg.WebhookID == "" || h.TransmissionID != l.cfg.WebhookID {
		return nil, ErrWebhookMismatch
	}
	if l.cfg.VerifySignature {
		if err := l.gateway.VerifyWebhookSignature(ctx, h, body); err != nil {
			l.logger.WarnContext(ctx, "Webhook signature verification failed", "error", err)
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}

	var event paypal.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.ID == "" || event.Resource.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedEvent)
	}

	orderID := event.Resource.ID
	remote, err := l.gateway.GetOrder(ctx, orderID)
	if err != nil {
		l.logger.WarnContext(ctx, "Webhook order lookup failed", "order_id", orderID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnverifiedOrder, err)
	}
	if remote.Status != event.Resource.Status {
		return nil, fmt.Errorf("%w: remote status %s, notification says %s", ErrUnverifiedOrder, remote.Status, event.Resource.Status)
	}

	key := idempotency.PrefixWebhook + event.ID
	outcome, rec, err := l.dedupe.Begin(ctx, key, orderID)
	if err != nil {
		return nil, fmt.Errorf("claim notification: %w", err)
	}
	switch outcome {
	case idempotency.OutcomeDone:
		l.logger.InfoContext(ctx, "Webhook redelivery ignored", "event_id", event.ID, "order_id", orderID)
		metrics.WebhookReceived(event.EventType, "duplicate")
		var stored Response
		if rec != nil && json.Unmarshal([]byte(rec.ResponseBody), &stored) == nil {
			return &stored, nil
		}
		return &Response{Status: "success", Event: event.EventType, OrderID: orderID}, nil
	case idempotency.OutcomeInProgress:
		return nil, ErrInProgress
	}

	outcomeLabel, err := l.dispatch(ctx, event, *remote)
	if err != nil {
		metrics.WebhookReceived(event.EventType, "failed")
		if merr := l.dedupe.MarkFailed(ctx, key, err.Error()); merr != nil {
			l.logger.ErrorContext(ctx, "Failed to mark notification failed", "event_id", event.ID, "error", merr)
		}
		return nil, err
	}
	metrics.WebhookReceived(event.EventType, outcomeLabel)

	resp := &Response{Status: "success", Event: event.EventType, OrderID: orderID}
	body, _ = json.Marshal(resp)
	if err := l.dedupe.MarkDone(ctx, key, string(body), 200); err != nil {
		l.logger.ErrorContext(ctx, "Failed to mark notification done", "event_id", event.ID, "error", err)
	}
	return resp, nil
}

// dispatch applies the event and returns the metrics outcome label.
func (l *Listener) dispatch(ctx context.Context, event paypal.WebhookEvent, remote paypal.Order) (string, error) {
	orderID := event.Resource.ID
	now := l.nowFunc().UTC()
	log := l.logger.With("event_id", event.ID, "order_id", orderID, "event_type", event.EventType)

	switch event.Type() {
	case paypal.EventCaptureCompleted:
		err := l.transactions.ApplyWebhookStatus(ctx, transactions.StatusUpdate{
			OrderID:    orderID,
			Status:     transactions.StatusSettled,
			PaidAmount: event.Resource.Amount.Value,
			PaidAt:     &now,
		})
		if errors.Is(err, transactions.ErrStaleStatus) {
			log.InfoContext(ctx, "Completion ignored, transaction already final")
			return "stale", nil
		}
		if err != nil {
			return "", fmt.Errorf("apply completion: %w", err)
		}
		err = l.ledger.Append(ctx, ledger.Entry{
			EntryID:       uuid.NewString(),
			OrderID:       orderID,
			Status:        transactions.StatusSettled,
			Amount:        event.Resource.Amount.Value,
			Currency:      event.Resource.Amount.CurrencyCode,
			PaymentMethod: "paypal",
			ProcessedAt:   now,
		})
		if err != nil {
			return "", fmt.Errorf("append ledger entry: %w", err)
		}
		if remote.State() != paypal.OrderStatusCompleted {
			l.gateway.ConfirmCapture(ctx, orderID)
		}
		log.InfoContext(ctx, "Payment completion applied", "amount", event.Resource.Amount.Value)
		return "applied", nil

	case paypal.EventCaptureDenied:
		err := l.transactions.ApplyWebhookStatus(ctx, transactions.StatusUpdate{
			OrderID:      orderID,
			Status:       transactions.StatusFailed,
			ErrorMessage: DeniedMessage,
		})
		if errors.Is(err, transactions.ErrStaleStatus) {
			log.InfoContext(ctx, "Denial ignored, transaction already final")
			return "stale", nil
		}
		if err != nil {
			return "", fmt.Errorf("apply denial: %w", err)
		}
		l.gateway.AcknowledgeDenial(ctx, orderID)
		log.InfoContext(ctx, "Payment denial applied")
		return "applied", nil

	case paypal.EventCaptureRefunded:
		err := l.transactions.ApplyWebhookStatus(ctx, transactions.StatusUpdate{
			OrderID:    orderID,
			Status:     transactions.StatusRefunded,
			RefundedAt: &now,
		})
		if err != nil && !errors.Is(err, transactions.ErrStaleStatus) {
			return "", fmt.Errorf("apply refund: %w", err)
		}
		err = l.ledger.PutRefund(ctx, ledger.Refund{
			RefundID:    event.ID,
			OrderID:     orderID,
			Amount:      event.Resource.Amount.Value,
			Currency:    event.Resource.Amount.CurrencyCode,
			Status:      transactions.StatusRefunded,
			ProcessedAt: now,
		})
		if err != nil && !errors.Is(err, ledger.ErrDuplicate) {
			return "", fmt.Errorf("write refund: %w", err)
		}
		log.InfoContext(ctx, "Refund applied", "amount", event.Resource.Amount.Value)
		return "applied", nil

	default:
		log.InfoContext(ctx, "Unhandled webhook event type")
		return "ignored", nil
	}
}
