package transactions

import (
	"encoding/json"
	"errors"
	"time"
)

// Transaction statuses. COMPLETED is what a capture returns; the lower-case
// forms are written by the webhook listener.
const (
	StatusPending        = "pending"
	StatusCancelled      = "cancelled"
	StatusCompleted      = "COMPLETED"
	StatusSettled        = "completed"
	StatusDenied         = "denied"
	StatusFailed         = "failed"
	StatusAmountMismatch = "AMOUNT_MISMATCH"
	StatusRefunded       = "refunded"
)

// MethodPayPal is the payment method recorded for wallet payments.
const MethodPayPal = "PayPal"

// ErrStaleStatus is returned when a write would move a transaction to a
// lower-precedence status than the one already stored.
var ErrStaleStatus = errors.New("transaction already holds a final status")

// Transaction is the buyer-facing record of one payment attempt, keyed by the
// PayPal order id (or a synthesized CANCEL_ id).
type Transaction struct {
	OrderID        string          `dynamodbav:"order_id" json:"orderId"` // PK
	PayerID        string          `dynamodbav:"payer_id,omitempty" json:"payerId,omitempty"`
	PayerEmail     string          `dynamodbav:"payer_email,omitempty" json:"payerEmail,omitempty"`
	ProductID      string          `dynamodbav:"product_id,omitempty" json:"productId,omitempty"`
	ProductTitle   string          `dynamodbav:"product_title,omitempty" json:"productTitle,omitempty"`
	ProductSlug    string          `dynamodbav:"product_slug,omitempty" json:"productSlug,omitempty"`
	AmountUSD      string          `dynamodbav:"amount_usd,omitempty" json:"amountUSD,omitempty"`
	AmountIDR      int64           `dynamodbav:"amount_idr,omitempty" json:"amountIDR,omitempty"`
	Status         string          `dynamodbav:"status" json:"status"`
	StatusRank     int             `dynamodbav:"status_rank" json:"-"`
	PaymentMethod  string          `dynamodbav:"payment_method,omitempty" json:"paymentMethod,omitempty"`
	PaymentDetails json.RawMessage `dynamodbav:"payment_details,omitempty" json:"paymentDetails,omitempty"`
	SuccessURL     string          `dynamodbav:"success_url,omitempty" json:"successUrl,omitempty"`
	FailureURL     string          `dynamodbav:"failure_url,omitempty" json:"failureUrl,omitempty"`
	CancelURL      string          `dynamodbav:"cancel_url,omitempty" json:"cancelUrl,omitempty"`
	PaidAmount     string          `dynamodbav:"paid_amount,omitempty" json:"paidAmount,omitempty"`
	PaidAt         *time.Time      `dynamodbav:"paid_at,omitempty" json:"paidAt,omitempty"`
	RefundedAt     *time.Time      `dynamodbav:"refunded_at,omitempty" json:"refundedAt,omitempty"`
	ErrorMessage   string          `dynamodbav:"error_message,omitempty" json:"errorMessage,omitempty"`
	CreatedAt      time.Time       `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt      time.Time       `dynamodbav:"updated_at" json:"updatedAt"`
}

// Succeeded reports whether the transaction ended in a captured payment.
func (t Transaction) Succeeded() bool {
	return t.Status == StatusCompleted || t.Status == StatusSettled
}

// RedirectURL is the page the buyer should land on for this transaction.
func (t Transaction) RedirectURL() string {
	switch {
	case t.SuccessURL != "":
		return t.SuccessURL
	case t.CancelURL != "":
		return t.CancelURL
	default:
		return t.FailureURL
	}
}

// Rank orders statuses so that a later, more final state always wins.
func Rank(status string) int {
	switch status {
	case StatusCancelled:
		return 1
	case StatusCompleted, StatusSettled, StatusDenied, StatusFailed, StatusAmountMismatch:
		return 2
	case StatusRefunded:
		return 3
	default:
		return 0
	}
}

// equivalent lists the stored statuses a write of status may overwrite at
// equal rank.
func equivalent(status string) []string {
	switch status {
	case StatusCompleted, StatusSettled:
		return []string{StatusCompleted, StatusSettled}
	default:
		return []string{status}
	}
}

// Filter values accepted by List.
const (
	FilterAll       = "all"
	FilterCompleted = "completed"
	FilterCancelled = "cancelled"
)

// Matches applies a List filter to t.
func (t Transaction) Matches(filter string) bool {
	switch filter {
	case FilterCompleted:
		return t.Succeeded()
	case FilterCancelled:
		return t.Status == StatusCancelled
	default:
		return true
	}
}

// StatusUpdate is a partial write produced by the webhook listener.
type StatusUpdate struct {
	OrderID      string
	Status       string
	PaidAmount   string
	PaidAt       *time.Time
	RefundedAt   *time.Time
	ErrorMessage string
}

// ReconcileMessage is the body published to the reconciliation queue when a
// captured payment could not be written locally.
type ReconcileMessage struct {
	Transaction Transaction `json:"transaction"`
	Reason      string      `json:"reason"`
	EnqueuedAt  time.Time   `json:"enqueuedAt"`
}
