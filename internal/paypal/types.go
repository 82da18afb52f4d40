package paypal

import (
	"encoding/json"
	"strings"
)

// EventType is the webhook notification kind. Unknown covers every event the
// listener does not act on.
type EventType int

const (
	EventUnknown EventType = iota
	EventCaptureCompleted
	EventCaptureDenied
	EventCaptureRefunded
)

var eventNames = map[string]EventType{
	"PAYMENT.CAPTURE.COMPLETED": EventCaptureCompleted,
	"PAYMENT.CAPTURE.DENIED":    EventCaptureDenied,
	"PAYMENT.CAPTURE.REFUNDED":  EventCaptureRefunded,
}

// ParseEventType never fails; unrecognised names map to EventUnknown.
func ParseEventType(s string) EventType {
	if t, ok := eventNames[strings.TrimSpace(s)]; ok {
		return t
	}
	return EventUnknown
}

func (t EventType) String() string {
	for name, v := range eventNames {
		if v == t {
			return name
		}
	}
	return "UNKNOWN"
}

// OrderStatus is the PayPal order lifecycle state.
type OrderStatus int

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusCreated
	OrderStatusSaved
	OrderStatusApproved
	OrderStatusVoided
	OrderStatusCompleted
	OrderStatusPayerActionRequired
)

var orderStatusNames = map[string]OrderStatus{
	"CREATED":               OrderStatusCreated,
	"SAVED":                 OrderStatusSaved,
	"APPROVED":              OrderStatusApproved,
	"VOIDED":                OrderStatusVoided,
	"COMPLETED":             OrderStatusCompleted,
	"PAYER_ACTION_REQUIRED": OrderStatusPayerActionRequired,
}

// ParseOrderStatus never fails; unrecognised values map to OrderStatusUnknown.
func ParseOrderStatus(s string) OrderStatus {
	if st, ok := orderStatusNames[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return st
	}
	return OrderStatusUnknown
}

func (s OrderStatus) String() string {
	for name, v := range orderStatusNames {
		if v == s {
			return name
		}
	}
	return "UNKNOWN"
}

// Money is a PayPal amount; value is a decimal string.
type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type PurchaseUnitRequest struct {
	ReferenceID string `json:"reference_id,omitempty"`
	Amount      Money  `json:"amount"`
	Description string `json:"description,omitempty"`
}

type ApplicationContext struct {
	ReturnURL string `json:"return_url,omitempty"`
	CancelURL string `json:"cancel_url,omitempty"`
	BrandName string `json:"brand_name,omitempty"`
}

// OrderRequest is the body of POST /v2/checkout/orders.
type OrderRequest struct {
	Intent             string                `json:"intent"`
	PurchaseUnits      []PurchaseUnitRequest `json:"purchase_units"`
	ApplicationContext *ApplicationContext   `json:"application_context,omitempty"`
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Money  `json:"amount"`
}

type PurchaseUnit struct {
	ReferenceID string `json:"reference_id"`
	Amount      Money  `json:"amount"`
	Description string `json:"description"`
	Payments    struct {
		Captures []Capture `json:"captures"`
	} `json:"payments"`
}

type Payer struct {
	PayerID      string `json:"payer_id"`
	EmailAddress string `json:"email_address"`
	Name         struct {
		GivenName string `json:"given_name"`
		Surname   string `json:"surname"`
	} `json:"name"`
}

type PaymentSource struct {
	Card *struct {
		Brand      string `json:"brand"`
		LastDigits string `json:"last_digits"`
		Name       string `json:"name"`
		Type       string `json:"type"`
	} `json:"card,omitempty"`
	PayPal *struct {
		EmailAddress string `json:"email_address"`
		AccountID    string `json:"account_id"`
	} `json:"paypal,omitempty"`
}

// Order is the subset of a PayPal order/capture response the service reads.
// Raw keeps the full body for the transaction's payment details.
type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Payer         Payer          `json:"payer"`
	PaymentSource *PaymentSource `json:"payment_source,omitempty"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
	Links         []Link         `json:"links"`

	Raw json.RawMessage `json:"-"`
}

// State is the parsed order status.
func (o Order) State() OrderStatus { return ParseOrderStatus(o.Status) }

// PaymentMethod is the card brand when paid by card, else "PayPal".
func (o Order) PaymentMethod() string {
	if o.PaymentSource != nil && o.PaymentSource.Card != nil && o.PaymentSource.Card.Brand != "" {
		return o.PaymentSource.Card.Brand
	}
	return "PayPal"
}

// CapturedAmount returns the first capture's amount, falling back to the
// purchase unit amount when the response carries no capture.
func (o Order) CapturedAmount() (Money, bool) {
	for _, pu := range o.PurchaseUnits {
		if len(pu.Payments.Captures) > 0 {
			return pu.Payments.Captures[0].Amount, true
		}
	}
	for _, pu := range o.PurchaseUnits {
		if pu.Amount.Value != "" {
			return pu.Amount, true
		}
	}
	return Money{}, false
}

// ApproveURL is the HATEOAS link the buyer follows to approve the order.
func (o Order) ApproveURL() string {
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

// WebhookResource is the part of a notification resource the listener uses.
type WebhookResource struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Money  `json:"amount"`
}

// WebhookEvent is a PayPal webhook notification body.
type WebhookEvent struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime string          `json:"create_time"`
	Resource   WebhookResource `json:"resource"`
}

// Type is the parsed event type.
func (e WebhookEvent) Type() EventType { return ParseEventType(e.EventType) }

// SignatureHeaders are the transmission headers PayPal sends with a webhook.
type SignatureHeaders struct {
	TransmissionID   string
	TransmissionSig  string
	TransmissionTime string
	CertURL          string
	AuthAlgo         string
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}
