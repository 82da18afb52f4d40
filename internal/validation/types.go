package validation

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRequest is the payload for POST /api/transactions, sent by the
// storefront after the buyer approved and captured a PayPal order.
type TransactionRequest struct {
	OrderID        string          `json:"orderId" validate:"required,max=64"`
	PayerID        string          `json:"payerId,omitempty" validate:"max=64"`
	PayerEmail     string          `json:"payerEmail,omitempty" validate:"omitempty,email"`
	ProductTitle   string          `json:"productTitle" validate:"required"`
	ProductSlug    string          `json:"productSlug" validate:"required"`
	AmountUSD      string          `json:"amountUSD" validate:"required,usd_amount"` // client claim, checked against the product
	AmountIDR      int64           `json:"amountIDR" validate:"gte=0"`
	Status         string          `json:"status" validate:"required"`
	PaymentMethod  string          `json:"paymentMethod,omitempty"`
	PaymentDetails json.RawMessage `json:"paymentDetails,omitempty"`
}

// CheckoutOrderRequest is the payload for POST /api/checkout/orders.
type CheckoutOrderRequest struct {
	Slug string `json:"slug" validate:"required"`
}

// CaptureRequest is the payload for POST /api/checkout/orders/:orderId/capture.
type CaptureRequest struct {
	Slug string `json:"slug" validate:"required"`
}

// CancelRequest is the payload for POST /api/checkout/cancel.
type CancelRequest struct {
	Slug       string `json:"slug" validate:"required"`
	PayerEmail string `json:"payerEmail,omitempty" validate:"omitempty,email"`
}

// ProductRequest is the admin create/update payload.
type ProductRequest struct {
	Title       string          `json:"title" validate:"required,min=3,max=200"`
	Slug        string          `json:"slug,omitempty" validate:"omitempty,max=200"` // derived from title when empty
	PriceIDR    int64           `json:"priceIdr" validate:"required,gt=0"`
	PriceUSD    decimal.Decimal `json:"priceUsd"` // checked by productStructValidation
	Date        time.Time       `json:"date" validate:"required"`
	ExpiryDays  int             `json:"expiryDays" validate:"gte=0,lte=3650"`
	IsPublished bool            `json:"isPublished"`
	Thumbnail   string          `json:"thumbnail,omitempty" validate:"omitempty,url"`
	Description string          `json:"description,omitempty" validate:"max=5000"`
}

// ContactRequest is the public contact form payload.
type ContactRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Category string `json:"category" validate:"required,max=50"`
	Message  string `json:"message" validate:"required,min=10,max=2000"`
}

// ProfileRequest is the payload for PUT /api/profile.
type ProfileRequest struct {
	DisplayName string `json:"displayName" validate:"required,min=2,max=100"`
	PhoneNumber string `json:"phoneNumber,omitempty" validate:"omitempty,max=20"`
	PhotoURL    string `json:"photoURL,omitempty" validate:"omitempty,url"`
}

// RoleRequest is the payload for PUT /api/admin/accounts/:uid/role.
type RoleRequest struct {
	Role string `json:"role" validate:"required,oneof=super-admins admins"`
}
