package products

import (
	"errors"
	"time"
)

// Author is the admin attribution shown on a listing.
type Author struct {
	DisplayName string `dynamodbav:"display_name" json:"displayName"`
	Role        string `dynamodbav:"role" json:"role"`
	PhotoURL    string `dynamodbav:"photo_url,omitempty" json:"photoURL,omitempty"`
}

// Product is a single sellable "payment" listing, stored in the products table.
type Product struct {
	ID          string    `dynamodbav:"id" json:"id"` // PK
	Title       string    `dynamodbav:"title" json:"title"`
	Slug        string    `dynamodbav:"slug" json:"slug"` // GSI slug-index
	PriceIDR    int64     `dynamodbav:"price_idr" json:"priceIdr"`
	PriceUSD    USD       `dynamodbav:"price_usd" json:"priceUsd"`
	Date        time.Time `dynamodbav:"date" json:"date"`              // start of the availability window
	ExpiryDays  int       `dynamodbav:"expiry_days" json:"expiryDays"` // window length in days, counted down by the sweeper
	IsPublished bool      `dynamodbav:"is_published" json:"isPublished"`
	Thumbnail   string    `dynamodbav:"thumbnail,omitempty" json:"thumbnail"`
	Description string    `dynamodbav:"description,omitempty" json:"description,omitempty"`
	Author      Author    `dynamodbav:"author" json:"author"`
	CreatedAt   time.Time `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `dynamodbav:"updated_at" json:"updatedAt"`
}

var (
	ErrNotFound  = errors.New("product not found")
	ErrSlugTaken = errors.New("slug already in use")
)

// SweepUpdate is one product mutation planned by the expiry sweeper.
// PrevExpiryDays is the value read before planning and guards the write.
type SweepUpdate struct {
	ID             string
	PrevExpiryDays int
	ExpiryDays     int
	Unpublish      bool
}
