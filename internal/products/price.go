package products

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// CurrencyUSD is the only currency orders are placed in.
const CurrencyUSD = "USD"

// USD is a dollar price held as a decimal. It is stored as a DynamoDB number
// and written to JSON as a two-decimal string ("19.99"); JSON input may be a
// string or a bare number.
type USD struct {
	decimal.Decimal
}

// NewUSD parses s ("19.99", "5") into a USD value.
func NewUSD(s string) (USD, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return USD{}, fmt.Errorf("parse usd %q: %w", s, err)
	}
	return USD{Decimal: d}, nil
}

// MustUSD is NewUSD for constants; it panics on malformed input.
func MustUSD(s string) USD {
	u, err := NewUSD(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String renders the amount with exactly two decimals: 5 -> "5.00".
func (u USD) String() string {
	return u.StringFixed(2)
}

func (u USD) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func (u USD) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: u.String()}, nil
}

func (u *USD) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		*u = USD{}
		return nil
	default:
		return fmt.Errorf("unexpected attribute type %T for usd", av)
	}
	parsed, err := NewUSD(raw)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// USDAmount is the product price as the fixed two-decimal string PayPal expects.
func (p Product) USDAmount() string {
	return p.PriceUSD.String()
}

// MatchesUSD reports whether amount (as sent by a client or returned by
// PayPal) equals the product price to the cent.
func (p Product) MatchesUSD(amount string) bool {
	got, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return false
	}
	return got.Round(2).Equal(p.PriceUSD.Round(2))
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lower-cases title, collapses every run of other characters into a
// single hyphen and trims hyphens from both ends.
func Slugify(title string) string {
	s := nonSlugChars.ReplaceAllString(strings.ToLower(title), "-")
	return strings.Trim(s, "-")
}
