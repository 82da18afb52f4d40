package validation

import (
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// New returns a configured validator with the custom tags registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// usd_amount: positive decimal string with at most two fraction digits
	_ = v.RegisterValidation("usd_amount", usdAmount)

	v.RegisterStructValidation(productStructValidation, ProductRequest{})

	return v
}

func usdAmount(fl validatorv10.FieldLevel) bool {
	d, err := decimal.NewFromString(strings.TrimSpace(fl.Field().String()))
	if err != nil {
		return false
	}
	return d.IsPositive() && d.Equal(d.Round(2))
}

// productStructValidation requires a positive USD price in whole cents.
func productStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(ProductRequest)

	switch price := req.PriceUSD; {
	case !price.IsPositive():
		sl.ReportError(price, "priceUsd", "PriceUSD", "gt", "0")
	case !price.Equal(price.Round(2)):
		sl.ReportError(price, "priceUsd", "PriceUSD", "usd_cents", price.String())
	}
}
