/*
Package factory provides JSON to Go loan-product conversion.

PURPOSE:
  Converts JSON product definitions into Product objects that the rest of
  the system uses to open loans. This enables product configuration without
  code changes - credit officers can define products in JSON, and the
  factory creates the proper Go structs.

WHY JSON?
  - Non-developers can modify products
  - Easy integration with admin UI
  - Version control for product definitions
  - Database storage of product configs

JSON SCHEMA:
  {
    "code": "micro-12",
    "name": "12-month micro loan",
    "currency": {
      "code": "USD",
      "decimal_places": 2,
      "in_multiples_of": 0
    },
    "allocation_policy": "standard",
    "terms": {
      "annual_rate": "0.24",
      "installments": 12,
      "interval_months": 1
    }
  }

KEY FEATURES:
  - Validates JSON structure
  - Sets sensible defaults (monthly interval, standard policy)
  - Resolves the allocation policy code
  - Builds the currency with its rounding rules

USAGE:
  f := factory.NewProductFactory()

  product, err := f.ParseProduct(jsonString)
  l, err := product.NewLoan(principal, firstDue)

SEE ALSO:
  - allocation/policy.go: PolicyCode definitions
  - loan/generator.go: Schedule generation from product terms
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/repayment-engine/allocation"
	"github.com/warp/repayment-engine/loan"
	"github.com/warp/repayment-engine/money"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ProductJSON is the JSON representation of a loan product.
type ProductJSON struct {
	Code             string       `json:"code"`
	Name             string       `json:"name"`
	Currency         CurrencyJSON `json:"currency"`
	AllocationPolicy string       `json:"allocation_policy,omitempty"`
	Terms            TermsJSON    `json:"terms"`
}

// CurrencyJSON carries the currency and its rounding rules.
type CurrencyJSON struct {
	Code          string `json:"code"`
	DecimalPlaces int32  `json:"decimal_places"`
	InMultiplesOf int64  `json:"in_multiples_of,omitempty"`
}

// TermsJSON carries the repayment terms.
type TermsJSON struct {
	AnnualRate     string `json:"annual_rate"` // decimal string, e.g. "0.24"
	Installments   int    `json:"installments"`
	IntervalMonths int    `json:"interval_months,omitempty"`
}

// =============================================================================
// PRODUCT
// =============================================================================

// Product is a parsed loan product definition.
type Product struct {
	Code           string
	Name           string
	Currency       *money.Currency
	PolicyCode     allocation.PolicyCode
	AnnualRate     decimal.Decimal
	Installments   int
	IntervalMonths int
}

// NewLoan opens a loan under this product: generates the schedule from the
// product terms and binds the product's allocation policy.
func (p *Product) NewLoan(principal money.Money, firstDue time.Time) (*loan.Loan, error) {
	installments, err := loan.GenerateSchedule(loan.Terms{
		Principal:      principal,
		AnnualRate:     p.AnnualRate,
		Installments:   p.Installments,
		FirstDue:       firstDue,
		IntervalMonths: p.IntervalMonths,
	})
	if err != nil {
		return nil, err
	}
	return loan.New(p.Code, p.Currency, p.PolicyCode, installments)
}

// =============================================================================
// PRODUCT FACTORY
// =============================================================================

// ProductFactory converts JSON products to Go structs.
type ProductFactory struct{}

// NewProductFactory creates a new product factory.
func NewProductFactory() *ProductFactory {
	return &ProductFactory{}
}

// ParseProduct parses a JSON string into a Product.
func (f *ProductFactory) ParseProduct(jsonStr string) (*Product, error) {
	var pj ProductJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("failed to parse product JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts ProductJSON to a Product.
func (f *ProductFactory) FromJSON(pj ProductJSON) (*Product, error) {
	if pj.Code == "" {
		return nil, fmt.Errorf("product code is required")
	}
	if pj.Currency.Code == "" {
		return nil, fmt.Errorf("product %s: currency code is required", pj.Code)
	}
	if pj.Terms.Installments < 1 {
		return nil, fmt.Errorf("product %s: installments must be positive", pj.Code)
	}

	rate := decimal.Zero
	if pj.Terms.AnnualRate != "" {
		var err error
		rate, err = decimal.NewFromString(pj.Terms.AnnualRate)
		if err != nil {
			return nil, fmt.Errorf("product %s: invalid annual_rate: %w", pj.Code, err)
		}
	}
	if rate.IsNegative() {
		return nil, fmt.Errorf("product %s: annual_rate must not be negative", pj.Code)
	}

	policyCode := allocation.PolicyStandard
	if pj.AllocationPolicy != "" {
		policyCode = allocation.PolicyCode(pj.AllocationPolicy)
		// Resolve now so a product with a bad policy never reaches a loan.
		if _, err := allocation.ForCode(policyCode, nil); err != nil {
			return nil, fmt.Errorf("product %s: %w", pj.Code, err)
		}
	}

	interval := pj.Terms.IntervalMonths
	if interval < 1 {
		interval = 1
	}

	return &Product{
		Code:           pj.Code,
		Name:           pj.Name,
		Currency:       money.NewCurrency(pj.Currency.Code, pj.Currency.DecimalPlaces, pj.Currency.InMultiplesOf),
		PolicyCode:     policyCode,
		AnnualRate:     rate,
		Installments:   pj.Terms.Installments,
		IntervalMonths: interval,
	}, nil
}

// ToJSON converts a Product back to its JSON representation.
func (f *ProductFactory) ToJSON(p *Product) ProductJSON {
	return ProductJSON{
		Code: p.Code,
		Name: p.Name,
		Currency: CurrencyJSON{
			Code:          p.Currency.Code,
			DecimalPlaces: p.Currency.DecimalPlaces,
			InMultiplesOf: p.Currency.InMultiplesOf,
		},
		AllocationPolicy: string(p.PolicyCode),
		Terms: TermsJSON{
			AnnualRate:     p.AnnualRate.String(),
			Installments:   p.Installments,
			IntervalMonths: p.IntervalMonths,
		},
	}
}
