/*
products.go - Loan-product preset JSON definitions

These construct JSON product strings directly to avoid import cycles with
the factory package.

USAGE:
  jsonStr := loan.MicroLoanJSON("micro-12", "12-month micro loan", "0.24", 12)
  product, err := factory.ParseProduct(jsonStr)
*/
package loan

import (
	"encoding/json"
)

// MicroLoanJSON returns JSON for a monthly micro loan under the standard
// allocation policy.
func MicroLoanJSON(code, name, annualRate string, installments int) string {
	pj := map[string]interface{}{
		"code": code,
		"name": name,
		"currency": map[string]interface{}{
			"code":           "USD",
			"decimal_places": 2,
		},
		"allocation_policy": "standard",
		"terms": map[string]interface{}{
			"annual_rate":     annualRate,
			"installments":    installments,
			"interval_months": 1,
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// RegulatedLoanJSON returns JSON for a product under the interest-first
// policy required by some regulators.
func RegulatedLoanJSON(code, name, annualRate string, installments int) string {
	pj := map[string]interface{}{
		"code": code,
		"name": name,
		"currency": map[string]interface{}{
			"code":           "USD",
			"decimal_places": 2,
		},
		"allocation_policy": "interest-first",
		"terms": map[string]interface{}{
			"annual_rate":     annualRate,
			"installments":    installments,
			"interval_months": 1,
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// CashRoundedLoanJSON returns JSON for a cash-collected product whose
// amounts round to the smallest banknote multiple.
func CashRoundedLoanJSON(code, name, currencyCode string, inMultiplesOf int64, annualRate string, installments int) string {
	pj := map[string]interface{}{
		"code": code,
		"name": name,
		"currency": map[string]interface{}{
			"code":            currencyCode,
			"decimal_places":  0,
			"in_multiples_of": inMultiplesOf,
		},
		"allocation_policy": "standard",
		"terms": map[string]interface{}{
			"annual_rate":     annualRate,
			"installments":    installments,
			"interval_months": 1,
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}
