/*
Package money provides the monetary value types used by the repayment engine.

PURPOSE:
  Every amount the engine touches - installment dues, paid/waived balances,
  transaction amounts, allocation remainders - is a Money: a fixed-point
  decimal tagged with its currency. Arithmetic between two Money values of
  different currencies is a programmer error and fails fast rather than
  silently coercing.

KEY CONCEPTS IN THIS FILE:
  - Currency: code + decimal places + rounding increment, created once and
    shared by reference
  - Money: immutable decimal amount in a currency; every operation returns
    a new value
  - Rounding: applied at construction time from the Currency itself, never
    from process-wide state

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal, never float64
  2. Immutability: no operation mutates its receiver
  3. Explicit rounding: the Currency carries its own rounding rules

USAGE:
  usd := money.NewCurrency("USD", 2, 0)
  a := money.NewFromFloat(usd, 200)
  b := money.NewFromFloat(usd, 20)
  total := a.Add(b) // 220.00 USD
*/
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCY - Code, precision and rounding increment
// =============================================================================

// Currency describes how amounts in one currency are represented.
// Create once per currency and share by reference; never mutate.
type Currency struct {
	Code          string
	DecimalPlaces int32
	// InMultiplesOf rounds amounts to the nearest multiple of this value
	// (e.g. 5 for currencies quoted in 5-cent increments). Zero disables it.
	InMultiplesOf int64
}

// NewCurrency creates a shared currency reference.
func NewCurrency(code string, decimalPlaces int32, inMultiplesOf int64) *Currency {
	return &Currency{Code: code, DecimalPlaces: decimalPlaces, InMultiplesOf: inMultiplesOf}
}

// Same reports whether two currency references describe the same currency.
func (c *Currency) Same(other *Currency) bool {
	if c == nil || other == nil {
		return false
	}
	return c.Code == other.Code && c.DecimalPlaces == other.DecimalPlaces && c.InMultiplesOf == other.InMultiplesOf
}

// round applies the currency's rounding rules to a raw decimal.
func (c *Currency) round(v decimal.Decimal) decimal.Decimal {
	if c.InMultiplesOf > 0 {
		step := decimal.NewFromInt(c.InMultiplesOf)
		v = v.Div(step).Round(0).Mul(step)
	}
	return v.Round(c.DecimalPlaces)
}

// =============================================================================
// MONEY - Immutable amount in a currency
// =============================================================================

type Money struct {
	currency *Currency
	amount   decimal.Decimal
}

// New creates a Money from a decimal, rounded per the currency.
func New(currency *Currency, amount decimal.Decimal) Money {
	return Money{currency: currency, amount: currency.round(amount)}
}

// NewFromFloat creates a Money from a float, rounded per the currency.
// Intended for configuration and tests; computation paths stay in decimal.
func NewFromFloat(currency *Currency, amount float64) Money {
	return New(currency, decimal.NewFromFloat(amount))
}

// NewFromString creates a Money from a decimal string.
func NewFromString(currency *Currency, amount string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return New(currency, d), nil
}

// Zero returns the zero amount in the given currency.
func Zero(currency *Currency) Money {
	return Money{currency: currency, amount: decimal.Zero}
}

func (m Money) Currency() *Currency      { return m.currency }
func (m Money) Amount() decimal.Decimal  { return m.amount }
func (m Money) Zero() Money              { return Zero(m.currency) }

// assertSameCurrency panics on cross-currency arithmetic. The processor
// validates currencies before touching any ledger state, so reaching this
// panic means a caller bypassed that validation.
func (m Money) assertSameCurrency(other Money) {
	if !m.currency.Same(other.currency) {
		panic(fmt.Sprintf("money: currency mismatch: %s vs %s", m.currency.Code, other.currency.Code))
	}
}

// Arithmetic. All operations require matching currencies.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{currency: m.currency, amount: m.amount.Add(other.amount)}
}

func (m Money) Sub(other Money) Money {
	m.assertSameCurrency(other)
	return Money{currency: m.currency, amount: m.amount.Sub(other.amount)}
}

func (m Money) Neg() Money {
	return Money{currency: m.currency, amount: m.amount.Neg()}
}

// Comparison.
func (m Money) IsZero() bool     { return m.amount.IsZero() }
func (m Money) IsPositive() bool { return m.amount.IsPositive() }
func (m Money) IsNegative() bool { return m.amount.IsNegative() }

func (m Money) GreaterThan(other Money) bool {
	m.assertSameCurrency(other)
	return m.amount.GreaterThan(other.amount)
}

func (m Money) GreaterThanOrEqual(other Money) bool {
	m.assertSameCurrency(other)
	return m.amount.GreaterThanOrEqual(other.amount)
}

func (m Money) LessThan(other Money) bool {
	m.assertSameCurrency(other)
	return m.amount.LessThan(other.amount)
}

func (m Money) Equal(other Money) bool {
	m.assertSameCurrency(other)
	return m.amount.Equal(other.amount)
}

// Min returns the smaller of the two amounts. This is the clamp used by
// every ledger component operation.
func (m Money) Min(other Money) Money {
	if m.LessThan(other) {
		return m
	}
	return other
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.StringFixed(m.currency.DecimalPlaces), m.currency.Code)
}
