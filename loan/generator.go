/*
generator.go - Repayment schedule generation

PURPOSE:
  Produces the pristine installment schedule a loan starts from: equal
  principal portions at a fixed interval, flat interest on the original
  principal per period. Rounding follows the currency; whatever rounding
  sheds is settled on the final installment so the schedule always sums
  back to the disbursed amount.
*/
package loan

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/repayment-engine/money"
	"github.com/warp/repayment-engine/schedule"
)

// Terms are the inputs to schedule generation.
type Terms struct {
	Principal    money.Money
	AnnualRate   decimal.Decimal // flat, e.g. 0.12 for 12%
	Installments int
	FirstDue     time.Time
	// Every due date is FirstDue plus n of these.
	IntervalMonths int
}

var (
	ErrNoInstallments      = errors.New("installment count must be positive")
	ErrNonPositivePrincipal = errors.New("principal must be positive")
	ErrNegativeRate        = errors.New("annual rate must not be negative")
)

// GenerateSchedule builds an equal-principal schedule from the terms.
func GenerateSchedule(terms Terms) (schedule.Schedule, error) {
	if terms.Installments < 1 {
		return nil, ErrNoInstallments
	}
	if !terms.Principal.IsPositive() {
		return nil, ErrNonPositivePrincipal
	}
	if terms.AnnualRate.IsNegative() {
		return nil, ErrNegativeRate
	}
	interval := terms.IntervalMonths
	if interval < 1 {
		interval = 1
	}

	currency := terms.Principal.Currency()
	count := int64(terms.Installments)

	// Per-installment principal share, rounded to the currency; the last
	// installment absorbs the rounding difference.
	share := money.New(currency, terms.Principal.Amount().Div(decimal.NewFromInt(count)))

	// Flat interest: principal * rate * months / 12, charged per installment.
	periodRate := terms.AnnualRate.
		Mul(decimal.NewFromInt(int64(interval))).
		Div(decimal.NewFromInt(12))
	interest := money.New(currency, terms.Principal.Amount().Mul(periodRate))

	zero := money.Zero(currency)
	installments := make(schedule.Schedule, 0, terms.Installments)
	allocated := zero

	for n := 1; n <= terms.Installments; n++ {
		principal := share
		if n == terms.Installments {
			principal = terms.Principal.Sub(allocated)
		}
		allocated = allocated.Add(principal)

		due := terms.FirstDue.AddDate(0, (n-1)*interval, 0)
		inst, err := schedule.NewInstallment(n, due, principal, interest, zero, zero)
		if err != nil {
			return nil, fmt.Errorf("installment %d: %w", n, err)
		}
		installments = append(installments, inst)
	}

	return installments, nil
}
