package schedule

import (
	"fmt"

	"github.com/warp/repayment-engine/money"
)

// =============================================================================
// SCHEDULE - Ordered installment list
// =============================================================================

// Schedule is a loan's installments in ascending due-date order.
type Schedule []*Installment

// Validate checks the structural invariants the allocation engine relies on:
// at least one installment, ascending due dates, one shared currency.
// Called before any mutation so rejected input leaves the ledger untouched.
func (s Schedule) Validate(currency *money.Currency) error {
	if len(s) == 0 {
		return ErrEmptySchedule
	}
	for idx, inst := range s {
		if !currency.Same(inst.Currency()) {
			return fmt.Errorf("installment %d is in %s, schedule is in %s: %w",
				inst.Number, inst.Currency().Code, currency.Code, ErrCurrencyMismatch)
		}
		if idx > 0 && inst.DueDate.Before(s[idx-1].DueDate) {
			return fmt.Errorf("installment %d due %s before installment %d: %w",
				inst.Number, inst.DueDate.Format("2006-01-02"), s[idx-1].Number, ErrUnorderedSchedule)
		}
	}
	return nil
}

// TotalOutstanding sums outstanding balances across all installments.
func (s Schedule) TotalOutstanding(currency *money.Currency) money.Money {
	total := money.Zero(currency)
	for _, inst := range s {
		total = total.Add(inst.TotalOutstanding())
	}
	return total
}

// Completed reports whether every installment is fully settled.
func (s Schedule) Completed() bool {
	for _, inst := range s {
		if !inst.Completed() {
			return false
		}
	}
	return true
}

// ResetDerived resets every installment for full reprocessing.
func (s Schedule) ResetDerived() {
	for _, inst := range s {
		inst.ResetDerived()
	}
}
