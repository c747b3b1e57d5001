/*
policy.go - Allocation policy contract and timing classification

PURPOSE:
  A Policy decides the order and scope (single installment vs whole
  schedule) in which a payment amount is applied to components. The
  processor classifies the transaction's timing against each installment
  and dispatches to the matching handler.

TIMING:
  Advance:  transaction date before the installment due date
  OnTime:   transaction date equals the installment due date
  Late:     transaction date after the installment due date

  Classification is per installment: the same transaction can be late for
  installment 1 and in advance of installment 2. It is a pure function of
  the two dates, at calendar-day precision.

POLICY SELECTION:
  A loan product names its policy by code; the policy is fixed for the life
  of a loan. Use ForCode to resolve a code to a policy instance.
*/
package allocation

import (
	"fmt"
	"time"

	"github.com/warp/repayment-engine/money"
	"github.com/warp/repayment-engine/schedule"
)

// =============================================================================
// TIMING CLASSIFICATION
// =============================================================================

type Timing int

const (
	TimingAdvance Timing = iota
	TimingOnTime
	TimingLate
)

func (t Timing) String() string {
	switch t {
	case TimingAdvance:
		return "advance"
	case TimingOnTime:
		return "on-time"
	default:
		return "late"
	}
}

// Classify categorizes a transaction date against an installment due date.
func Classify(transactionDate, dueDate time.Time) Timing {
	td, dd := dateOf(transactionDate), dateOf(dueDate)
	switch {
	case td.Before(dd):
		return TimingAdvance
	case td.After(dd):
		return TimingLate
	default:
		return TimingOnTime
	}
}

// dateOf truncates to calendar-day precision in UTC.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// POLICY - Pluggable allocation strategy
// =============================================================================

// PolicyCode identifies an allocation policy in product configuration.
type PolicyCode string

const (
	PolicyStandard      PolicyCode = "standard"
	PolicyInterestFirst PolicyCode = "interest-first"
)

// OverpaymentHook is invoked when a transaction overpays the whole loan.
// The remaining amount is what could not be allocated to any component.
type OverpaymentHook func(tx *Transaction, remaining money.Money)

// Policy is the pluggable allocation algorithm. Handlers receive the
// current unallocated amount and return what is still unallocated after
// this installment; the processor carries that forward.
type Policy interface {
	Code() PolicyCode

	// HandleAdvance allocates a payment made before the installment's due date.
	HandleAdvance(current *schedule.Installment, all schedule.Schedule, tx *Transaction, unallocated money.Money) money.Money

	// HandleOnTime allocates a payment made on the installment's due date.
	HandleOnTime(current *schedule.Installment, tx *Transaction, unallocated money.Money) money.Money

	// HandleLate allocates a payment made after the installment's due date.
	// Policies may span the whole schedule here.
	HandleLate(current *schedule.Installment, all schedule.Schedule, tx *Transaction, unallocated money.Money) money.Money

	// HandleRefund reverses previously applied payments on one installment,
	// in the policy's reversal order.
	HandleRefund(current *schedule.Installment, tx *Transaction, unallocated money.Money) money.Money

	// OnOverpayment is called once, after the schedule is exhausted with a
	// positive remainder. Policies may treat this as a no-op.
	OnOverpayment(tx *Transaction, remaining money.Money)
}

// ForCode resolves a product's policy code to a policy instance.
// The hook is only consulted by policies that report overpayment.
func ForCode(code PolicyCode, hook OverpaymentHook) (Policy, error) {
	switch code {
	case PolicyStandard:
		return NewStandard(hook), nil
	case PolicyInterestFirst:
		return NewInterestFirst(), nil
	default:
		return nil, fmt.Errorf("unknown allocation policy %q", code)
	}
}
