/*
interestfirst.go - Interest-first ("regulatory") allocation policy

PURPOSE:
  Regulatory variant used where interest on every due or overdue
  installment must be settled before any principal. For advance and
  on-time payments it behaves like a single-installment policy with order
  penalty → fee → interest → principal. Lateness is where it differs:

  Pass 1: walk the whole schedule and, for every installment with interest
          still outstanding that is overdue as of the transaction date (or
          is the nearest installment to it), pay penalty, fee, then
          interest on that installment.
  Pass 2: with whatever remains, pay principal across the schedule in
          order.

  Overpayment is left unreported under this policy: the remainder is
  returned to the caller but no overpayment hook fires.

REFUND ORDER:
  principal → interest → fee → penalty. Not the mirror of the forward
  order; kept as-is pending product-owner confirmation of real ledger
  behavior.
*/
package allocation

import (
	"time"

	"github.com/warp/repayment-engine/money"
	"github.com/warp/repayment-engine/schedule"
)

// InterestFirst settles interest across all due installments before any
// principal when a payment arrives late.
type InterestFirst struct{}

func NewInterestFirst() *InterestFirst { return &InterestFirst{} }

func (p *InterestFirst) Code() PolicyCode { return PolicyInterestFirst }

func (p *InterestFirst) HandleAdvance(current *schedule.Installment, _ schedule.Schedule, tx *Transaction, unallocated money.Money) money.Money {
	return p.HandleOnTime(current, tx, unallocated)
}

// HandleOnTime allocates against the single current installment in the
// order penalty, fee, interest, principal.
func (p *InterestFirst) HandleOnTime(current *schedule.Installment, tx *Transaction, unallocated money.Money) money.Money {
	zero := unallocated.Zero()

	switch {
	case tx.IsChargesWaiver():
		// The penalty share is a per-transaction cap, so what earlier
		// installments already consumed comes off the top.
		shareLeft := tx.PenaltyShare().Sub(tx.PenaltyPortion())
		penalty := current.WaivePenalty(tx.Date, shareLeft.Min(unallocated))
		unallocated = unallocated.Sub(penalty)
		fee := current.WaiveFee(tx.Date, unallocated)
		unallocated = unallocated.Sub(fee)
		tx.updateComponents(zero, zero, fee, penalty)

	case tx.IsInterestWaiver():
		interest := current.WaiveInterest(tx.Date, unallocated)
		unallocated = unallocated.Sub(interest)
		tx.updateComponents(zero, interest, zero, zero)

	case tx.IsChargePayment():
		fee, penalty := zero, zero
		if tx.IsPenaltyPayment() {
			penalty = current.PayPenalty(tx.Date, unallocated)
			unallocated = unallocated.Sub(penalty)
		} else {
			fee = current.PayFee(tx.Date, unallocated)
			unallocated = unallocated.Sub(fee)
		}
		tx.updateComponents(zero, zero, fee, penalty)

	default:
		penalty := current.PayPenalty(tx.Date, unallocated)
		unallocated = unallocated.Sub(penalty)
		fee := current.PayFee(tx.Date, unallocated)
		unallocated = unallocated.Sub(fee)
		interest := current.PayInterest(tx.Date, unallocated)
		unallocated = unallocated.Sub(interest)
		principal := current.PayPrincipal(tx.Date, unallocated)
		unallocated = unallocated.Sub(principal)
		tx.updateComponents(principal, interest, fee, penalty)
	}

	return unallocated
}

// HandleLate spans the whole schedule for regular repayments. Waivers and
// charge payments remain single-installment, same as on-time.
func (p *InterestFirst) HandleLate(current *schedule.Installment, all schedule.Schedule, tx *Transaction, unallocated money.Money) money.Money {
	if !tx.IsRepayment() {
		return p.HandleOnTime(current, tx, unallocated)
	}

	zero := unallocated.Zero()
	nearest := nearestInstallment(all, tx.Date)

	// Pass 1: charges and interest on every due/overdue installment whose
	// interest is still outstanding.
	for _, inst := range all {
		if !unallocated.IsPositive() {
			break
		}
		if !inst.Interest.Outstanding().IsPositive() {
			continue
		}
		overdue := dateOf(inst.DueDate).Before(dateOf(tx.Date))
		if !overdue && inst != nearest {
			continue
		}

		penalty := inst.PayPenalty(tx.Date, unallocated)
		unallocated = unallocated.Sub(penalty)
		fee := inst.PayFee(tx.Date, unallocated)
		unallocated = unallocated.Sub(fee)
		interest := inst.PayInterest(tx.Date, unallocated)
		unallocated = unallocated.Sub(interest)
		tx.updateComponents(zero, interest, fee, penalty)
	}

	// Pass 2: principal across the schedule, in order.
	for _, inst := range all {
		if !unallocated.IsPositive() {
			break
		}
		principal := inst.PayPrincipal(tx.Date, unallocated)
		if principal.IsPositive() {
			unallocated = unallocated.Sub(principal)
			tx.updateComponents(principal, zero, zero, zero)
		}
	}

	return unallocated
}

// HandleRefund reverses principal, interest, fee, then penalty.
func (p *InterestFirst) HandleRefund(current *schedule.Installment, tx *Transaction, unallocated money.Money) money.Money {
	principal := current.UnpayPrincipal(tx.Date, unallocated)
	unallocated = unallocated.Sub(principal)
	interest := current.UnpayInterest(tx.Date, unallocated)
	unallocated = unallocated.Sub(interest)
	fee := current.UnpayFee(tx.Date, unallocated)
	unallocated = unallocated.Sub(fee)
	penalty := current.UnpayPenalty(tx.Date, unallocated)
	unallocated = unallocated.Sub(penalty)
	tx.updateComponents(principal, interest, fee, penalty)
	return unallocated
}

// OnOverpayment is a no-op: this policy leaves excess unreported rather
// than triggering loan-overpaid bookkeeping.
func (p *InterestFirst) OnOverpayment(*Transaction, money.Money) {}

// nearestInstallment returns the latest installment whose due date is on or
// before the transaction date, or the first installment if none qualify.
func nearestInstallment(all schedule.Schedule, transactionDate time.Time) *schedule.Installment {
	td := dateOf(transactionDate)
	var nearest *schedule.Installment
	for _, inst := range all {
		if dateOf(inst.DueDate).After(td) {
			break
		}
		nearest = inst
	}
	if nearest == nil && len(all) > 0 {
		nearest = all[0]
	}
	return nearest
}
