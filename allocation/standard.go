/*
standard.go - Standard allocation policy

PURPOSE:
  The default policy. Regular payments settle penalty, fee, interest, then
  principal, always against the single installment the processor is
  currently aimed at. Advance and late payments are deliberately not
  special-cased - all three timings route to the same handler.

REFUND ORDER:
  fee, penalty, interest, principal, each via unpay. Last paid, first
  reversed.
*/
package allocation

import (
	"github.com/warp/repayment-engine/money"
	"github.com/warp/repayment-engine/schedule"
)

// Standard allocates against one installment at a time, settling charges
// and interest ahead of principal.
type Standard struct {
	hook OverpaymentHook
}

// NewStandard creates the standard policy. hook may be nil; when set it is
// invoked whenever a transaction overpays the whole loan.
func NewStandard(hook OverpaymentHook) *Standard {
	return &Standard{hook: hook}
}

func (p *Standard) Code() PolicyCode { return PolicyStandard }

// HandleAdvance delegates to the on-time handler; this policy does not
// treat early payment differently.
func (p *Standard) HandleAdvance(current *schedule.Installment, _ schedule.Schedule, tx *Transaction, unallocated money.Money) money.Money {
	return p.HandleOnTime(current, tx, unallocated)
}

// HandleLate delegates to the on-time handler; this policy does not treat
// lateness differently.
func (p *Standard) HandleLate(current *schedule.Installment, _ schedule.Schedule, tx *Transaction, unallocated money.Money) money.Money {
	return p.HandleOnTime(current, tx, unallocated)
}

func (p *Standard) HandleOnTime(current *schedule.Installment, tx *Transaction, unallocated money.Money) money.Money {
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

// HandleRefund reverses in the mirror of the payment order: fee, penalty,
// interest, principal, each clamped to what is currently paid.
func (p *Standard) HandleRefund(current *schedule.Installment, tx *Transaction, unallocated money.Money) money.Money {
	fee := current.UnpayFee(tx.Date, unallocated)
	unallocated = unallocated.Sub(fee)
	penalty := current.UnpayPenalty(tx.Date, unallocated)
	unallocated = unallocated.Sub(penalty)
	interest := current.UnpayInterest(tx.Date, unallocated)
	unallocated = unallocated.Sub(interest)
	principal := current.UnpayPrincipal(tx.Date, unallocated)
	unallocated = unallocated.Sub(principal)
	tx.updateComponents(principal, interest, fee, penalty)
	return unallocated
}

func (p *Standard) OnOverpayment(tx *Transaction, remaining money.Money) {
	if p.hook != nil {
		p.hook(tx, remaining)
	}
}
