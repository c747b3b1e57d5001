/*
Package allocation implements the repayment allocation engine.

PURPOSE:
  Given a monetary transaction against a loan - a repayment, a waiver, a
  charge-only payment or a refund - decide exactly how much of the amount
  is credited to each outstanding component (principal, interest, fee,
  penalty) of each installment in the repayment schedule, under a pluggable
  allocation policy.

KEY CONCEPTS:
  - Transaction: immutable descriptor of one monetary movement, plus the
    realized per-component split the engine records on it
  - Policy: the pluggable allocation algorithm (standard / interest-first)
  - Processor: the orchestrator that walks the schedule, classifies timing,
    dispatches to the policy and carries the remainder forward

DESIGN PRINCIPLES:
  1. Deterministic: same inputs, same split - always
  2. All-or-nothing: every fatal condition is detected before the first
     ledger mutation
  3. Clamped, never negative: over-application falls through instead of
     failing or going below zero

USAGE:
  tx := allocation.NewRepayment(money.NewFromFloat(usd, 250), date)
  proc := allocation.Processor{}
  left, err := proc.Process(tx, installments, allocation.NewStandard(nil))
  // left is the overpayment remainder; tx now carries the component split

SEE ALSO:
  - schedule: the installment ledger the engine mutates
  - money: the fixed-point amount type
*/
package allocation

import (
	"time"

	"github.com/warp/repayment-engine/money"
)

// =============================================================================
// TRANSACTION KIND
// =============================================================================

type Kind string

const (
	KindRepayment      Kind = "repayment"
	KindInterestWaiver Kind = "interest_waiver"
	KindChargesWaiver  Kind = "charges_waiver"
	KindChargePayment  Kind = "charge_payment"
	KindRefund         Kind = "refund"
	KindWriteOff       Kind = "write_off"
)

// =============================================================================
// TRANSACTION - One monetary movement against a loan
// =============================================================================

// Transaction records a monetary movement. Amount, date and kind are fixed
// at construction; the only mutation a transaction undergoes is the engine
// recording the realized per-component split after processing.
type Transaction struct {
	ID     string
	Amount money.Money
	Date   time.Time
	Kind   Kind

	// penaltyOnly distinguishes penalty from fee charge payments.
	penaltyOnly bool

	// penaltyShare is the portion of a charges waiver known by the
	// originating service to be penalty rather than fee.
	penaltyShare money.Money

	// Realized split, accumulated across every installment visited while
	// processing this transaction.
	principalPortion   money.Money
	interestPortion    money.Money
	feePortion         money.Money
	penaltyPortion     money.Money
	overpaymentPortion money.Money
}

func newTransaction(kind Kind, amount money.Money, date time.Time) *Transaction {
	zero := amount.Zero()
	return &Transaction{
		Amount:             amount,
		Date:               date,
		Kind:               kind,
		penaltyShare:       zero,
		principalPortion:   zero,
		interestPortion:    zero,
		feePortion:         zero,
		penaltyPortion:     zero,
		overpaymentPortion: zero,
	}
}

// NewRepayment creates a regular repayment transaction.
func NewRepayment(amount money.Money, date time.Time) *Transaction {
	return newTransaction(KindRepayment, amount, date)
}

// NewInterestWaiver creates an interest forgiveness transaction.
func NewInterestWaiver(amount money.Money, date time.Time) *Transaction {
	return newTransaction(KindInterestWaiver, amount, date)
}

// NewChargesWaiver creates a fee/penalty forgiveness transaction.
// penaltyShare is how much of the amount forgives penalties; the remainder
// forgives fees.
func NewChargesWaiver(amount, penaltyShare money.Money, date time.Time) *Transaction {
	tx := newTransaction(KindChargesWaiver, amount, date)
	tx.penaltyShare = penaltyShare
	return tx
}

// NewChargePayment creates a fee-only or penalty-only payment.
func NewChargePayment(amount money.Money, date time.Time, penalty bool) *Transaction {
	tx := newTransaction(KindChargePayment, amount, date)
	tx.penaltyOnly = penalty
	return tx
}

// NewRefund creates a reversal of previously applied payments.
func NewRefund(amount money.Money, date time.Time) *Transaction {
	return newTransaction(KindRefund, amount, date)
}

// NewWriteOff creates a write-off marker. The processor populates the real
// split; stores use this to rematerialize a persisted write-off for replay.
func NewWriteOff(amount money.Money, date time.Time) *Transaction {
	return newTransaction(KindWriteOff, amount, date)
}

// =============================================================================
// PREDICATES - Pure functions of the kind tag
// =============================================================================

func (t *Transaction) IsRepayment() bool      { return t.Kind == KindRepayment }
func (t *Transaction) IsInterestWaiver() bool { return t.Kind == KindInterestWaiver }
func (t *Transaction) IsChargesWaiver() bool  { return t.Kind == KindChargesWaiver }
func (t *Transaction) IsWaiver() bool         { return t.IsInterestWaiver() || t.IsChargesWaiver() }
func (t *Transaction) IsChargePayment() bool  { return t.Kind == KindChargePayment }
func (t *Transaction) IsPenaltyPayment() bool { return t.IsChargePayment() && t.penaltyOnly }
func (t *Transaction) IsRefund() bool         { return t.Kind == KindRefund }
func (t *Transaction) IsWriteOff() bool       { return t.Kind == KindWriteOff }

// =============================================================================
// REALIZED SPLIT
// =============================================================================

func (t *Transaction) PrincipalPortion() money.Money   { return t.principalPortion }
func (t *Transaction) InterestPortion() money.Money    { return t.interestPortion }
func (t *Transaction) FeePortion() money.Money         { return t.feePortion }
func (t *Transaction) PenaltyPortion() money.Money     { return t.penaltyPortion }
func (t *Transaction) OverpaymentPortion() money.Money { return t.overpaymentPortion }

// PenaltyShare returns the declared penalty part of a charges waiver.
func (t *Transaction) PenaltyShare() money.Money { return t.penaltyShare }

// AllocatedTotal is the sum of all realized component portions.
func (t *Transaction) AllocatedTotal() money.Money {
	return t.principalPortion.
		Add(t.interestPortion).
		Add(t.feePortion).
		Add(t.penaltyPortion)
}

// updateComponents accumulates realized portions. Called by policy handlers
// once per installment visited.
func (t *Transaction) updateComponents(principal, interest, fee, penalty money.Money) {
	t.principalPortion = t.principalPortion.Add(principal)
	t.interestPortion = t.interestPortion.Add(interest)
	t.feePortion = t.feePortion.Add(fee)
	t.penaltyPortion = t.penaltyPortion.Add(penalty)
}

// resetDerivedComponents clears the realized split before (re)processing.
func (t *Transaction) resetDerivedComponents() {
	zero := t.Amount.Zero()
	t.principalPortion = zero
	t.interestPortion = zero
	t.feePortion = zero
	t.penaltyPortion = zero
	t.overpaymentPortion = zero
}
