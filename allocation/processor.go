/*
processor.go - Schedule processor (orchestrator)

PURPOSE:
  Drives one transaction through the ordered installment list: classify
  timing per installment, dispatch to the active policy's handler, carry
  the unallocated remainder to the next installment, and report whatever
  survives the whole schedule as overpayment.

STATE MACHINE:
  Scanning(index, remainder) -> Exhausted(overpaymentRemainder)
  The walk stops early once the remainder reaches zero.

FAILURE SEMANTICS:
  Empty schedule, nil transaction, negative amount and currency mismatch
  are programmer errors: rejected before the first mutation, so a failed
  call leaves every installment untouched. Over-application is never an
  error - the component clamp is the normal overpayment path.

CONCURRENCY:
  One Process call fully resolves one transaction, synchronously, with no
  I/O. The schedule and transaction are exclusively owned by the caller's
  unit of work for the duration of the call; the processor retains nothing.
*/
package allocation

import (
	"errors"
	"fmt"
	"time"

	"github.com/warp/repayment-engine/money"
	"github.com/warp/repayment-engine/schedule"
)

// ErrNilTransaction is returned when Process is given a nil transaction.
var ErrNilTransaction = errors.New("nil transaction")

// Processor walks a repayment schedule applying one transaction under one
// allocation policy. Zero value is ready to use.
type Processor struct{}

// Process allocates tx across the schedule under the given policy and
// returns the overpayment remainder. Installments are mutated in place;
// tx's component portions are recorded as a side effect.
func (p Processor) Process(tx *Transaction, installments schedule.Schedule, policy Policy) (money.Money, error) {
	if err := p.validate(tx, installments); err != nil {
		return money.Money{}, err
	}

	tx.resetDerivedComponents()

	if tx.IsRefund() {
		unallocated := p.processRefund(tx, installments, policy)
		if unallocated.IsPositive() {
			policy.OnOverpayment(tx, unallocated)
		}
		return unallocated, nil
	}

	if tx.IsWriteOff() {
		p.processWriteOff(tx, installments)
		return money.Zero(tx.Amount.Currency()), nil
	}

	unallocated := tx.Amount
	for _, current := range installments {
		if !unallocated.IsPositive() {
			break
		}
		if current.Completed() {
			continue
		}

		switch Classify(tx.Date, current.DueDate) {
		case TimingAdvance:
			unallocated = policy.HandleAdvance(current, installments, tx, unallocated)
		case TimingLate:
			unallocated = policy.HandleLate(current, installments, tx, unallocated)
		default:
			unallocated = policy.HandleOnTime(current, tx, unallocated)
		}
	}

	if unallocated.IsPositive() && !tx.IsWaiver() {
		tx.overpaymentPortion = unallocated
		policy.OnOverpayment(tx, unallocated)
	}

	return unallocated, nil
}

// processRefund walks installments latest due date first, reversing paid
// amounts on any installment that has some payment against it.
func (p Processor) processRefund(tx *Transaction, installments schedule.Schedule, policy Policy) money.Money {
	unallocated := tx.Amount
	for idx := len(installments) - 1; idx >= 0; idx-- {
		if !unallocated.IsPositive() {
			break
		}
		current := installments[idx]
		if !current.TotalPaid().Add(current.TotalWaived()).IsPositive() {
			continue
		}
		unallocated = policy.HandleRefund(current, tx, unallocated)
	}
	return unallocated
}

// WriteOff closes out every unfinished installment as of the given date and
// returns a write-off transaction carrying the per-component split.
func (p Processor) WriteOff(asOf time.Time, installments schedule.Schedule, currency *money.Currency) (*Transaction, error) {
	if err := installments.Validate(currency); err != nil {
		return nil, err
	}

	tx := newTransaction(KindWriteOff, money.Zero(currency), asOf)
	p.processWriteOff(tx, installments)
	return tx, nil
}

// processWriteOff expenses every outstanding component as of the transaction
// date, records the split on the transaction and replaces its amount with
// the recomputed total. A replayed write-off therefore settles at whatever
// was outstanding at that point of the replay, not at the persisted figure.
func (p Processor) processWriteOff(tx *Transaction, installments schedule.Schedule) {
	currency := tx.Amount.Currency()
	principal := money.Zero(currency)
	interest := money.Zero(currency)
	fee := money.Zero(currency)
	penalty := money.Zero(currency)

	for _, current := range installments {
		if current.Completed() {
			continue
		}
		pr, in, fe, pe := current.WriteOffOutstanding(tx.Date)
		principal = principal.Add(pr)
		interest = interest.Add(in)
		fee = fee.Add(fe)
		penalty = penalty.Add(pe)
	}

	tx.Amount = principal.Add(interest).Add(fee).Add(penalty)
	tx.updateComponents(principal, interest, fee, penalty)
}

// Reprocess resets the schedule and replays the full transaction history
// in order. Used after a backdated payment or an adjustment invalidates
// previously derived state. Returns the total amount left unallocated
// across all replayed transactions.
func (p Processor) Reprocess(currency *money.Currency, transactions []*Transaction, installments schedule.Schedule, policy Policy) (money.Money, error) {
	if err := installments.Validate(currency); err != nil {
		return money.Money{}, err
	}

	installments.ResetDerived()

	unallocated := money.Zero(currency)
	for _, tx := range transactions {
		left, err := p.Process(tx, installments, policy)
		if err != nil {
			return money.Money{}, err
		}
		if !tx.IsWaiver() {
			unallocated = unallocated.Add(left)
		}
	}
	return unallocated, nil
}

func (p Processor) validate(tx *Transaction, installments schedule.Schedule) error {
	if tx == nil {
		return ErrNilTransaction
	}
	currency := tx.Amount.Currency()
	if currency == nil {
		return fmt.Errorf("transaction has no currency: %w", schedule.ErrCurrencyMismatch)
	}
	if tx.Amount.IsNegative() {
		return fmt.Errorf("transaction amount %s: %w", tx.Amount, schedule.ErrNegativeAmount)
	}
	if tx.IsChargesWaiver() {
		if !currency.Same(tx.penaltyShare.Currency()) {
			return fmt.Errorf("charges waiver penalty share: %w", schedule.ErrCurrencyMismatch)
		}
		if tx.penaltyShare.IsNegative() {
			return fmt.Errorf("charges waiver penalty share: %w", schedule.ErrNegativeAmount)
		}
	}
	return installments.Validate(currency)
}
