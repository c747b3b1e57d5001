/*
loan.go - Loan aggregate wrapping the allocation engine

PURPOSE:
  Binds one repayment schedule, one allocation policy and the transaction
  history into a single unit of work. Callers apply monetary events here;
  the aggregate runs them through the engine, appends them to the history
  and keeps the loan status current.

STATUS MODEL:
  active      outstanding balance remains
  overpaid    a payment exceeded everything owed; the excess is tracked
  closed      every installment's obligations are met
  written_off the remaining debt was expensed; no further payments accepted

  written_off is terminal. closed and overpaid can reopen: a refund that
  reduces paid amounts moves the loan back to active.

REBUILD:
  The transaction history is the source of truth. Rebuild resets every
  derived figure on the schedule and replays the history in order, which is
  how a loan is reconstructed from storage and how backdated adjustments
  take effect.
*/
package loan

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/repayment-engine/allocation"
	"github.com/warp/repayment-engine/money"
	"github.com/warp/repayment-engine/schedule"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusActive     Status = "active"
	StatusOverpaid   Status = "overpaid"
	StatusClosed     Status = "closed"
	StatusWrittenOff Status = "written_off"
)

// ErrWrittenOff is returned when applying a transaction to a written-off loan.
var ErrWrittenOff = errors.New("loan is written off")

// =============================================================================
// LOAN AGGREGATE
// =============================================================================

// Loan is one disbursed loan: its schedule, its policy and everything that
// has happened to it. Not safe for concurrent use; callers serialize access
// per loan.
type Loan struct {
	ID           string
	ProductCode  string
	Currency     *money.Currency
	Schedule     schedule.Schedule
	Transactions []*allocation.Transaction

	policy    allocation.Policy
	processor allocation.Processor
	status    Status
	overpaid  money.Money
}

// New creates a loan over a freshly generated schedule.
func New(productCode string, currency *money.Currency, policyCode allocation.PolicyCode, installments schedule.Schedule) (*Loan, error) {
	if err := installments.Validate(currency); err != nil {
		return nil, err
	}

	l := &Loan{
		ID:          uuid.NewString(),
		ProductCode: productCode,
		Currency:    currency,
		Schedule:    installments,
		status:      StatusActive,
		overpaid:    money.Zero(currency),
	}

	policy, err := allocation.ForCode(policyCode, l.recordOverpayment)
	if err != nil {
		return nil, err
	}
	l.policy = policy
	return l, nil
}

// Restore reconstructs a loan from its persisted parts by replaying the
// transaction history against the pristine schedule.
func Restore(id, productCode string, currency *money.Currency, policyCode allocation.PolicyCode, installments schedule.Schedule, history []*allocation.Transaction) (*Loan, error) {
	l, err := New(productCode, currency, policyCode, installments)
	if err != nil {
		return nil, err
	}
	l.ID = id
	l.Transactions = history
	if err := l.Rebuild(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Loan) Status() Status          { return l.status }
func (l *Loan) Overpaid() money.Money   { return l.overpaid }
func (l *Loan) PolicyCode() allocation.PolicyCode { return l.policy.Code() }

// Outstanding is the total still owed across the schedule.
func (l *Loan) Outstanding() money.Money {
	return l.Schedule.TotalOutstanding(l.Currency)
}

// =============================================================================
// MONETARY EVENTS
// =============================================================================

// Repay applies a regular repayment.
func (l *Loan) Repay(amount money.Money, date time.Time) (*allocation.Transaction, error) {
	return l.apply(allocation.NewRepayment(amount, date))
}

// WaiveInterest forgives due interest.
func (l *Loan) WaiveInterest(amount money.Money, date time.Time) (*allocation.Transaction, error) {
	return l.apply(allocation.NewInterestWaiver(amount, date))
}

// WaiveCharges forgives fees and penalties. penaltyShare is the part of the
// amount known to forgive penalties rather than fees.
func (l *Loan) WaiveCharges(amount, penaltyShare money.Money, date time.Time) (*allocation.Transaction, error) {
	return l.apply(allocation.NewChargesWaiver(amount, penaltyShare, date))
}

// PayCharge applies a fee-only or penalty-only payment.
func (l *Loan) PayCharge(amount money.Money, date time.Time, penalty bool) (*allocation.Transaction, error) {
	return l.apply(allocation.NewChargePayment(amount, date, penalty))
}

// Refund reverses previously applied payments, latest installment first.
func (l *Loan) Refund(amount money.Money, date time.Time) (*allocation.Transaction, error) {
	return l.apply(allocation.NewRefund(amount, date))
}

// WriteOff expenses everything still outstanding and freezes the loan.
func (l *Loan) WriteOff(asOf time.Time) (*allocation.Transaction, error) {
	if l.status == StatusWrittenOff {
		return nil, ErrWrittenOff
	}

	tx, err := l.processor.WriteOff(asOf, l.Schedule, l.Currency)
	if err != nil {
		return nil, err
	}
	tx.ID = uuid.NewString()
	l.Transactions = append(l.Transactions, tx)
	l.status = StatusWrittenOff
	return tx, nil
}

func (l *Loan) apply(tx *allocation.Transaction) (*allocation.Transaction, error) {
	if l.status == StatusWrittenOff {
		return nil, ErrWrittenOff
	}

	if _, err := l.processor.Process(tx, l.Schedule, l.policy); err != nil {
		return nil, err
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	l.Transactions = append(l.Transactions, tx)

	// A refund reopens previously settled state, so derived figures are
	// recomputed from the full history instead of patched incrementally.
	if tx.IsRefund() {
		if err := l.Rebuild(); err != nil {
			return nil, err
		}
		return tx, nil
	}

	l.refreshStatus()
	return tx, nil
}

// =============================================================================
// REBUILD - Replay history from scratch
// =============================================================================

// Rebuild resets the schedule's derived state and replays the transaction
// history in order. Write-offs replay as write-offs, not payments.
func (l *Loan) Rebuild() error {
	l.Schedule.ResetDerived()
	l.overpaid = money.Zero(l.Currency)
	l.status = StatusActive

	for _, tx := range l.Transactions {
		if _, err := l.processor.Process(tx, l.Schedule, l.policy); err != nil {
			return fmt.Errorf("replay transaction %s: %w", tx.ID, err)
		}
		if tx.IsWriteOff() {
			// The replay recomputed the split and amount in place.
			l.status = StatusWrittenOff
		}
	}

	if l.status != StatusWrittenOff {
		l.refreshStatus()
	}
	return nil
}

// recordOverpayment is the policy's overpayment hook. Only the standard
// policy reports overpayment; interest-first leaves the excess untracked.
// A payment's leftover accrues credit; a refund's leftover is that credit
// being handed back, so it draws the balance down instead, clamped at zero.
func (l *Loan) recordOverpayment(tx *allocation.Transaction, remaining money.Money) {
	if tx.IsRefund() {
		if remaining.GreaterThanOrEqual(l.overpaid) {
			l.overpaid = money.Zero(l.Currency)
		} else {
			l.overpaid = l.overpaid.Sub(remaining)
		}
		return
	}
	l.overpaid = l.overpaid.Add(remaining)
}

func (l *Loan) refreshStatus() {
	switch {
	case l.overpaid.IsPositive():
		l.status = StatusOverpaid
	case l.Schedule.Completed():
		l.status = StatusClosed
	default:
		l.status = StatusActive
		l.overpaid = money.Zero(l.Currency)
	}
}
