/*
Package schedule provides the per-installment repayment ledger.

PURPOSE:
  A loan's repayment schedule is an ordered list of installments. Each
  installment tracks four independently-ledgered components - principal,
  interest, fee and penalty - as {due, paid, waived, writtenOff} balances.
  The allocation engine mutates installments exclusively through the
  component operations in this file.

CRITICAL INVARIANTS:
  1. CLAMPED: paid + waived + writtenOff never exceeds due for any component.
     Over-application is never an error - the surplus falls through to the
     next component or installment.
  2. MONOTONIC: paid and waived only decrease through the explicit unpay /
     unwaive operations used for refund processing.
  3. DERIVED COMPLETION: after every mutation the installment recomputes
     whether all four components are fully met.

CORRECTIONS:
  A mistaken payment is not edited out. The caller processes a refund
  transaction, which walks the unpay operations in the active policy's
  reversal order.

SEE ALSO:
  - allocation: the engine that drives these operations
  - money: the immutable amount type every balance is stored as
*/
package schedule

import (
	"fmt"
	"time"

	"github.com/warp/repayment-engine/money"
)

// =============================================================================
// COMPONENT - One ledgered sub-balance of an installment
// =============================================================================

// Component is one of the four sub-balances of an installment.
type Component struct {
	Due        money.Money
	Paid       money.Money
	Waived     money.Money
	WrittenOff money.Money
}

func newComponent(due money.Money) Component {
	zero := due.Zero()
	return Component{Due: due, Paid: zero, Waived: zero, WrittenOff: zero}
}

// Outstanding returns due minus everything already settled against it.
func (c Component) Outstanding() money.Money {
	return c.Due.Sub(c.Paid).Sub(c.Waived).Sub(c.WrittenOff)
}

// Met reports whether the component has been fully settled.
func (c Component) Met() bool {
	return !c.Outstanding().IsPositive()
}

// pay applies min(requested, outstanding) to Paid and returns the amount
// actually applied. Negative requests apply nothing.
func (c *Component) pay(requested money.Money) money.Money {
	applied := clamp(requested, c.Outstanding())
	c.Paid = c.Paid.Add(applied)
	return applied
}

// waive applies min(requested, outstanding) to Waived.
func (c *Component) waive(requested money.Money) money.Money {
	applied := clamp(requested, c.Outstanding())
	c.Waived = c.Waived.Add(applied)
	return applied
}

// unpay removes min(requested, paid) from Paid. Reversal direction only.
func (c *Component) unpay(requested money.Money) money.Money {
	applied := clamp(requested, c.Paid)
	c.Paid = c.Paid.Sub(applied)
	return applied
}

// unwaive removes min(requested, waived) from Waived.
func (c *Component) unwaive(requested money.Money) money.Money {
	applied := clamp(requested, c.Waived)
	c.Waived = c.Waived.Sub(applied)
	return applied
}

// writeOff moves the entire outstanding balance to WrittenOff.
func (c *Component) writeOff() money.Money {
	applied := c.Outstanding()
	if applied.IsNegative() {
		return applied.Zero()
	}
	c.WrittenOff = c.WrittenOff.Add(applied)
	return applied
}

func clamp(requested, limit money.Money) money.Money {
	if requested.IsNegative() {
		return requested.Zero()
	}
	return requested.Min(limit)
}

// =============================================================================
// INSTALLMENT - One scheduled repayment point
// =============================================================================

// Installment is one due-date entry in a loan's repayment schedule.
// It is mutated only through the engine's component operations; when the
// schedule is regenerated the caller supersedes it rather than editing it.
type Installment struct {
	Number  int
	DueDate time.Time

	Principal Component
	Interest  Component
	Fee       Component
	Penalty   Component

	completed   bool
	completedOn time.Time

	currency *money.Currency
}

// NewInstallment creates an installment with the given component dues.
// All dues must share one currency.
func NewInstallment(number int, dueDate time.Time, principal, interest, fee, penalty money.Money) (*Installment, error) {
	currency := principal.Currency()
	for _, m := range []money.Money{interest, fee, penalty} {
		if !currency.Same(m.Currency()) {
			return nil, fmt.Errorf("installment %d: component currencies differ: %w", number, ErrCurrencyMismatch)
		}
	}
	if principal.IsNegative() || interest.IsNegative() || fee.IsNegative() || penalty.IsNegative() {
		return nil, fmt.Errorf("installment %d: negative component due: %w", number, ErrNegativeAmount)
	}

	return &Installment{
		Number:    number,
		DueDate:   dueDate,
		Principal: newComponent(principal),
		Interest:  newComponent(interest),
		Fee:       newComponent(fee),
		Penalty:   newComponent(penalty),
		currency:  currency,
	}, nil
}

func (i *Installment) Currency() *money.Currency { return i.currency }

// Completed reports whether all four components have been fully settled.
func (i *Installment) Completed() bool { return i.completed }

// CompletedOn returns the date of the mutation that completed the
// installment, zero if not completed.
func (i *Installment) CompletedOn() time.Time { return i.completedOn }

// =============================================================================
// PAY / WAIVE OPERATIONS (forward direction)
// =============================================================================
// Each takes (asOfDate, requested) and returns the amount actually applied,
// clamped to the component's outstanding balance.

func (i *Installment) PayPrincipal(asOf time.Time, requested money.Money) money.Money {
	applied := i.Principal.pay(requested)
	i.checkObligationsMet(asOf)
	return applied
}

func (i *Installment) PayInterest(asOf time.Time, requested money.Money) money.Money {
	applied := i.Interest.pay(requested)
	i.checkObligationsMet(asOf)
	return applied
}

func (i *Installment) PayFee(asOf time.Time, requested money.Money) money.Money {
	applied := i.Fee.pay(requested)
	i.checkObligationsMet(asOf)
	return applied
}

func (i *Installment) PayPenalty(asOf time.Time, requested money.Money) money.Money {
	applied := i.Penalty.pay(requested)
	i.checkObligationsMet(asOf)
	return applied
}

func (i *Installment) WaiveInterest(asOf time.Time, requested money.Money) money.Money {
	applied := i.Interest.waive(requested)
	i.checkObligationsMet(asOf)
	return applied
}

func (i *Installment) WaiveFee(asOf time.Time, requested money.Money) money.Money {
	applied := i.Fee.waive(requested)
	i.checkObligationsMet(asOf)
	return applied
}

func (i *Installment) WaivePenalty(asOf time.Time, requested money.Money) money.Money {
	applied := i.Penalty.waive(requested)
	i.checkObligationsMet(asOf)
	return applied
}

// =============================================================================
// UNPAY / UNWAIVE OPERATIONS (reversal direction)
// =============================================================================
// Used only while processing a refund that undoes a previous repayment or
// waiver. Each is clamped to what is currently paid (resp. waived).

func (i *Installment) UnpayPrincipal(asOf time.Time, requested money.Money) money.Money {
	applied := i.Principal.unpay(requested)
	i.checkObligationsMet(asOf)
	return applied
}

func (i *Installment) UnpayInterest(asOf time.Time, requested money.Money) money.Money {
	applied := i.Interest.unpay(requested)
	i.checkObligationsMet(asOf)
	return applied
}

func (i *Installment) UnpayFee(asOf time.Time, requested money.Money) money.Money {
	applied := i.Fee.unpay(requested)
	i.checkObligationsMet(asOf)
	return applied
}

func (i *Installment) UnpayPenalty(asOf time.Time, requested money.Money) money.Money {
	applied := i.Penalty.unpay(requested)
	i.checkObligationsMet(asOf)
	return applied
}

func (i *Installment) UnwaiveInterest(asOf time.Time, requested money.Money) money.Money {
	applied := i.Interest.unwaive(requested)
	i.checkObligationsMet(asOf)
	return applied
}

func (i *Installment) UnwaiveFee(asOf time.Time, requested money.Money) money.Money {
	applied := i.Fee.unwaive(requested)
	i.checkObligationsMet(asOf)
	return applied
}

func (i *Installment) UnwaivePenalty(asOf time.Time, requested money.Money) money.Money {
	applied := i.Penalty.unwaive(requested)
	i.checkObligationsMet(asOf)
	return applied
}

// =============================================================================
// WRITE-OFF
// =============================================================================

// WriteOffOutstanding moves every outstanding component balance to
// written-off and returns the per-component amounts.
func (i *Installment) WriteOffOutstanding(asOf time.Time) (principal, interest, fee, penalty money.Money) {
	principal = i.Principal.writeOff()
	interest = i.Interest.writeOff()
	fee = i.Fee.writeOff()
	penalty = i.Penalty.writeOff()
	i.checkObligationsMet(asOf)
	return principal, interest, fee, penalty
}

// =============================================================================
// DERIVED STATE
// =============================================================================

// TotalOutstanding is the sum of all component outstanding balances.
func (i *Installment) TotalOutstanding() money.Money {
	return i.Principal.Outstanding().
		Add(i.Interest.Outstanding()).
		Add(i.Fee.Outstanding()).
		Add(i.Penalty.Outstanding())
}

// TotalDue is the sum of all component dues.
func (i *Installment) TotalDue() money.Money {
	return i.Principal.Due.Add(i.Interest.Due).Add(i.Fee.Due).Add(i.Penalty.Due)
}

// TotalPaid is the sum of all component paid balances.
func (i *Installment) TotalPaid() money.Money {
	return i.Principal.Paid.Add(i.Interest.Paid).Add(i.Fee.Paid).Add(i.Penalty.Paid)
}

// TotalWaived is the sum of all component waived balances.
func (i *Installment) TotalWaived() money.Money {
	return i.Principal.Waived.Add(i.Interest.Waived).Add(i.Fee.Waived).Add(i.Penalty.Waived)
}

// ResetDerived zeroes all paid/waived/written-off balances and the
// completion flag. Used when the whole schedule is reprocessed from the
// full transaction history.
func (i *Installment) ResetDerived() {
	zero := money.Zero(i.currency)
	for _, c := range []*Component{&i.Principal, &i.Interest, &i.Fee, &i.Penalty} {
		c.Paid = zero
		c.Waived = zero
		c.WrittenOff = zero
	}
	i.completed = false
	i.completedOn = time.Time{}
}

func (i *Installment) checkObligationsMet(asOf time.Time) {
	met := i.Principal.Met() && i.Interest.Met() && i.Fee.Met() && i.Penalty.Met()
	if met && !i.completed {
		i.completedOn = asOf
	}
	if !met {
		i.completedOn = time.Time{}
	}
	i.completed = met
}
