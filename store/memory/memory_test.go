package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/repayment-engine/allocation"
	"github.com/warp/repayment-engine/loan"
	"github.com/warp/repayment-engine/money"
	"github.com/warp/repayment-engine/schedule"
	"github.com/warp/repayment-engine/store/memory"
)

// =============================================================================
// HELPERS
// =============================================================================

var usd = money.NewCurrency("usd", 2, 0)

func amt(t *testing.T, s string) money.Money {
	t.Helper()
	m, err := money.NewFromString(usd, s)
	require.NoError(t, err)
	return m
}

func date(day int) time.Time {
	return time.Date(2025, time.April, day, 0, 0, 0, 0, time.UTC)
}

func newLoan(t *testing.T, policy allocation.PolicyCode) *loan.Loan {
	t.Helper()
	var installments schedule.Schedule
	for i := 0; i < 2; i++ {
		inst, err := schedule.NewInstallment(i+1, date(10*(i+1)),
			amt(t, "100"), amt(t, "10"), money.Zero(usd), money.Zero(usd))
		require.NoError(t, err)
		installments = append(installments, inst)
	}
	l, err := loan.New("micro-12", usd, policy, installments)
	require.NoError(t, err)
	return l
}

// =============================================================================
// TESTS
// =============================================================================

func TestCreateLoan_Duplicate(t *testing.T) {
	// GIVEN: a loan already stored
	store := memory.New()
	l := newLoan(t, allocation.PolicyStandard)
	require.NoError(t, store.CreateLoan(context.Background(), l))

	// WHEN: the same ID is created again
	err := store.CreateLoan(context.Background(), l)

	// THEN: the duplicate is rejected
	assert.ErrorIs(t, err, loan.ErrDuplicateLoan)
}

func TestGetLoan_NotFound(t *testing.T) {
	store := memory.New()

	_, err := store.GetLoan(context.Background(), "missing")
	assert.ErrorIs(t, err, loan.ErrNotFound)

	err = store.AppendTransaction(context.Background(), "missing",
		allocation.NewRepayment(money.Zero(usd), date(1)))
	assert.ErrorIs(t, err, loan.ErrNotFound)
}

func TestRoundTrip_ReproducesDerivedState(t *testing.T) {
	// GIVEN: a stored loan with a repayment and an interest waiver applied
	store := memory.New()
	l := newLoan(t, allocation.PolicyStandard)
	require.NoError(t, store.CreateLoan(context.Background(), l))

	tx, err := l.Repay(amt(t, "110"), date(10))
	require.NoError(t, err)
	require.NoError(t, store.AppendTransaction(context.Background(), l.ID, tx))

	tx, err = l.WaiveInterest(amt(t, "10"), date(20))
	require.NoError(t, err)
	require.NoError(t, store.AppendTransaction(context.Background(), l.ID, tx))

	// WHEN: the loan is loaded back
	loaded, err := store.GetLoan(context.Background(), l.ID)
	require.NoError(t, err)

	// THEN: the replayed loan matches the live one
	assert.Equal(t, l.ID, loaded.ID)
	assert.Equal(t, l.Status(), loaded.Status())
	assert.True(t, l.Outstanding().Equal(loaded.Outstanding()),
		"outstanding %s vs %s", l.Outstanding(), loaded.Outstanding())
	require.Len(t, loaded.Transactions, 2)
	assert.True(t, loaded.Schedule[0].Completed())
	assert.True(t, amt(t, "10").Equal(loaded.Schedule[1].Interest.Waived))
}

func TestRoundTrip_WriteOff(t *testing.T) {
	// GIVEN: a written-off loan
	store := memory.New()
	l := newLoan(t, allocation.PolicyStandard)
	require.NoError(t, store.CreateLoan(context.Background(), l))

	tx, err := l.Repay(amt(t, "110"), date(10))
	require.NoError(t, err)
	require.NoError(t, store.AppendTransaction(context.Background(), l.ID, tx))

	tx, err = l.WriteOff(date(25))
	require.NoError(t, err)
	require.NoError(t, store.AppendTransaction(context.Background(), l.ID, tx))

	// WHEN: the loan is loaded back
	loaded, err := store.GetLoan(context.Background(), l.ID)
	require.NoError(t, err)

	// THEN: the replay restores the terminal state and the write-off split
	assert.Equal(t, loan.StatusWrittenOff, loaded.Status())
	assert.True(t, loaded.Outstanding().IsZero())
	require.Len(t, loaded.Transactions, 2)
	wo := loaded.Transactions[1]
	assert.Equal(t, tx.ID, wo.ID)
	assert.True(t, amt(t, "110").Equal(wo.Amount))
	assert.True(t, amt(t, "100").Equal(wo.PrincipalPortion()))
	assert.True(t, amt(t, "10").Equal(wo.InterestPortion()))
}

func TestRoundTrip_OverpaymentSurvivesReload(t *testing.T) {
	// GIVEN: an overpaid loan under the standard policy
	store := memory.New()
	l := newLoan(t, allocation.PolicyStandard)
	require.NoError(t, store.CreateLoan(context.Background(), l))

	tx, err := l.Repay(amt(t, "250"), date(10))
	require.NoError(t, err)
	require.NoError(t, store.AppendTransaction(context.Background(), l.ID, tx))
	require.Equal(t, loan.StatusOverpaid, l.Status())

	// WHEN: the loan is loaded back
	loaded, err := store.GetLoan(context.Background(), l.ID)
	require.NoError(t, err)

	// THEN: the overpaid balance is recomputed from the history
	assert.Equal(t, loan.StatusOverpaid, loaded.Status())
	assert.True(t, amt(t, "30").Equal(loaded.Overpaid()))
}

func TestListLoans_OldestFirst(t *testing.T) {
	store := memory.New()

	first := newLoan(t, allocation.PolicyStandard)
	require.NoError(t, store.CreateLoan(context.Background(), first))
	second := newLoan(t, allocation.PolicyInterestFirst)
	require.NoError(t, store.CreateLoan(context.Background(), second))

	loans, err := store.ListLoans(context.Background())
	require.NoError(t, err)
	require.Len(t, loans, 2)
	assert.Equal(t, first.ID, loans[0].ID)
	assert.Equal(t, second.ID, loans[1].ID)
	assert.Equal(t, allocation.PolicyInterestFirst, loans[1].PolicyCode())
}
