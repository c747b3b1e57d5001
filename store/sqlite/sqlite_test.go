package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/repayment-engine/allocation"
	"github.com/warp/repayment-engine/loan"
	"github.com/warp/repayment-engine/money"
	"github.com/warp/repayment-engine/schedule"
	"github.com/warp/repayment-engine/store/sqlite"
)

// =============================================================================
// HELPERS
// =============================================================================

var usd = money.NewCurrency("usd", 2, 0)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "loans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

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
// LOAN TESTS
// =============================================================================

func TestCreateLoan_Duplicate(t *testing.T) {
	store := newStore(t)
	l := newLoan(t, allocation.PolicyStandard)

	require.NoError(t, store.CreateLoan(context.Background(), l))
	err := store.CreateLoan(context.Background(), l)

	assert.ErrorIs(t, err, loan.ErrDuplicateLoan)
}

func TestGetLoan_NotFound(t *testing.T) {
	store := newStore(t)

	_, err := store.GetLoan(context.Background(), "missing")
	assert.ErrorIs(t, err, loan.ErrNotFound)

	err = store.AppendTransaction(context.Background(), "missing",
		allocation.NewRepayment(money.Zero(usd), date(1)))
	assert.ErrorIs(t, err, loan.ErrNotFound)
}

func TestRoundTrip_ReplaysHistory(t *testing.T) {
	// GIVEN: a persisted loan with a repayment and a charges waiver
	store := newStore(t)
	var installments schedule.Schedule
	inst, err := schedule.NewInstallment(1, date(10),
		amt(t, "100"), amt(t, "10"), amt(t, "5"), amt(t, "3"))
	require.NoError(t, err)
	installments = append(installments, inst)

	l, err := loan.New("micro-12", usd, allocation.PolicyStandard, installments)
	require.NoError(t, err)
	require.NoError(t, store.CreateLoan(context.Background(), l))

	tx, err := l.WaiveCharges(amt(t, "8"), amt(t, "3"), date(8))
	require.NoError(t, err)
	require.NoError(t, store.AppendTransaction(context.Background(), l.ID, tx))

	tx, err = l.Repay(amt(t, "50"), date(10))
	require.NoError(t, err)
	require.NoError(t, store.AppendTransaction(context.Background(), l.ID, tx))

	// WHEN: the loan is loaded back
	loaded, err := store.GetLoan(context.Background(), l.ID)
	require.NoError(t, err)

	// THEN: the replay reproduces the live state, including the waiver split
	assert.Equal(t, l.ID, loaded.ID)
	assert.Equal(t, l.Status(), loaded.Status())
	assert.True(t, l.Outstanding().Equal(loaded.Outstanding()),
		"outstanding %s vs %s", l.Outstanding(), loaded.Outstanding())
	require.Len(t, loaded.Transactions, 2)
	assert.True(t, amt(t, "3").Equal(loaded.Schedule[0].Penalty.Waived))
	assert.True(t, amt(t, "5").Equal(loaded.Schedule[0].Fee.Waived))
}

func TestRoundTrip_WriteOffAndCurrency(t *testing.T) {
	// GIVEN: a cash-rounded currency and a written-off loan
	store := newStore(t)
	chf := money.NewCurrency("chf", 2, 5)
	principal, err := money.NewFromString(chf, "100")
	require.NoError(t, err)
	interest, err := money.NewFromString(chf, "10")
	require.NoError(t, err)

	inst, err := schedule.NewInstallment(1, date(10), principal, interest, money.Zero(chf), money.Zero(chf))
	require.NoError(t, err)

	l, err := loan.New("cash-loan", chf, allocation.PolicyStandard, schedule.Schedule{inst})
	require.NoError(t, err)
	require.NoError(t, store.CreateLoan(context.Background(), l))

	tx, err := l.WriteOff(date(25))
	require.NoError(t, err)
	require.NoError(t, store.AppendTransaction(context.Background(), l.ID, tx))

	// WHEN: the loan is loaded back
	loaded, err := store.GetLoan(context.Background(), l.ID)
	require.NoError(t, err)

	// THEN: the currency config and terminal state survive the round trip
	assert.True(t, chf.Same(loaded.Currency))
	assert.Equal(t, loan.StatusWrittenOff, loaded.Status())
	assert.True(t, loaded.Outstanding().IsZero())
	require.Len(t, loaded.Transactions, 1)
	assert.Equal(t, tx.ID, loaded.Transactions[0].ID)
}

func TestListLoans_OldestFirst(t *testing.T) {
	store := newStore(t)

	first := newLoan(t, allocation.PolicyStandard)
	require.NoError(t, store.CreateLoan(context.Background(), first))
	second := newLoan(t, allocation.PolicyInterestFirst)
	require.NoError(t, store.CreateLoan(context.Background(), second))

	loans, err := store.ListLoans(context.Background())
	require.NoError(t, err)
	require.Len(t, loans, 2)
	assert.Equal(t, allocation.PolicyInterestFirst, loans[1].PolicyCode())
}

// =============================================================================
// PRODUCT TESTS
// =============================================================================

func TestProducts_SaveGetList(t *testing.T) {
	store := newStore(t)

	err := store.SaveProduct(context.Background(), sqlite.ProductRecord{
		Code:       "micro-12",
		Name:       "Micro Loan 12%",
		ConfigJSON: `{"code":"micro-12"}`,
		Version:    1,
	})
	require.NoError(t, err)

	p, err := store.GetProduct(context.Background(), "micro-12")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Micro Loan 12%", p.Name)
	assert.Equal(t, 1, p.Version)

	// Saving again bumps the version.
	err = store.SaveProduct(context.Background(), sqlite.ProductRecord{
		Code:       "micro-12",
		Name:       "Micro Loan 12% (revised)",
		ConfigJSON: `{"code":"micro-12","revised":true}`,
		Version:    1,
	})
	require.NoError(t, err)

	p, err = store.GetProduct(context.Background(), "micro-12")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Version)
	assert.Equal(t, "Micro Loan 12% (revised)", p.Name)

	products, err := store.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, 1)

	missing, err := store.GetProduct(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReset(t *testing.T) {
	store := newStore(t)
	l := newLoan(t, allocation.PolicyStandard)
	require.NoError(t, store.CreateLoan(context.Background(), l))

	require.NoError(t, store.Reset(context.Background()))

	loans, err := store.ListLoans(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loans)
}
