// Package memory provides an in-memory loan.Store implementation
// (for testing/dev).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/repayment-engine/allocation"
	"github.com/warp/repayment-engine/loan"
	"github.com/warp/repayment-engine/money"
	"github.com/warp/repayment-engine/schedule"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	loans map[string]*record
}

type record struct {
	productCode string
	currency    *money.Currency
	policyCode  allocation.PolicyCode
	dues        []dueRow
	history     []txRow
	createdAt   time.Time
}

// dueRow is the pristine installment definition, before any payment.
type dueRow struct {
	number    int
	dueDate   time.Time
	principal money.Money
	interest  money.Money
	fee       money.Money
	penalty   money.Money
}

// txRow is the replayable part of a transaction. Derived portions are not
// kept; Restore recomputes them.
type txRow struct {
	id           string
	kind         allocation.Kind
	amount       money.Money
	date         time.Time
	penaltyOnly  bool
	penaltyShare money.Money
}

func New() *Memory {
	return &Memory{loans: make(map[string]*record)}
}

// CreateLoan stores the header and pristine schedule.
func (m *Memory) CreateLoan(_ context.Context, l *loan.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.loans[l.ID]; exists {
		return loan.ErrDuplicateLoan
	}

	rec := &record{
		productCode: l.ProductCode,
		currency:    l.Currency,
		policyCode:  l.PolicyCode(),
		createdAt:   time.Now().UTC(),
	}
	for _, inst := range l.Schedule {
		rec.dues = append(rec.dues, dueRow{
			number:    inst.Number,
			dueDate:   inst.DueDate,
			principal: inst.Principal.Due,
			interest:  inst.Interest.Due,
			fee:       inst.Fee.Due,
			penalty:   inst.Penalty.Due,
		})
	}
	for _, tx := range l.Transactions {
		rec.history = append(rec.history, toRow(tx))
	}

	m.loans[l.ID] = rec
	return nil
}

// AppendTransaction adds one processed transaction to a loan's history.
func (m *Memory) AppendTransaction(_ context.Context, loanID string, tx *allocation.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.loans[loanID]
	if !ok {
		return loan.ErrNotFound
	}
	rec.history = append(rec.history, toRow(tx))
	return nil
}

// GetLoan reconstructs a loan by replaying its history.
func (m *Memory) GetLoan(_ context.Context, id string) (*loan.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.loans[id]
	if !ok {
		return nil, loan.ErrNotFound
	}
	return restore(id, rec)
}

// ListLoans reconstructs every stored loan, oldest first.
func (m *Memory) ListLoans(_ context.Context) ([]*loan.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.loans))
	for id := range m.loans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.loans[ids[i]], m.loans[ids[j]]
		if a.createdAt.Equal(b.createdAt) {
			return ids[i] < ids[j]
		}
		return a.createdAt.Before(b.createdAt)
	})

	loans := make([]*loan.Loan, 0, len(ids))
	for _, id := range ids {
		l, err := restore(id, m.loans[id])
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, nil
}

func restore(id string, rec *record) (*loan.Loan, error) {
	installments := make(schedule.Schedule, 0, len(rec.dues))
	for _, d := range rec.dues {
		inst, err := schedule.NewInstallment(d.number, d.dueDate, d.principal, d.interest, d.fee, d.penalty)
		if err != nil {
			return nil, fmt.Errorf("loan %s installment %d: %w", id, d.number, err)
		}
		installments = append(installments, inst)
	}

	history := make([]*allocation.Transaction, 0, len(rec.history))
	for _, row := range rec.history {
		tx, err := fromRow(row)
		if err != nil {
			return nil, fmt.Errorf("loan %s: %w", id, err)
		}
		history = append(history, tx)
	}

	return loan.Restore(id, rec.productCode, rec.currency, rec.policyCode, installments, history)
}

func toRow(tx *allocation.Transaction) txRow {
	return txRow{
		id:           tx.ID,
		kind:         tx.Kind,
		amount:       tx.Amount,
		date:         tx.Date,
		penaltyOnly:  tx.IsPenaltyPayment(),
		penaltyShare: tx.PenaltyShare(),
	}
}

func fromRow(row txRow) (*allocation.Transaction, error) {
	var tx *allocation.Transaction
	switch row.kind {
	case allocation.KindRepayment:
		tx = allocation.NewRepayment(row.amount, row.date)
	case allocation.KindInterestWaiver:
		tx = allocation.NewInterestWaiver(row.amount, row.date)
	case allocation.KindChargesWaiver:
		tx = allocation.NewChargesWaiver(row.amount, row.penaltyShare, row.date)
	case allocation.KindChargePayment:
		tx = allocation.NewChargePayment(row.amount, row.date, row.penaltyOnly)
	case allocation.KindRefund:
		tx = allocation.NewRefund(row.amount, row.date)
	case allocation.KindWriteOff:
		tx = allocation.NewWriteOff(row.amount, row.date)
	default:
		return nil, fmt.Errorf("unknown transaction kind %q", row.kind)
	}
	tx.ID = row.id
	return tx, nil
}
