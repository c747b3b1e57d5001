/*
monitor.go - Background arrears monitor

PURPOSE:
  Periodically scans all loans for installments that are past due with an
  outstanding balance and keeps a snapshot of the result. The snapshot
  backs the /api/arrears endpoint so collections tooling does not trigger
  a full-portfolio replay on every request.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - A loan is in arrears when any non-completed installment has a due
    date before the scan time and a positive outstanding balance
  - Written-off loans are skipped
  - The latest snapshot is kept in memory and served as-is

CONFIGURATION:
  - CheckInterval: How often to scan (default: 1 hour)

USAGE:
  monitor := NewArrearsMonitor(store)
  monitor.Start()
  // ... later
  monitor.Stop()

SEE ALSO:
  - handlers.go: ListArrears endpoint
  - loan/loan.go: Status and Outstanding
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/repayment-engine/loan"
	"github.com/warp/repayment-engine/money"
	"github.com/warp/repayment-engine/store/sqlite"
)

// ArrearsEntry is one overdue loan in a snapshot.
type ArrearsEntry struct {
	LoanID           string `json:"loan_id"`
	ProductCode      string `json:"product_code"`
	Status           string `json:"status"`
	OverdueSince     string `json:"overdue_since"`
	OverdueAmount    string `json:"overdue_amount"`
	TotalOutstanding string `json:"total_outstanding"`
}

// ArrearsSnapshot is the result of one portfolio scan.
type ArrearsSnapshot struct {
	ScannedAt time.Time      `json:"scanned_at"`
	Loans     []ArrearsEntry `json:"loans"`
}

// ArrearsMonitor periodically scans the portfolio for overdue loans.
type ArrearsMonitor struct {
	store         *sqlite.Store
	CheckInterval time.Duration

	mu       sync.RWMutex
	snapshot ArrearsSnapshot

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewArrearsMonitor creates a monitor with the default interval.
func NewArrearsMonitor(store *sqlite.Store) *ArrearsMonitor {
	return &ArrearsMonitor{
		store:         store,
		CheckInterval: time.Hour,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start begins the background scan loop. An initial scan runs immediately.
func (m *ArrearsMonitor) Start() {
	go func() {
		defer close(m.doneCh)

		if err := m.CheckNow(context.Background()); err != nil {
			log.Printf("arrears monitor: initial scan failed: %v", err)
		}

		ticker := time.NewTicker(m.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := m.CheckNow(context.Background()); err != nil {
					log.Printf("arrears monitor: scan failed: %v", err)
				}
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the scan loop and waits for it to exit.
func (m *ArrearsMonitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// CheckNow scans the portfolio once and replaces the snapshot.
func (m *ArrearsMonitor) CheckNow(ctx context.Context) error {
	loans, err := m.store.ListLoans(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	snapshot := ArrearsSnapshot{ScannedAt: now}

	for _, l := range loans {
		if l.Status() == loan.StatusWrittenOff {
			continue
		}
		entry, overdue := arrearsFor(l, now)
		if overdue {
			snapshot.Loans = append(snapshot.Loans, entry)
		}
	}

	m.mu.Lock()
	m.snapshot = snapshot
	m.mu.Unlock()

	if len(snapshot.Loans) > 0 {
		log.Printf("arrears monitor: %d loan(s) in arrears", len(snapshot.Loans))
	}
	return nil
}

// Snapshot returns the latest scan result.
func (m *ArrearsMonitor) Snapshot() ArrearsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

func arrearsFor(l *loan.Loan, now time.Time) (ArrearsEntry, bool) {
	overdue := money.Zero(l.Currency)
	var since time.Time

	for _, inst := range l.Schedule {
		if inst.Completed() || !inst.DueDate.Before(now) {
			continue
		}
		outstanding := inst.TotalOutstanding()
		if !outstanding.IsPositive() {
			continue
		}
		overdue = overdue.Add(outstanding)
		if since.IsZero() {
			since = inst.DueDate
		}
	}

	if !overdue.IsPositive() {
		return ArrearsEntry{}, false
	}
	return ArrearsEntry{
		LoanID:           l.ID,
		ProductCode:      l.ProductCode,
		Status:           string(l.Status()),
		OverdueSince:     since.Format("2006-01-02"),
		OverdueAmount:    decimalString(overdue),
		TotalOutstanding: decimalString(l.Outstanding()),
	}, true
}
