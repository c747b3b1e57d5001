/*
store.go - Persistence contract for loans

PURPOSE:
  Storage keeps the loan's immutable facts: the header, the pristine
  schedule dues and the append-only transaction history. Derived figures
  (paid/waived amounts, completion, status) are never stored; Restore
  replays the history to recover them.
*/
package loan

import (
	"context"
	"errors"

	"github.com/warp/repayment-engine/allocation"
)

var (
	// ErrNotFound is returned when a loan ID does not exist.
	ErrNotFound = errors.New("loan not found")
	// ErrDuplicateLoan is returned when creating a loan whose ID exists.
	ErrDuplicateLoan = errors.New("loan already exists")
)

// Store persists loans and their transaction histories.
type Store interface {
	// CreateLoan stores the header and pristine schedule of a new loan.
	// Returns ErrDuplicateLoan if the ID is taken.
	CreateLoan(ctx context.Context, l *Loan) error

	// GetLoan reconstructs a loan, replaying its history.
	// Returns ErrNotFound if the ID does not exist.
	GetLoan(ctx context.Context, id string) (*Loan, error)

	// ListLoans reconstructs every stored loan.
	ListLoans(ctx context.Context) ([]*Loan, error)

	// AppendTransaction adds one processed transaction to a loan's history.
	AppendTransaction(ctx context.Context, loanID string, tx *allocation.Transaction) error
}
