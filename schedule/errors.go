/*
errors.go - Centralized error types for the schedule package

PURPOSE:
  All schedule-level error values in one place. The allocation engine wraps
  these with transaction context where useful.

ERROR CATEGORIES:
  1. Construction errors - malformed installments or schedules
  2. Validation errors - inputs the engine must reject before mutating
*/
package schedule

import "errors"

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCurrencyMismatch is returned when amounts in different currencies
	// meet. Never silently coerced.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrNegativeAmount is returned for negative dues or transaction amounts.
	ErrNegativeAmount = errors.New("negative amount")

	// ErrEmptySchedule is returned when an operation requires at least one
	// installment.
	ErrEmptySchedule = errors.New("empty repayment schedule")

	// ErrUnorderedSchedule is returned when installments are not in
	// ascending due-date order.
	ErrUnorderedSchedule = errors.New("installments not in due-date order")
)

// IsClientError reports whether the error is caused by invalid input rather
// than an engine defect.
func IsClientError(err error) bool {
	return errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrNegativeAmount) ||
		errors.Is(err, ErrEmptySchedule) ||
		errors.Is(err, ErrUnorderedSchedule)
}
