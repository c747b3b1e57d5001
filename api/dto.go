/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Loan:
    LoanDTO, CreateLoanRequest

  Schedule:
    InstallmentDTO, ComponentDTO

  Transactions:
    TransactionDTO, PaymentRequest, ChargesWaiverRequest,
    ChargePaymentRequest, WriteOffRequest

  Products:
    ProductDTO (wraps factory.ProductJSON)

MONEY ENCODING:
  Amounts travel as decimal strings ("1234.56"), never floats. Dates in
  request bodies are "2006-01-02"; a payment on a date counts as on-time
  for an installment due that same calendar day.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/product.go: ProductJSON type
*/
package api

import (
	"time"

	"github.com/warp/repayment-engine/allocation"
	"github.com/warp/repayment-engine/factory"
	"github.com/warp/repayment-engine/loan"
	"github.com/warp/repayment-engine/money"
	"github.com/warp/repayment-engine/schedule"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// LoanDTO represents a loan in API responses.
type LoanDTO struct {
	ID          string           `json:"id"`
	ProductCode string           `json:"product_code"`
	Currency    string           `json:"currency"`
	Policy      string           `json:"policy"`
	Status      string           `json:"status"`
	Outstanding string           `json:"outstanding"`
	Overpaid    string           `json:"overpaid,omitempty"`
	Schedule    []InstallmentDTO `json:"schedule,omitempty"`
}

// CreateLoanRequest opens a loan under a registered product.
type CreateLoanRequest struct {
	ProductCode string `json:"product_code"`
	Principal   string `json:"principal"`
	FirstDue    string `json:"first_due"` // YYYY-MM-DD
}

// ComponentDTO is one due/paid/waived/written-off bucket of an installment.
type ComponentDTO struct {
	Due        string `json:"due"`
	Paid       string `json:"paid"`
	Waived     string `json:"waived"`
	WrittenOff string `json:"written_off"`
}

// InstallmentDTO represents one schedule row in API responses.
type InstallmentDTO struct {
	Number    int          `json:"number"`
	DueDate   string       `json:"due_date"`
	Principal ComponentDTO `json:"principal"`
	Interest  ComponentDTO `json:"interest"`
	Fee       ComponentDTO `json:"fee"`
	Penalty   ComponentDTO `json:"penalty"`
	Completed bool         `json:"completed"`
}

// TransactionDTO represents a processed transaction in API responses.
type TransactionDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Amount      string `json:"amount"`
	Date        string `json:"date"`
	Principal   string `json:"principal_portion"`
	Interest    string `json:"interest_portion"`
	Fee         string `json:"fee_portion"`
	Penalty     string `json:"penalty_portion"`
	Overpayment string `json:"overpayment_portion,omitempty"`
}

// PaymentRequest is the body for repayments, interest waivers and refunds.
type PaymentRequest struct {
	Amount string `json:"amount"`
	Date   string `json:"date"` // YYYY-MM-DD
}

// ChargesWaiverRequest waives fees and penalties in one transaction.
// PenaltyShare says how much of Amount targets penalties.
type ChargesWaiverRequest struct {
	Amount       string `json:"amount"`
	PenaltyShare string `json:"penalty_share"`
	Date         string `json:"date"`
}

// ChargePaymentRequest pays a specific charge.
type ChargePaymentRequest struct {
	Amount  string `json:"amount"`
	Date    string `json:"date"`
	Penalty bool   `json:"penalty"` // true: penalty payment, false: fee payment
}

// WriteOffRequest closes out a loan's remaining balance.
type WriteOffRequest struct {
	Date string `json:"date"`
}

// ProductDTO represents a loan product in API responses.
type ProductDTO struct {
	Code      string              `json:"code"`
	Name      string              `json:"name"`
	Config    factory.ProductJSON `json:"config"`
	Version   int                 `json:"version"`
	CreatedAt string              `json:"created_at,omitempty"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toLoanDTO(l *loan.Loan, withSchedule bool) LoanDTO {
	dto := LoanDTO{
		ID:          l.ID,
		ProductCode: l.ProductCode,
		Currency:    l.Currency.Code,
		Policy:      string(l.PolicyCode()),
		Status:      string(l.Status()),
		Outstanding: decimalString(l.Outstanding()),
	}
	if !l.Overpaid().IsZero() {
		dto.Overpaid = decimalString(l.Overpaid())
	}
	if withSchedule {
		dto.Schedule = toInstallmentDTOs(l.Schedule)
	}
	return dto
}

func toInstallmentDTOs(installments schedule.Schedule) []InstallmentDTO {
	dtos := make([]InstallmentDTO, len(installments))
	for i, inst := range installments {
		dtos[i] = InstallmentDTO{
			Number:    inst.Number,
			DueDate:   inst.DueDate.Format("2006-01-02"),
			Principal: toComponentDTO(inst.Principal),
			Interest:  toComponentDTO(inst.Interest),
			Fee:       toComponentDTO(inst.Fee),
			Penalty:   toComponentDTO(inst.Penalty),
			Completed: inst.Completed(),
		}
	}
	return dtos
}

func toComponentDTO(c schedule.Component) ComponentDTO {
	return ComponentDTO{
		Due:        decimalString(c.Due),
		Paid:       decimalString(c.Paid),
		Waived:     decimalString(c.Waived),
		WrittenOff: decimalString(c.WrittenOff),
	}
}

func toTransactionDTO(tx *allocation.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:        tx.ID,
		Kind:      string(tx.Kind),
		Amount:    decimalString(tx.Amount),
		Date:      tx.Date.Format(time.RFC3339),
		Principal: decimalString(tx.PrincipalPortion()),
		Interest:  decimalString(tx.InterestPortion()),
		Fee:       decimalString(tx.FeePortion()),
		Penalty:   decimalString(tx.PenaltyPortion()),
	}
	if !tx.OverpaymentPortion().IsZero() {
		dto.Overpayment = decimalString(tx.OverpaymentPortion())
	}
	return dto
}

func decimalString(m money.Money) string {
	return m.Amount().StringFixed(m.Currency().DecimalPlaces)
}
