/*
handlers.go - HTTP API handlers for the loan repayment engine

PURPOSE:
  Exposes the repayment allocation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Loans:
    GET    /api/loans                    List all loans
    POST   /api/loans                    Open a loan under a product
    GET    /api/loans/{id}               Get loan with schedule
    GET    /api/loans/{id}/schedule      Get schedule only
    GET    /api/loans/{id}/transactions  Transaction history

  Transactions:
    POST   /api/loans/{id}/repayments       Record a repayment
    POST   /api/loans/{id}/interest-waivers Waive interest
    POST   /api/loans/{id}/charges-waivers  Waive fees/penalties
    POST   /api/loans/{id}/charge-payments  Pay a specific charge
    POST   /api/loans/{id}/refunds          Reverse paid amounts
    POST   /api/loans/{id}/write-off        Write off the balance

  Products:
    GET    /api/products             List all products
    POST   /api/products             Create product from JSON
    GET    /api/products/{code}      Get product details
    DELETE /api/products/{code}      Delete product
    POST   /api/products/defaults    Seed preset products

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access
  - ProductFactory: JSON to Product conversion
  - Cached products for quick lookups

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Load the loan, apply the transaction, persist it
  4. Serialize response
  5. Handle errors

CONCURRENCY:
  Transaction posts are serialized per handler: a loan is loaded, mutated
  and its new transaction appended under one lock, so two concurrent
  payments cannot both allocate against the same outstanding balance.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Loan or product not found
  - 409: Conflict (duplicate, written-off loan)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/repayment-engine/allocation"
	"github.com/warp/repayment-engine/factory"
	"github.com/warp/repayment-engine/loan"
	"github.com/warp/repayment-engine/money"
	"github.com/warp/repayment-engine/schedule"
	"github.com/warp/repayment-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store          *sqlite.Store
	ProductFactory *factory.ProductFactory

	// Optional background arrears monitor backing /api/arrears.
	Monitor *ArrearsMonitor

	// Serializes load-apply-append sequences on loans and guards the
	// product cache below.
	mu sync.Mutex

	// Cached products for quick lookups
	products map[string]*factory.Product
}

func (h *Handler) productByCode(code string) (*factory.Product, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	product, ok := h.products[code]
	return product, ok
}

func (h *Handler) cacheProduct(product *factory.Product) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.products[product.Code] = product
}

func (h *Handler) evictProduct(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.products, code)
}

func (h *Handler) resetProductCache() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.products = make(map[string]*factory.Product)
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Store:          store,
		ProductFactory: factory.NewProductFactory(),
		products:       make(map[string]*factory.Product),
	}
}

// LoadProducts loads all products from the database into cache.
func (h *Handler) LoadProducts(ctx context.Context) error {
	records, err := h.Store.ListProducts(ctx)
	if err != nil {
		return err
	}

	for _, r := range records {
		product, err := h.ProductFactory.ParseProduct(r.ConfigJSON)
		if err != nil {
			continue // Skip invalid products
		}
		h.cacheProduct(product)
	}
	return nil
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// ListLoans returns all loans.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.Store.ListLoans(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list loans", err)
		return
	}

	dtos := make([]LoanDTO, len(loans))
	for i, l := range loans {
		dtos[i] = toLoanDTO(l, false)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateLoan opens a new loan under a registered product.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	product, ok := h.productByCode(req.ProductCode)
	if !ok {
		writeError(w, http.StatusNotFound, "Product not found: "+req.ProductCode, nil)
		return
	}

	principal, err := money.NewFromString(product.Currency, req.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid principal", err)
		return
	}
	firstDue, err := parseDate(req.FirstDue)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid first_due (want YYYY-MM-DD)", err)
		return
	}

	l, err := product.NewLoan(principal, firstDue)
	if err != nil {
		writeError(w, statusFor(err), "Failed to open loan", err)
		return
	}

	if err := h.Store.CreateLoan(r.Context(), l); err != nil {
		writeError(w, statusFor(err), "Failed to store loan", err)
		return
	}

	writeJSON(w, http.StatusCreated, toLoanDTO(l, true))
}

// GetLoan returns a single loan with its schedule.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	l, err := h.Store.GetLoan(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), "Failed to get loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l, true))
}

// GetSchedule returns a loan's schedule rows.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	l, err := h.Store.GetLoan(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), "Failed to get loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTOs(l.Schedule))
}

// GetTransactions returns a loan's transaction history with its
// recomputed allocation portions.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	l, err := h.Store.GetLoan(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), "Failed to get loan", err)
		return
	}

	dtos := make([]TransactionDTO, len(l.Transactions))
	for i, tx := range l.Transactions {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// SubmitRepayment records a repayment against a loan.
func (h *Handler) SubmitRepayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.applyTransaction(w, r, func(l *loan.Loan) (*allocation.Transaction, error) {
		amount, date, err := parsePayment(l, req.Amount, req.Date)
		if err != nil {
			return nil, err
		}
		return l.Repay(amount, date)
	})
}

// SubmitInterestWaiver waives interest on a loan.
func (h *Handler) SubmitInterestWaiver(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.applyTransaction(w, r, func(l *loan.Loan) (*allocation.Transaction, error) {
		amount, date, err := parsePayment(l, req.Amount, req.Date)
		if err != nil {
			return nil, err
		}
		return l.WaiveInterest(amount, date)
	})
}

// SubmitChargesWaiver waives fees and penalties on a loan.
func (h *Handler) SubmitChargesWaiver(w http.ResponseWriter, r *http.Request) {
	var req ChargesWaiverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.applyTransaction(w, r, func(l *loan.Loan) (*allocation.Transaction, error) {
		amount, date, err := parsePayment(l, req.Amount, req.Date)
		if err != nil {
			return nil, err
		}
		share, err := money.NewFromString(l.Currency, req.PenaltyShare)
		if err != nil {
			return nil, badRequest("invalid penalty_share", err)
		}
		return l.WaiveCharges(amount, share, date)
	})
}

// SubmitChargePayment pays a specific fee or penalty.
func (h *Handler) SubmitChargePayment(w http.ResponseWriter, r *http.Request) {
	var req ChargePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.applyTransaction(w, r, func(l *loan.Loan) (*allocation.Transaction, error) {
		amount, date, err := parsePayment(l, req.Amount, req.Date)
		if err != nil {
			return nil, err
		}
		return l.PayCharge(amount, date, req.Penalty)
	})
}

// SubmitRefund reverses previously paid amounts.
func (h *Handler) SubmitRefund(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.applyTransaction(w, r, func(l *loan.Loan) (*allocation.Transaction, error) {
		amount, date, err := parsePayment(l, req.Amount, req.Date)
		if err != nil {
			return nil, err
		}
		return l.Refund(amount, date)
	})
}

// SubmitWriteOff writes off a loan's remaining balance.
func (h *Handler) SubmitWriteOff(w http.ResponseWriter, r *http.Request) {
	var req WriteOffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.applyTransaction(w, r, func(l *loan.Loan) (*allocation.Transaction, error) {
		date, err := parseDate(req.Date)
		if err != nil {
			return nil, badRequest("invalid date (want YYYY-MM-DD)", err)
		}
		return l.WriteOff(date)
	})
}

// applyTransaction runs the load-apply-append sequence under the handler
// lock and writes the standard response.
func (h *Handler) applyTransaction(w http.ResponseWriter, r *http.Request, fn func(*loan.Loan) (*allocation.Transaction, error)) {
	id := chi.URLParam(r, "id")

	h.mu.Lock()
	defer h.mu.Unlock()

	l, err := h.Store.GetLoan(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), "Failed to get loan", err)
		return
	}

	tx, err := fn(l)
	if err != nil {
		writeError(w, statusFor(err), "Transaction rejected", err)
		return
	}

	if err := h.Store.AppendTransaction(r.Context(), id, tx); err != nil {
		writeError(w, statusFor(err), "Failed to store transaction", err)
		return
	}

	writeJSON(w, http.StatusCreated, ApplyResponse{
		Transaction: toTransactionDTO(tx),
		Loan:        toLoanDTO(l, true),
	})
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns all products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, 0, len(records))
	for _, rec := range records {
		product, err := h.ProductFactory.ParseProduct(rec.ConfigJSON)
		if err != nil {
			continue
		}
		dtos = append(dtos, ProductDTO{
			Code:      rec.Code,
			Name:      rec.Name,
			Config:    h.ProductFactory.ToJSON(product),
			Version:   rec.Version,
			CreatedAt: rec.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct registers a loan product from its JSON config.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var pj factory.ProductJSON
	if err := json.NewDecoder(r.Body).Decode(&pj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	product, err := h.ProductFactory.FromJSON(pj)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid product config", err)
		return
	}

	configJSON, err := json.Marshal(h.ProductFactory.ToJSON(product))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode product", err)
		return
	}

	err = h.Store.SaveProduct(r.Context(), sqlite.ProductRecord{
		Code:       product.Code,
		Name:       product.Name,
		ConfigJSON: string(configJSON),
		Version:    1,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store product", err)
		return
	}

	h.cacheProduct(product)
	writeJSON(w, http.StatusCreated, ProductDTO{
		Code:    product.Code,
		Name:    product.Name,
		Config:  h.ProductFactory.ToJSON(product),
		Version: 1,
	})
}

// GetProduct returns a single product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	rec, err := h.Store.GetProduct(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get product", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Product not found", nil)
		return
	}

	product, err := h.ProductFactory.ParseProduct(rec.ConfigJSON)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Stored product config is invalid", err)
		return
	}

	writeJSON(w, http.StatusOK, ProductDTO{
		Code:      rec.Code,
		Name:      rec.Name,
		Config:    h.ProductFactory.ToJSON(product),
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	})
}

// DeleteProduct removes a product. Existing loans keep their terms.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	if err := h.Store.DeleteProduct(r.Context(), code); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete product", err)
		return
	}
	h.evictProduct(code)
	w.WriteHeader(http.StatusNoContent)
}

// AddDefaultProducts seeds the preset product catalog.
func (h *Handler) AddDefaultProducts(w http.ResponseWriter, r *http.Request) {
	presets := []string{
		loan.MicroLoanJSON("micro-24", "Micro Loan 24%", "0.24", 12),
		loan.RegulatedLoanJSON("regulated-12", "Regulated Loan 12%", "0.12", 24),
		loan.CashRoundedLoanJSON("cash-chf", "Cash Loan CHF", "chf", 5, "0.18", 6),
	}

	created := make([]string, 0, len(presets))
	for _, config := range presets {
		product, err := h.ProductFactory.ParseProduct(config)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Invalid preset product", err)
			return
		}
		err = h.Store.SaveProduct(r.Context(), sqlite.ProductRecord{
			Code:       product.Code,
			Name:       product.Name,
			ConfigJSON: config,
			Version:    1,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to store preset product", err)
			return
		}
		h.cacheProduct(product)
		created = append(created, product.Code)
	}

	writeJSON(w, http.StatusCreated, map[string]any{"created": created})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ListArrears returns the latest arrears snapshot. A rescan can be forced
// with ?refresh=true.
func (h *Handler) ListArrears(w http.ResponseWriter, r *http.Request) {
	if h.Monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "Arrears monitor not running", nil)
		return
	}
	if r.URL.Query().Get("refresh") == "true" {
		if err := h.Monitor.CheckNow(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "Arrears scan failed", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.Monitor.Snapshot())
}

// ResetDatabase clears all data (dev only).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.resetProductCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// HELPERS
// =============================================================================

// ApplyResponse is returned after a transaction is applied.
type ApplyResponse struct {
	Transaction TransactionDTO `json:"transaction"`
	Loan        LoanDTO        `json:"loan"`
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func parsePayment(l *loan.Loan, amount, date string) (money.Money, time.Time, error) {
	m, err := money.NewFromString(l.Currency, amount)
	if err != nil {
		return money.Money{}, time.Time{}, badRequest("invalid amount", err)
	}
	d, err := parseDate(date)
	if err != nil {
		return money.Money{}, time.Time{}, badRequest("invalid date (want YYYY-MM-DD)", err)
	}
	return m, d, nil
}

// clientError marks an error as the caller's fault for status mapping.
type clientError struct{ err error }

func (e clientError) Error() string { return e.err.Error() }
func (e clientError) Unwrap() error { return e.err }

func badRequest(msg string, err error) error {
	return clientError{err: errors.Join(errors.New(msg), err)}
}

func statusFor(err error) int {
	var ce clientError
	switch {
	case errors.Is(err, loan.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, loan.ErrDuplicateLoan), errors.Is(err, loan.ErrWrittenOff):
		return http.StatusConflict
	case errors.As(err, &ce),
		schedule.IsClientError(err),
		errors.Is(err, allocation.ErrNilTransaction),
		errors.Is(err, loan.ErrNoInstallments),
		errors.Is(err, loan.ErrNonPositivePrincipal),
		errors.Is(err, loan.ErrNegativeRate):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
