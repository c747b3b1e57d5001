/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Loan lifecycle over HTTP (create product, open loan, repay, close)
- Error mapping (bad input, unknown loan, written-off conflict)
- Arrears endpoint
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/warp/repayment-engine/loan"
	"github.com/warp/repayment-engine/store/sqlite"
)

func newTestHandler(t *testing.T) (*Handler, *testMux) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "loans.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store)
	return h, &testMux{NewRouter(h)}
}

// testMux wraps the router with small request helpers.
type testMux struct {
	router http.Handler
}

func (m *testMux) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	m.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v (body %s)", err, rec.Body.String())
	}
	return v
}

func seedProduct(t *testing.T, m *testMux) {
	t.Helper()
	rec := m.do(t, http.MethodPost, "/api/products", map[string]any{
		"code": "micro-24",
		"name": "Micro Loan 24%",
		"currency": map[string]any{
			"code":           "usd",
			"decimal_places": 2,
		},
		"allocation_policy": "standard",
		"terms": map[string]any{
			"annual_rate":  "0.24",
			"installments": 4,
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Failed to create product: %d %s", rec.Code, rec.Body.String())
	}
}

func openLoan(t *testing.T, m *testMux, principal, firstDue string) LoanDTO {
	t.Helper()
	rec := m.do(t, http.MethodPost, "/api/loans", CreateLoanRequest{
		ProductCode: "micro-24",
		Principal:   principal,
		FirstDue:    firstDue,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Failed to open loan: %d %s", rec.Code, rec.Body.String())
	}
	return decode[LoanDTO](t, rec)
}

func TestLoanLifecycle(t *testing.T) {
	// GIVEN: a registered product
	_, m := newTestHandler(t)
	seedProduct(t, m)

	// WHEN: a loan of 1200 over 4 installments is opened
	dto := openLoan(t, m, "1200", "2030-01-15")

	// THEN: the schedule carries equal principal plus flat interest
	if len(dto.Schedule) != 4 {
		t.Fatalf("Expected 4 installments, got %d", len(dto.Schedule))
	}
	if dto.Schedule[0].Principal.Due != "300.00" {
		t.Errorf("Expected principal due 300.00, got %s", dto.Schedule[0].Principal.Due)
	}
	// 1200 * 0.24 / 12 = 24 interest per monthly installment
	if dto.Schedule[0].Interest.Due != "24.00" {
		t.Errorf("Expected interest due 24.00, got %s", dto.Schedule[0].Interest.Due)
	}
	if dto.Status != string(loan.StatusActive) {
		t.Errorf("Expected active, got %s", dto.Status)
	}

	// WHEN: one installment is repaid on its due date
	rec := m.do(t, http.MethodPost, "/api/loans/"+dto.ID+"/repayments", PaymentRequest{
		Amount: "324",
		Date:   "2030-01-15",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Repayment failed: %d %s", rec.Code, rec.Body.String())
	}
	applied := decode[ApplyResponse](t, rec)
	if applied.Transaction.Principal != "300.00" || applied.Transaction.Interest != "24.00" {
		t.Errorf("Unexpected allocation: principal %s interest %s",
			applied.Transaction.Principal, applied.Transaction.Interest)
	}
	if !applied.Loan.Schedule[0].Completed {
		t.Error("Expected first installment completed")
	}

	// WHEN: the rest is repaid
	rec = m.do(t, http.MethodPost, "/api/loans/"+dto.ID+"/repayments", PaymentRequest{
		Amount: "972",
		Date:   "2030-01-16",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Repayment failed: %d %s", rec.Code, rec.Body.String())
	}
	applied = decode[ApplyResponse](t, rec)

	// THEN: the loan closes and the history shows both transactions
	if applied.Loan.Status != string(loan.StatusClosed) {
		t.Errorf("Expected closed, got %s", applied.Loan.Status)
	}

	rec = m.do(t, http.MethodGet, "/api/loans/"+dto.ID+"/transactions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Failed to list transactions: %d", rec.Code)
	}
	txs := decode[[]TransactionDTO](t, rec)
	if len(txs) != 2 {
		t.Fatalf("Expected 2 transactions, got %d", len(txs))
	}
}

func TestCreateLoan_UnknownProduct(t *testing.T) {
	_, m := newTestHandler(t)

	rec := m.do(t, http.MethodPost, "/api/loans", CreateLoanRequest{
		ProductCode: "nope",
		Principal:   "100",
		FirstDue:    "2030-01-15",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestCreateLoan_InvalidPrincipal(t *testing.T) {
	_, m := newTestHandler(t)
	seedProduct(t, m)

	rec := m.do(t, http.MethodPost, "/api/loans", CreateLoanRequest{
		ProductCode: "micro-24",
		Principal:   "-5",
		FirstDue:    "2030-01-15",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestRepayment_UnknownLoan(t *testing.T) {
	_, m := newTestHandler(t)

	rec := m.do(t, http.MethodPost, "/api/loans/missing/repayments", PaymentRequest{
		Amount: "100",
		Date:   "2030-01-15",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestRepayment_BadDate(t *testing.T) {
	_, m := newTestHandler(t)
	seedProduct(t, m)
	dto := openLoan(t, m, "1200", "2030-01-15")

	rec := m.do(t, http.MethodPost, "/api/loans/"+dto.ID+"/repayments", PaymentRequest{
		Amount: "100",
		Date:   "15/01/2030",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestWriteOff_ThenRepaymentConflicts(t *testing.T) {
	// GIVEN: a written-off loan
	_, m := newTestHandler(t)
	seedProduct(t, m)
	dto := openLoan(t, m, "1200", "2030-01-15")

	rec := m.do(t, http.MethodPost, "/api/loans/"+dto.ID+"/write-off", WriteOffRequest{
		Date: "2030-06-01",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Write-off failed: %d %s", rec.Code, rec.Body.String())
	}
	applied := decode[ApplyResponse](t, rec)
	if applied.Loan.Status != string(loan.StatusWrittenOff) {
		t.Fatalf("Expected written_off, got %s", applied.Loan.Status)
	}

	// WHEN: a repayment arrives afterwards
	rec = m.do(t, http.MethodPost, "/api/loans/"+dto.ID+"/repayments", PaymentRequest{
		Amount: "100",
		Date:   "2030-06-02",
	})

	// THEN: it is rejected as a conflict
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestRefund_ReopensLoanOverHTTP(t *testing.T) {
	_, m := newTestHandler(t)
	seedProduct(t, m)
	dto := openLoan(t, m, "1200", "2030-01-15")

	rec := m.do(t, http.MethodPost, "/api/loans/"+dto.ID+"/repayments", PaymentRequest{
		Amount: "1296", // full payoff: 1200 principal + 4*24 interest
		Date:   "2030-01-15",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Repayment failed: %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[ApplyResponse](t, rec).Loan.Status; got != string(loan.StatusClosed) {
		t.Fatalf("Expected closed, got %s", got)
	}

	rec = m.do(t, http.MethodPost, "/api/loans/"+dto.ID+"/refunds", PaymentRequest{
		Amount: "96",
		Date:   "2030-02-01",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Refund failed: %d %s", rec.Code, rec.Body.String())
	}
	applied := decode[ApplyResponse](t, rec)
	if applied.Loan.Status != string(loan.StatusActive) {
		t.Errorf("Expected active after refund, got %s", applied.Loan.Status)
	}
	if applied.Loan.Outstanding != "96.00" {
		t.Errorf("Expected outstanding 96.00, got %s", applied.Loan.Outstanding)
	}
}

func TestProducts_DefaultsAndDelete(t *testing.T) {
	_, m := newTestHandler(t)

	rec := m.do(t, http.MethodPost, "/api/products/defaults", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Seeding presets failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = m.do(t, http.MethodGet, "/api/products", nil)
	products := decode[[]ProductDTO](t, rec)
	if len(products) != 3 {
		t.Fatalf("Expected 3 preset products, got %d", len(products))
	}

	rec = m.do(t, http.MethodGet, "/api/products/cash-chf", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	p := decode[ProductDTO](t, rec)
	if p.Config.Currency.InMultiplesOf != 5 {
		t.Errorf("Expected in_multiples_of 5, got %d", p.Config.Currency.InMultiplesOf)
	}

	rec = m.do(t, http.MethodDelete, "/api/products/cash-chf", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
	rec = m.do(t, http.MethodGet, "/api/products/cash-chf", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", rec.Code)
	}
}

func TestProducts_ConcurrentCatalogAndLoanCreation(t *testing.T) {
	// Loan creation reads the product cache while product registration
	// rewrites it; run both at once so the race detector can see them.
	_, m := newTestHandler(t)
	seedProduct(t, m)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			rec := m.do(t, http.MethodPost, "/api/loans", CreateLoanRequest{
				ProductCode: "micro-24",
				Principal:   "1200",
				FirstDue:    "2030-01-15",
			})
			if rec.Code != http.StatusCreated {
				t.Errorf("Open loan failed: %d %s", rec.Code, rec.Body.String())
			}
		}()
		go func() {
			defer wg.Done()
			rec := m.do(t, http.MethodPost, "/api/products", map[string]any{
				"code": "micro-24",
				"name": "Micro Loan 24%",
				"currency": map[string]any{
					"code":           "usd",
					"decimal_places": 2,
				},
				"allocation_policy": "standard",
				"terms": map[string]any{
					"annual_rate":  "0.24",
					"installments": 4,
				},
			})
			if rec.Code != http.StatusCreated {
				t.Errorf("Re-register product failed: %d %s", rec.Code, rec.Body.String())
			}
		}()
	}
	wg.Wait()

	rec := m.do(t, http.MethodGet, "/api/loans", nil)
	loans := decode[[]LoanDTO](t, rec)
	if len(loans) != 8 {
		t.Errorf("Expected 8 loans, got %d", len(loans))
	}
}

func TestArrears_SnapshotAndRefresh(t *testing.T) {
	// GIVEN: a loan with every installment overdue and a running monitor
	h, m := newTestHandler(t)
	seedProduct(t, m)
	dto := openLoan(t, m, "1200", "2020-01-15")

	h.Monitor = NewArrearsMonitor(h.Store)
	if err := h.Monitor.CheckNow(context.Background()); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	// WHEN: the snapshot is fetched
	rec := m.do(t, http.MethodGet, "/api/arrears", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	snap := decode[ArrearsSnapshot](t, rec)

	// THEN: the loan shows up with its full balance overdue
	if len(snap.Loans) != 1 {
		t.Fatalf("Expected 1 loan in arrears, got %d", len(snap.Loans))
	}
	entry := snap.Loans[0]
	if entry.LoanID != dto.ID {
		t.Errorf("Expected loan %s, got %s", dto.ID, entry.LoanID)
	}
	if entry.OverdueSince != "2020-01-15" {
		t.Errorf("Expected overdue since 2020-01-15, got %s", entry.OverdueSince)
	}
	if entry.OverdueAmount != "1296.00" {
		t.Errorf("Expected overdue 1296.00, got %s", entry.OverdueAmount)
	}

	// WHEN: the loan is fully repaid and a refresh is forced
	rec = m.do(t, http.MethodPost, "/api/loans/"+dto.ID+"/repayments", PaymentRequest{
		Amount: "1296",
		Date:   "2026-01-15",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Repayment failed: %d %s", rec.Code, rec.Body.String())
	}
	rec = m.do(t, http.MethodGet, "/api/arrears?refresh=true", nil)
	snap = decode[ArrearsSnapshot](t, rec)

	// THEN: the snapshot is empty again
	if len(snap.Loans) != 0 {
		t.Errorf("Expected no arrears, got %d", len(snap.Loans))
	}
}

func TestArrears_MonitorNotRunning(t *testing.T) {
	_, m := newTestHandler(t)

	rec := m.do(t, http.MethodGet, "/api/arrears", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestReset(t *testing.T) {
	_, m := newTestHandler(t)
	seedProduct(t, m)
	openLoan(t, m, "1200", "2030-01-15")

	rec := m.do(t, http.MethodPost, "/api/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Reset failed: %d", rec.Code)
	}

	rec = m.do(t, http.MethodGet, "/api/loans", nil)
	loans := decode[[]LoanDTO](t, rec)
	if len(loans) != 0 {
		t.Errorf("Expected no loans after reset, got %d", len(loans))
	}
}
