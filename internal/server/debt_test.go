package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/smallbiznis/debtor/internal/alert/domain"
	"github.com/smallbiznis/debtor/internal/config"
	creditdomain "github.com/smallbiznis/debtor/internal/credit/domain"
	ledgerdomain "github.com/smallbiznis/debtor/internal/ledger/domain"
	"github.com/smallbiznis/debtor/internal/orgcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCreditService struct {
	summary      creditdomain.DebtSummary
	checkResult  creditdomain.CreditCheckResult
	err          error
	lastCheck    creditdomain.CheckCreditRequest
	lastPayment  creditdomain.RecordPaymentRequest
	sawOrg       bool
	paymentCalls int
}

func (f *fakeCreditService) GetCustomerDebt(ctx context.Context, customerID string) (creditdomain.DebtSummary, error) {
	_, f.sawOrg = orgcontext.OrgIDFromContext(ctx)
	if f.err != nil {
		return creditdomain.DebtSummary{}, f.err
	}
	return f.summary, nil
}

func (f *fakeCreditService) CheckCreditAvailability(ctx context.Context, req creditdomain.CheckCreditRequest) (creditdomain.CreditCheckResult, error) {
	f.lastCheck = req
	if f.err != nil {
		return creditdomain.CreditCheckResult{}, f.err
	}
	return f.checkResult, nil
}

func (f *fakeCreditService) RecordPayment(ctx context.Context, req creditdomain.RecordPaymentRequest) (creditdomain.DebtSummary, error) {
	f.paymentCalls++
	f.lastPayment = req
	if f.err != nil {
		return creditdomain.DebtSummary{}, f.err
	}
	return f.summary, nil
}

func (f *fakeCreditService) UpdateCreditLimit(ctx context.Context, req creditdomain.UpdateCreditLimitRequest) (creditdomain.DebtSummary, error) {
	if f.err != nil {
		return creditdomain.DebtSummary{}, f.err
	}
	return f.summary, nil
}

func (f *fakeCreditService) BlockCustomer(ctx context.Context, req creditdomain.BlockCustomerRequest) (creditdomain.DebtSummary, error) {
	return f.summary, f.err
}

func (f *fakeCreditService) UnblockCustomer(ctx context.Context, req creditdomain.UnblockCustomerRequest) (creditdomain.DebtSummary, error) {
	return f.summary, f.err
}

type fakeLedgerService struct {
	history ledgerdomain.HistoryResponse
	entry   ledgerdomain.DebtTransaction
	err     error
	lastReq ledgerdomain.HistoryRequest
}

func (f *fakeLedgerService) Append(ctx context.Context, req ledgerdomain.AppendTransactionRequest) (ledgerdomain.DebtTransaction, error) {
	if f.err != nil {
		return ledgerdomain.DebtTransaction{}, f.err
	}
	return f.entry, nil
}

func (f *fakeLedgerService) SumForCustomer(ctx context.Context, customerID string) (int64, error) {
	return 0, f.err
}

func (f *fakeLedgerService) History(ctx context.Context, req ledgerdomain.HistoryRequest) (ledgerdomain.HistoryResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return ledgerdomain.HistoryResponse{}, f.err
	}
	return f.history, nil
}

type fakeAlertListService struct {
	alerts []alertdomain.DebtAlert
	err    error
}

func (f *fakeAlertListService) ScanOverdue(ctx context.Context) (alertdomain.ScanReport, error) {
	return alertdomain.ScanReport{}, nil
}

func (f *fakeAlertListService) ListOpen(ctx context.Context) ([]alertdomain.DebtAlert, error) {
	return f.alerts, f.err
}

func newTestServer(t *testing.T, creditSvc creditdomain.Service, ledgerSvc ledgerdomain.Service, alertSvc alertdomain.Service) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := &Server{
		engine:    engine,
		cfg:       config.Config{},
		creditSvc: creditSvc,
		ledgerSvc: ledgerSvc,
		alertSvc:  alertSvc,
	}
	srv.registerAPIRoutes()
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path string, body any, orgHeader string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if orgHeader != "" {
		req.Header.Set(HeaderOrg, orgHeader)
	}

	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)
	return rec
}

func TestGetCustomerDebtRequiresOrgHeader(t *testing.T) {
	srv := newTestServer(t, &fakeCreditService{}, &fakeLedgerService{}, &fakeAlertListService{})

	rec := doRequest(t, srv, http.MethodGet, "/api/customers/1001/debt", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_organization")
}

func TestGetCustomerDebtInjectsOrgContext(t *testing.T) {
	fake := &fakeCreditService{summary: creditdomain.DebtSummary{
		CustomerID:  "1001",
		CurrentDebt: 25_000,
		CreditLimit: 100_000,
	}}
	srv := newTestServer(t, fake, &fakeLedgerService{}, &fakeAlertListService{})

	rec := doRequest(t, srv, http.MethodGet, "/api/customers/1001/debt", nil, "10")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fake.sawOrg)
	assert.Contains(t, rec.Body.String(), `"current_debt":25000`)
}

func TestCheckCreditAvailabilityBindsRequest(t *testing.T) {
	fake := &fakeCreditService{checkResult: creditdomain.CreditCheckResult{
		Allowed:     true,
		Reserved:    true,
		CurrentDebt: 0,
		CreditLimit: 100_000,
		OrderAmount: 30_000,
	}}
	srv := newTestServer(t, fake, &fakeLedgerService{}, &fakeAlertListService{})

	rec := doRequest(t, srv, http.MethodPost, "/api/customers/1001/credit-check", gin.H{
		"order_amount":   30_000,
		"reserve_credit": true,
		"order_id":       "555",
		"user_id":        "user-1",
	}, "10")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1001", fake.lastCheck.CustomerID)
	assert.Equal(t, int64(30_000), fake.lastCheck.OrderAmount)
	assert.True(t, fake.lastCheck.ReserveCredit)
	assert.Equal(t, "555", fake.lastCheck.OrderID)
	assert.Contains(t, rec.Body.String(), `"allowed":true`)
}

func TestCheckCreditValidationErrorMapsTo400(t *testing.T) {
	fake := &fakeCreditService{err: creditdomain.ErrInvalidAmount}
	srv := newTestServer(t, fake, &fakeLedgerService{}, &fakeAlertListService{})

	rec := doRequest(t, srv, http.MethodPost, "/api/customers/1001/credit-check", gin.H{
		"order_amount": 0,
	}, "10")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_amount")
}

func TestRecordPaymentBindsRequest(t *testing.T) {
	fake := &fakeCreditService{summary: creditdomain.DebtSummary{CurrentDebt: 20_000}}
	srv := newTestServer(t, fake, &fakeLedgerService{}, &fakeAlertListService{})

	rec := doRequest(t, srv, http.MethodPost, "/api/customers/1001/payments", gin.H{
		"amount":      10_000,
		"notes":       "bank transfer",
		"recorded_by": "cashier-1",
	}, "10")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fake.paymentCalls)
	assert.Equal(t, int64(10_000), fake.lastPayment.Amount)
	assert.Equal(t, "bank transfer", fake.lastPayment.Notes)
}

func TestGetDebtHistoryPassesFilters(t *testing.T) {
	fake := &fakeLedgerService{history: ledgerdomain.HistoryResponse{}}
	srv := newTestServer(t, &fakeCreditService{}, fake, &fakeAlertListService{})

	rec := doRequest(t, srv, http.MethodGet,
		"/api/customers/1001/debt-history?type=PAYMENT&page_size=10", nil, "10")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1001", fake.lastReq.CustomerID)
	assert.Equal(t, "PAYMENT", fake.lastReq.Type)
	assert.Equal(t, int32(10), fake.lastReq.PageSize)
}

func TestNotFoundErrorMapsTo404(t *testing.T) {
	fake := &fakeCreditService{err: creditdomain.ErrCreditNotFound}
	srv := newTestServer(t, fake, &fakeLedgerService{}, &fakeAlertListService{})

	rec := doRequest(t, srv, http.MethodPost, "/api/customers/1001/unblock", gin.H{
		"unblocked_by": "admin-1",
	}, "10")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestListDebtAlerts(t *testing.T) {
	fake := &fakeAlertListService{alerts: []alertdomain.DebtAlert{
		{CustomerID: 1001, OverdueAmount: 30_000, Status: alertdomain.AlertStatusOpen},
	}}
	srv := newTestServer(t, &fakeCreditService{}, &fakeLedgerService{}, fake)

	rec := doRequest(t, srv, http.MethodGet, "/api/alerts", nil, "10")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"overdue_amount":30000`)
}
